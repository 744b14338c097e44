package staging

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/NwtsN/factor-investing-system/collector"
	"github.com/NwtsN/factor-investing-system/fislogger"
)

// Entry is one staged fetch result awaiting insertion.
type Entry struct {
	Result   collector.FetchResult
	StagedAt time.Time
}

// Status is a read-only snapshot of the cache. NextCleanupInMinutes is
// zero when the next access is already allowed to sweep.
type Status struct {
	Size                 int
	ExpiredEntries       int
	Tickers              []string
	OldestAgeHours       float64
	NextCleanupInMinutes float64
}

// Cache holds fetched results in memory until they are drained into the
// database. Entries older than the expiry window are dropped lazily on
// access, at most once per cleanup interval so a tight staging loop does
// not rescan the whole map on every call.
type Cache struct {
	mu              sync.Mutex
	entries         map[string]Entry
	expiry          time.Duration
	cleanupInterval time.Duration
	lastCleanup     time.Time
	logger          *fislogger.FISLogger
	nowFn           func() time.Time
}

func NewCache(expiry time.Duration, cleanupInterval time.Duration, logger *fislogger.FISLogger) *Cache {
	return &Cache{
		entries:         make(map[string]Entry),
		expiry:          expiry,
		cleanupInterval: cleanupInterval,
		logger:          logger,
		nowFn:           time.Now,
	}
}

// SetNowFunc overrides the clock. Used by tests.
func (c *Cache) SetNowFunc(nowFn func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowFn = nowFn
}

// Stage records a fetch result for the ticker. Re-staging the same
// ticker replaces the previous entry and restarts its expiry clock.
func (c *Cache) Stage(ticker string, result collector.FetchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	c.maybeCleanup(now)
	c.entries[ticker] = Entry{Result: result, StagedAt: now}
	c.logger.Info("Staging", ticker+": staged for insertion")
}

// Drain returns all non-expired entries without removing them. The
// caller clears the cache after a successful insert, so a failed insert
// leaves everything staged for a retry.
func (c *Cache) Drain() map[string]Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	c.maybeCleanup(now)

	staged := make(map[string]Entry, len(c.entries))
	for ticker, entry := range c.entries {
		if now.Sub(entry.StagedAt) < c.expiry {
			staged[ticker] = entry
		}
	}
	return staged
}

// Clear drops the entries for the given tickers, used after a partial
// insert commits some tickers but not others. With no arguments it
// drops everything.
func (c *Cache) Clear(tickers ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(tickers) == 0 {
		c.entries = make(map[string]Entry)
		return
	}
	for _, ticker := range tickers {
		delete(c.entries, ticker)
	}
}

// ForceCleanup sweeps expired entries immediately, ignoring the cleanup
// interval gate. Returns the number of entries removed.
func (c *Cache) ForceCleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanup(c.nowFn())
}

// Status reports the cache contents without mutating anything, expired
// entries are counted but not removed.
func (c *Cache) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	status := Status{Size: len(c.entries)}
	for ticker, entry := range c.entries {
		status.Tickers = append(status.Tickers, ticker)
		age := now.Sub(entry.StagedAt)
		if age >= c.expiry {
			status.ExpiredEntries++
		}
		if age.Hours() > status.OldestAgeHours {
			status.OldestAgeHours = age.Hours()
		}
	}
	sort.Strings(status.Tickers)
	if !c.lastCleanup.IsZero() {
		if until := c.cleanupInterval - now.Sub(c.lastCleanup); until > 0 {
			status.NextCleanupInMinutes = until.Minutes()
		}
	}
	return status
}

// maybeCleanup runs a sweep when the interval has elapsed since the
// last one. An empty cache skips the sweep without touching the gate.
func (c *Cache) maybeCleanup(now time.Time) {
	if len(c.entries) == 0 {
		return
	}
	if !c.lastCleanup.IsZero() && now.Sub(c.lastCleanup) < c.cleanupInterval {
		return
	}
	c.cleanup(now)
}

func (c *Cache) cleanup(now time.Time) int {
	removed := 0
	for ticker, entry := range c.entries {
		if now.Sub(entry.StagedAt) >= c.expiry {
			delete(c.entries, ticker)
			removed++
		}
	}
	c.lastCleanup = now
	if removed > 0 {
		c.logger.Info("Staging", "Removed "+strconv.Itoa(removed)+" expired entries")
	}
	return removed
}
