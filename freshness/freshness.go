package freshness

import (
	"fmt"
	"reflect"
	"time"

	"github.com/NwtsN/factor-investing-system/config"
	"github.com/NwtsN/factor-investing-system/dbloader"
	"github.com/NwtsN/factor-investing-system/fislogger"
)

// lastFetchRow receives the complete-fetch query result. Field order
// must match the selected columns.
type lastFetchRow struct {
	LastCompleteFetch string
}

// Tracker decides which tickers need a provider fetch based on when
// each one last had a complete session recorded. A complete session is
// one fetch date with a 200 row for every data endpoint.
type Tracker struct {
	db               dbloader.DBLoader
	logger           *fislogger.FISLogger
	minRefreshDays   int
	forceRefreshDays int
	nowFn            func() time.Time
}

func NewTracker(db dbloader.DBLoader, logger *fislogger.FISLogger, cfg config.FreshnessConfig) *Tracker {
	return &Tracker{
		db:               db,
		logger:           logger,
		minRefreshDays:   cfg.MinRefreshDays,
		forceRefreshDays: cfg.ForceRefreshDays,
		nowFn:            time.Now,
	}
}

// SetNowFunc overrides the clock. Used by tests.
func (t *Tracker) SetNowFunc(nowFn func() time.Time) {
	t.nowFn = nowFn
}

// SetRefreshPolicy overrides the refresh thresholds at runtime.
func (t *Tracker) SetRefreshPolicy(minDays int, forceDays int) {
	t.minRefreshDays = minDays
	t.forceRefreshDays = forceDays
	t.logger.Info("Freshness",
		fmt.Sprintf("Refresh policy updated: min=%d days, force=%d days", minDays, forceDays))
}

const lastCompleteFetchSQL = `
WITH complete_fetches AS (
	SELECT date_fetched
	FROM raw_api_responses
	WHERE ticker = $1
		AND http_status_code = 200
		AND endpoint_key IN ('INCOME_STATEMENT', 'BALANCE_SHEET', 'CASH_FLOW', 'Earnings')
	GROUP BY date_fetched
	HAVING COUNT(DISTINCT endpoint_key) = 4
)
SELECT COALESCE(to_char(MAX(date_fetched), 'YYYY-MM-DD'), '') AS last_complete_fetch_date
FROM complete_fetches`

// LastCompleteFetch returns the most recent date the ticker had all data
// endpoints succeed, or the zero time when it was never fetched.
func (t *Tracker) LastCompleteFetch(ticker string) (time.Time, error) {
	results, err := t.db.RunQuery(lastCompleteFetchSQL, reflect.TypeFor[lastFetchRow](), ticker)
	if err != nil {
		return time.Time{}, err
	}

	rows, ok := results.([]lastFetchRow)
	if !ok || len(rows) == 0 || rows[0].LastCompleteFetch == "" {
		return time.Time{}, nil
	}

	fetched, err := time.Parse("2006-01-02", rows[0].LastCompleteFetch)
	if err != nil {
		return time.Time{}, fmt.Errorf("unexpected date format for %s: %s", ticker, rows[0].LastCompleteFetch)
	}
	return fetched, nil
}

// Partition splits tickers into those needing a fetch and those safe to
// skip. The first query error aborts the partition, the caller falls
// back to fetching everything.
func (t *Tracker) Partition(tickers []string) ([]string, []string, error) {
	var needsFetch, canSkip []string

	for _, ticker := range tickers {
		lastFetch, err := t.LastCompleteFetch(ticker)
		if err != nil {
			return nil, nil, err
		}

		if t.shouldFetch(lastFetch) {
			needsFetch = append(needsFetch, ticker)
			t.logger.Info("Freshness", ticker+": Needs update - "+t.fetchReason(lastFetch))
		} else {
			canSkip = append(canSkip, ticker)
			t.logger.Info("Freshness", ticker+": Skipping - "+t.skipReason(lastFetch))
		}
	}

	t.logger.Info("Freshness",
		fmt.Sprintf("Analysis complete: %d to fetch, %d to skip", len(needsFetch), len(canSkip)))
	return needsFetch, canSkip, nil
}

func (t *Tracker) shouldFetch(lastFetch time.Time) bool {
	if lastFetch.IsZero() {
		return true
	}

	daysSince := t.daysSince(lastFetch)
	if daysSince >= t.forceRefreshDays {
		return true
	}
	if daysSince < t.minRefreshDays {
		return false
	}

	// Past the minimum refresh period a new calendar quarter means new
	// filings are likely out. A proper earnings calendar would be more
	// precise, the quarter boundary is a workable proxy.
	return quarterOf(t.nowFn()) != quarterOf(lastFetch)
}

func (t *Tracker) fetchReason(lastFetch time.Time) string {
	if lastFetch.IsZero() {
		return "Never fetched before"
	}
	daysSince := t.daysSince(lastFetch)
	if daysSince >= t.forceRefreshDays {
		return fmt.Sprintf("Data is %d days old (force refresh)", daysSince)
	}
	if current, last := quarterOf(t.nowFn()), quarterOf(lastFetch); current != last {
		return fmt.Sprintf("New quarter: %s -> %s", last, current)
	}
	return fmt.Sprintf("Regular refresh (%d days since last fetch)", daysSince)
}

func (t *Tracker) skipReason(lastFetch time.Time) string {
	daysSince := t.daysSince(lastFetch)
	if daysSince < t.minRefreshDays {
		return fmt.Sprintf("Recently fetched (%d days ago, minimum is %d)", daysSince, t.minRefreshDays)
	}
	return fmt.Sprintf("Data is current (%d days old)", daysSince)
}

func (t *Tracker) daysSince(lastFetch time.Time) int {
	return int(t.nowFn().Sub(lastFetch).Hours() / 24)
}

func quarterOf(date time.Time) string {
	quarter := (int(date.Month())-1)/3 + 1
	return fmt.Sprintf("%d-Q%d", date.Year(), quarter)
}

// TickerAge describes one ticker in the freshness report.
type TickerAge struct {
	Ticker  string
	DaysOld int
}

// Report summarises data freshness across a ticker list relative to
// the refresh policy: Fresh entries are inside the minimum refresh
// window, Stale ones are past it but not yet forced, Forced ones are at
// or past the force threshold.
type Report struct {
	TotalTickers int
	NeverFetched []string
	Fresh        []TickerAge
	Stale        []TickerAge
	Forced       []TickerAge
}

// GetFreshnessReport buckets each ticker by the age of its last
// complete fetch. Tickers whose query fails count as never fetched.
func (t *Tracker) GetFreshnessReport(tickers []string) Report {
	report := Report{TotalTickers: len(tickers)}

	for _, ticker := range tickers {
		lastFetch, err := t.LastCompleteFetch(ticker)
		if err != nil {
			t.logger.Warning("Freshness", ticker+": report query failed - "+err.Error())
			report.NeverFetched = append(report.NeverFetched, ticker)
			continue
		}
		if lastFetch.IsZero() {
			report.NeverFetched = append(report.NeverFetched, ticker)
			continue
		}

		age := TickerAge{Ticker: ticker, DaysOld: t.daysSince(lastFetch)}
		switch {
		case age.DaysOld < t.minRefreshDays:
			report.Fresh = append(report.Fresh, age)
		case age.DaysOld < t.forceRefreshDays:
			report.Stale = append(report.Stale, age)
		default:
			report.Forced = append(report.Forced, age)
		}
	}

	return report
}
