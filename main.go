package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/NwtsN/factor-investing-system/cache"
	"github.com/NwtsN/factor-investing-system/collector"
	"github.com/NwtsN/factor-investing-system/config"
	"github.com/NwtsN/factor-investing-system/dbloader"
	"github.com/NwtsN/factor-investing-system/fislogger"
	"github.com/NwtsN/factor-investing-system/freshness"
	"github.com/NwtsN/factor-investing-system/inserter"
	"github.com/NwtsN/factor-investing-system/staging"
)

func main() {
	tickersOpt := flag.String("tickers", "", "Comma separated tickers to process, e.g. AAPL,MSFT,GOOGL.")
	tickersFileOpt := flag.String("tickers_file", "", "File with one ticker per line. Lines starting with # are ignored.")
	configOpt := flag.String("config", "", "Path to the YAML configuration file.")
	forceRefreshOpt := flag.Bool("force_refresh", false, "Fetch all tickers regardless of data freshness.")
	txModeOpt := flag.String("tx_mode", "batch", "Insertion transaction mode: batch (all or nothing) or individual (per ticker).")
	continueOpt := flag.Bool("continue", false, "Resume with the pending tickers recorded by the previous run.")
	resetCacheOpt := flag.Bool("reset_cache", false, "Clear the pending and error ticker sets before starting.")
	proxyOpt := flag.String("proxy", "", "SOCKS5 proxy as host:port:user:password.")
	withOverviewOpt := flag.Bool("with_overview", false, "Also fetch the company overview endpoint for descriptors.")
	maxRuntimeOpt := flag.Int("max_runtime_minutes", 0, "Abort the run after this many minutes. 0 disables the limit.")

	flag.Parse()

	// Missing .env is fine, the environment may already be populated.
	godotenv.Load()

	cfg, err := config.Load(*configOpt)
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
	if *withOverviewOpt {
		cfg.Fetch.WithOverview = true
	}

	txMode, err := parseTxMode(*txModeOpt)
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}

	sessionID := time.Now().UTC().Format("20060102T150405") + "-" + fmt.Sprintf("%d", os.Getpid())
	logger := fislogger.NewFISLoggerByLogName(fislogger.LOG_FILE, sessionID)
	fislogger.FISLoggerInstance = logger

	db := dbloader.NewPGLoader(config.SCHEMA_NAME, &logger.Logger)
	if err := db.Connect(
		os.Getenv("PGHOST"),
		os.Getenv("PGPORT"),
		os.Getenv("PGUSER"),
		os.Getenv("PGPASSWORD"),
		os.Getenv("PGDATABASE")); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
	defer db.Disconnect()

	if err := db.CreateSchema(config.SCHEMA_NAME); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
	if err := inserter.EnsureTables(db); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
	logger.AttachStore(db)
	logger.Info("Main", "Session "+sessionID+" started")

	runState := connectRunState(logger)
	if *resetCacheOpt && runState != nil {
		runState.DeleteSet(config.CACHE_KEY_TICKERS_PENDING)
		runState.DeleteSet(config.CACHE_KEY_TICKERS_ERROR)
		fmt.Println("Reset cache done.")
	}

	tickers, err := resolveTickers(*tickersOpt, *tickersFileOpt, *continueOpt, runState)
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
	if len(tickers) == 0 {
		flag.Usage()
		fmt.Println("No tickers to process. Use -tickers, -tickers_file or -continue.")
		os.Exit(1)
	}

	if err := run(cfg, tickers, *forceRefreshOpt, txMode, *proxyOpt, *maxRuntimeOpt, db, logger, runState); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
	os.Exit(0)
}

func parseTxMode(mode string) (inserter.TxMode, error) {
	switch mode {
	case "batch":
		return inserter.TxModeBatch, nil
	case "individual":
		return inserter.TxModePerTicker, nil
	}
	return inserter.TxModeBatch, fmt.Errorf("unknown tx_mode %q, expected batch or individual", mode)
}

// connectRunState connects to Redis when configured. The run works
// without it, only -continue resume support is lost.
func connectRunState(logger *fislogger.FISLogger) cache.ICacheManager {
	if os.Getenv("REDISHOST") == "" {
		logger.Warning("Main", "REDISHOST not set, run state tracking disabled")
		return nil
	}
	runState := cache.NewCacheManager(logger)
	if err := runState.Connect(); err != nil {
		logger.Warning("Main", "Run state cache unavailable: "+err.Error())
		return nil
	}
	return runState
}

func resolveTickers(tickersArg string, tickersFile string, resume bool, runState cache.ICacheManager) ([]string, error) {
	seen := make(map[string]bool)
	var tickers []string
	add := func(ticker string) {
		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		if ticker != "" && !seen[ticker] {
			seen[ticker] = true
			tickers = append(tickers, ticker)
		}
	}

	for _, ticker := range strings.Split(tickersArg, ",") {
		add(ticker)
	}

	if tickersFile != "" {
		text, err := os.ReadFile(tickersFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read tickers file %s: %v", tickersFile, err)
		}
		for _, line := range strings.Split(string(text), "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "#") {
				continue
			}
			add(line)
		}
	}

	if resume {
		if runState == nil {
			return nil, fmt.Errorf("-continue requires the run state cache, set REDISHOST")
		}
		pending, err := runState.GetAllFromSet(config.CACHE_KEY_TICKERS_PENDING)
		if err != nil {
			return nil, err
		}
		for _, ticker := range pending {
			add(ticker)
		}
	}

	sort.Strings(tickers)
	return tickers, nil
}

func run(cfg config.Config, tickers []string, forceRefresh bool, txMode inserter.TxMode,
	proxy string, maxRuntimeMinutes int, db dbloader.DBLoader,
	logger *fislogger.FISLogger, runState cache.ICacheManager) error {

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if maxRuntimeMinutes > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(maxRuntimeMinutes)*time.Minute)
		defer cancel()
	}

	httpClient := collector.NewLocalClient(cfg.Fetch.Timeout())
	if proxy != "" {
		proxyClient, err := collector.NewProxyClient(proxy, cfg.Fetch.Timeout())
		if err != nil {
			return err
		}
		httpClient = proxyClient
	}

	reader := collector.NewHttpReader(httpClient)
	limiter := collector.NewRateLimiter(cfg.Fetch.MinInterval(), cfg.Fetch.MaxBackoff())
	avCollector := collector.NewAVCollector(reader, limiter, logger, cfg.Fetch, cfg.APIKey)
	tracker := freshness.NewTracker(db, logger, cfg.Freshness)
	stagingCache := staging.NewCache(
		time.Duration(cfg.Staging.ExpiryHours*float64(time.Hour)),
		time.Duration(cfg.Staging.CleanupIntervalMinutes*float64(time.Minute)),
		logger)
	dataInserter := inserter.NewDataInserter(db, logger)

	printFreshnessReport(tracker, tickers, cfg.Freshness)

	if runState != nil {
		for _, ticker := range tickers {
			runState.AddToSet(config.CACHE_KEY_TICKERS_PENDING, ticker)
		}
	}

	fmt.Printf("[INFO] Fetching data for %d tickers...\n", len(tickers))
	batch := avCollector.FetchMultiple(ctx, tickers, forceRefresh, tracker, stagingCache)
	fmt.Printf("  Fetched: %d, Failed: %d, Skipped: %d, API calls: %d\n",
		batch.Fetched, batch.Failed, batch.Skipped, batch.APICalls)

	if runState != nil {
		for _, ticker := range batch.SkippedTickers {
			runState.DeleteFromSet(config.CACHE_KEY_TICKERS_PENDING, ticker)
		}
		for _, ticker := range batch.FailedTickers {
			runState.AddToSet(config.CACHE_KEY_TICKERS_ERROR, ticker)
		}
	}

	staged := stagingCache.Drain()
	if len(staged) == 0 {
		logger.Info("Main", "Nothing staged for insertion")
		fmt.Println("[INFO] Nothing to insert.")
		return nil
	}

	fmt.Printf("[INFO] Inserting %d staged tickers...\n", len(staged))
	results := dataInserter.Insert(staged, txMode)
	fmt.Printf("  Inserted: %d, Failed: %d\n", len(results.Successful), len(results.Failed))
	for _, failed := range results.Failed {
		fmt.Printf("  [ERROR] %s: %s\n", failed.Ticker, failed.Error)
	}

	stagingCache.Clear(results.Successful...)
	if runState != nil {
		for _, ticker := range results.Successful {
			runState.DeleteFromSet(config.CACHE_KEY_TICKERS_PENDING, ticker)
			runState.DeleteFromSet(config.CACHE_KEY_TICKERS_ERROR, ticker)
		}
		for _, failed := range results.Failed {
			runState.AddToSet(config.CACHE_KEY_TICKERS_ERROR, failed.Ticker)
		}
	}

	status := stagingCache.Status()
	if status.Size > 0 {
		logger.Warning("Main",
			fmt.Sprintf("%d entries remain staged after insertion", status.Size))
	}

	logger.Info("Main",
		fmt.Sprintf("Run complete: %d fetched, %d inserted, %d failed",
			batch.Fetched, len(results.Successful), len(results.Failed)))
	if len(results.Failed) > 0 {
		return fmt.Errorf("%d tickers failed to insert", len(results.Failed))
	}
	return nil
}

func printFreshnessReport(tracker *freshness.Tracker, tickers []string, cfg config.FreshnessConfig) {
	fmt.Println("[INFO] Analyzing data freshness...")
	report := tracker.GetFreshnessReport(tickers)
	fmt.Printf("  Total tickers: %d\n", report.TotalTickers)
	fmt.Printf("  Never fetched: %d\n", len(report.NeverFetched))
	fmt.Printf("  Fresh data (< %d days): %d\n", cfg.MinRefreshDays, len(report.Fresh))
	fmt.Printf("  Stale data (%d-%d days): %d\n", cfg.MinRefreshDays, cfg.ForceRefreshDays, len(report.Stale))
	fmt.Printf("  Force refresh due (>= %d days): %d\n", cfg.ForceRefreshDays, len(report.Forced))
}
