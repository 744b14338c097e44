package collector

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/NwtsN/factor-investing-system/config"
	"github.com/NwtsN/factor-investing-system/fislogger"
)

// Partitioner decides which tickers actually need a fetch. Implemented
// by freshness.Tracker.
type Partitioner interface {
	Partition(tickers []string) (needsFetch []string, canSkip []string, err error)
}

// Stager receives successfully fetched results. Implemented by
// staging.Cache.
type Stager interface {
	Stage(ticker string, result FetchResult)
}

// AVCollector fetches fundamental data for equity tickers from the
// Alpha Vantage API. All outbound calls go through one shared rate
// limiter, the provider enforces its limit per key, not per connection.
type AVCollector struct {
	reader  IHttpReader
	limiter *RateLimiter
	logger  *fislogger.FISLogger
	cfg     config.FetchConfig
	apiKey  string

	failedTickers map[string]bool
	successCount  int
	apiCallsMade  int
}

func NewAVCollector(reader IHttpReader, limiter *RateLimiter, logger *fislogger.FISLogger,
	cfg config.FetchConfig, apiKey string) *AVCollector {
	return &AVCollector{
		reader:        reader,
		limiter:       limiter,
		logger:        logger,
		cfg:           cfg,
		apiKey:        apiKey,
		failedTickers: make(map[string]bool),
	}
}

type endpointSpec struct {
	key      string
	function string
}

func dataEndpoints() []endpointSpec {
	return []endpointSpec{
		{config.ENDPOINT_INCOME_STATEMENT, "INCOME_STATEMENT"},
		{config.ENDPOINT_BALANCE_SHEET, "BALANCE_SHEET"},
		{config.ENDPOINT_CASH_FLOW, "CASH_FLOW"},
		{config.ENDPOINT_EARNINGS, "EARNINGS"},
	}
}

// Fetch retrieves and extracts fundamental data for one ticker. A false
// result means the ticker failed, the caller moves on to the next one.
func (collector *AVCollector) Fetch(ctx context.Context, ticker string) (bool, *FetchResult) {
	if collector.apiKey == "" {
		collector.logger.Error("API Key", ticker+": No API key provided")
		collector.failedTickers[ticker] = true
		return false, nil
	}

	raw := make(RawResponseSet)
	bodies := make(map[string]string)
	for _, endpoint := range dataEndpoints() {
		body, err := collector.fetchWithRetry(ctx, ticker, endpoint)
		if err != nil {
			collector.logger.Error("API:"+endpoint.key, ticker+": "+err.Error())
			collector.failedTickers[ticker] = true
			return false, nil
		}
		bodies[endpoint.key] = body
		raw[endpoint.key] = RawResponse{EndpointKey: endpoint.key, Body: body, StatusCode: http.StatusOK}
		collector.apiCallsMade++
	}

	income, err := parseStatement(bodies[config.ENDPOINT_INCOME_STATEMENT], config.ENDPOINT_INCOME_STATEMENT)
	if err == nil {
		var balance, cash *StatementResponse
		var earnings *EarningsResponse
		if balance, err = parseStatement(bodies[config.ENDPOINT_BALANCE_SHEET], config.ENDPOINT_BALANCE_SHEET); err == nil {
			if cash, err = parseStatement(bodies[config.ENDPOINT_CASH_FLOW], config.ENDPOINT_CASH_FLOW); err == nil {
				if earnings, err = parseEarnings(bodies[config.ENDPOINT_EARNINGS]); err == nil {
					return collector.finishFetch(ctx, ticker, income, balance, cash, earnings, raw)
				}
			}
		}
	}

	collector.logger.Error("Fundamentals", ticker+": parsing error - "+err.Error())
	collector.failedTickers[ticker] = true
	return false, nil
}

func (collector *AVCollector) finishFetch(ctx context.Context, ticker string,
	income *StatementResponse, balance *StatementResponse, cash *StatementResponse,
	earnings *EarningsResponse, raw RawResponseSet) (bool, *FetchResult) {

	fundamentals, err := extractFundamentals(ticker, income, balance, cash, earnings)
	if err != nil {
		collector.logger.Error("Fundamentals", ticker+": extraction error - "+err.Error())
		collector.failedTickers[ticker] = true
		return false, nil
	}

	if !collector.validateDataQuality(ticker, &fundamentals) {
		collector.failedTickers[ticker] = true
		return false, nil
	}

	result := FetchResult{
		Fundamentals: fundamentals,
		Raw:          raw,
		FetchedAt:    time.Now().UTC(),
	}

	if collector.cfg.WithOverview {
		// Descriptors are opportunistic, their absence never fails the
		// ticker.
		if company, overviewRaw := collector.fetchOverview(ctx, ticker); company != nil {
			result.Company = company
			result.Raw[config.ENDPOINT_OVERVIEW] = *overviewRaw
		}
	}

	collector.successCount++
	collector.logger.Info("Fundamentals",
		fmt.Sprintf("%s: extracted %d valid fields", ticker, fundamentals.CountValidFields()))
	return true, &result
}

func (collector *AVCollector) fetchOverview(ctx context.Context, ticker string) (*CompanyInfo, *RawResponse) {
	endpoint := endpointSpec{config.ENDPOINT_OVERVIEW, "OVERVIEW"}
	body, err := collector.fetchWithRetry(ctx, ticker, endpoint)
	if err != nil {
		collector.logger.Warning("API:"+endpoint.key, ticker+": "+err.Error())
		return nil, nil
	}
	collector.apiCallsMade++

	overview, err := parseOverview(body)
	if err != nil {
		collector.logger.Warning("API:"+endpoint.key, ticker+": "+err.Error())
		return nil, nil
	}

	company := CompanyInfo{
		Name:        overview.Name,
		Description: overview.Description,
		Industry:    overview.Industry,
		Sector:      overview.Sector,
		Country:     overview.Country,
	}
	return &company, &RawResponse{EndpointKey: endpoint.key, Body: body, StatusCode: http.StatusOK}
}

// fetchWithRetry issues one endpoint call with bounded retries. Auth
// failures and validation failures are terminal, rate limits and server
// errors wait and retry.
func (collector *AVCollector) fetchWithRetry(ctx context.Context, ticker string, endpoint endpointSpec) (string, error) {
	params := map[string]string{
		"function": endpoint.function,
		"symbol":   ticker,
		"apikey":   collector.apiKey,
	}

	var lastErr error
	for attempt := 0; attempt < collector.cfg.MaxAttempts; attempt++ {
		if err := collector.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("aborted while waiting for rate limiter: %v", err)
		}

		body, err := collector.reader.Read(collector.cfg.BaseURL, params)
		if err == nil {
			if err := collector.validateEndpointBody(endpoint.key, body); err != nil {
				return "", err
			}
			collector.limiter.Reset()
			collector.logger.Info("API:"+endpoint.key,
				fmt.Sprintf("%s - Success on attempt %d", ticker, attempt+1))
			return body, nil
		}
		lastErr = err

		switch etype := err.(type) {
		case AuthError:
			return "", NewCollectorError(err,
				fmt.Sprintf("%s - auth failure (%d), not retrying", ticker, etype.StatusCode()))
		case RateLimitError:
			multiplier := collector.limiter.Backoff()
			wait := backoffWait(collector.cfg.RateLimitWaitBase, attempt, collector.cfg.RateLimitWaitMax)
			collector.logger.Warning("API:"+endpoint.key,
				fmt.Sprintf("%s - Rate limit hit, sleeping %.1fs (backoff %.1fx)",
					ticker, wait.Seconds(), multiplier))
			if !sleepCtx(ctx, wait) {
				return "", fmt.Errorf("aborted during rate limit wait: %v", ctx.Err())
			}
		case ServerError:
			wait := backoffWait(collector.cfg.ServerErrWaitBase, attempt, collector.cfg.ServerErrWaitMax)
			collector.logger.Warning("API:"+endpoint.key,
				fmt.Sprintf("%s - Attempt %d failed: %s. Waiting %.1fs",
					ticker, attempt+1, err.Error(), wait.Seconds()))
			if attempt < collector.cfg.MaxAttempts-1 {
				if !sleepCtx(ctx, wait) {
					return "", fmt.Errorf("aborted during retry wait: %v", ctx.Err())
				}
			}
		default:
			wait := backoffWait(collector.cfg.ServerErrWaitBase, attempt, collector.cfg.ServerErrWaitMax)
			collector.logger.Warning("API:"+endpoint.key,
				fmt.Sprintf("%s - Attempt %d failed: %s. Waiting %.1fs",
					ticker, attempt+1, err.Error(), wait.Seconds()))
			if attempt < collector.cfg.MaxAttempts-1 {
				if !sleepCtx(ctx, wait) {
					return "", fmt.Errorf("aborted during retry wait: %v", ctx.Err())
				}
			}
		}
	}

	return "", NewCollectorError(lastErr,
		fmt.Sprintf("%s - all %d attempts failed", ticker, collector.cfg.MaxAttempts))
}

func (collector *AVCollector) validateEndpointBody(endpointKey string, body string) error {
	var err error
	switch endpointKey {
	case config.ENDPOINT_INCOME_STATEMENT, config.ENDPOINT_BALANCE_SHEET, config.ENDPOINT_CASH_FLOW:
		_, err = parseStatement(body, endpointKey)
	case config.ENDPOINT_EARNINGS:
		_, err = parseEarnings(body)
	case config.ENDPOINT_OVERVIEW:
		_, err = parseOverview(body)
	}
	return err
}

func (collector *AVCollector) validateDataQuality(ticker string, fundamentals *ExtractedFundamentals) bool {
	validFields := fundamentals.CountValidFields()
	if validFields < collector.cfg.MinRequiredFields {
		collector.logger.Warning("DataQuality",
			fmt.Sprintf("%s: Insufficient data quality - only %d valid fields", ticker, validFields))
		return false
	}

	if !math.IsNaN(fundamentals.TotalAssets) && fundamentals.TotalAssets <= 0 {
		collector.logger.Warning("DataQuality", ticker+": Total assets should be positive")
		return false
	}

	if len(fundamentals.EPSLast5Q) < 1 {
		collector.logger.Warning("DataQuality", ticker+": Need at least 1 quarter of EPS data")
		return false
	}

	return true
}

// FetchMultiple fetches the tickers that need updating, staging each
// success. The freshness partition is skipped on forceRefresh. When the
// context is cancelled the loop stops issuing new fetches, anything
// already staged stays staged.
func (collector *AVCollector) FetchMultiple(ctx context.Context, tickers []string,
	forceRefresh bool, partitioner Partitioner, stager Stager) BatchResults {

	results := BatchResults{Requested: len(tickers)}

	toFetch := tickers
	if forceRefresh || partitioner == nil {
		collector.logger.Info("AVCollector", "Force refresh requested - fetching all tickers")
	} else {
		needsFetch, canSkip, err := partitioner.Partition(tickers)
		if err != nil {
			// Freshness is an optimisation, fetch everything when the
			// query fails.
			collector.logger.Warning("AVCollector", "Freshness partition failed, fetching all tickers. Error: "+err.Error())
		} else {
			toFetch = needsFetch
			results.SkippedTickers = canSkip
			results.Skipped = len(canSkip)
		}
	}

	for _, ticker := range toFetch {
		if ctx.Err() != nil {
			collector.logger.Warning("AVCollector", "Run aborted, not issuing further fetches")
			break
		}

		ok, result := collector.Fetch(ctx, ticker)
		if ok {
			stager.Stage(ticker, *result)
			results.Successful = append(results.Successful, ticker)
		} else {
			results.FailedTickers = append(results.FailedTickers, ticker)
		}
	}

	results.Fetched = len(results.Successful)
	results.Failed = len(results.FailedTickers)
	results.APICalls = collector.apiCallsMade

	collector.logger.Info("AVCollector",
		fmt.Sprintf("Batch fetch complete: %d successful, %d failed, %d skipped",
			results.Fetched, results.Failed, results.Skipped))
	return results
}

// FailedTickers returns the tickers that failed so far, sorted.
func (collector *AVCollector) FailedTickers() []string {
	failed := make([]string, 0, len(collector.failedTickers))
	for ticker := range collector.failedTickers {
		failed = append(failed, ticker)
	}
	sort.Strings(failed)
	return failed
}

// APICallsMade reports the number of successful provider calls.
func (collector *AVCollector) APICallsMade() int {
	return collector.apiCallsMade
}

func (collector *AVCollector) ResetMetrics() {
	collector.successCount = 0
	collector.apiCallsMade = 0
	collector.failedTickers = make(map[string]bool)
	collector.limiter.Reset()
}

func backoffWait(baseSeconds float64, attempt int, maxSeconds float64) time.Duration {
	wait := baseSeconds * math.Pow(2, float64(attempt))
	if wait > maxSeconds {
		wait = maxSeconds
	}
	return time.Duration(wait * float64(time.Second))
}

// sleepCtx sleeps for the given duration unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
