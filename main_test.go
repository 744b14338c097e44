package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/NwtsN/factor-investing-system/collector"
	"github.com/NwtsN/factor-investing-system/config"
	"github.com/NwtsN/factor-investing-system/dbloader"
	"github.com/NwtsN/factor-investing-system/fislogger"
	"github.com/NwtsN/factor-investing-system/freshness"
	"github.com/NwtsN/factor-investing-system/inserter"
	"github.com/NwtsN/factor-investing-system/staging"
)

const pipelineIncomeBody = `{"symbol": "AAPL", "annualReports": [
		{"fiscalDateEnding": "2024-09-30", "totalRevenue": "391035000000", "ebitda": "134661000000"}
	], "quarterlyReports": [
		{"fiscalDateEnding": "2025-06-30", "totalRevenue": "94036000000", "ebitda": "32000000000",
			"interestExpense": "900000000", "incomeBeforeTax": "27500000000", "incomeTaxExpense": "4300000000"},
		{"fiscalDateEnding": "2025-03-31", "totalRevenue": "95359000000", "ebitda": "33000000000", "interestExpense": "900000000"},
		{"fiscalDateEnding": "2024-12-31", "totalRevenue": "124300000000", "ebitda": "45000000000", "interestExpense": "900000000"},
		{"fiscalDateEnding": "2024-09-30", "totalRevenue": "94930000000", "ebitda": "31000000000", "interestExpense": "900000000"}
	]}`

const pipelineBalanceBody = `{"symbol": "AAPL", "annualReports": [
		{"fiscalDateEnding": "2024-09-30", "totalLiabilities": "308030000000"}
	], "quarterlyReports": [
		{"fiscalDateEnding": "2025-06-30", "totalAssets": "331522000000", "totalLiabilities": "264437000000",
			"totalCurrentAssets": "133240000000", "totalCurrentLiabilities": "144571000000",
			"cashAndCashEquivalentsAtCarryingValue": "28408000000", "longTermInvestments": "78000000000"}
	]}`

const pipelineCashBody = `{"symbol": "AAPL", "annualReports": [
		{"fiscalDateEnding": "2024-09-30", "operatingCashflow": "118254000000"}
	], "quarterlyReports": [
		{"fiscalDateEnding": "2025-06-30", "operatingCashflow": "27000000000", "changeInWorkingCapital": "-2000000000"},
		{"fiscalDateEnding": "2025-03-31", "operatingCashflow": "24000000000"},
		{"fiscalDateEnding": "2024-12-31", "operatingCashflow": "30000000000"},
		{"fiscalDateEnding": "2024-09-30", "operatingCashflow": "26800000000"}
	]}`

const pipelineEarningsBody = `{"symbol": "AAPL", "quarterlyEarnings": [
		{"fiscalDateEnding": "2025-06-30", "reportedDate": "2025-07-31", "reportedEPS": "1.40"},
		{"fiscalDateEnding": "2025-03-31", "reportedDate": "2025-05-01", "reportedEPS": "1.65"},
		{"fiscalDateEnding": "2024-12-31", "reportedDate": "2025-01-30", "reportedEPS": "2.40"},
		{"fiscalDateEnding": "2024-09-30", "reportedDate": "2024-10-31", "reportedEPS": "1.64"},
		{"fiscalDateEnding": "2024-06-30", "reportedDate": "2024-08-01", "reportedEPS": "1.40"}
	]}`

func newStubProvider() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("function") {
		case "INCOME_STATEMENT":
			w.Write([]byte(pipelineIncomeBody))
		case "BALANCE_SHEET":
			w.Write([]byte(pipelineBalanceBody))
		case "CASH_FLOW":
			w.Write([]byte(pipelineCashBody))
		case "EARNINGS":
			w.Write([]byte(pipelineEarningsBody))
		default:
			w.Write([]byte("{}"))
		}
	}))
}

// TestPipeline_FetchStageInsert drives the whole flow against a stub
// provider: partition by freshness, fetch, stage, drain, insert in
// batch mode, then evict the inserted ticker from staging.
func TestPipeline_FetchStageInsert(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	server := newStubProvider()
	defer server.Close()

	logger := fislogger.NewFISLoggerByFile(os.Stdout, "test")

	stockLookups := 0
	dbMock := dbloader.NewMockDBLoader(mockCtrl)
	dbMock.EXPECT().RunQuery(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(sqlText string, structType reflect.Type, args ...any) (interface{}, error) {
			rows := reflect.MakeSlice(reflect.SliceOf(structType), 0, 1)
			row := reflect.New(structType).Elem()
			switch {
			case strings.Contains(sqlText, "complete_fetches"):
				// Never fetched, the partition must select the ticker.
				row.Field(0).SetString("")
				rows = reflect.Append(rows, row)
			case strings.Contains(sqlText, "FROM stocks"):
				stockLookups++
				if stockLookups > 1 {
					row.Field(0).SetInt(11)
					rows = reflect.Append(rows, row)
				}
			}
			return rows.Interface(), nil
		}).AnyTimes()

	var statements []string
	var completeFlags []bool
	dbMock.EXPECT().Begin()
	dbMock.EXPECT().Commit()
	dbMock.EXPECT().Exec(gomock.Any(), gomock.Any()).
		DoAndReturn(func(sqlText string, args ...any) error {
			statements = append(statements, sqlText)
			if strings.Contains(sqlText, "raw_api_responses") {
				completeFlags = append(completeFlags, args[6].(bool))
			}
			return nil
		}).AnyTimes()

	fetchCfg := config.Default().Fetch
	fetchCfg.BaseURL = server.URL
	fetchCfg.MinIntervalSeconds = 0.001
	fetchCfg.MaxBackoffSeconds = 0.05
	fetchCfg.RateLimitWaitBase = 0.001
	fetchCfg.RateLimitWaitMax = 0.01
	fetchCfg.ServerErrWaitBase = 0.001
	fetchCfg.ServerErrWaitMax = 0.01

	reader := collector.NewHttpReader(server.Client())
	limiter := collector.NewRateLimiter(time.Millisecond, 50*time.Millisecond)
	avCollector := collector.NewAVCollector(reader, limiter, logger, fetchCfg, "testkey")
	tracker := freshness.NewTracker(dbMock, logger, config.Default().Freshness)
	stagingCache := staging.NewCache(24*time.Hour, 5*time.Minute, logger)
	dataInserter := inserter.NewDataInserter(dbMock, logger)

	batch := avCollector.FetchMultiple(context.Background(), []string{"AAPL"}, false, tracker, stagingCache)
	if batch.Fetched != 1 || batch.Failed != 0 || batch.Skipped != 0 {
		t.Fatalf("FetchMultiple() = %+v, want one fetched ticker", batch)
	}

	staged := stagingCache.Drain()
	entry, ok := staged["AAPL"]
	if !ok {
		t.Fatal("AAPL missing from the staging cache after fetch")
	}
	if got := entry.Result.Fundamentals.CountValidFields(); got < 10 {
		t.Errorf("staged entry has %d valid fields, want at least 10", got)
	}
	if got := len(entry.Result.Fundamentals.EPSLast5Q); got != 5 {
		t.Errorf("staged entry has %d EPS records, want 5", got)
	}

	results := dataInserter.Insert(staged, inserter.TxModeBatch)
	if len(results.Successful) != 1 || results.Successful[0] != "AAPL" {
		t.Fatalf("Insert() successful = %v, want [AAPL]", results.Successful)
	}

	masterInserts := 0
	for _, sqlText := range statements {
		if strings.Contains(sqlText, "INSERT INTO stocks") {
			masterInserts++
		}
	}
	if masterInserts != 1 {
		t.Errorf("%d master record inserts, want exactly 1", masterInserts)
	}

	if len(completeFlags) != 4 {
		t.Fatalf("%d raw response rows written, want 4", len(completeFlags))
	}
	for _, flag := range completeFlags {
		if !flag {
			t.Error("raw response row written with is_complete_session = false, want true")
		}
	}

	stagingCache.Clear(results.Successful...)
	if status := stagingCache.Status(); status.Size != 0 {
		t.Errorf("staging cache holds %d entries after eviction, want 0", status.Size)
	}
}
