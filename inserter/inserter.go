package inserter

import (
	"errors"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lib/pq"

	"github.com/NwtsN/factor-investing-system/collector"
	"github.com/NwtsN/factor-investing-system/config"
	"github.com/NwtsN/factor-investing-system/dbloader"
	"github.com/NwtsN/factor-investing-system/fislogger"
	"github.com/NwtsN/factor-investing-system/staging"
)

// TxMode controls transaction scope during insertion.
type TxMode int

const (
	// TxModeBatch wraps every staged ticker in one transaction, a
	// single failure rolls back the whole batch.
	TxModeBatch TxMode = iota
	// TxModePerTicker commits each ticker separately, a failure only
	// loses that ticker.
	TxModePerTicker
)

const maxTickerLength = 10
const maxDescriptionLength = 5000

type FailedInsert struct {
	Ticker string
	Error  string
}

type InsertResults struct {
	Successful     []string
	Failed         []FailedInsert
	TotalAttempted int
}

// DataInserter writes staged fetch results into the database.
type DataInserter struct {
	db     dbloader.DBLoader
	logger *fislogger.FISLogger
	nowFn  func() time.Time
}

func NewDataInserter(db dbloader.DBLoader, logger *fislogger.FISLogger) *DataInserter {
	return &DataInserter{db: db, logger: logger, nowFn: time.Now}
}

// ValidateTicker rejects symbols that are empty, too long or carry
// characters outside alphanumerics, dots and dashes.
func ValidateTicker(ticker string) error {
	if ticker == "" {
		return errors.New("Invalid ticker format: empty ticker")
	}
	if len(ticker) > maxTickerLength {
		return errors.New("Ticker too long (max 10 characters): " + ticker)
	}
	for _, char := range ticker {
		switch {
		case char >= 'A' && char <= 'Z':
		case char >= 'a' && char <= 'z':
		case char >= '0' && char <= '9':
		case char == '.' || char == '-':
		default:
			return errors.New("Invalid ticker format: " + ticker)
		}
	}
	return nil
}

// Insert writes every staged entry. Tickers are processed in sorted
// order so batch failures are reproducible.
func (inserter *DataInserter) Insert(staged map[string]staging.Entry, mode TxMode) InsertResults {
	results := InsertResults{TotalAttempted: len(staged)}
	if len(staged) == 0 {
		inserter.logger.Warning("DataInserter", "No data to insert")
		return results
	}

	tickers := make([]string, 0, len(staged))
	for ticker := range staged {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	if mode == TxModeBatch {
		return inserter.insertBatch(tickers, staged, results)
	}
	return inserter.insertPerTicker(tickers, staged, results)
}

func (inserter *DataInserter) insertBatch(tickers []string, staged map[string]staging.Entry,
	results InsertResults) InsertResults {

	inserter.logger.Info("DataInserter", "Starting transaction for batch insertion")
	if err := inserter.db.Begin(); err != nil {
		inserter.logger.Error("DataInserter", "Failed to open transaction: "+err.Error())
		for _, ticker := range tickers {
			results.Failed = append(results.Failed, FailedInsert{Ticker: ticker, Error: err.Error()})
		}
		return results
	}

	for _, ticker := range tickers {
		if err := inserter.insertTicker(ticker, staged[ticker]); err != nil {
			inserter.logger.Error("DataInserter", ticker+": Insertion failed - "+err.Error())
			if rbErr := inserter.db.Rollback(); rbErr != nil {
				inserter.logger.Error("DataInserter", "Rollback failed: "+rbErr.Error())
			}
			inserter.logger.Error("DataInserter", "Transaction rolled back due to error: "+err.Error())

			// All or nothing, every ticker fails with the triggering
			// ticker's error attached.
			results.Successful = nil
			results.Failed = nil
			errorMsg := "Transaction rolled back: " + ticker + ": " + err.Error()
			for _, failed := range tickers {
				results.Failed = append(results.Failed, FailedInsert{Ticker: failed, Error: errorMsg})
			}
			return results
		}
		results.Successful = append(results.Successful, ticker)
		inserter.logger.Info("DataInserter", ticker+": Data inserted successfully")
	}

	if err := inserter.db.Commit(); err != nil {
		inserter.logger.Error("DataInserter", "Commit failed: "+err.Error())
		results.Successful = nil
		for _, ticker := range tickers {
			results.Failed = append(results.Failed,
				FailedInsert{Ticker: ticker, Error: "Transaction commit failed: " + err.Error()})
		}
		return results
	}

	inserter.logger.Info("DataInserter",
		"Transaction committed successfully - "+strconv.Itoa(len(results.Successful))+" tickers inserted")
	return results
}

func (inserter *DataInserter) insertPerTicker(tickers []string, staged map[string]staging.Entry,
	results InsertResults) InsertResults {

	for _, ticker := range tickers {
		if err := inserter.db.Begin(); err != nil {
			inserter.logger.Error("DataInserter", ticker+": Failed to open transaction: "+err.Error())
			results.Failed = append(results.Failed, FailedInsert{Ticker: ticker, Error: err.Error()})
			continue
		}

		if err := inserter.insertTicker(ticker, staged[ticker]); err != nil {
			if rbErr := inserter.db.Rollback(); rbErr != nil {
				inserter.logger.Error("DataInserter", "Rollback failed: "+rbErr.Error())
			}
			results.Failed = append(results.Failed, FailedInsert{Ticker: ticker, Error: err.Error()})
			inserter.logger.Error("DataInserter", ticker+": Insertion failed - "+err.Error())
			continue
		}

		if err := inserter.db.Commit(); err != nil {
			results.Failed = append(results.Failed, FailedInsert{Ticker: ticker, Error: err.Error()})
			inserter.logger.Error("DataInserter", ticker+": Commit failed - "+err.Error())
			continue
		}

		results.Successful = append(results.Successful, ticker)
		inserter.logger.Info("DataInserter", ticker+": Data inserted successfully")
	}
	return results
}

func (inserter *DataInserter) insertTicker(ticker string, entry staging.Entry) error {
	if err := ValidateTicker(ticker); err != nil {
		return err
	}

	stockID, err := inserter.getOrCreateStockID(ticker, entry.Result.Company)
	if err != nil {
		return err
	}

	if err := inserter.insertFundamentals(stockID, &entry.Result.Fundamentals, entry.Result.FetchedAt); err != nil {
		return err
	}
	if err := inserter.insertEPSRecords(stockID, entry.Result.Fundamentals.EPSLast5Q); err != nil {
		return err
	}
	return inserter.insertRawResponses(stockID, ticker, entry.Result.Raw, entry.Result.FetchedAt)
}

type stockRow struct {
	StockID     int64
	CompanyName string
	Description string
	Industry    string
	Sector      string
	Country     string
}

const selectStockSQL = `SELECT stock_id, COALESCE(company_name, ''), COALESCE(description, ''),
	COALESCE(industry, ''), COALESCE(sector, ''), COALESCE(country, '')
	FROM stocks WHERE ticker = $1`

// getOrCreateStockID resolves the surrogate key for a ticker, creating
// the stock row when absent. A concurrent creator loses the unique race
// on ticker, on that conflict the row is re-read instead of failing.
func (inserter *DataInserter) getOrCreateStockID(ticker string, company *collector.CompanyInfo) (int64, error) {
	existing, err := inserter.lookupStock(ticker)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		if company != nil && company.Name != ticker {
			inserter.updateStockInfo(existing, ticker, company)
		}
		return existing.StockID, nil
	}

	companyName := ticker
	description, industry, sector, country := "", "", "", ""
	if company != nil {
		if company.Name != "" {
			companyName = company.Name
		}
		description = truncate(company.Description, maxDescriptionLength)
		industry = company.Industry
		sector = company.Sector
		country = company.Country
	}

	insertSQL := `INSERT INTO stocks (ticker, company_name, description, industry, sector, country)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if err := inserter.db.Exec(insertSQL, ticker, companyName, description, industry, sector, country); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			inserter.logger.Warning("DataInserter",
				"Stock creation race condition for "+ticker+", retrying: "+err.Error())
			raced, lookupErr := inserter.lookupStock(ticker)
			if lookupErr != nil {
				return 0, lookupErr
			}
			if raced != nil {
				return raced.StockID, nil
			}
		}
		return 0, err
	}

	created, err := inserter.lookupStock(ticker)
	if err != nil {
		return 0, err
	}
	if created == nil {
		return 0, errors.New("Stock row for " + ticker + " missing after insert")
	}

	if companyName != ticker {
		inserter.logger.Info("DataInserter",
			"Created new stock record for "+ticker+" ("+companyName+") with ID "+formatID(created.StockID))
	} else {
		inserter.logger.Info("DataInserter",
			"Created new stock record for "+ticker+" with ID "+formatID(created.StockID))
	}
	return created.StockID, nil
}

func (inserter *DataInserter) lookupStock(ticker string) (*stockRow, error) {
	results, err := inserter.db.RunQuery(selectStockSQL, reflect.TypeFor[stockRow](), ticker)
	if err != nil {
		return nil, err
	}
	rows, ok := results.([]stockRow)
	if !ok || len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// updateStockInfo merges descriptor fields into the stock row, only
// filling fields that are currently empty or placeholder values. A
// failure here logs a warning but never fails the insertion.
func (inserter *DataInserter) updateStockInfo(existing *stockRow, ticker string, company *collector.CompanyInfo) {
	setClauses := []string{}
	setValues := []any{}

	addClause := func(column string, value string) {
		setValues = append(setValues, value)
		setClauses = append(setClauses, column+" = $"+strconv.Itoa(len(setValues)))
	}

	if company.Name != "" && company.Name != ticker && (existing.CompanyName == "" || existing.CompanyName == ticker) {
		addClause("company_name", company.Name)
	}
	if company.Description != "" && existing.Description == "" {
		addClause("description", truncate(company.Description, maxDescriptionLength))
	}
	if company.Industry != "" && existing.Industry == "" {
		addClause("industry", company.Industry)
	}
	if company.Sector != "" && existing.Sector == "" {
		addClause("sector", company.Sector)
	}
	if company.Country != "" && existing.Country == "" {
		addClause("country", company.Country)
	}

	if len(setClauses) == 0 {
		return
	}

	setValues = append(setValues, existing.StockID)
	updateSQL := "UPDATE stocks SET " + strings.Join(setClauses, ", ") +
		" WHERE stock_id = $" + strconv.Itoa(len(setValues))
	if err := inserter.db.Exec(updateSQL, setValues...); err != nil {
		inserter.logger.Warning("DataInserter",
			"Failed to update company information for "+ticker+": "+err.Error())
		return
	}
	inserter.logger.Info("DataInserter",
		"Updated company information for "+ticker+" (stock_id: "+formatID(existing.StockID)+")")
}

const insertFundamentalsSQL = `INSERT INTO extracted_fundamental_data (
		stock_id, fiscal_date_ending, market_cap,
		total_debt, cash_equiv, total_assets, working_capital, long_term_investments,
		ebitda_ttm, revenue_ttm, cash_flow_ops_ttm, interest_expense_ttm,
		cash_flow_ops_q, interest_expense_q, change_in_working_capital,
		ebitda_annual, total_debt_annual,
		ebitda, cash_flow_ops, interest_expense,
		effective_tax_rate, data_source
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	ON CONFLICT (stock_id, fiscal_date_ending, data_source) DO UPDATE SET
		market_cap = EXCLUDED.market_cap,
		total_debt = EXCLUDED.total_debt,
		cash_equiv = EXCLUDED.cash_equiv,
		total_assets = EXCLUDED.total_assets,
		working_capital = EXCLUDED.working_capital,
		long_term_investments = EXCLUDED.long_term_investments,
		ebitda_ttm = EXCLUDED.ebitda_ttm,
		revenue_ttm = EXCLUDED.revenue_ttm,
		cash_flow_ops_ttm = EXCLUDED.cash_flow_ops_ttm,
		interest_expense_ttm = EXCLUDED.interest_expense_ttm,
		cash_flow_ops_q = EXCLUDED.cash_flow_ops_q,
		interest_expense_q = EXCLUDED.interest_expense_q,
		change_in_working_capital = EXCLUDED.change_in_working_capital,
		ebitda_annual = EXCLUDED.ebitda_annual,
		total_debt_annual = EXCLUDED.total_debt_annual,
		ebitda = EXCLUDED.ebitda,
		cash_flow_ops = EXCLUDED.cash_flow_ops,
		interest_expense = EXCLUDED.interest_expense,
		effective_tax_rate = EXCLUDED.effective_tax_rate`

func (inserter *DataInserter) insertFundamentals(stockID int64,
	fundamentals *collector.ExtractedFundamentals, fetchedAt time.Time) error {

	fiscalDate := fundamentals.FiscalDateEnding
	if _, err := time.Parse("2006-01-02", fiscalDate); err != nil {
		inserter.logger.Warning("DataInserter",
			"Invalid fiscal date '"+fiscalDate+"', using fetch timestamp")
		fiscalDate = inserter.fallbackDate(fetchedAt)
	}

	return inserter.db.Exec(insertFundamentalsSQL,
		stockID,
		fiscalDate,
		nullFloat(fundamentals.MarketCap),
		nullFloat(fundamentals.TotalDebt),
		nullFloat(fundamentals.CashEquiv),
		nullFloat(fundamentals.TotalAssets),
		nullFloat(fundamentals.WorkingCapital),
		nullFloat(fundamentals.LongTermInvestments),
		nullFloat(fundamentals.EBITDATTM),
		nullFloat(fundamentals.RevenueTTM),
		nullFloat(fundamentals.CashFlowOpsTTM),
		nullFloat(fundamentals.InterestExpenseTTM),
		nullFloat(fundamentals.CashFlowOpsQ),
		nullFloat(fundamentals.InterestExpenseQ),
		nullFloat(fundamentals.ChangeInWorkingCapital),
		nullFloat(fundamentals.EBITDAAnnual),
		nullFloat(fundamentals.TotalDebtAnnual),
		nullFloat(firstValid(fundamentals.EBITDATTM, fundamentals.EBITDAAnnual)),
		nullFloat(firstValid(fundamentals.CashFlowOpsTTM, fundamentals.CashFlowOpsQ)),
		nullFloat(firstValid(fundamentals.InterestExpenseTTM, fundamentals.InterestExpenseQ)),
		nullFloat(fundamentals.EffectiveTaxRate),
		"AlphaVantage")
}

const insertEPSSQL = `INSERT INTO eps_last_5_qs (stock_id, fiscal_date_ending, reported_eps)
	VALUES ($1, $2, $3)
	ON CONFLICT (stock_id, fiscal_date_ending) DO UPDATE SET reported_eps = EXCLUDED.reported_eps`

// insertEPSRecords writes parseable EPS quarters, records whose value
// never parsed are skipped rather than stored as NULL.
func (inserter *DataInserter) insertEPSRecords(stockID int64, epsList []collector.EPSRecord) error {
	for _, record := range epsList {
		if record.FiscalDateEnding == "" || math.IsNaN(record.EPSValue) {
			continue
		}
		if err := inserter.db.Exec(insertEPSSQL, stockID, record.FiscalDateEnding, record.EPSValue); err != nil {
			inserter.logger.Warning("DataInserter",
				"Error inserting EPS for "+record.FiscalDateEnding+": "+err.Error())
		}
	}
	return nil
}

const insertRawSQL = `INSERT INTO raw_api_responses (
		stock_id, ticker, date_fetched, endpoint_key, response, http_status_code, is_complete_session
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (stock_id, date_fetched, endpoint_key) DO UPDATE SET
		response = EXCLUDED.response,
		http_status_code = EXCLUDED.http_status_code,
		is_complete_session = EXCLUDED.is_complete_session`

// insertRawResponses stores the raw payloads. The complete session flag
// is set only when every data endpoint has a 200 row in this set, which
// is what the freshness query looks for.
func (inserter *DataInserter) insertRawResponses(stockID int64, ticker string,
	raw collector.RawResponseSet, fetchedAt time.Time) error {

	complete := true
	for _, endpointKey := range config.DataEndpointKeys() {
		response, ok := raw[endpointKey]
		if !ok || response.StatusCode != 200 {
			complete = false
			break
		}
	}

	fetchDate := inserter.fallbackDate(fetchedAt)
	for _, endpointKey := range sortedKeys(raw) {
		response := raw[endpointKey]
		if err := inserter.db.Exec(insertRawSQL,
			stockID, ticker, fetchDate, endpointKey,
			response.Body, response.StatusCode, complete); err != nil {
			return err
		}
	}
	return nil
}

func (inserter *DataInserter) fallbackDate(fetchedAt time.Time) string {
	if fetchedAt.IsZero() {
		fetchedAt = inserter.nowFn().UTC()
	}
	return fetchedAt.Format("2006-01-02")
}

func nullFloat(value float64) any {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}
	return value
}

// firstValid returns the first non-NaN value, or NaN when both miss.
func firstValid(primary float64, fallback float64) float64 {
	if !math.IsNaN(primary) {
		return primary
	}
	return fallback
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// truncate caps text at limit bytes, backing off to the nearest rune
// boundary so a multi-byte character is never split.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}

func sortedKeys(raw collector.RawResponseSet) []string {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
