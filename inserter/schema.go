package inserter

import (
	"github.com/NwtsN/factor-investing-system/dbloader"
)

// Table definitions. The raw_api_responses conflict key is what the
// freshness query relies on, one row per stock, fetch date and endpoint.
var tableDefs = []string{
	`CREATE TABLE IF NOT EXISTS stocks (
		stock_id SERIAL PRIMARY KEY,
		ticker VARCHAR(10) NOT NULL UNIQUE,
		company_name TEXT,
		description TEXT,
		industry TEXT,
		sector TEXT,
		country TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS extracted_fundamental_data (
		stock_id INTEGER NOT NULL REFERENCES stocks(stock_id),
		fiscal_date_ending DATE NOT NULL,
		market_cap DOUBLE PRECISION,
		total_debt DOUBLE PRECISION,
		cash_equiv DOUBLE PRECISION,
		total_assets DOUBLE PRECISION,
		working_capital DOUBLE PRECISION,
		long_term_investments DOUBLE PRECISION,
		ebitda_ttm DOUBLE PRECISION,
		revenue_ttm DOUBLE PRECISION,
		cash_flow_ops_ttm DOUBLE PRECISION,
		interest_expense_ttm DOUBLE PRECISION,
		cash_flow_ops_q DOUBLE PRECISION,
		interest_expense_q DOUBLE PRECISION,
		change_in_working_capital DOUBLE PRECISION,
		ebitda_annual DOUBLE PRECISION,
		total_debt_annual DOUBLE PRECISION,
		ebitda DOUBLE PRECISION,
		cash_flow_ops DOUBLE PRECISION,
		interest_expense DOUBLE PRECISION,
		effective_tax_rate DOUBLE PRECISION,
		data_source TEXT NOT NULL,
		PRIMARY KEY (stock_id, fiscal_date_ending, data_source)
	)`,
	`CREATE TABLE IF NOT EXISTS eps_last_5_qs (
		stock_id INTEGER NOT NULL REFERENCES stocks(stock_id),
		fiscal_date_ending DATE NOT NULL,
		reported_eps DOUBLE PRECISION,
		PRIMARY KEY (stock_id, fiscal_date_ending)
	)`,
	`CREATE TABLE IF NOT EXISTS raw_api_responses (
		stock_id INTEGER NOT NULL REFERENCES stocks(stock_id),
		ticker VARCHAR(10) NOT NULL,
		date_fetched DATE NOT NULL,
		endpoint_key TEXT NOT NULL,
		response TEXT,
		http_status_code INTEGER,
		is_complete_session BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (stock_id, date_fetched, endpoint_key)
	)`,
	`CREATE TABLE IF NOT EXISTS logs (
		log_id SERIAL PRIMARY KEY,
		session_id TEXT,
		timestamp TIMESTAMPTZ,
		module TEXT,
		log_level TEXT,
		message TEXT
	)`,
}

// EnsureTables creates every table the pipeline writes to.
func EnsureTables(db dbloader.DBLoader) error {
	for _, def := range tableDefs {
		if err := db.Exec(def); err != nil {
			return err
		}
	}
	return nil
}
