package collector

import (
	"math"
	"testing"
)

func TestSafeFloat(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    float64
		wantNaN bool
	}{
		{name: "plain number", value: "123.45", want: 123.45},
		{name: "negative scientific", value: "-5e3", want: -5000},
		{name: "empty", value: "", wantNaN: true},
		{name: "None sentinel", value: "None", wantNaN: true},
		{name: "lowercase none", value: "none", wantNaN: true},
		{name: "dash", value: "-", wantNaN: true},
		{name: "garbage", value: "abc", wantNaN: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := safeFloat(tt.value)
			if tt.wantNaN {
				if !math.IsNaN(got) {
					t.Errorf("safeFloat(%q) = %v, want NaN", tt.value, got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("safeFloat(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestEffectiveTaxRate(t *testing.T) {
	tests := []struct {
		name             string
		incomeBeforeTax  float64
		incomeTaxExpense float64
		want             float64
	}{
		{name: "profitable with normal tax", incomeBeforeTax: 100, incomeTaxExpense: 25, want: 0.25},
		{name: "profitable with tax benefit", incomeBeforeTax: 100, incomeTaxExpense: -10, want: StatutoryUSTaxRate},
		{name: "loss but paying tax", incomeBeforeTax: -50, incomeTaxExpense: 5, want: LossTaxRate},
		{name: "loss with tax benefit", incomeBeforeTax: -50, incomeTaxExpense: -5, want: StatutoryUSTaxRate},
		{name: "zero income before tax", incomeBeforeTax: 0, incomeTaxExpense: 5, want: StatutoryUSTaxRate},
		{name: "missing income before tax", incomeBeforeTax: math.NaN(), incomeTaxExpense: 5, want: StatutoryUSTaxRate},
		{name: "missing tax expense", incomeBeforeTax: 100, incomeTaxExpense: math.NaN(), want: StatutoryUSTaxRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := effectiveTaxRate(tt.incomeBeforeTax, tt.incomeTaxExpense)
			if got != tt.want {
				t.Errorf("effectiveTaxRate(%v, %v) = %v, want %v",
					tt.incomeBeforeTax, tt.incomeTaxExpense, got, tt.want)
			}
		})
	}
}

func quarterlyReports(dates []string, ebitda []string) []FinancialReport {
	reports := make([]FinancialReport, len(dates))
	for idx := range dates {
		reports[idx] = FinancialReport{FiscalDateEnding: dates[idx], EBITDA: ebitda[idx]}
	}
	return reports
}

func TestRolling4QSum(t *testing.T) {
	dates := []string{"2025-06-30", "2025-03-31", "2024-12-31", "2024-09-30", "2024-06-30"}
	tests := []struct {
		name    string
		ebitda  []string
		want    float64
		wantNaN bool
	}{
		{name: "all four quarters parse", ebitda: []string{"10", "20", "30", "40", "99"}, want: 100},
		{name: "one missing quarter poisons the sum", ebitda: []string{"10", "None", "30", "40", "99"}, wantNaN: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rolling4QSum(quarterlyReports(dates, tt.ebitda), func(r FinancialReport) string { return r.EBITDA })
			if tt.wantNaN {
				if !math.IsNaN(got) {
					t.Errorf("rolling4QSum() = %v, want NaN", got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("rolling4QSum() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("fewer than four quarters", func(t *testing.T) {
		short := quarterlyReports(dates[:3], []string{"10", "20", "30"})
		if got := rolling4QSum(short, func(r FinancialReport) string { return r.EBITDA }); !math.IsNaN(got) {
			t.Errorf("rolling4QSum() = %v, want NaN", got)
		}
	})
}

func TestMostRecentFiscalDate(t *testing.T) {
	income := quarterlyReports([]string{"2025-06-30"}, []string{""})
	balance := quarterlyReports([]string{"2025-06-30"}, []string{""})
	cash := quarterlyReports([]string{"2025-03-31"}, []string{""})

	if got := mostRecentFiscalDate(income, balance, cash); got != "2025-06-30" {
		t.Errorf("mostRecentFiscalDate() = %v, want 2025-06-30", got)
	}

	// Ties break toward the first statement's date.
	if got := mostRecentFiscalDate(income, cash); got != "2025-06-30" {
		t.Errorf("mostRecentFiscalDate() tie = %v, want 2025-06-30", got)
	}

	if got := mostRecentFiscalDate(nil, nil); got != "" {
		t.Errorf("mostRecentFiscalDate() with no reports = %v, want empty", got)
	}
}

func TestExtractEPSList(t *testing.T) {
	earnings := []QuarterlyEarning{
		{FiscalDateEnding: "2025-06-30", ReportedEPS: "1.40"},
		{FiscalDateEnding: "2025-03-31", ReportedEPS: "None"},
		{FiscalDateEnding: "2024-12-31", ReportedEPS: ""},
	}

	records := extractEPSList(earnings, EPSHistoryLength)
	if len(records) != 3 {
		t.Fatalf("extractEPSList() returned %d records, want 3", len(records))
	}
	if records[0].EPSValue != 1.40 {
		t.Errorf("records[0].EPSValue = %v, want 1.40", records[0].EPSValue)
	}
	if !math.IsNaN(records[1].EPSValue) {
		t.Errorf("records[1].EPSValue = %v, want NaN", records[1].EPSValue)
	}
	if records[2].ReportedEPS != "nan" {
		t.Errorf("records[2].ReportedEPS = %q, want \"nan\"", records[2].ReportedEPS)
	}
}

func TestParseStatement_Sentinels(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{
			name:    "provider error message",
			body:    `{"Error Message": "Invalid API call"}`,
			wantErr: true,
		},
		{
			name:    "throttle note with 200 status",
			body:    `{"Note": "Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day."}`,
			wantErr: true,
		},
		{
			name:    "missing report sections",
			body:    `{"symbol": "AAPL", "annualReports": [], "quarterlyReports": []}`,
			wantErr: true,
		},
		{
			name:    "not json",
			body:    `<html>blocked</html>`,
			wantErr: true,
		},
		{
			name: "valid statement",
			body: `{"symbol": "AAPL",
				"annualReports": [{"fiscalDateEnding": "2024-09-30", "totalRevenue": "391035000000"}],
				"quarterlyReports": [{"fiscalDateEnding": "2025-06-30", "totalRevenue": "94036000000"}]}`,
			wantErr: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseStatement(tt.body, "INCOME_STATEMENT")
			if (err != nil) != tt.wantErr {
				t.Errorf("parseStatement() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if _, ok := err.(ValidationError); !ok {
					t.Errorf("parseStatement() error type = %T, want ValidationError", err)
				}
			}
		})
	}
}

func TestParseEarnings_RequiresFiveQuarters(t *testing.T) {
	body := `{"symbol": "AAPL", "quarterlyEarnings": [
		{"fiscalDateEnding": "2025-06-30", "reportedEPS": "1.40"},
		{"fiscalDateEnding": "2025-03-31", "reportedEPS": "1.65"},
		{"fiscalDateEnding": "2024-12-31", "reportedEPS": "2.40"},
		{"fiscalDateEnding": "2024-09-30", "reportedEPS": "1.64"}
	]}`
	if _, err := parseEarnings(body); err == nil {
		t.Error("parseEarnings() with four quarters should fail")
	}
}

func TestExtractFundamentals(t *testing.T) {
	income := &StatementResponse{
		Symbol: "TEST",
		QuarterlyReports: []FinancialReport{
			{FiscalDateEnding: "2025-06-30", TotalRevenue: "100", EBITDA: "30", InterestExpense: "2", IncomeBeforeTax: "40", IncomeTaxExpense: "10"},
			{FiscalDateEnding: "2025-03-31", TotalRevenue: "100", EBITDA: "30", InterestExpense: "2"},
			{FiscalDateEnding: "2024-12-31", TotalRevenue: "100", EBITDA: "None", InterestExpense: "2"},
			{FiscalDateEnding: "2024-09-30", TotalRevenue: "100", EBITDA: "30", InterestExpense: "2"},
		},
		AnnualReports: []FinancialReport{
			{FiscalDateEnding: "2024-09-30", EBITDA: "120"},
		},
	}
	balance := &StatementResponse{
		Symbol: "TEST",
		QuarterlyReports: []FinancialReport{
			{FiscalDateEnding: "2025-06-30", TotalAssets: "1000", TotalLiabilities: "600",
				TotalCurrentAssets: "400", TotalCurrentLiabilities: "250",
				CashAndCashEquivalents: "150", LongTermInvestments: "100"},
		},
		AnnualReports: []FinancialReport{
			{FiscalDateEnding: "2024-09-30", TotalLiabilities: "580"},
		},
	}
	cash := &StatementResponse{
		Symbol: "TEST",
		QuarterlyReports: []FinancialReport{
			{FiscalDateEnding: "2025-06-30", OperatingCashflow: "25", ChangeInWorkingCapital: "-5"},
			{FiscalDateEnding: "2025-03-31", OperatingCashflow: "25"},
			{FiscalDateEnding: "2024-12-31", OperatingCashflow: "25"},
			{FiscalDateEnding: "2024-09-30", OperatingCashflow: "25"},
		},
	}
	earnings := &EarningsResponse{
		Symbol: "TEST",
		QuarterlyEarnings: []QuarterlyEarning{
			{FiscalDateEnding: "2025-06-30", ReportedEPS: "1.10"},
			{FiscalDateEnding: "2025-03-31", ReportedEPS: "1.20"},
			{FiscalDateEnding: "2024-12-31", ReportedEPS: "1.30"},
			{FiscalDateEnding: "2024-09-30", ReportedEPS: "1.40"},
			{FiscalDateEnding: "2024-06-30", ReportedEPS: "1.50"},
			{FiscalDateEnding: "2024-03-31", ReportedEPS: "1.60"},
		},
	}

	fundamentals, err := extractFundamentals("TEST", income, balance, cash, earnings)
	if err != nil {
		t.Fatalf("extractFundamentals() error = %v", err)
	}

	if fundamentals.FiscalDateEnding != "2025-06-30" {
		t.Errorf("FiscalDateEnding = %v, want 2025-06-30", fundamentals.FiscalDateEnding)
	}
	if fundamentals.WorkingCapital != 150 {
		t.Errorf("WorkingCapital = %v, want 150", fundamentals.WorkingCapital)
	}
	if fundamentals.RevenueTTM != 400 {
		t.Errorf("RevenueTTM = %v, want 400", fundamentals.RevenueTTM)
	}
	// The third quarter's EBITDA does not parse, so the rolling sum is
	// NaN and the annual figure stands in.
	if !math.IsNaN(fundamentals.EBITDATTM) {
		t.Errorf("EBITDATTM = %v, want NaN", fundamentals.EBITDATTM)
	}
	if fundamentals.EBITDAAnnual != 120 {
		t.Errorf("EBITDAAnnual = %v, want 120", fundamentals.EBITDAAnnual)
	}
	// TotalDebt resolved from the quarterly balance sheet, so no annual
	// fallback is recorded.
	if fundamentals.TotalDebt != 600 {
		t.Errorf("TotalDebt = %v, want 600", fundamentals.TotalDebt)
	}
	if !math.IsNaN(fundamentals.TotalDebtAnnual) {
		t.Errorf("TotalDebtAnnual = %v, want NaN", fundamentals.TotalDebtAnnual)
	}
	if fundamentals.CashFlowOpsTTM != 100 {
		t.Errorf("CashFlowOpsTTM = %v, want 100", fundamentals.CashFlowOpsTTM)
	}
	if fundamentals.EffectiveTaxRate != 0.25 {
		t.Errorf("EffectiveTaxRate = %v, want 0.25", fundamentals.EffectiveTaxRate)
	}
	if len(fundamentals.EPSLast5Q) != 5 {
		t.Errorf("len(EPSLast5Q) = %d, want 5", len(fundamentals.EPSLast5Q))
	}
}

func TestGrossAssetsExcludesLongTermInvestments(t *testing.T) {
	fundamentals := ExtractedFundamentals{TotalAssets: 1000, LongTermInvestments: 100}
	if got := fundamentals.GrossAssets(); got != 900 {
		t.Errorf("GrossAssets() = %v, want 900", got)
	}
	// Excluding long-term investments must shrink the asset base, never
	// grow it, so downstream return-on-capital ratios are biased upward.
	if fundamentals.GrossAssets() > fundamentals.TotalAssets {
		t.Error("GrossAssets() exceeded TotalAssets")
	}

	missing := ExtractedFundamentals{TotalAssets: 1000, LongTermInvestments: math.NaN()}
	if got := missing.GrossAssets(); got != 1000 {
		t.Errorf("GrossAssets() with missing long-term investments = %v, want 1000", got)
	}
}

func TestCountValidFields(t *testing.T) {
	empty := ExtractedFundamentals{
		MarketCap: math.NaN(), TotalDebt: math.NaN(), CashEquiv: math.NaN(),
		TotalAssets: math.NaN(), WorkingCapital: math.NaN(), LongTermInvestments: math.NaN(),
		EBITDATTM: math.NaN(), RevenueTTM: math.NaN(), InterestExpenseTTM: math.NaN(),
		CashFlowOpsTTM: math.NaN(), CashFlowOpsQ: math.NaN(), ChangeInWorkingCapital: math.NaN(),
		InterestExpenseQ: math.NaN(), EffectiveTaxRate: math.NaN(),
		EBITDAAnnual: math.NaN(), TotalDebtAnnual: math.NaN(),
	}
	if got := empty.CountValidFields(); got != 0 {
		t.Errorf("CountValidFields() on empty = %d, want 0", got)
	}

	partial := empty
	partial.TotalAssets = 1000
	partial.RevenueTTM = 400
	partial.EPSLast5Q = []EPSRecord{{FiscalDateEnding: "2025-06-30", EPSValue: 1.1}}
	if got := partial.CountValidFields(); got != 3 {
		t.Errorf("CountValidFields() = %d, want 3", got)
	}
}
