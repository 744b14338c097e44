package collector

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
)

// Effective tax rate policy rates. A default statutory rate stands in
// whenever the actual quotient would be meaningless.
const StatutoryUSTaxRate = 0.21
const LossTaxRate = 0.00

// EPSHistoryLength is how many reporting periods of EPS history are kept.
const EPSHistoryLength = 5

func safeFloat(value string) float64 {
	if value == "" || value == "None" || value == "none" || value == "-" {
		return math.NaN()
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return math.NaN()
	}
	return parsed
}

// reportValue pulls one field from the report at the given index, NaN
// when the report list is too short or the value does not parse.
func reportValue(reports []FinancialReport, index int, get func(FinancialReport) string) float64 {
	if index >= len(reports) {
		return math.NaN()
	}
	return safeFloat(get(reports[index]))
}

// rolling4QSum sums a flow metric over the four most recent quarters.
// NaN unless all four quarters are present and parseable, a partial
// trailing-twelve-month figure is worse than none.
func rolling4QSum(reports []FinancialReport, get func(FinancialReport) string) float64 {
	if len(reports) < 4 {
		return math.NaN()
	}
	total := 0.0
	for idx := 0; idx < 4; idx++ {
		value := safeFloat(get(reports[idx]))
		if math.IsNaN(value) {
			return math.NaN()
		}
		total += value
	}
	return total
}

// mostRecentFiscalDate picks the most common fiscal date among the
// newest quarterly report of each statement, ties broken by first seen.
func mostRecentFiscalDate(reportLists ...[]FinancialReport) string {
	counts := make(map[string]int)
	order := make([]string, 0, len(reportLists))
	for _, reports := range reportLists {
		if len(reports) == 0 {
			continue
		}
		date := reports[0].FiscalDateEnding
		if date == "" {
			continue
		}
		if _, seen := counts[date]; !seen {
			order = append(order, date)
		}
		counts[date]++
	}

	best := ""
	bestCount := 0
	for _, date := range order {
		if counts[date] > bestCount {
			best = date
			bestCount = counts[date]
		}
	}
	return best
}

// effectiveTaxRate applies the four-way cleanup policy to the most
// recent quarter's income before tax and income tax expense.
func effectiveTaxRate(incomeBeforeTax float64, incomeTaxExpense float64) float64 {
	if math.IsNaN(incomeBeforeTax) || math.IsNaN(incomeTaxExpense) || incomeBeforeTax == 0 {
		return StatutoryUSTaxRate
	}
	if incomeBeforeTax > 0 {
		if incomeTaxExpense >= 0 {
			return incomeTaxExpense / incomeBeforeTax
		}
		// Profitable but booked a tax benefit, the raw quotient would
		// be negative.
		return StatutoryUSTaxRate
	}
	if incomeTaxExpense > 0 {
		return LossTaxRate
	}
	return StatutoryUSTaxRate
}

func extractEPSList(earnings []QuarterlyEarning, count int) []EPSRecord {
	if count > len(earnings) {
		count = len(earnings)
	}
	records := make([]EPSRecord, 0, count)
	for idx := 0; idx < count; idx++ {
		reported := earnings[idx].ReportedEPS
		if reported == "" {
			reported = "nan"
		}
		records = append(records, EPSRecord{
			FiscalDateEnding: earnings[idx].FiscalDateEnding,
			ReportedEPS:      reported,
			EPSValue:         safeFloat(reported),
		})
	}
	return records
}

func parseStatement(body string, endpointKey string) (*StatementResponse, error) {
	var statement StatementResponse
	if err := json.Unmarshal([]byte(body), &statement); err != nil {
		return nil, NewValidationError("Failed to decode " + endpointKey + " response. Error: " + err.Error())
	}
	if statement.ErrorMessage != "" || statement.Note != "" {
		return nil, NewValidationError(endpointKey + " response carries a provider error sentinel")
	}
	if len(statement.AnnualReports) == 0 || len(statement.QuarterlyReports) == 0 {
		return nil, NewValidationError(endpointKey + " response is missing annual or quarterly reports")
	}
	return &statement, nil
}

func parseEarnings(body string) (*EarningsResponse, error) {
	var earnings EarningsResponse
	if err := json.Unmarshal([]byte(body), &earnings); err != nil {
		return nil, NewValidationError("Failed to decode Earnings response. Error: " + err.Error())
	}
	if earnings.ErrorMessage != "" || earnings.Note != "" {
		return nil, NewValidationError("Earnings response carries a provider error sentinel")
	}
	if len(earnings.QuarterlyEarnings) < MinEarningsQuarters {
		return nil, NewValidationError("Earnings response has fewer than " +
			strconv.Itoa(MinEarningsQuarters) + " quarterly records")
	}
	return &earnings, nil
}

func parseOverview(body string) (*OverviewResponse, error) {
	var overview OverviewResponse
	if err := json.Unmarshal([]byte(body), &overview); err != nil {
		return nil, NewValidationError("Failed to decode Overview response. Error: " + err.Error())
	}
	if overview.ErrorMessage != "" || overview.Note != "" {
		return nil, NewValidationError("Overview response carries a provider error sentinel")
	}
	if overview.Symbol == "" {
		return nil, NewValidationError("Overview response has no symbol")
	}
	return &overview, nil
}

// extractFundamentals merges the four parsed endpoint payloads into the
// fixed metric set. Point-in-time balance sheet figures come from the
// most recent quarter, flow figures are rolling 4-quarter sums with
// annual fallbacks when the quarterly aggregation fails.
func extractFundamentals(ticker string, income *StatementResponse, balance *StatementResponse,
	cash *StatementResponse, earnings *EarningsResponse) (ExtractedFundamentals, error) {

	incomeQ := income.QuarterlyReports
	incomeA := income.AnnualReports
	balanceQ := balance.QuarterlyReports
	balanceA := balance.AnnualReports
	cashQ := cash.QuarterlyReports

	if len(incomeQ) == 0 && len(incomeA) == 0 && len(balanceQ) == 0 && len(balanceA) == 0 && len(cashQ) == 0 {
		return ExtractedFundamentals{}, errors.New("no report data available in any endpoint")
	}

	totalCurrentAssets := reportValue(balanceQ, 0, func(r FinancialReport) string { return r.TotalCurrentAssets })
	totalCurrentLiabilities := reportValue(balanceQ, 0, func(r FinancialReport) string { return r.TotalCurrentLiabilities })
	workingCapital := math.NaN()
	if !math.IsNaN(totalCurrentAssets) && !math.IsNaN(totalCurrentLiabilities) {
		workingCapital = totalCurrentAssets - totalCurrentLiabilities
	}

	incomeBeforeTax := reportValue(incomeQ, 0, func(r FinancialReport) string { return r.IncomeBeforeTax })
	incomeTaxExpense := reportValue(incomeQ, 0, func(r FinancialReport) string { return r.IncomeTaxExpense })

	ebitdaTTM := rolling4QSum(incomeQ, func(r FinancialReport) string { return r.EBITDA })
	totalDebtQ := reportValue(balanceQ, 0, func(r FinancialReport) string { return r.TotalLiabilities })

	ebitdaAnnual := math.NaN()
	if math.IsNaN(ebitdaTTM) {
		ebitdaAnnual = reportValue(incomeA, 0, func(r FinancialReport) string { return r.EBITDA })
	}
	totalDebtAnnual := math.NaN()
	if math.IsNaN(totalDebtQ) {
		totalDebtAnnual = reportValue(balanceA, 0, func(r FinancialReport) string { return r.TotalLiabilities })
	}

	fundamentals := ExtractedFundamentals{
		Ticker:           ticker,
		FiscalDateEnding: mostRecentFiscalDate(incomeQ, balanceQ, cashQ),
		MarketCap:        math.NaN(),

		TotalDebt:           totalDebtQ,
		CashEquiv:           reportValue(balanceQ, 0, func(r FinancialReport) string { return r.CashAndCashEquivalents }),
		TotalAssets:         reportValue(balanceQ, 0, func(r FinancialReport) string { return r.TotalAssets }),
		WorkingCapital:      workingCapital,
		LongTermInvestments: reportValue(balanceQ, 0, func(r FinancialReport) string { return r.LongTermInvestments }),

		EBITDATTM:          ebitdaTTM,
		RevenueTTM:         rolling4QSum(incomeQ, func(r FinancialReport) string { return r.TotalRevenue }),
		InterestExpenseTTM: rolling4QSum(incomeQ, func(r FinancialReport) string { return r.InterestExpense }),
		CashFlowOpsTTM:     rolling4QSum(cashQ, func(r FinancialReport) string { return r.OperatingCashflow }),

		CashFlowOpsQ:           reportValue(cashQ, 0, func(r FinancialReport) string { return r.OperatingCashflow }),
		ChangeInWorkingCapital: reportValue(cashQ, 0, func(r FinancialReport) string { return r.ChangeInWorkingCapital }),
		InterestExpenseQ:       reportValue(incomeQ, 0, func(r FinancialReport) string { return r.InterestExpense }),

		EffectiveTaxRate: effectiveTaxRate(incomeBeforeTax, incomeTaxExpense),

		EPSLast5Q: extractEPSList(earnings.QuarterlyEarnings, EPSHistoryLength),

		EBITDAAnnual:    ebitdaAnnual,
		TotalDebtAnnual: totalDebtAnnual,
	}

	return fundamentals, nil
}
