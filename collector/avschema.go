package collector

// Alpha Vantage fundamental endpoint payloads. The provider returns
// every numeric as a string, with "None" for missing values, and
// reports error conditions through the "Error Message" and "Note" keys
// on an HTTP 200 response.

type FinancialReport struct {
	FiscalDateEnding        string `json:"fiscalDateEnding"`
	ReportedCurrency        string `json:"reportedCurrency"`
	TotalRevenue            string `json:"totalRevenue"`
	EBITDA                  string `json:"ebitda"`
	InterestExpense         string `json:"interestExpense"`
	IncomeTaxExpense        string `json:"incomeTaxExpense"`
	IncomeBeforeTax         string `json:"incomeBeforeTax"`
	TotalAssets             string `json:"totalAssets"`
	TotalLiabilities        string `json:"totalLiabilities"`
	TotalCurrentAssets      string `json:"totalCurrentAssets"`
	TotalCurrentLiabilities string `json:"totalCurrentLiabilities"`
	CashAndCashEquivalents  string `json:"cashAndCashEquivalentsAtCarryingValue"`
	LongTermInvestments     string `json:"longTermInvestments"`
	OperatingCashflow       string `json:"operatingCashflow"`
	ChangeInWorkingCapital  string `json:"changeInWorkingCapital"`
}

type StatementResponse struct {
	Symbol           string            `json:"symbol"`
	AnnualReports    []FinancialReport `json:"annualReports"`
	QuarterlyReports []FinancialReport `json:"quarterlyReports"`
	ErrorMessage     string            `json:"Error Message"`
	Note             string            `json:"Note"`
}

type QuarterlyEarning struct {
	FiscalDateEnding string `json:"fiscalDateEnding"`
	ReportedDate     string `json:"reportedDate"`
	ReportedEPS      string `json:"reportedEPS"`
}

type EarningsResponse struct {
	Symbol            string             `json:"symbol"`
	QuarterlyEarnings []QuarterlyEarning `json:"quarterlyEarnings"`
	ErrorMessage      string             `json:"Error Message"`
	Note              string             `json:"Note"`
}

type OverviewResponse struct {
	Symbol       string `json:"Symbol"`
	Name         string `json:"Name"`
	Description  string `json:"Description"`
	Industry     string `json:"Industry"`
	Sector       string `json:"Sector"`
	Country      string `json:"Country"`
	ErrorMessage string `json:"Error Message"`
	Note         string `json:"Note"`
}

// MinEarningsQuarters is the minimum history the Earnings endpoint must
// return to pass its schema test.
const MinEarningsQuarters = 5
