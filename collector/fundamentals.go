package collector

import (
	"math"
	"reflect"
	"time"
)

// EPSRecord keeps one reported earnings-per-share period. EPSValue is
// NaN when the reported string does not parse as a number.
type EPSRecord struct {
	FiscalDateEnding string  `json:"fiscalDateEnding"`
	ReportedEPS      string  `json:"reportedEPS"`
	EPSValue         float64 `json:"eps_value"`
}

// CompanyInfo carries the optional descriptors from the OVERVIEW
// endpoint.
type CompanyInfo struct {
	Name        string
	Description string
	Industry    string
	Sector      string
	Country     string
}

// ExtractedFundamentals is the fixed set of derived metrics one fetch
// produces. Missing numerics are NaN, never zero, so that absence
// survives into the data quality count and becomes NULL in storage.
type ExtractedFundamentals struct {
	Ticker           string
	FiscalDateEnding string

	// Filled later by a price service.
	MarketCap float64

	// Balance sheet, most recent quarter.
	TotalDebt           float64
	CashEquiv           float64
	TotalAssets         float64
	WorkingCapital      float64
	LongTermInvestments float64

	// Trailing twelve month flow metrics, rolling 4-quarter sums.
	EBITDATTM          float64
	RevenueTTM         float64
	InterestExpenseTTM float64
	CashFlowOpsTTM     float64

	// Most recent quarter flow metrics.
	CashFlowOpsQ           float64
	ChangeInWorkingCapital float64
	InterestExpenseQ       float64

	EffectiveTaxRate float64

	EPSLast5Q []EPSRecord

	// Annual fallbacks, only set when the quarterly equivalent is NaN.
	EBITDAAnnual    float64
	TotalDebtAnnual float64
}

// CountValidFields counts the metrics that carry usable data: non-NaN
// numeric fields plus the EPS history when it is non-empty. Ticker and
// the fiscal date are not metrics and do not count.
func (f *ExtractedFundamentals) CountValidFields() int {
	count := 0
	v := reflect.ValueOf(*f)
	for idx := 0; idx < v.NumField(); idx++ {
		field := v.Field(idx)
		if field.Kind() == reflect.Float64 && !math.IsNaN(field.Float()) {
			count++
		}
	}
	if len(f.EPSLast5Q) > 0 {
		count++
	}
	return count
}

// GrossAssets is the invested-capital base with long-term investments
// (the Investments in Associates proxy) excluded. The exclusion shrinks
// the base, so ratios built on it are biased upward.
func (f *ExtractedFundamentals) GrossAssets() float64 {
	if math.IsNaN(f.TotalAssets) {
		return math.NaN()
	}
	if math.IsNaN(f.LongTermInvestments) {
		return f.TotalAssets
	}
	return f.TotalAssets - f.LongTermInvestments
}

// RawResponse is one endpoint payload exactly as received.
type RawResponse struct {
	EndpointKey string
	Body        string
	StatusCode  int
}

type RawResponseSet map[string]RawResponse

// FetchResult is the outcome of one successful ticker fetch.
type FetchResult struct {
	Fundamentals ExtractedFundamentals
	Company      *CompanyInfo
	Raw          RawResponseSet
	FetchedAt    time.Time
}

// BatchResults aggregates one FetchMultiple run.
type BatchResults struct {
	Requested      int
	Fetched        int
	Failed         int
	Skipped        int
	APICalls       int
	Successful     []string
	FailedTickers  []string
	SkippedTickers []string
}
