package domain

import (
	"time"
)

// OzToGrams is the troy ounce to gram conversion factor.
const OzToGrams = 31.1034768

// WarehouseStock represents one depository row from the exchange stock report.
type WarehouseStock struct {
	Name        string   `json:"name" validate:"required"`
	Registered  float64  `json:"registered" validate:"min=0"`
	Eligible    float64  `json:"eligible" validate:"min=0"`
	Deposits    *float64 `json:"deposits,omitempty"`
	Withdrawals *float64 `json:"withdrawals,omitempty"`
	Adjustments *float64 `json:"adjustments,omitempty"`
}

// StockSnapshot represents the exchange warehouse inventory for one market day.
// Deltas are against the most recent prior snapshot and are nil when no
// history exists. Warnings carry plausibility findings; a snapshot with
// warnings is stored but flagged provisional.
type StockSnapshot struct {
	Date              time.Time        `json:"date" validate:"required"`
	Registered        float64          `json:"registered" validate:"min=0"`
	Eligible          float64          `json:"eligible" validate:"min=0"`
	Combined          float64          `json:"combined" validate:"min=0"`
	DeltaRegistered   *float64         `json:"delta_registered,omitempty"`
	DeltaEligible     *float64         `json:"delta_eligible,omitempty"`
	DeltaCombined     *float64         `json:"delta_combined,omitempty"`
	RegisteredPercent float64          `json:"registered_percent"`
	Warehouses        []WarehouseStock `json:"warehouses,omitempty"`
	Warnings          []string         `json:"warnings,omitempty"`
	Source            string           `json:"source"`
	FetchedAt         time.Time        `json:"fetched_at"`
}

// FxRate represents a USD base currency rate for one market day.
type FxRate struct {
	Date   time.Time `json:"date" validate:"required"`
	Pair   string    `json:"pair" validate:"required"`
	Rate   float64   `json:"rate" validate:"gt=0"`
	Source string    `json:"source"`
}

// Well-known FX pairs used by the adapters.
const (
	PairUsdCny = "USDCNY"
	PairUsdEur = "USDEUR"
)

// BenchmarkPrice represents the Shanghai silver benchmark for one market day,
// normalized to both CNY/gram and USD/oz. ConversionSteps is the ordered
// human-readable trail of every unit change applied to the raw provider value.
type BenchmarkPrice struct {
	Date            time.Time `json:"date" validate:"required"`
	PriceCnyPerGram float64   `json:"price_cny_per_gram" validate:"gt=0"`
	PriceUsdPerOz   float64   `json:"price_usd_per_oz" validate:"gt=0"`
	FxRateUsed      float64   `json:"fx_rate_used" validate:"gt=0"`
	Provider        string    `json:"provider"`
	IsEstimated     bool      `json:"is_estimated"`
	ConversionSteps []string  `json:"conversion_steps,omitempty"`
	RawPayload      string    `json:"raw_payload,omitempty"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// SpotPrice represents the reference spot price for one market day.
type SpotPrice struct {
	Date          time.Time `json:"date" validate:"required"`
	PriceUsdPerOz float64   `json:"price_usd_per_oz" validate:"gt=0"`
	Contract      string    `json:"contract"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// VerificationStatus classifies how trustworthy a retail quote is.
type VerificationStatus string

const (
	VerificationVerified     VerificationStatus = "VERIFIED"
	VerificationUnverified   VerificationStatus = "UNVERIFIED"
	VerificationInvalidParse VerificationStatus = "INVALID_PARSE"
	VerificationFailed       VerificationStatus = "FAILED"
)

// RetailQuote represents one dealer's price for one product on one market day.
// Keyed by (date, provider, product). Quotes that fail the plausibility gate
// are kept for audit with status INVALID_PARSE and excluded from display.
type RetailQuote struct {
	Date              time.Time          `json:"date" validate:"required"`
	Provider          string             `json:"provider" validate:"required"`
	Product           string             `json:"product" validate:"required"`
	PriceEur          float64            `json:"price_eur"`
	FineOz            float64            `json:"fine_oz" validate:"gt=0"`
	ImpliedUsdPerOz   float64            `json:"implied_usd_per_oz"`
	PremiumPercent    float64            `json:"premium_percent"`
	SourceURL         string             `json:"source_url"`
	RawExcerpt        string             `json:"raw_excerpt,omitempty"`
	Status            VerificationStatus `json:"status"`
	DiscoveryStrategy string             `json:"discovery_strategy,omitempty"`
	AttemptedURLs     []string           `json:"attempted_urls,omitempty"`
	ErrorMessage      string             `json:"error_message,omitempty"`
	FetchedAt         time.Time          `json:"fetched_at"`
}

// StressLevel classifies the physical stress index.
type StressLevel string

const (
	StressExtreme  StressLevel = "EXTREME"
	StressHigh     StressLevel = "HIGH"
	StressModerate StressLevel = "MODERATE"
	StressLow      StressLevel = "LOW"
	StressUnknown  StressLevel = "UNKNOWN"
)

// DailySpread is the reconciled per-day record derived from benchmark price,
// spot price and stock snapshot. It is never fetched directly and only
// computed when all three inputs exist for the same date.
type DailySpread struct {
	Date              time.Time   `json:"date" validate:"required"`
	BenchmarkUsdPerOz float64     `json:"benchmark_usd_per_oz" validate:"gt=0"`
	SpotUsdPerOz      float64     `json:"spot_usd_per_oz" validate:"gt=0"`
	SpreadUsdPerOz    float64     `json:"spread_usd_per_oz"`
	SpreadPercent     float64     `json:"spread_percent"`
	Registered        float64     `json:"registered"`
	Eligible          float64     `json:"eligible"`
	Combined          float64     `json:"combined"`
	RegisteredPercent float64     `json:"registered_percent"`
	PSI               *float64    `json:"psi,omitempty"`
	StressLevel       StressLevel `json:"stress_level"`
	ZScore            *float64    `json:"z_score,omitempty"`
	IsExtreme         bool        `json:"is_extreme"`
	CreatedAt         time.Time   `json:"created_at"`
}
