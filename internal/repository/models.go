// Package repository persists the reconciled market entities. All writes are
// idempotent upserts keyed by the entity's natural key, so re-running a
// market date is always safe and concurrent adapters never conflict.
package repository

import (
	"time"

	"gorm.io/datatypes"
)

// StockSnapshotModel is one exchange stock report, keyed by market date.
type StockSnapshotModel struct {
	ID                uint           `gorm:"primaryKey;autoIncrement"`
	Date              time.Time      `gorm:"column:date;type:date;uniqueIndex;not null"`
	Registered        float64        `gorm:"column:registered;not null"`
	Eligible          float64        `gorm:"column:eligible;not null"`
	Combined          float64        `gorm:"column:combined;not null"`
	DeltaRegistered   *float64       `gorm:"column:delta_registered"`
	DeltaEligible     *float64       `gorm:"column:delta_eligible"`
	DeltaCombined     *float64       `gorm:"column:delta_combined"`
	RegisteredPercent float64        `gorm:"column:registered_percent"`
	Warnings          datatypes.JSON `gorm:"column:warnings"`
	Source            string         `gorm:"column:source;type:varchar(128)"`
	FetchedAt         time.Time      `gorm:"column:fetched_at"`

	Warehouses []WarehouseStockModel `gorm:"foreignKey:SnapshotID;constraint:OnDelete:CASCADE"`
}

func (StockSnapshotModel) TableName() string { return "stock_snapshots" }

// WarehouseStockModel is one depository row belonging to a snapshot. Rows
// are replaced wholesale when their snapshot is re-upserted.
type WarehouseStockModel struct {
	ID          uint     `gorm:"primaryKey;autoIncrement"`
	SnapshotID  uint     `gorm:"column:snapshot_id;index;not null"`
	Name        string   `gorm:"column:name;type:varchar(255);not null"`
	Registered  float64  `gorm:"column:registered;not null"`
	Eligible    float64  `gorm:"column:eligible;not null"`
	Deposits    *float64 `gorm:"column:deposits"`
	Withdrawals *float64 `gorm:"column:withdrawals"`
	Adjustments *float64 `gorm:"column:adjustments"`
}

func (WarehouseStockModel) TableName() string { return "warehouse_stocks" }

// FxRateModel is one currency pair rate, keyed by (date, pair).
type FxRateModel struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Date      time.Time `gorm:"column:date;type:date;uniqueIndex:idx_fx_date_pair;not null"`
	Pair      string    `gorm:"column:pair;type:varchar(16);uniqueIndex:idx_fx_date_pair;not null"`
	Rate      float64   `gorm:"column:rate;not null"`
	Source    string    `gorm:"column:source;type:varchar(128)"`
	FetchedAt time.Time `gorm:"column:fetched_at"`
}

func (FxRateModel) TableName() string { return "fx_rates" }

// BenchmarkPriceModel is the Shanghai benchmark price, keyed by date.
type BenchmarkPriceModel struct {
	ID              uint           `gorm:"primaryKey;autoIncrement"`
	Date            time.Time      `gorm:"column:date;type:date;uniqueIndex;not null"`
	PriceCnyPerGram float64        `gorm:"column:price_cny_per_gram;not null"`
	PriceUsdPerOz   float64        `gorm:"column:price_usd_per_oz;not null"`
	FxRateUsed      float64        `gorm:"column:fx_rate_used;not null"`
	Provider        string         `gorm:"column:provider;type:varchar(128)"`
	IsEstimated     bool           `gorm:"column:is_estimated;not null;default:false"`
	ConversionSteps datatypes.JSON `gorm:"column:conversion_steps"`
	RawPayload      string         `gorm:"column:raw_payload;type:text"`
	FetchedAt       time.Time      `gorm:"column:fetched_at"`
}

func (BenchmarkPriceModel) TableName() string { return "benchmark_prices" }

// SpotPriceModel is the reference spot price, keyed by date.
type SpotPriceModel struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	Date          time.Time `gorm:"column:date;type:date;uniqueIndex;not null"`
	PriceUsdPerOz float64   `gorm:"column:price_usd_per_oz;not null"`
	Contract      string    `gorm:"column:contract;type:varchar(128)"`
	FetchedAt     time.Time `gorm:"column:fetched_at"`
}

func (SpotPriceModel) TableName() string { return "spot_prices" }

// RetailQuoteModel is one dealer quote, keyed by (date, provider, product).
type RetailQuoteModel struct {
	ID                uint           `gorm:"primaryKey;autoIncrement"`
	Date              time.Time      `gorm:"column:date;type:date;uniqueIndex:idx_retail_key;not null"`
	Provider          string         `gorm:"column:provider;type:varchar(128);uniqueIndex:idx_retail_key;not null"`
	Product           string         `gorm:"column:product;type:varchar(128);uniqueIndex:idx_retail_key;not null"`
	PriceEur          float64        `gorm:"column:price_eur"`
	FineOz            float64        `gorm:"column:fine_oz"`
	ImpliedUsdPerOz   float64        `gorm:"column:implied_usd_per_oz"`
	PremiumPercent    float64        `gorm:"column:premium_percent"`
	SourceURL         string         `gorm:"column:source_url;type:text"`
	RawExcerpt        string         `gorm:"column:raw_excerpt;type:text"`
	Status            string         `gorm:"column:status;type:varchar(32);not null"`
	DiscoveryStrategy string         `gorm:"column:discovery_strategy;type:varchar(64)"`
	AttemptedURLs     datatypes.JSON `gorm:"column:attempted_urls"`
	ErrorMessage      string         `gorm:"column:error_message;type:text"`
	FetchedAt         time.Time      `gorm:"column:fetched_at"`
}

func (RetailQuoteModel) TableName() string { return "retail_quotes" }

// DailySpreadModel is the reconciled derived record, keyed by date.
type DailySpreadModel struct {
	ID                uint      `gorm:"primaryKey;autoIncrement"`
	Date              time.Time `gorm:"column:date;type:date;uniqueIndex;not null"`
	BenchmarkUsdPerOz float64   `gorm:"column:benchmark_usd_per_oz;not null"`
	SpotUsdPerOz      float64   `gorm:"column:spot_usd_per_oz;not null"`
	SpreadUsdPerOz    float64   `gorm:"column:spread_usd_per_oz;not null"`
	SpreadPercent     float64   `gorm:"column:spread_percent;not null"`
	Registered        float64   `gorm:"column:registered"`
	Eligible          float64   `gorm:"column:eligible"`
	Combined          float64   `gorm:"column:combined"`
	RegisteredPercent float64   `gorm:"column:registered_percent"`
	PSI               *float64  `gorm:"column:psi"`
	StressLevel       string    `gorm:"column:stress_level;type:varchar(16)"`
	ZScore            *float64  `gorm:"column:z_score"`
	IsExtreme         bool      `gorm:"column:is_extreme;not null;default:false"`
	CreatedAt         time.Time `gorm:"column:created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

func (DailySpreadModel) TableName() string { return "daily_spreads" }

// FetchRunModel is the audit record for one adapter invocation.
type FetchRunModel struct {
	ID           string     `gorm:"primaryKey;type:varchar(36)"`
	Source       string     `gorm:"column:source;type:varchar(32);index;not null"`
	Status       string     `gorm:"column:status;type:varchar(16);not null"`
	TriggeredBy  string     `gorm:"column:triggered_by;type:varchar(16)"`
	StartedAt    time.Time  `gorm:"column:started_at;index;not null"`
	FinishedAt   *time.Time `gorm:"column:finished_at"`
	Inserted     int        `gorm:"column:inserted;not null;default:0"`
	Updated      int        `gorm:"column:updated;not null;default:0"`
	Failed       int        `gorm:"column:failed;not null;default:0"`
	ErrorMessage string     `gorm:"column:error_message;type:varchar(1000)"`
}

func (FetchRunModel) TableName() string { return "fetch_runs" }
