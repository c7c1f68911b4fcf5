package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"silverpulse/pkg/contracts/domain"
)

// Store wraps the database handle with the persistence operations the
// pipeline needs. Every write is an idempotent upsert keyed by the entity's
// natural key; re-running a market date overwrites instead of duplicating.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to Postgres and returns a migrated Store.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store := NewStore(db, logger)
	if err := store.Migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

// NewStore builds a Store on an existing handle. Used by tests that run
// against sqlite or a transaction-scoped connection.
func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "repository")}
}

// Migrate creates or updates the schema for all persisted entities.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(
		&StockSnapshotModel{},
		&WarehouseStockModel{},
		&FxRateModel{},
		&BenchmarkPriceModel{},
		&SpotPriceModel{},
		&RetailQuoteModel{},
		&DailySpreadModel{},
		&FetchRunModel{},
	); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// dateOnly truncates a timestamp to its UTC calendar date, the natural key
// used by every daily entity.
func dateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// exists reports whether a row matching the query is already stored, so an
// upsert can be counted as an insert or an update.
func (s *Store) exists(ctx context.Context, model any, query string, args ...any) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where(query, args...).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpsertStockSnapshot stores a snapshot keyed by date, replacing the
// warehouse breakdown wholesale. Returns true when the row was newly
// inserted.
func (s *Store) UpsertStockSnapshot(ctx context.Context, snap domain.StockSnapshot) (bool, error) {
	model := toStockModel(snap)
	existed, err := s.exists(ctx, &StockSnapshotModel{}, "date = ?", model.Date)
	if err != nil {
		return false, fmt.Errorf("check stock snapshot: %w", err)
	}

	warehouses := model.Warehouses
	model.Warehouses = nil

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"registered", "eligible", "combined",
				"delta_registered", "delta_eligible", "delta_combined",
				"registered_percent", "warnings", "source", "fetched_at",
			}),
		}).Create(&model).Error; err != nil {
			return err
		}

		var stored StockSnapshotModel
		if err := tx.Where("date = ?", model.Date).First(&stored).Error; err != nil {
			return err
		}
		if err := tx.Where("snapshot_id = ?", stored.ID).Delete(&WarehouseStockModel{}).Error; err != nil {
			return err
		}
		for i := range warehouses {
			warehouses[i].ID = 0
			warehouses[i].SnapshotID = stored.ID
		}
		if len(warehouses) > 0 {
			if err := tx.Create(&warehouses).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("upsert stock snapshot: %w", err)
	}
	return !existed, nil
}

// StockOn returns the snapshot for a date, or nil when none is stored.
func (s *Store) StockOn(ctx context.Context, date time.Time) (*domain.StockSnapshot, error) {
	var m StockSnapshotModel
	err := s.db.WithContext(ctx).Preload("Warehouses").
		Where("date = ?", dateOnly(date)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load stock snapshot: %w", err)
	}
	snap := fromStockModel(m)
	return &snap, nil
}

// LatestStockBefore returns the most recent snapshot strictly before the
// date, or nil when history is empty. Used for day-over-day deltas and
// stale fallback.
func (s *Store) LatestStockBefore(ctx context.Context, date time.Time) (*domain.StockSnapshot, error) {
	var m StockSnapshotModel
	err := s.db.WithContext(ctx).Preload("Warehouses").
		Where("date < ?", dateOnly(date)).
		Order("date DESC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load prior stock snapshot: %w", err)
	}
	snap := fromStockModel(m)
	return &snap, nil
}

// StockSeries returns snapshots in [from, to] ordered by date ascending,
// without the warehouse breakdown.
func (s *Store) StockSeries(ctx context.Context, from, to time.Time) ([]domain.StockSnapshot, error) {
	var models []StockSnapshotModel
	err := s.db.WithContext(ctx).
		Where("date >= ? AND date <= ?", dateOnly(from), dateOnly(to)).
		Order("date ASC").Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("load stock series: %w", err)
	}
	series := make([]domain.StockSnapshot, 0, len(models))
	for _, m := range models {
		series = append(series, fromStockModel(m))
	}
	return series, nil
}

// UpsertFxRate stores a rate keyed by (date, pair). Returns true on insert.
func (s *Store) UpsertFxRate(ctx context.Context, rate domain.FxRate) (bool, error) {
	model := FxRateModel{
		Date:      dateOnly(rate.Date),
		Pair:      rate.Pair,
		Rate:      rate.Rate,
		Source:    rate.Source,
		FetchedAt: time.Now().UTC(),
	}
	existed, err := s.exists(ctx, &FxRateModel{}, "date = ? AND pair = ?", model.Date, model.Pair)
	if err != nil {
		return false, fmt.Errorf("check fx rate: %w", err)
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}, {Name: "pair"}},
		DoUpdates: clause.AssignmentColumns([]string{"rate", "source", "fetched_at"}),
	}).Create(&model).Error
	if err != nil {
		return false, fmt.Errorf("upsert fx rate: %w", err)
	}
	return !existed, nil
}

// FxRateOn returns the stored rate for (date, pair), or nil when absent.
func (s *Store) FxRateOn(ctx context.Context, date time.Time, pair string) (*domain.FxRate, error) {
	var m FxRateModel
	err := s.db.WithContext(ctx).
		Where("date = ? AND pair = ?", dateOnly(date), pair).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load fx rate: %w", err)
	}
	return &domain.FxRate{Date: m.Date, Pair: m.Pair, Rate: m.Rate, Source: m.Source}, nil
}

// LatestFxBefore returns the most recent stored rate for the pair at or
// before the date, or nil when none exists.
func (s *Store) LatestFxBefore(ctx context.Context, date time.Time, pair string) (*domain.FxRate, error) {
	var m FxRateModel
	err := s.db.WithContext(ctx).
		Where("date <= ? AND pair = ?", dateOnly(date), pair).
		Order("date DESC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load prior fx rate: %w", err)
	}
	return &domain.FxRate{Date: m.Date, Pair: m.Pair, Rate: m.Rate, Source: m.Source}, nil
}

// UpsertBenchmark stores the benchmark price keyed by date. Returns true on
// insert.
func (s *Store) UpsertBenchmark(ctx context.Context, price domain.BenchmarkPrice) (bool, error) {
	model := toBenchmarkModel(price)
	existed, err := s.exists(ctx, &BenchmarkPriceModel{}, "date = ?", model.Date)
	if err != nil {
		return false, fmt.Errorf("check benchmark price: %w", err)
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"price_cny_per_gram", "price_usd_per_oz", "fx_rate_used",
			"provider", "is_estimated", "conversion_steps", "raw_payload", "fetched_at",
		}),
	}).Create(&model).Error
	if err != nil {
		return false, fmt.Errorf("upsert benchmark price: %w", err)
	}
	return !existed, nil
}

// BenchmarkOn returns the benchmark for a date, or nil when absent.
func (s *Store) BenchmarkOn(ctx context.Context, date time.Time) (*domain.BenchmarkPrice, error) {
	var m BenchmarkPriceModel
	err := s.db.WithContext(ctx).Where("date = ?", dateOnly(date)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load benchmark price: %w", err)
	}
	price := fromBenchmarkModel(m)
	return &price, nil
}

// LatestBenchmarkBefore returns the most recent benchmark at or before the
// date, or nil when none exists.
func (s *Store) LatestBenchmarkBefore(ctx context.Context, date time.Time) (*domain.BenchmarkPrice, error) {
	var m BenchmarkPriceModel
	err := s.db.WithContext(ctx).Where("date <= ?", dateOnly(date)).
		Order("date DESC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load prior benchmark price: %w", err)
	}
	price := fromBenchmarkModel(m)
	return &price, nil
}

// UpsertSpot stores the spot price keyed by date. Returns true on insert.
func (s *Store) UpsertSpot(ctx context.Context, price domain.SpotPrice) (bool, error) {
	model := SpotPriceModel{
		Date:          dateOnly(price.Date),
		PriceUsdPerOz: price.PriceUsdPerOz,
		Contract:      price.Contract,
		FetchedAt:     price.FetchedAt,
	}
	existed, err := s.exists(ctx, &SpotPriceModel{}, "date = ?", model.Date)
	if err != nil {
		return false, fmt.Errorf("check spot price: %w", err)
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"price_usd_per_oz", "contract", "fetched_at"}),
	}).Create(&model).Error
	if err != nil {
		return false, fmt.Errorf("upsert spot price: %w", err)
	}
	return !existed, nil
}

// SpotOn returns the spot price for a date, or nil when absent.
func (s *Store) SpotOn(ctx context.Context, date time.Time) (*domain.SpotPrice, error) {
	var m SpotPriceModel
	err := s.db.WithContext(ctx).Where("date = ?", dateOnly(date)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load spot price: %w", err)
	}
	return &domain.SpotPrice{
		Date: m.Date, PriceUsdPerOz: m.PriceUsdPerOz,
		Contract: m.Contract, FetchedAt: m.FetchedAt,
	}, nil
}

// LatestSpotBefore returns the most recent spot price at or before the
// date, or nil when none exists.
func (s *Store) LatestSpotBefore(ctx context.Context, date time.Time) (*domain.SpotPrice, error) {
	var m SpotPriceModel
	err := s.db.WithContext(ctx).Where("date <= ?", dateOnly(date)).
		Order("date DESC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load prior spot price: %w", err)
	}
	return &domain.SpotPrice{
		Date: m.Date, PriceUsdPerOz: m.PriceUsdPerOz,
		Contract: m.Contract, FetchedAt: m.FetchedAt,
	}, nil
}

// UpsertRetailQuote stores one quote keyed by (date, provider, product).
// Failed and implausible quotes are stored too; the status column carries
// the verdict. Returns true on insert.
func (s *Store) UpsertRetailQuote(ctx context.Context, quote domain.RetailQuote) (bool, error) {
	model := toRetailModel(quote)
	existed, err := s.exists(ctx, &RetailQuoteModel{},
		"date = ? AND provider = ? AND product = ?", model.Date, model.Provider, model.Product)
	if err != nil {
		return false, fmt.Errorf("check retail quote: %w", err)
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}, {Name: "provider"}, {Name: "product"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"price_eur", "fine_oz", "implied_usd_per_oz", "premium_percent",
			"source_url", "raw_excerpt", "status", "discovery_strategy",
			"attempted_urls", "error_message", "fetched_at",
		}),
	}).Create(&model).Error
	if err != nil {
		return false, fmt.Errorf("upsert retail quote: %w", err)
	}
	return !existed, nil
}

// RetailQuotesOn returns all quotes for a date. The verifiedOnly flag
// restricts the result to quotes that passed the plausibility gate.
func (s *Store) RetailQuotesOn(ctx context.Context, date time.Time, verifiedOnly bool) ([]domain.RetailQuote, error) {
	q := s.db.WithContext(ctx).Where("date = ?", dateOnly(date))
	if verifiedOnly {
		q = q.Where("status = ?", string(domain.VerificationVerified))
	}
	var models []RetailQuoteModel
	if err := q.Order("provider ASC, product ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("load retail quotes: %w", err)
	}
	quotes := make([]domain.RetailQuote, 0, len(models))
	for _, m := range models {
		quotes = append(quotes, fromRetailModel(m))
	}
	return quotes, nil
}

// UpsertDailySpread stores the derived record keyed by date. Returns true
// on insert.
func (s *Store) UpsertDailySpread(ctx context.Context, spread domain.DailySpread) (bool, error) {
	model := toSpreadModel(spread)
	existed, err := s.exists(ctx, &DailySpreadModel{}, "date = ?", model.Date)
	if err != nil {
		return false, fmt.Errorf("check daily spread: %w", err)
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"benchmark_usd_per_oz", "spot_usd_per_oz", "spread_usd_per_oz",
			"spread_percent", "registered", "eligible", "combined",
			"registered_percent", "psi", "stress_level", "z_score",
			"is_extreme", "updated_at",
		}),
	}).Create(&model).Error
	if err != nil {
		return false, fmt.Errorf("upsert daily spread: %w", err)
	}
	return !existed, nil
}

// SpreadOn returns the derived record for a date, or nil when absent.
func (s *Store) SpreadOn(ctx context.Context, date time.Time) (*domain.DailySpread, error) {
	var m DailySpreadModel
	err := s.db.WithContext(ctx).Where("date = ?", dateOnly(date)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load daily spread: %w", err)
	}
	spread := fromSpreadModel(m)
	return &spread, nil
}

// LatestSpread returns the most recent derived record, or nil when none
// exists. Used by the dashboard projection.
func (s *Store) LatestSpread(ctx context.Context) (*domain.DailySpread, error) {
	var m DailySpreadModel
	err := s.db.WithContext(ctx).Order("date DESC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest spread: %w", err)
	}
	spread := fromSpreadModel(m)
	return &spread, nil
}

// SpreadHistory returns the spread values of the most recent `window` days
// strictly before the date, oldest first. Feeds the z-score.
func (s *Store) SpreadHistory(ctx context.Context, before time.Time, window int) ([]float64, error) {
	var models []DailySpreadModel
	err := s.db.WithContext(ctx).
		Select("date", "spread_usd_per_oz").
		Where("date < ?", dateOnly(before)).
		Order("date DESC").Limit(window).Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("load spread history: %w", err)
	}
	values := make([]float64, len(models))
	for i, m := range models {
		values[len(models)-1-i] = m.SpreadUsdPerOz
	}
	return values, nil
}

// SpreadSeries returns derived records in [from, to] ordered by date.
func (s *Store) SpreadSeries(ctx context.Context, from, to time.Time) ([]domain.DailySpread, error) {
	var models []DailySpreadModel
	err := s.db.WithContext(ctx).
		Where("date >= ? AND date <= ?", dateOnly(from), dateOnly(to)).
		Order("date ASC").Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("load spread series: %w", err)
	}
	series := make([]domain.DailySpread, 0, len(models))
	for _, m := range models {
		series = append(series, fromSpreadModel(m))
	}
	return series, nil
}

// PSISeries returns the non-null stress index values in [from, to], oldest
// first. Feeds the trend analysis.
func (s *Store) PSISeries(ctx context.Context, from, to time.Time) ([]float64, error) {
	var models []DailySpreadModel
	err := s.db.WithContext(ctx).
		Select("date", "psi").
		Where("date >= ? AND date <= ? AND psi IS NOT NULL", dateOnly(from), dateOnly(to)).
		Order("date ASC").Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("load psi series: %w", err)
	}
	values := make([]float64, 0, len(models))
	for _, m := range models {
		if m.PSI != nil {
			values = append(values, *m.PSI)
		}
	}
	return values, nil
}

// CreateFetchRun persists the RUNNING audit record before an adapter does
// any work.
func (s *Store) CreateFetchRun(ctx context.Context, run domain.FetchRun) error {
	model := FetchRunModel{
		ID:          run.ID,
		Source:      run.Source,
		Status:      string(run.Status),
		TriggeredBy: run.TriggeredBy,
		StartedAt:   run.StartedAt,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("create fetch run: %w", err)
	}
	return nil
}

// FinalizeFetchRun records the terminal status and counters for a run.
func (s *Store) FinalizeFetchRun(ctx context.Context, run domain.FetchRun) error {
	updates := map[string]any{
		"status":        string(run.Status),
		"finished_at":   run.FinishedAt,
		"inserted":      run.Inserted,
		"updated":       run.Updated,
		"failed":        run.Failed,
		"error_message": run.ErrorMessage,
	}
	res := s.db.WithContext(ctx).Model(&FetchRunModel{}).
		Where("id = ?", run.ID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("finalize fetch run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("finalize fetch run: run %s not found", run.ID)
	}
	return nil
}

// ListFetchRuns returns runs newest first, optionally filtered by source,
// capped at limit.
func (s *Store) ListFetchRuns(ctx context.Context, source string, limit int) ([]domain.FetchRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit)
	if source != "" {
		q = q.Where("source = ?", source)
	}
	var models []FetchRunModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list fetch runs: %w", err)
	}
	runs := make([]domain.FetchRun, 0, len(models))
	for _, m := range models {
		runs = append(runs, fromRunModel(m))
	}
	return runs, nil
}
