package repository

import (
	"encoding/json"

	"gorm.io/datatypes"

	"silverpulse/pkg/contracts/domain"
)

// jsonList marshals a string slice into a JSON column. Empty slices are
// stored as NULL so the column stays queryable for "no entries".
func jsonList(values []string) datatypes.JSON {
	if len(values) == 0 {
		return nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func fromJSONList(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}

func toStockModel(s domain.StockSnapshot) StockSnapshotModel {
	m := StockSnapshotModel{
		Date:              dateOnly(s.Date),
		Registered:        s.Registered,
		Eligible:          s.Eligible,
		Combined:          s.Combined,
		DeltaRegistered:   s.DeltaRegistered,
		DeltaEligible:     s.DeltaEligible,
		DeltaCombined:     s.DeltaCombined,
		RegisteredPercent: s.RegisteredPercent,
		Warnings:          jsonList(s.Warnings),
		Source:            s.Source,
		FetchedAt:         s.FetchedAt,
	}
	for _, w := range s.Warehouses {
		m.Warehouses = append(m.Warehouses, WarehouseStockModel{
			Name:        w.Name,
			Registered:  w.Registered,
			Eligible:    w.Eligible,
			Deposits:    w.Deposits,
			Withdrawals: w.Withdrawals,
			Adjustments: w.Adjustments,
		})
	}
	return m
}

func fromStockModel(m StockSnapshotModel) domain.StockSnapshot {
	s := domain.StockSnapshot{
		Date:              m.Date,
		Registered:        m.Registered,
		Eligible:          m.Eligible,
		Combined:          m.Combined,
		DeltaRegistered:   m.DeltaRegistered,
		DeltaEligible:     m.DeltaEligible,
		DeltaCombined:     m.DeltaCombined,
		RegisteredPercent: m.RegisteredPercent,
		Warnings:          fromJSONList(m.Warnings),
		Source:            m.Source,
		FetchedAt:         m.FetchedAt,
	}
	for _, w := range m.Warehouses {
		s.Warehouses = append(s.Warehouses, domain.WarehouseStock{
			Name:        w.Name,
			Registered:  w.Registered,
			Eligible:    w.Eligible,
			Deposits:    w.Deposits,
			Withdrawals: w.Withdrawals,
			Adjustments: w.Adjustments,
		})
	}
	return s
}

func toBenchmarkModel(b domain.BenchmarkPrice) BenchmarkPriceModel {
	return BenchmarkPriceModel{
		Date:            dateOnly(b.Date),
		PriceCnyPerGram: b.PriceCnyPerGram,
		PriceUsdPerOz:   b.PriceUsdPerOz,
		FxRateUsed:      b.FxRateUsed,
		Provider:        b.Provider,
		IsEstimated:     b.IsEstimated,
		ConversionSteps: jsonList(b.ConversionSteps),
		RawPayload:      b.RawPayload,
		FetchedAt:       b.FetchedAt,
	}
}

func fromBenchmarkModel(m BenchmarkPriceModel) domain.BenchmarkPrice {
	return domain.BenchmarkPrice{
		Date:            m.Date,
		PriceCnyPerGram: m.PriceCnyPerGram,
		PriceUsdPerOz:   m.PriceUsdPerOz,
		FxRateUsed:      m.FxRateUsed,
		Provider:        m.Provider,
		IsEstimated:     m.IsEstimated,
		ConversionSteps: fromJSONList(m.ConversionSteps),
		RawPayload:      m.RawPayload,
		FetchedAt:       m.FetchedAt,
	}
}

func toRetailModel(q domain.RetailQuote) RetailQuoteModel {
	return RetailQuoteModel{
		Date:              dateOnly(q.Date),
		Provider:          q.Provider,
		Product:           q.Product,
		PriceEur:          q.PriceEur,
		FineOz:            q.FineOz,
		ImpliedUsdPerOz:   q.ImpliedUsdPerOz,
		PremiumPercent:    q.PremiumPercent,
		SourceURL:         q.SourceURL,
		RawExcerpt:        q.RawExcerpt,
		Status:            string(q.Status),
		DiscoveryStrategy: q.DiscoveryStrategy,
		AttemptedURLs:     jsonList(q.AttemptedURLs),
		ErrorMessage:      q.ErrorMessage,
		FetchedAt:         q.FetchedAt,
	}
}

func fromRetailModel(m RetailQuoteModel) domain.RetailQuote {
	return domain.RetailQuote{
		Date:              m.Date,
		Provider:          m.Provider,
		Product:           m.Product,
		PriceEur:          m.PriceEur,
		FineOz:            m.FineOz,
		ImpliedUsdPerOz:   m.ImpliedUsdPerOz,
		PremiumPercent:    m.PremiumPercent,
		SourceURL:         m.SourceURL,
		RawExcerpt:        m.RawExcerpt,
		Status:            domain.VerificationStatus(m.Status),
		DiscoveryStrategy: m.DiscoveryStrategy,
		AttemptedURLs:     fromJSONList(m.AttemptedURLs),
		ErrorMessage:      m.ErrorMessage,
		FetchedAt:         m.FetchedAt,
	}
}

func toSpreadModel(d domain.DailySpread) DailySpreadModel {
	return DailySpreadModel{
		Date:              dateOnly(d.Date),
		BenchmarkUsdPerOz: d.BenchmarkUsdPerOz,
		SpotUsdPerOz:      d.SpotUsdPerOz,
		SpreadUsdPerOz:    d.SpreadUsdPerOz,
		SpreadPercent:     d.SpreadPercent,
		Registered:        d.Registered,
		Eligible:          d.Eligible,
		Combined:          d.Combined,
		RegisteredPercent: d.RegisteredPercent,
		PSI:               d.PSI,
		StressLevel:       string(d.StressLevel),
		ZScore:            d.ZScore,
		IsExtreme:         d.IsExtreme,
	}
}

func fromSpreadModel(m DailySpreadModel) domain.DailySpread {
	return domain.DailySpread{
		Date:              m.Date,
		BenchmarkUsdPerOz: m.BenchmarkUsdPerOz,
		SpotUsdPerOz:      m.SpotUsdPerOz,
		SpreadUsdPerOz:    m.SpreadUsdPerOz,
		SpreadPercent:     m.SpreadPercent,
		Registered:        m.Registered,
		Eligible:          m.Eligible,
		Combined:          m.Combined,
		RegisteredPercent: m.RegisteredPercent,
		PSI:               m.PSI,
		StressLevel:       domain.StressLevel(m.StressLevel),
		ZScore:            m.ZScore,
		IsExtreme:         m.IsExtreme,
		CreatedAt:         m.CreatedAt,
	}
}

func fromRunModel(m FetchRunModel) domain.FetchRun {
	return domain.FetchRun{
		ID:           m.ID,
		Source:       m.Source,
		Status:       domain.RunStatus(m.Status),
		TriggeredBy:  m.TriggeredBy,
		StartedAt:    m.StartedAt,
		FinishedAt:   m.FinishedAt,
		Inserted:     m.Inserted,
		Updated:      m.Updated,
		Failed:       m.Failed,
		ErrorMessage: m.ErrorMessage,
	}
}
