package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"silverpulse/internal/config"
	"silverpulse/internal/infrastructure"
	"silverpulse/internal/provider"
	"silverpulse/internal/runtracker"
	"silverpulse/internal/source"
	"silverpulse/pkg/contracts/domain"
)

type benchmarkStore interface {
	UpsertBenchmark(ctx context.Context, price domain.BenchmarkPrice) (bool, error)
	LatestBenchmarkBefore(ctx context.Context, date time.Time) (*domain.BenchmarkPrice, error)
}

// benchmarkQuote is the chain's working value: the Shanghai price in
// CNY per gram before USD normalization.
type benchmarkQuote struct {
	CnyPerGram float64
}

// BenchmarkFetcher resolves the Shanghai silver benchmark. The chain tries
// metals-api, then TwelveData, then a manual override, and as a last resort
// estimates the price from spot plus a configured premium. Every provider
// records its unit conversion trail; the estimate is flagged IsEstimated.
type BenchmarkFetcher struct {
	cfg          config.BenchmarkSourceConfig
	client       *resty.Client
	store        benchmarkStore
	tracker      *runtracker.Tracker
	metrics      *infrastructure.Metrics
	logger       *slog.Logger
	fetchTimeout time.Duration
	staleMaxAge  time.Duration
}

// NewBenchmarkFetcher wires the benchmark adapter.
func NewBenchmarkFetcher(cfg config.BenchmarkSourceConfig, sources config.SourcesConfig, client *resty.Client, store benchmarkStore, tracker *runtracker.Tracker, m *infrastructure.Metrics, logger *slog.Logger) *BenchmarkFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &BenchmarkFetcher{
		cfg:          cfg,
		client:       client,
		store:        store,
		tracker:      tracker,
		metrics:      m,
		logger:       logger.With("component", "fetch.benchmark"),
		fetchTimeout: sources.FetchTimeout,
		staleMaxAge:  sources.StaleMaxAge,
	}
}

// Fetch resolves the benchmark for the date. It depends on a USD/CNY rate
// for normalization; without one it reports DEPENDENCY_FAILED. The spot
// price is optional and only feeds the last-resort estimator.
func (f *BenchmarkFetcher) Fetch(ctx context.Context, date time.Time, trigger string, fx *FxRates, spot *domain.SpotPrice) source.Result[domain.BenchmarkPrice] {
	run := f.tracker.Begin(ctx, domain.SourceBenchmark, trigger)
	start := time.Now()
	defer func() {
		f.metrics.FetchDuration.WithLabelValues(domain.SourceBenchmark).Observe(time.Since(start).Seconds())
	}()

	if fx == nil || fx.UsdCny <= 0 {
		fail := source.Fail(source.CodeDependencyFailed, "no USD/CNY rate to normalize benchmark")
		run.Finish(ctx, domain.RunStatusError, 0, 0, 1, fail.Message)
		f.metrics.FetchRunsTotal.WithLabelValues(domain.SourceBenchmark, string(domain.RunStatusError)).Inc()
		return source.Unavailable[domain.BenchmarkPrice]("", fail)
	}

	// The estimator closes over this run's spot price, so the chain is
	// built per invocation.
	chain := provider.NewChain(domain.SourceBenchmark, f.logger,
		[]provider.Provider[benchmarkQuote]{
			{Name: "metals-api", Fetch: f.fetchMetalsAPI},
			{Name: "twelvedata", Fetch: f.fetchTwelveData},
			{Name: "manual", Fetch: f.fetchManual},
			{Name: "spot-estimate", Fetch: f.estimateFromSpot(spot, fx.UsdCny)},
		},
		provider.WithTimeout[benchmarkQuote](f.fetchTimeout),
		provider.WithValidator(func(q benchmarkQuote) error {
			usdPerOz := q.CnyPerGram * domain.OzToGrams / fx.UsdCny
			if usdPerOz < f.cfg.MinUsdPerOz || usdPerOz > f.cfg.MaxUsdPerOz {
				return fmt.Errorf("benchmark %.2f USD/oz outside plausible range [%.0f, %.0f]",
					usdPerOz, f.cfg.MinUsdPerOz, f.cfg.MaxUsdPerOz)
			}
			return nil
		}),
	)

	value, attempts, ok := chain.Resolve(ctx)
	recordAttempts(f.metrics, domain.SourceBenchmark, attempts)

	if !ok {
		fail := chainFailure(attempts, "all %d benchmark providers failed", len(attempts))
		prior, err := f.store.LatestBenchmarkBefore(ctx, date)
		if err == nil && prior != nil && time.Since(prior.Date) <= f.staleMaxAge {
			run.Finish(ctx, domain.RunStatusPartial, 0, 0, 1, fail.Message)
			f.metrics.FetchRunsTotal.WithLabelValues(domain.SourceBenchmark, string(domain.RunStatusPartial)).Inc()
			f.logger.WarnContext(ctx, "benchmark chain exhausted, reusing stored price",
				slog.Time("as_of", prior.Date))
			return source.Stale(prior.Provider, *prior, prior.Date, fail)
		}
		run.Finish(ctx, domain.RunStatusError, 0, 0, 1, fail.Message)
		f.metrics.FetchRunsTotal.WithLabelValues(domain.SourceBenchmark, string(domain.RunStatusError)).Inc()
		return source.Unavailable[domain.BenchmarkPrice]("", fail)
	}

	usdPerOz := value.Data.CnyPerGram * domain.OzToGrams / fx.UsdCny
	steps := append(value.ConversionSteps,
		fmt.Sprintf("USD/oz = %.4f CNY/g x %.7f g/oz / %.6f USD/CNY = %.4f",
			value.Data.CnyPerGram, domain.OzToGrams, fx.UsdCny, usdPerOz))

	price := domain.BenchmarkPrice{
		Date:            date,
		PriceCnyPerGram: value.Data.CnyPerGram,
		PriceUsdPerOz:   usdPerOz,
		FxRateUsed:      fx.UsdCny,
		Provider:        value.Provider,
		IsEstimated:     value.IsEstimated,
		ConversionSteps: steps,
		RawPayload:      value.RawPayload,
		FetchedAt:       time.Now().UTC(),
	}

	inserted, err := f.store.UpsertBenchmark(ctx, price)
	if err != nil {
		fail := source.Fail(source.CodeFetchError, "store benchmark price: %v", err)
		run.Finish(ctx, domain.RunStatusError, 0, 0, 1, fail.Message)
		f.metrics.FetchRunsTotal.WithLabelValues(domain.SourceBenchmark, string(domain.RunStatusError)).Inc()
		return source.Unavailable[domain.BenchmarkPrice](value.Provider, fail)
	}
	countUpsert(f.metrics, "benchmark_price", inserted)

	ins, upd := 0, 1
	if inserted {
		ins, upd = 1, 0
	}
	run.Finish(ctx, domain.RunStatusOK, ins, upd, 0, "")
	f.metrics.FetchRunsTotal.WithLabelValues(domain.SourceBenchmark, string(domain.RunStatusOK)).Inc()

	return source.Live(value.Provider, price, date)
}

// fetchMetalsAPI quotes XAG in CNY: the rate is CNY per troy ounce.
func (f *BenchmarkFetcher) fetchMetalsAPI(ctx context.Context) (provider.Value[benchmarkQuote], error) {
	var out provider.Value[benchmarkQuote]
	if f.cfg.MetalsAPIKey == "" {
		return out, provider.ErrNotConfigured
	}
	resp, err := f.client.R().SetContext(ctx).
		SetQueryParams(map[string]string{
			"access_key": f.cfg.MetalsAPIKey,
			"base":       "XAG",
			"symbols":    "CNY",
		}).
		Get(f.cfg.MetalsAPIURL)
	if err != nil {
		return out, err
	}
	if resp.IsError() {
		return out, fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	var body metalsAPIResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	cnyPerOz, ok := body.Rates["CNY"]
	if !body.Success || !ok || cnyPerOz <= 0 {
		return out, fmt.Errorf("response missing CNY rate")
	}
	cnyPerGram := cnyPerOz / domain.OzToGrams
	out.Data = benchmarkQuote{CnyPerGram: cnyPerGram}
	out.ConversionSteps = []string{
		fmt.Sprintf("metals-api XAG in CNY = %.4f CNY/oz", cnyPerOz),
		fmt.Sprintf("CNY/g = %.4f / %.7f = %.4f", cnyPerOz, domain.OzToGrams, cnyPerGram),
	}
	out.RawPayload = string(resp.Body())
	return out, nil
}

type twelveDataResponse struct {
	Price string `json:"price"`
}

func (f *BenchmarkFetcher) fetchTwelveData(ctx context.Context) (provider.Value[benchmarkQuote], error) {
	var out provider.Value[benchmarkQuote]
	if f.cfg.TwelveDataKey == "" {
		return out, provider.ErrNotConfigured
	}
	resp, err := f.client.R().SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": "XAG/CNY",
			"apikey": f.cfg.TwelveDataKey,
		}).
		Get(f.cfg.TwelveDataURL)
	if err != nil {
		return out, err
	}
	if resp.IsError() {
		return out, fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	var body twelveDataResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	var cnyPerOz float64
	if _, err := fmt.Sscanf(body.Price, "%f", &cnyPerOz); err != nil || cnyPerOz <= 0 {
		return out, fmt.Errorf("unparseable price %q", body.Price)
	}
	cnyPerGram := cnyPerOz / domain.OzToGrams
	out.Data = benchmarkQuote{CnyPerGram: cnyPerGram}
	out.ConversionSteps = []string{
		fmt.Sprintf("twelvedata XAG/CNY = %.4f CNY/oz", cnyPerOz),
		fmt.Sprintf("CNY/g = %.4f / %.7f = %.4f", cnyPerOz, domain.OzToGrams, cnyPerGram),
	}
	out.RawPayload = string(resp.Body())
	return out, nil
}

func (f *BenchmarkFetcher) fetchManual(_ context.Context) (provider.Value[benchmarkQuote], error) {
	var out provider.Value[benchmarkQuote]
	if f.cfg.ManualCnyPerGram <= 0 {
		return out, provider.ErrNotConfigured
	}
	out.Data = benchmarkQuote{CnyPerGram: f.cfg.ManualCnyPerGram}
	out.ConversionSteps = []string{
		fmt.Sprintf("manual override = %.4f CNY/g", f.cfg.ManualCnyPerGram),
	}
	return out, nil
}

// estimateFromSpot derives the benchmark from the day's spot price plus the
// configured Shanghai premium. This is the last resort and is always a
// flagged estimate.
func (f *BenchmarkFetcher) estimateFromSpot(spot *domain.SpotPrice, usdCny float64) func(context.Context) (provider.Value[benchmarkQuote], error) {
	return func(_ context.Context) (provider.Value[benchmarkQuote], error) {
		var out provider.Value[benchmarkQuote]
		if spot == nil || spot.PriceUsdPerOz <= 0 {
			return out, provider.ErrNotConfigured
		}
		premium := 1 + f.cfg.PremiumPercent/100
		usdPerOz := spot.PriceUsdPerOz * premium
		cnyPerOz := usdPerOz * usdCny
		cnyPerGram := cnyPerOz / domain.OzToGrams
		out.Data = benchmarkQuote{CnyPerGram: cnyPerGram}
		out.IsEstimated = true
		out.ConversionSteps = []string{
			fmt.Sprintf("spot %.4f USD/oz x %.2f premium = %.4f USD/oz", spot.PriceUsdPerOz, premium, usdPerOz),
			fmt.Sprintf("CNY/oz = %.4f x %.6f USD/CNY = %.4f", usdPerOz, usdCny, cnyPerOz),
			fmt.Sprintf("CNY/g = %.4f / %.7f = %.4f", cnyPerOz, domain.OzToGrams, cnyPerGram),
		}
		return out, nil
	}
}
