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

type spotStore interface {
	UpsertSpot(ctx context.Context, price domain.SpotPrice) (bool, error)
	LatestSpotBefore(ctx context.Context, date time.Time) (*domain.SpotPrice, error)
}

// SpotFetcher resolves the reference USD/oz spot price. The chain prefers a
// manually pinned value, then metals-api (whose XAG rate is quoted as
// ounces per USD and must be inverted), then metals.dev, then the Yahoo
// futures chart.
type SpotFetcher struct {
	cfg         config.SpotSourceConfig
	client      *resty.Client
	store       spotStore
	tracker     *runtracker.Tracker
	metrics     *infrastructure.Metrics
	logger      *slog.Logger
	chain       *provider.Chain[domain.SpotPrice]
	staleMaxAge time.Duration
}

// NewSpotFetcher wires the spot adapter.
func NewSpotFetcher(cfg config.SpotSourceConfig, sources config.SourcesConfig, client *resty.Client, store spotStore, tracker *runtracker.Tracker, m *infrastructure.Metrics, logger *slog.Logger) *SpotFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &SpotFetcher{
		cfg:         cfg,
		client:      client,
		store:       store,
		tracker:     tracker,
		metrics:     m,
		logger:      logger.With("component", "fetch.spot"),
		staleMaxAge: sources.StaleMaxAge,
	}
	f.chain = provider.NewChain(domain.SourceSpot, logger,
		[]provider.Provider[domain.SpotPrice]{
			{Name: "manual", Fetch: f.fetchManual},
			{Name: "metals-api", Fetch: f.fetchMetalsAPI},
			{Name: "metals.dev", Fetch: f.fetchMetalsDev},
			{Name: "yahoo-chart", Fetch: f.fetchYahoo},
		},
		provider.WithTimeout[domain.SpotPrice](sources.FetchTimeout),
		provider.WithValidator(f.validate),
	)
	return f
}

func (f *SpotFetcher) validate(p domain.SpotPrice) error {
	if p.PriceUsdPerOz < f.cfg.MinUsdPerOz || p.PriceUsdPerOz > f.cfg.MaxUsdPerOz {
		return fmt.Errorf("spot %.2f USD/oz outside plausible range [%.0f, %.0f]",
			p.PriceUsdPerOz, f.cfg.MinUsdPerOz, f.cfg.MaxUsdPerOz)
	}
	return nil
}

// Fetch resolves the spot price for the date, falling back to the most
// recent stored price within the stale-age limit when the chain exhausts.
func (f *SpotFetcher) Fetch(ctx context.Context, date time.Time, trigger string) source.Result[domain.SpotPrice] {
	run := f.tracker.Begin(ctx, domain.SourceSpot, trigger)
	start := time.Now()
	defer func() {
		f.metrics.FetchDuration.WithLabelValues(domain.SourceSpot).Observe(time.Since(start).Seconds())
	}()

	value, attempts, ok := f.chain.Resolve(ctx)
	recordAttempts(f.metrics, domain.SourceSpot, attempts)

	if !ok {
		fail := chainFailure(attempts, "all %d spot providers failed", len(attempts))
		prior, err := f.store.LatestSpotBefore(ctx, date)
		if err == nil && prior != nil && time.Since(prior.Date) <= f.staleMaxAge {
			run.Finish(ctx, domain.RunStatusPartial, 0, 0, 1, fail.Message)
			f.metrics.FetchRunsTotal.WithLabelValues(domain.SourceSpot, string(domain.RunStatusPartial)).Inc()
			f.logger.WarnContext(ctx, "spot chain exhausted, reusing stored price",
				slog.Time("as_of", prior.Date))
			return source.Stale(prior.Contract, *prior, prior.Date, fail)
		}
		run.Finish(ctx, domain.RunStatusError, 0, 0, 1, fail.Message)
		f.metrics.FetchRunsTotal.WithLabelValues(domain.SourceSpot, string(domain.RunStatusError)).Inc()
		return source.Unavailable[domain.SpotPrice]("", fail)
	}

	price := value.Data
	price.Date = date
	price.FetchedAt = time.Now().UTC()
	if price.Contract == "" {
		price.Contract = value.Provider
	}

	inserted, err := f.store.UpsertSpot(ctx, price)
	if err != nil {
		fail := source.Fail(source.CodeFetchError, "store spot price: %v", err)
		run.Finish(ctx, domain.RunStatusError, 0, 0, 1, fail.Message)
		f.metrics.FetchRunsTotal.WithLabelValues(domain.SourceSpot, string(domain.RunStatusError)).Inc()
		return source.Unavailable[domain.SpotPrice](value.Provider, fail)
	}
	countUpsert(f.metrics, "spot_price", inserted)

	ins, upd := 0, 1
	if inserted {
		ins, upd = 1, 0
	}
	run.Finish(ctx, domain.RunStatusOK, ins, upd, 0, "")
	f.metrics.FetchRunsTotal.WithLabelValues(domain.SourceSpot, string(domain.RunStatusOK)).Inc()

	return source.Live(value.Provider, price, date)
}

// fetchManual short-circuits the chain when an operator pinned a price.
func (f *SpotFetcher) fetchManual(_ context.Context) (provider.Value[domain.SpotPrice], error) {
	var out provider.Value[domain.SpotPrice]
	if f.cfg.ManualUsdPerOz <= 0 {
		return out, provider.ErrNotConfigured
	}
	out.Data = domain.SpotPrice{PriceUsdPerOz: f.cfg.ManualUsdPerOz, Contract: "manual-override"}
	return out, nil
}

type metalsAPIResponse struct {
	Success bool               `json:"success"`
	Rates   map[string]float64 `json:"rates"`
}

func (f *SpotFetcher) fetchMetalsAPI(ctx context.Context) (provider.Value[domain.SpotPrice], error) {
	var out provider.Value[domain.SpotPrice]
	if f.cfg.MetalsAPIKey == "" {
		return out, provider.ErrNotConfigured
	}
	resp, err := f.client.R().SetContext(ctx).
		SetQueryParams(map[string]string{
			"access_key": f.cfg.MetalsAPIKey,
			"base":       "USD",
			"symbols":    "XAG",
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
	rate, ok := body.Rates["XAG"]
	if !body.Success || !ok || rate <= 0 {
		return out, fmt.Errorf("response missing XAG rate")
	}
	// Rates with base USD come back as XAG per USD; invert to USD per oz.
	price := 1 / rate
	out.Data = domain.SpotPrice{PriceUsdPerOz: price, Contract: "XAG"}
	out.ConversionSteps = []string{
		fmt.Sprintf("metals-api XAG per USD = %.8f", rate),
		fmt.Sprintf("USD per oz = 1 / %.8f = %.4f", rate, price),
	}
	out.RawPayload = string(resp.Body())
	return out, nil
}

type metalsDevResponse struct {
	Metals map[string]float64 `json:"metals"`
}

func (f *SpotFetcher) fetchMetalsDev(ctx context.Context) (provider.Value[domain.SpotPrice], error) {
	var out provider.Value[domain.SpotPrice]
	if f.cfg.MetalsDevKey == "" {
		return out, provider.ErrNotConfigured
	}
	resp, err := f.client.R().SetContext(ctx).
		SetQueryParams(map[string]string{
			"api_key":  f.cfg.MetalsDevKey,
			"currency": "USD",
			"unit":     "toz",
		}).
		Get(f.cfg.MetalsDevURL)
	if err != nil {
		return out, err
	}
	if resp.IsError() {
		return out, fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	var body metalsDevResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	price, ok := body.Metals["silver"]
	if !ok || price <= 0 {
		return out, fmt.Errorf("response missing silver price")
	}
	out.Data = domain.SpotPrice{PriceUsdPerOz: price, Contract: "spot"}
	out.RawPayload = string(resp.Body())
	return out, nil
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				Symbol             string  `json:"symbol"`
			} `json:"meta"`
		} `json:"result"`
	} `json:"chart"`
}

func (f *SpotFetcher) fetchYahoo(ctx context.Context) (provider.Value[domain.SpotPrice], error) {
	var out provider.Value[domain.SpotPrice]
	resp, err := f.client.R().SetContext(ctx).
		SetQueryParams(map[string]string{"interval": "1d", "range": "1d"}).
		Get(f.cfg.YahooChartURL)
	if err != nil {
		return out, err
	}
	if resp.IsError() {
		return out, fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	var body yahooChartResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	if len(body.Chart.Result) == 0 {
		return out, fmt.Errorf("chart response has no result")
	}
	meta := body.Chart.Result[0].Meta
	if meta.RegularMarketPrice <= 0 {
		return out, fmt.Errorf("chart has no market price")
	}
	out.Data = domain.SpotPrice{PriceUsdPerOz: meta.RegularMarketPrice, Contract: meta.Symbol}
	return out, nil
}

// chainFailure classifies an exhausted chain. When every consulted provider
// delivered a value the validator rejected, the data was reachable but
// implausible: that is a validation failure, not a transport one.
func chainFailure(attempts []provider.Attempt, format string, args ...any) *source.Failure {
	rejected, errored := false, false
	for _, a := range attempts {
		if a.Rejected != "" {
			rejected = true
		}
		if a.Error != "" {
			errored = true
		}
	}
	code := source.CodeFetchError
	if rejected && !errored {
		code = source.CodeValidationError
	}
	return source.Fail(code, format, args...)
}

func recordAttempts(m *infrastructure.Metrics, chain string, attempts []provider.Attempt) {
	for _, a := range attempts {
		outcome := "error"
		switch {
		case a.Accepted:
			outcome = "accepted"
		case a.Skipped:
			outcome = "skipped"
		case a.Rejected != "":
			outcome = "rejected"
		}
		m.ProviderAttempts.WithLabelValues(chain, a.Provider, outcome).Inc()
	}
}

func countUpsert(m *infrastructure.Metrics, entity string, inserted bool) {
	op := "update"
	if inserted {
		op = "insert"
	}
	m.RowsUpsertedTotal.WithLabelValues(entity, op).Inc()
}
