package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"silverpulse/internal/config"
	"silverpulse/internal/infrastructure"
	"silverpulse/internal/provider"
	"silverpulse/internal/runtracker"
	"silverpulse/internal/source"
	"silverpulse/pkg/contracts/domain"
)

// FxRates bundles the two USD-base rates downstream consumers need: the
// benchmark conversion uses USD/CNY and the retail quotes use USD/EUR.
type FxRates struct {
	UsdCny float64
	UsdEur float64
}

type fxStore interface {
	UpsertFxRate(ctx context.Context, rate domain.FxRate) (bool, error)
	LatestFxBefore(ctx context.Context, date time.Time, pair string) (*domain.FxRate, error)
}

// FxFetcher resolves USD/CNY and USD/EUR through a fallback chain:
// exchangerate.host, then Frankfurter, then the ECB daily reference XML
// crossed through EUR.
type FxFetcher struct {
	cfg         config.FXSourceConfig
	client      *resty.Client
	store       fxStore
	tracker     *runtracker.Tracker
	metrics     *infrastructure.Metrics
	logger      *slog.Logger
	chain       *provider.Chain[FxRates]
	staleMaxAge time.Duration
}

// NewFxFetcher wires the FX adapter.
func NewFxFetcher(cfg config.FXSourceConfig, sources config.SourcesConfig, client *resty.Client, store fxStore, tracker *runtracker.Tracker, m *infrastructure.Metrics, logger *slog.Logger) *FxFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &FxFetcher{
		cfg:         cfg,
		client:      client,
		store:       store,
		tracker:     tracker,
		metrics:     m,
		logger:      logger.With("component", "fetch.fx"),
		staleMaxAge: sources.StaleMaxAge,
	}
	f.chain = provider.NewChain(domain.SourceFx, logger,
		[]provider.Provider[FxRates]{
			{Name: "exchangerate.host", Fetch: f.fetchRateHost},
			{Name: "frankfurter", Fetch: f.fetchFrankfurter},
			{Name: "ecb", Fetch: f.fetchECB},
		},
		provider.WithTimeout[FxRates](sources.FetchTimeout),
		provider.WithValidator(validateFxRates),
	)
	return f
}

func validateFxRates(r FxRates) error {
	if r.UsdCny < 3 || r.UsdCny > 15 {
		return fmt.Errorf("USD/CNY %.4f outside plausible range [3, 15]", r.UsdCny)
	}
	if r.UsdEur < 0.5 || r.UsdEur > 2 {
		return fmt.Errorf("USD/EUR %.4f outside plausible range [0.5, 2]", r.UsdEur)
	}
	return nil
}

// Fetch resolves both FX pairs for the date. On chain exhaustion it falls
// back to the most recent stored rates when they are younger than the
// stale-age limit.
func (f *FxFetcher) Fetch(ctx context.Context, date time.Time, trigger string) source.Result[FxRates] {
	run := f.tracker.Begin(ctx, domain.SourceFx, trigger)
	start := time.Now()
	defer func() {
		f.metrics.FetchDuration.WithLabelValues(domain.SourceFx).Observe(time.Since(start).Seconds())
	}()

	value, attempts, ok := f.chain.Resolve(ctx)
	recordAttempts(f.metrics, domain.SourceFx, attempts)

	if !ok {
		return f.fallback(ctx, run, date, attempts)
	}

	inserted, updated, failed := 0, 0, 0
	for _, rate := range []domain.FxRate{
		{Date: date, Pair: domain.PairUsdCny, Rate: value.Data.UsdCny, Source: value.Provider},
		{Date: date, Pair: domain.PairUsdEur, Rate: value.Data.UsdEur, Source: value.Provider},
	} {
		ins, err := f.store.UpsertFxRate(ctx, rate)
		switch {
		case err != nil:
			failed++
			f.logger.ErrorContext(ctx, "store fx rate failed",
				slog.String("pair", rate.Pair), slog.String("error", err.Error()))
		case ins:
			inserted++
			f.metrics.RowsUpsertedTotal.WithLabelValues("fx_rate", "insert").Inc()
		default:
			updated++
			f.metrics.RowsUpsertedTotal.WithLabelValues("fx_rate", "update").Inc()
		}
	}

	status := domain.RunStatusOK
	if failed > 0 {
		status = domain.RunStatusPartial
	}
	run.Finish(ctx, status, inserted, updated, failed, "")
	f.metrics.FetchRunsTotal.WithLabelValues(domain.SourceFx, string(status)).Inc()

	return source.Live(value.Provider, value.Data, date)
}

// fallback reuses the last stored rates when every live provider failed.
func (f *FxFetcher) fallback(ctx context.Context, run *runtracker.Run, date time.Time, attempts []provider.Attempt) source.Result[FxRates] {
	fail := chainFailure(attempts, "all %d fx providers failed", len(attempts))

	cny, errC := f.store.LatestFxBefore(ctx, date, domain.PairUsdCny)
	eur, errE := f.store.LatestFxBefore(ctx, date, domain.PairUsdEur)
	if errC != nil || errE != nil || cny == nil || eur == nil {
		run.Finish(ctx, domain.RunStatusError, 0, 0, 1, fail.Message)
		f.metrics.FetchRunsTotal.WithLabelValues(domain.SourceFx, string(domain.RunStatusError)).Inc()
		return source.Unavailable[FxRates]("", fail)
	}

	asOf := cny.Date
	if eur.Date.Before(asOf) {
		asOf = eur.Date
	}
	if time.Since(asOf) > f.staleMaxAge {
		run.Finish(ctx, domain.RunStatusError, 0, 0, 1,
			fmt.Sprintf("%s; stored rates from %s exceed stale limit", fail.Message, asOf.Format("2006-01-02")))
		f.metrics.FetchRunsTotal.WithLabelValues(domain.SourceFx, string(domain.RunStatusError)).Inc()
		return source.Unavailable[FxRates]("", fail)
	}

	run.Finish(ctx, domain.RunStatusPartial, 0, 0, 1, fail.Message)
	f.metrics.FetchRunsTotal.WithLabelValues(domain.SourceFx, string(domain.RunStatusPartial)).Inc()
	f.logger.WarnContext(ctx, "fx chain exhausted, reusing stored rates",
		slog.Time("as_of", asOf))
	return source.Stale(cny.Source, FxRates{UsdCny: cny.Rate, UsdEur: eur.Rate}, asOf, fail)
}

type rateHostResponse struct {
	Success bool               `json:"success"`
	Rates   map[string]float64 `json:"rates"`
}

func (f *FxFetcher) fetchRateHost(ctx context.Context) (provider.Value[FxRates], error) {
	var out provider.Value[FxRates]
	resp, err := f.client.R().SetContext(ctx).
		SetQueryParams(map[string]string{"base": "USD", "symbols": "CNY,EUR"}).
		Get(f.cfg.RateHostURL)
	if err != nil {
		return out, err
	}
	if resp.IsError() {
		return out, fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	var body rateHostResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	cny, okC := body.Rates["CNY"]
	eur, okE := body.Rates["EUR"]
	if !okC || !okE || cny <= 0 || eur <= 0 {
		return out, fmt.Errorf("response missing CNY or EUR rate")
	}
	out.Data = FxRates{UsdCny: cny, UsdEur: eur}
	out.RawPayload = string(resp.Body())
	return out, nil
}

type frankfurterResponse struct {
	Rates map[string]float64 `json:"rates"`
}

func (f *FxFetcher) fetchFrankfurter(ctx context.Context) (provider.Value[FxRates], error) {
	var out provider.Value[FxRates]
	resp, err := f.client.R().SetContext(ctx).
		SetQueryParams(map[string]string{"from": "USD", "to": "CNY,EUR"}).
		Get(f.cfg.FrankfurterURL)
	if err != nil {
		return out, err
	}
	if resp.IsError() {
		return out, fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	var body frankfurterResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	cny, okC := body.Rates["CNY"]
	eur, okE := body.Rates["EUR"]
	if !okC || !okE || cny <= 0 || eur <= 0 {
		return out, fmt.Errorf("response missing CNY or EUR rate")
	}
	out.Data = FxRates{UsdCny: cny, UsdEur: eur}
	out.RawPayload = string(resp.Body())
	return out, nil
}

var ecbRatePattern = regexp.MustCompile(`currency='([A-Z]{3})'\s+rate='([0-9.]+)'`)

// fetchECB parses the ECB daily reference XML. The feed is EUR-based, so
// USD/CNY is derived as (CNY per EUR) / (USD per EUR) and USD/EUR as the
// inverse of USD per EUR.
func (f *FxFetcher) fetchECB(ctx context.Context) (provider.Value[FxRates], error) {
	var out provider.Value[FxRates]
	resp, err := f.client.R().SetContext(ctx).Get(f.cfg.ECBURL)
	if err != nil {
		return out, err
	}
	if resp.IsError() {
		return out, fmt.Errorf("unexpected status %d", resp.StatusCode())
	}

	rates := map[string]float64{}
	for _, m := range ecbRatePattern.FindAllStringSubmatch(string(resp.Body()), -1) {
		if v, err := strconv.ParseFloat(m[2], 64); err == nil {
			rates[m[1]] = v
		}
	}
	usdPerEur, okU := rates["USD"]
	cnyPerEur, okC := rates["CNY"]
	if !okU || !okC || usdPerEur <= 0 || cnyPerEur <= 0 {
		return out, fmt.Errorf("XML missing USD or CNY reference rate")
	}

	out.Data = FxRates{
		UsdCny: cnyPerEur / usdPerEur,
		UsdEur: 1 / usdPerEur,
	}
	out.ConversionSteps = []string{
		fmt.Sprintf("ECB reference: %.6f USD/EUR, %.6f CNY/EUR", usdPerEur, cnyPerEur),
		fmt.Sprintf("USD/CNY = %.6f / %.6f = %.6f", cnyPerEur, usdPerEur, cnyPerEur/usdPerEur),
		fmt.Sprintf("USD/EUR = 1 / %.6f = %.6f", usdPerEur, 1/usdPerEur),
	}
	return out, nil
}
