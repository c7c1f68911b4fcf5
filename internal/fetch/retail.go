package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"silverpulse/internal/config"
	"silverpulse/internal/infrastructure"
	"silverpulse/internal/runtracker"
	"silverpulse/internal/source"
	"silverpulse/pkg/contracts/domain"
)

// Plausibility gate for an implied retail price relative to spot. Retail
// always trades above spot; below-spot or absurdly high values are parse
// artifacts, not prices.
const (
	retailMinSpotRatio = 0.95
	retailMaxSpotRatio = 20
)

type retailStore interface {
	UpsertRetailQuote(ctx context.Context, quote domain.RetailQuote) (bool, error)
}

// RetailFetcher scrapes the configured dealers for the tracked product,
// verifies each price against spot and stores every outcome, including the
// failures, for audit.
type RetailFetcher struct {
	cfg      config.RetailSourceConfig
	dealers  []DealerConfig
	client   *resty.Client
	limiters map[string]*rate.Limiter
	store    retailStore
	tracker  *runtracker.Tracker
	metrics  *infrastructure.Metrics
	logger   *slog.Logger
}

// NewRetailFetcher wires the retail adapter. A nil dealer list uses the
// built-in set.
func NewRetailFetcher(cfg config.RetailSourceConfig, dealers []DealerConfig, client *resty.Client, store retailStore, tracker *runtracker.Tracker, m *infrastructure.Metrics, logger *slog.Logger) *RetailFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if dealers == nil {
		dealers = DefaultDealers()
	}
	limiters := make(map[string]*rate.Limiter, len(dealers))
	for _, d := range dealers {
		limiters[d.Name] = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &RetailFetcher{
		cfg:      cfg,
		dealers:  dealers,
		client:   client,
		limiters: limiters,
		store:    store,
		tracker:  tracker,
		metrics:  m,
		logger:   logger.With("component", "fetch.retail"),
	}
}

// Fetch scrapes every dealer for the date. Dealers are independent: one
// failing marks the run PARTIAL, never ERROR, unless all fail. Conversion
// to USD needs the day's USD/EUR rate and verification needs spot; without
// them the adapter reports DEPENDENCY_FAILED.
func (f *RetailFetcher) Fetch(ctx context.Context, date time.Time, trigger string, fx *FxRates, spot *domain.SpotPrice) source.Result[[]domain.RetailQuote] {
	run := f.tracker.Begin(ctx, domain.SourceRetail, trigger)
	start := time.Now()
	defer func() {
		f.metrics.FetchDuration.WithLabelValues(domain.SourceRetail).Observe(time.Since(start).Seconds())
	}()

	if !f.cfg.Enabled {
		fail := source.Fail(source.CodeNoData, "retail scraping disabled")
		run.Finish(ctx, domain.RunStatusOK, 0, 0, 0, fail.Message)
		f.metrics.FetchRunsTotal.WithLabelValues(domain.SourceRetail, string(domain.RunStatusOK)).Inc()
		return source.Unavailable[[]domain.RetailQuote]("", fail)
	}
	if fx == nil || fx.UsdEur <= 0 || spot == nil || spot.PriceUsdPerOz <= 0 {
		fail := source.Fail(source.CodeDependencyFailed, "retail verification needs USD/EUR rate and spot price")
		run.Finish(ctx, domain.RunStatusError, 0, 0, len(f.dealers), fail.Message)
		f.metrics.FetchRunsTotal.WithLabelValues(domain.SourceRetail, string(domain.RunStatusError)).Inc()
		return source.Unavailable[[]domain.RetailQuote]("", fail)
	}

	var quotes []domain.RetailQuote
	inserted, updated, failed := 0, 0, 0

	for _, dealer := range f.dealers {
		quote := f.fetchDealer(ctx, date, dealer, fx, spot)
		if quote.Status == domain.VerificationVerified || quote.Status == domain.VerificationUnverified {
			quotes = append(quotes, quote)
		} else {
			failed++
		}

		ins, err := f.store.UpsertRetailQuote(ctx, quote)
		if err != nil {
			f.logger.ErrorContext(ctx, "store retail quote failed",
				slog.String("provider", dealer.Name), slog.String("error", err.Error()))
			failed++
			continue
		}
		countUpsert(f.metrics, "retail_quote", ins)
		if ins {
			inserted++
		} else {
			updated++
		}
	}

	status := domain.RunStatusOK
	switch {
	case len(quotes) == 0:
		status = domain.RunStatusError
	case failed > 0:
		status = domain.RunStatusPartial
	}
	run.Finish(ctx, status, inserted, updated, failed, "")
	f.metrics.FetchRunsTotal.WithLabelValues(domain.SourceRetail, string(status)).Inc()

	if len(quotes) == 0 {
		return source.Unavailable[[]domain.RetailQuote]("",
			source.Fail(source.CodeFetchError, "no dealer produced a usable quote"))
	}
	return source.Live("retail", quotes, date)
}

// fetchDealer resolves one dealer into a quote record. Every outcome is a
// record: discovery failures come back FAILED, implausible prices
// INVALID_PARSE.
func (f *RetailFetcher) fetchDealer(ctx context.Context, date time.Time, dealer DealerConfig, fx *FxRates, spot *domain.SpotPrice) domain.RetailQuote {
	quote := domain.RetailQuote{
		Date:      date,
		Provider:  dealer.Name,
		Product:   dealer.Product,
		FineOz:    dealer.FineOz,
		FetchedAt: time.Now().UTC(),
	}

	dctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	page, err := discoverProductPage(dctx, f.client, f.limiters[dealer.Name], dealer)
	if page != nil {
		quote.AttemptedURLs = page.attempted
	}
	if err != nil {
		quote.Status = domain.VerificationFailed
		quote.ErrorMessage = err.Error()
		f.logger.WarnContext(ctx, "retail discovery failed",
			slog.String("provider", dealer.Name), slog.String("error", err.Error()))
		return quote
	}
	quote.SourceURL = page.url
	quote.DiscoveryStrategy = page.strategy

	price, err := extractPrice(page.doc, dealer.PriceSelectors)
	if err != nil {
		quote.Status = domain.VerificationInvalidParse
		quote.ErrorMessage = err.Error()
		f.logger.WarnContext(ctx, "retail price extraction failed",
			slog.String("provider", dealer.Name),
			slog.String("url", page.url),
			slog.String("error", err.Error()))
		return quote
	}

	quote.PriceEur = price.PriceEur
	quote.RawExcerpt = price.Excerpt
	quote.ImpliedUsdPerOz = price.PriceEur / fx.UsdEur / dealer.FineOz
	quote.PremiumPercent = (quote.ImpliedUsdPerOz - spot.PriceUsdPerOz) / spot.PriceUsdPerOz * 100

	ratio := quote.ImpliedUsdPerOz / spot.PriceUsdPerOz
	if ratio < retailMinSpotRatio || ratio > retailMaxSpotRatio {
		quote.Status = domain.VerificationInvalidParse
		quote.ErrorMessage = fmt.Sprintf("implied %.2f USD/oz is %.2fx spot, outside [%.2f, %.0f]",
			quote.ImpliedUsdPerOz, ratio, retailMinSpotRatio, float64(retailMaxSpotRatio))
		return quote
	}

	quote.Status = domain.VerificationVerified
	f.logger.InfoContext(ctx, "retail quote verified",
		slog.String("provider", dealer.Name),
		slog.Float64("price_eur", quote.PriceEur),
		slog.Float64("premium_pct", quote.PremiumPercent),
		slog.String("strategy", quote.DiscoveryStrategy))
	return quote
}
