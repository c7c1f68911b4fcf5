// Package provider implements the generic fallback chain used by every
// multi-source adapter: try named providers in priority order, validate each
// candidate value, and return the first one that passes. The chain never
// returns an error to its caller; exhaustion resolves to "unavailable".
package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrNotConfigured marks a provider that cannot run because its credentials
// or inputs are absent. Such providers are skipped silently, not counted as
// failures.
var ErrNotConfigured = errors.New("provider not configured")

// Value wraps a fetched candidate with its provenance.
type Value[T any] struct {
	Data T
	// Provider is the name of the provider that produced the value.
	Provider string
	// IsEstimated marks values derived from another value rather than
	// observed directly.
	IsEstimated bool
	// ConversionSteps is the ordered human-readable trail of unit
	// conversions applied to the raw provider response.
	ConversionSteps []string
	// RawPayload is a snapshot of the provider response for audit.
	RawPayload string
}

// Provider is one named entry in a fallback chain.
type Provider[T any] struct {
	Name  string
	Fetch func(ctx context.Context) (Value[T], error)
}

// Attempt records the outcome of one provider invocation, success or not.
type Attempt struct {
	Provider string    `json:"provider"`
	Accepted bool      `json:"accepted"`
	Skipped  bool      `json:"skipped"`
	Rejected string    `json:"rejected,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Chain tries providers sequentially and validates each candidate.
type Chain[T any] struct {
	name      string
	providers []Provider[T]
	validate  func(T) error
	timeout   time.Duration
	logger    *slog.Logger
}

// Option configures a Chain.
type Option[T any] func(*Chain[T])

// WithValidator sets the plausibility validator applied to every candidate
// value before acceptance.
func WithValidator[T any](validate func(T) error) Option[T] {
	return func(c *Chain[T]) { c.validate = validate }
}

// WithTimeout bounds each individual provider call.
func WithTimeout[T any](d time.Duration) Option[T] {
	return func(c *Chain[T]) { c.timeout = d }
}

// NewChain builds a fallback chain over the given providers, in priority
// order.
func NewChain[T any](name string, logger *slog.Logger, providers []Provider[T], opts ...Option[T]) *Chain[T] {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chain[T]{
		name:      name,
		providers: providers,
		timeout:   8 * time.Second,
		logger:    logger.With(slog.String("chain", name)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve invokes the providers in order and returns the first validated
// value. The attempt log covers every provider reached, including the
// accepted one. ok is false when all providers failed or failed validation.
func (c *Chain[T]) Resolve(ctx context.Context) (value Value[T], attempts []Attempt, ok bool) {
	for _, p := range c.providers {
		attempt := Attempt{Provider: p.Name, At: time.Now().UTC()}

		pctx := ctx
		var cancel context.CancelFunc
		if c.timeout > 0 {
			pctx, cancel = context.WithTimeout(ctx, c.timeout)
		}
		candidate, err := p.Fetch(pctx)
		if cancel != nil {
			cancel()
		}

		switch {
		case errors.Is(err, ErrNotConfigured):
			attempt.Skipped = true
			c.logger.Debug("provider not configured, skipping",
				slog.String("provider", p.Name))
		case err != nil:
			attempt.Error = err.Error()
			c.logger.Warn("provider failed",
				slog.String("provider", p.Name),
				slog.String("error", err.Error()))
		default:
			if c.validate != nil {
				if verr := c.validate(candidate.Data); verr != nil {
					attempt.Rejected = verr.Error()
					c.logger.Warn("provider value rejected by validator",
						slog.String("provider", p.Name),
						slog.String("reason", verr.Error()))
					attempts = append(attempts, attempt)
					continue
				}
			}
			attempt.Accepted = true
			attempts = append(attempts, attempt)
			if candidate.Provider == "" {
				candidate.Provider = p.Name
			}
			c.logger.Info("provider accepted",
				slog.String("provider", p.Name),
				slog.Bool("estimated", candidate.IsEstimated))
			return candidate, attempts, true
		}

		attempts = append(attempts, attempt)

		if ctx.Err() != nil {
			break
		}
	}

	c.logger.Warn("all providers exhausted", slog.Int("attempts", len(attempts)))
	return value, attempts, false
}
