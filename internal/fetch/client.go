// Package fetch contains the source adapters. Each adapter resolves one
// entity for one market date, creates its own audit run, upserts what it
// fetched and returns a structured Result; no error and no panic crosses
// the adapter boundary.
package fetch

import (
	"time"

	"github.com/go-resty/resty/v2"
)

const userAgent = "silverpulse/1.0 (market data pipeline)"

// NewHTTPClient builds the resty client shared by the adapters. Retries
// cover transient transport failures; per-provider deadlines come from the
// request context, so no client-level timeout is set.
func NewHTTPClient(retryAttempts int) *resty.Client {
	return resty.New().
		SetHeader("User-Agent", userAgent).
		SetRetryCount(retryAttempts).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(4 * time.Second)
}
