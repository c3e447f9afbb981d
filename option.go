package txcore

import (
	"net/http"

	"github.com/chainvoice/txcore/logger"
	"github.com/chainvoice/txcore/metrics"
	"github.com/chainvoice/txcore/networks"
)

// Option customizes an Engine before its components are wired.
type Option func(*Engine)

// WithLogger replaces the default zap logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithMetrics installs a metrics recorder. The default records nothing.
func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) {
		e.rec = r
	}
}

// WithHTTPClient replaces the HTTP client used for price API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		e.httpClient = c
	}
}

// WithPriceBaseURL points the price client at a different API base URL.
func WithPriceBaseURL(u string) Option {
	return func(e *Engine) {
		e.priceBaseURL = u
	}
}

// WithDialer replaces how RPC clients are dialed, mainly for tests.
func WithDialer(d networks.Dialer) Option {
	return func(e *Engine) {
		e.dialer = d
	}
}
