package purchases

import (
	"context"
	"net/http"

	"github.com/eternisai/purchases-bridge/internal/logger"
	"github.com/eternisai/purchases-bridge/internal/metrics"
	"github.com/eternisai/purchases-bridge/models"
)

// ReceiptListener is called after every successful verification with the
// receipts that replaced the cache.
type ReceiptListener func(ctx context.Context, receipts []models.Receipt)

type Option func(*Purchases)

func WithLogger(log *logger.Logger) Option {
	return func(p *Purchases) {
		if log != nil {
			p.logger = log
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(p *Purchases) { p.httpClient = client }
}

// WithCountry sets the device country sent with every backend call.
func WithCountry(country string) Option {
	return func(p *Purchases) { p.country = country }
}

func WithAppVersion(version string) Option {
	return func(p *Purchases) { p.appVersion = version }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Purchases) { p.metrics = m }
}

// WithReceiptListener adds a listener. Listeners run on the goroutine that
// completed the verification.
func WithReceiptListener(l ReceiptListener) Option {
	return func(p *Purchases) {
		if l != nil {
			p.listeners = append(p.listeners, l)
		}
	}
}

// WithBaseURL replaces the environment base URL, for tests and self-hosted backends.
func WithBaseURL(baseURL string) Option {
	return func(p *Purchases) { p.baseURL = baseURL }
}
