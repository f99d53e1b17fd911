// Package backend is the REST client for the purchase verification backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eternisai/purchases-bridge/internal/errors"
	"github.com/eternisai/purchases-bridge/internal/logger"
	"github.com/eternisai/purchases-bridge/models"
)

const (
	// DefaultAppVersion is sent when the host does not report an app version.
	DefaultAppVersion = "NO_APP_VERSION"

	defaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of a failed response is kept in BackendError.
	maxErrorBody = 4 << 10
)

// Options configures a Client.
type Options struct {
	APIKey     string
	BaseURL    string
	Platform   models.Platform
	Country    string
	AppVersion string

	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	Logger     *logger.Logger
}

// Client issues authenticated calls to the verification backend. It never
// retries; a failed call is terminal for that call.
type Client struct {
	apiKey     string
	baseURL    string
	platform   models.Platform
	country    string
	appVersion string

	client *http.Client
	logger *logger.Logger
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	appVersion := opts.AppVersion
	if appVersion == "" {
		appVersion = DefaultAppVersion
	}

	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		platform:   opts.Platform,
		country:    opts.Country,
		appVersion: appVersion,
		client:     httpClient,
		logger:     log.WithComponent("backend"),
	}
}

// Platform returns the platform the client identifies as.
func (c *Client) Platform() models.Platform {
	return c.platform
}

// Country returns the device country sent in X-Country.
func (c *Client) Country() string {
	return c.country
}

// FetchSubscriptions returns the subscription catalog.
func (c *Client) FetchSubscriptions(ctx context.Context) (*models.SubscriptionCatalog, error) {
	var resp subscriptionListResponse
	if err := c.do(ctx, http.MethodGet, "/v1/subscriptions", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("%w: subscription response has no data", errors.ErrDecoding)
	}
	return resp.Data, nil
}

// Verify sends proof to the verify endpoint of its platform.
func (c *Client) Verify(ctx context.Context, proof *models.PurchaseProof) ([]models.Receipt, error) {
	if proof.Empty() {
		return nil, errors.ErrNoReceiptInfo
	}

	switch proof.Platform {
	case models.PlatformGoogle:
		return c.VerifyGoogle(ctx, proof.Purchases)
	case models.PlatformIOS:
		return c.VerifyApple(ctx, proof.Receipt)
	}
	return nil, fmt.Errorf("unsupported platform %q", proof.Platform)
}

// VerifyGoogle verifies the observed Google Play purchases.
func (c *Client) VerifyGoogle(ctx context.Context, purchases []models.GooglePurchase) ([]models.Receipt, error) {
	body := googleVerifyRequest{Purchases: purchases}
	var resp verifyResponse
	if err := c.do(ctx, http.MethodPost, "/v1/purchases/google/verify", body, &resp); err != nil {
		return nil, err
	}
	return resp.receipts(), nil
}

// VerifyApple verifies a base64 App Store receipt.
func (c *Client) VerifyApple(ctx context.Context, receipt string) ([]models.Receipt, error) {
	body := appleVerifyRequest{Receipt: receipt}
	var resp verifyResponse
	if err := c.do(ctx, http.MethodPost, "/v1/purchases/apple/verify", body, &resp); err != nil {
		return nil, err
	}
	return resp.receipts(), nil
}

// LogPurchase reports an App Store sale. Google purchases are acknowledged on
// the device and never logged.
func (c *Client) LogPurchase(ctx context.Context, entry models.PurchaseLog) error {
	return c.do(ctx, http.MethodPost, "/v1/purchases/apple", newPurchaseLogRequest(entry), nil)
}

// do performs one request. out may be nil when no body is expected; a 201
// response is always treated as success with an empty body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(ctx, req, body != nil)

	log := c.logger.WithContext(ctx).With(
		slog.String("method", method),
		slog.String("path", path),
	)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		log.Warn("backend request failed", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %s %s: %v", errors.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	log.Debug("backend response",
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode == http.StatusCreated {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &errors.BackendError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Warn("failed to decode backend response", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %s %s: %v", errors.ErrDecoding, method, path, err)
	}
	return nil
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request, hasBody bool) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Platform", string(c.platform))
	req.Header.Set("X-Country", c.country)
	req.Header.Set("X-App-Version", c.appVersion)
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}

	requestID := logger.RequestID(ctx)
	if requestID == "" {
		requestID = logger.GenerateRequestID()
	}
	req.Header.Set("X-Request-ID", requestID)
}
