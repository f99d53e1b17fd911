package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eternisai/purchases-bridge/internal/entitlements"
	apperrors "github.com/eternisai/purchases-bridge/internal/errors"
	"github.com/eternisai/purchases-bridge/internal/logger"
	"github.com/eternisai/purchases-bridge/models"
	"github.com/eternisai/purchases-bridge/pkg/billing/sandbox"
	"github.com/eternisai/purchases-bridge/pkg/purchases"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeOrchestrator struct {
	launchErr   error
	purchaseErr error
	receipts    []models.Receipt

	launchedWith []string
	fromCache    []bool
}

func (f *fakeOrchestrator) Launch(_ context.Context, apiKey, environment string) (string, error) {
	f.launchedWith = append(f.launchedWith, apiKey, environment)
	if f.launchErr != nil {
		return "", f.launchErr
	}
	return apiKey + " " + environment, nil
}

func (f *fakeOrchestrator) Ready() bool { return len(f.launchedWith) > 0 }

func (f *fakeOrchestrator) Platform() models.Platform { return models.PlatformGoogle }

func (f *fakeOrchestrator) FetchSubscriptions(context.Context) ([]models.Product, error) {
	return []models.Product{{ProductID: "sub.basic", Price: 4.99, Currency: "EUR"}}, nil
}

func (f *fakeOrchestrator) Purchase(_ context.Context, productID string) (bool, error) {
	if f.purchaseErr != nil {
		return false, f.purchaseErr
	}
	return productID == "sub.basic", nil
}

func (f *fakeOrchestrator) Restore(context.Context) (bool, error) { return true, nil }

func (f *fakeOrchestrator) FetchReceiptInfo(_ context.Context, fromCache bool) ([]models.Receipt, error) {
	f.fromCache = append(f.fromCache, fromCache)
	return f.receipts, nil
}

type fakeSink struct {
	err  error
	jwss []string
}

func (s *fakeSink) UpdatedSignedTransaction(jws string) error {
	s.jwss = append(s.jwss, jws)
	return s.err
}

func newTestRouter(o Orchestrator, sink SignedTransactionSink) http.Handler {
	return NewRouter(NewHandler(o, sink, nil), logger.Nop(), RouterConfig{Gatherer: prometheus.NewRegistry()})
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestLaunch(t *testing.T) {
	o := &fakeOrchestrator{}
	h := newTestRouter(o, nil)

	w := do(t, h, http.MethodPost, "/v1/launch", `{"apiKey":"key1","environment":"PRODUCTION"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Result string `json:"result"`
	}
	decode(t, w, &resp)
	if resp.Result != "key1 PRODUCTION" {
		t.Errorf("result = %q", resp.Result)
	}

	w = do(t, h, http.MethodPost, "/v1/launch", `{"environment":"STAGING"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing apiKey status = %d, want 400", w.Code)
	}
}

func TestLaunchInvalidEnvironment(t *testing.T) {
	o := &fakeOrchestrator{launchErr: fmt.Errorf("%w: %q", apperrors.ErrInvalidEnvironment, "QA")}
	w := do(t, newTestRouter(o, nil), http.MethodPost, "/v1/launch", `{"apiKey":"k","environment":"QA"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var apiErr apperrors.APIError
	decode(t, w, &apiErr)
	if apiErr.Code != "INVALID_ENVIRONMENT" {
		t.Errorf("code = %q", apiErr.Code)
	}
}

func TestPurchase(t *testing.T) {
	h := newTestRouter(&fakeOrchestrator{}, nil)

	w := do(t, h, http.MethodPost, "/v1/purchase", `{"productId":"sub.basic"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Success bool `json:"success"`
	}
	decode(t, w, &resp)
	if !resp.Success {
		t.Error("success = false")
	}

	if w := do(t, h, http.MethodPost, "/v1/purchase", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing productId status = %d", w.Code)
	}
}

func TestPurchaseErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apperrors.ErrPurchaseInProgress, http.StatusConflict, "PURCHASE_IN_PROGRESS"},
		{apperrors.ErrLaunchSdkNeeded, http.StatusPreconditionFailed, "LAUNCH_SDK_NEEDED"},
		{apperrors.ErrNoProductFound, http.StatusNotFound, "NO_PRODUCT_FOUND"},
		{&models.BillingError{Code: 6, Message: "error"}, http.StatusUnprocessableEntity, "BILLING_ERROR"},
		{errors.New("boom"), http.StatusInternalServerError, "UNKNOWN"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			h := newTestRouter(&fakeOrchestrator{purchaseErr: tc.err}, nil)
			w := do(t, h, http.MethodPost, "/v1/purchase", `{"productId":"sub.basic"}`)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
			var apiErr apperrors.APIError
			decode(t, w, &apiErr)
			if apiErr.Code != tc.code {
				t.Errorf("code = %q, want %q", apiErr.Code, tc.code)
			}
		})
	}
}

func TestFetchReceiptInfo(t *testing.T) {
	o := &fakeOrchestrator{receipts: []models.Receipt{{SKU: "sub.basic", PurchaseID: "p-1"}}}
	h := newTestRouter(o, nil)

	w := do(t, h, http.MethodGet, "/v1/receipts?fromCache=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var receipts []models.Receipt
	decode(t, w, &receipts)
	if len(receipts) != 1 || receipts[0].SKU != "sub.basic" {
		t.Errorf("receipts = %+v", receipts)
	}

	do(t, h, http.MethodGet, "/v1/receipts", "")
	if len(o.fromCache) != 2 || !o.fromCache[0] || o.fromCache[1] {
		t.Errorf("fromCache calls = %v, want [true false]", o.fromCache)
	}

	if w := do(t, h, http.MethodGet, "/v1/receipts?fromCache=maybe", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad fromCache status = %d", w.Code)
	}
}

func TestSignedTransaction(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		w := do(t, newTestRouter(&fakeOrchestrator{}, nil), http.MethodPost, "/v1/transactions/signed", `{"jwsTransactionInfo":"a.b.c"}`)
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})

	t.Run("accepted", func(t *testing.T) {
		sink := &fakeSink{}
		w := do(t, newTestRouter(&fakeOrchestrator{}, sink), http.MethodPost, "/v1/transactions/signed", `{"jwsTransactionInfo":"a.b.c"}`)
		if w.Code != http.StatusAccepted {
			t.Fatalf("status = %d", w.Code)
		}
		if len(sink.jwss) != 1 || sink.jwss[0] != "a.b.c" {
			t.Errorf("sink got %v", sink.jwss)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		sink := &fakeSink{err: errors.New("bad signature")}
		w := do(t, newTestRouter(&fakeOrchestrator{}, sink), http.MethodPost, "/v1/transactions/signed", `{"jwsTransactionInfo":"a.b.c"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		sink := &fakeSink{}
		w := do(t, newTestRouter(&fakeOrchestrator{}, sink), http.MethodPost, "/v1/transactions/signed", `{}`)
		if w.Code != http.StatusBadRequest || len(sink.jwss) != 0 {
			t.Errorf("status = %d, sink calls = %d", w.Code, len(sink.jwss))
		}
	})
}

func TestHealthAndRequestID(t *testing.T) {
	h := newTestRouter(&fakeOrchestrator{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q", got)
	}
	var resp struct {
		Status   string `json:"status"`
		Launched bool   `json:"launched"`
		Platform string `json:"platform"`
	}
	decode(t, w, &resp)
	if resp.Status != "ok" || resp.Launched || resp.Platform != "GOOGLE" {
		t.Errorf("health = %+v", resp)
	}

	w = do(t, h, http.MethodGet, "/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("request id not generated")
	}
}

func TestMetricsAndCORS(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "bridge_test_total"})
	reg.MustRegister(counter)
	counter.Inc()

	h := NewRouter(NewHandler(&fakeOrchestrator{}, nil, nil), logger.Nop(), RouterConfig{
		AllowedOrigins: "https://app.example.com, https://admin.example.com",
		Gatherer:       reg,
	})

	w := do(t, h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "bridge_test_total 1") {
		t.Errorf("metrics status = %d body %q", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodOptions, "/v1/purchase", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("allowed origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/v1/purchase", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got %q", got)
	}
}

func TestAllowedOrigins(t *testing.T) {
	if got := allowedOrigins(""); len(got) != 1 || got[0] != "*" {
		t.Errorf("empty = %v", got)
	}
	if got := allowedOrigins(" a , ,b"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("list = %v", got)
	}
}

// TestSandboxRoundTrip drives a real orchestrator over HTTP against the
// sandbox store and a stub verification backend.
func TestSandboxRoundTrip(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/subscriptions":
			fmt.Fprint(w, `{"data":{"platform":"GOOGLE","subscriptionList":[{"sku":"sub.basic"},{"sku":"sub.cancel"}]}}`)
		case "/v1/purchases/google/verify":
			fmt.Fprint(w, `{"data":{"purchases":[{"sku":"sub.basic","purchaseId":"p-1","transactionDate":"2021-07-21T10:30:00.000Z","validUntilDate":"2031-07-21T10:30:00.000Z","isTrial":false,"isExpired":false}]}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer backend.Close()

	store := sandbox.New(sandbox.Catalog{
		Platform: models.PlatformGoogle,
		Items: []sandbox.Item{
			{SKU: "sub.basic", Price: 4.99, Currency: "EUR", Period: "P1M", Outcome: sandbox.OutcomeSucceed},
			{SKU: "sub.cancel", Price: 9.99, Currency: "EUR", Period: "P1M", Outcome: sandbox.OutcomeCancel},
		},
	})
	p := purchases.New(store, entitlements.NewMemoryStore(), purchases.WithBaseURL(backend.URL))
	defer func() {
		store.Close()
		p.Close()
	}()

	h := newTestRouter(p, nil)

	if w := do(t, h, http.MethodPost, "/v1/purchase", `{"productId":"sub.basic"}`); w.Code != http.StatusPreconditionFailed {
		t.Fatalf("purchase before launch status = %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/v1/launch", `{"apiKey":"key1","environment":"STAGING"}`); w.Code != http.StatusOK {
		t.Fatalf("launch status = %d", w.Code)
	}

	w := do(t, h, http.MethodGet, "/v1/subscriptions", "")
	var products []models.Product
	decode(t, w, &products)
	if len(products) != 2 {
		t.Fatalf("products = %+v", products)
	}

	w = do(t, h, http.MethodPost, "/v1/purchase", `{"productId":"sub.basic"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"success":true`) {
		t.Fatalf("purchase status = %d body %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodPost, "/v1/purchase", `{"productId":"sub.cancel"}`)
	var apiErr apperrors.APIError
	decode(t, w, &apiErr)
	if w.Code != http.StatusConflict || apiErr.Code != "PAYMENT_WAS_CANCELLED" {
		t.Fatalf("cancel status = %d code %q", w.Code, apiErr.Code)
	}

	w = do(t, h, http.MethodGet, "/v1/receipts", "")
	var receipts []models.Receipt
	decode(t, w, &receipts)
	if len(receipts) != 1 || receipts[0].SKU != "sub.basic" {
		t.Errorf("receipts = %+v", receipts)
	}
}
