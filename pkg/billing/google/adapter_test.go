package google

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/eternisai/purchases-bridge/internal/errors"
	"github.com/eternisai/purchases-bridge/models"
	"google.golang.org/api/option"
)

type fakeClient struct {
	ready     bool
	details   []ProductDetails
	owned     []Purchase
	launch    BillingResult
	ackResult BillingResult
	queryErr  BillingResult

	mu       sync.Mutex
	launched []string
	acked    []string
	queries  int
}

func (f *fakeClient) IsReady() bool { return f.ready }

func (f *fakeClient) QueryProductDetails(_ context.Context, ids []string) (BillingResult, []ProductDetails) {
	var out []ProductDetails
	for _, d := range f.details {
		for _, id := range ids {
			if d.ProductID == id {
				out = append(out, d)
			}
		}
	}
	return BillingResult{ResponseCode: OK}, out
}

func (f *fakeClient) LaunchBillingFlow(_ context.Context, d ProductDetails) BillingResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched = append(f.launched, d.ProductID)
	return f.launch
}

func (f *fakeClient) AcknowledgePurchase(_ context.Context, token string) BillingResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, token)
	return f.ackResult
}

func (f *fakeClient) QueryPurchases(context.Context) (BillingResult, []Purchase) {
	f.mu.Lock()
	f.queries++
	f.mu.Unlock()
	if f.queryErr.ResponseCode != OK {
		return f.queryErr, nil
	}
	return BillingResult{ResponseCode: OK}, f.owned
}

type recorder struct {
	txs      chan models.Transaction
	finished chan struct{}
	failed   chan error
}

func newRecorder() *recorder {
	return &recorder{
		txs:      make(chan models.Transaction, 16),
		finished: make(chan struct{}, 1),
		failed:   make(chan error, 1),
	}
}

func (r *recorder) OnTransactionsUpdated(txs []models.Transaction) {
	for _, tx := range txs {
		r.txs <- tx
	}
}
func (r *recorder) OnRestoreFinished()        { r.finished <- struct{}{} }
func (r *recorder) OnRestoreFailed(err error) { r.failed <- err }

func (r *recorder) next(t *testing.T) models.Transaction {
	t.Helper()
	select {
	case tx := <-r.txs:
		return tx
	case <-time.After(time.Second):
		t.Fatal("no transaction delivered")
		return models.Transaction{}
	}
}

var basic = ProductDetails{
	ProductID:         "sub.basic",
	Title:             "Basic",
	PriceAmountMicros: 4_990_000,
	PriceCurrencyCode: "EUR",
	FormattedPrice:    "4,99 €",
	BillingPeriod:     "P1M",
}

func TestQueryProducts(t *testing.T) {
	a := New(&fakeClient{ready: true, details: []ProductDetails{basic}})

	products, err := a.QueryProducts(context.Background(), []string{"sub.basic", "sub.missing"})
	if err != nil {
		t.Fatalf("QueryProducts: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("got %d products, want 1", len(products))
	}
	p := products[0]
	if p.Price != 4.99 || p.Currency != "EUR" || p.SubscriptionPeriod != "P1M" {
		t.Errorf("unexpected product %+v", p)
	}
}

func TestQueryProducts_NotReady(t *testing.T) {
	if _, err := New(&fakeClient{}).QueryProducts(context.Background(), []string{"a"}); !errors.Is(err, apperrors.ErrDeviceNotSupported) {
		t.Errorf("not ready: got %v", err)
	}
	if _, err := New(nil).QueryProducts(context.Background(), []string{"a"}); !errors.Is(err, apperrors.ErrNoActivityFound) {
		t.Errorf("nil client: got %v", err)
	}
}

func TestLaunchPurchase_UnknownProduct(t *testing.T) {
	a := New(&fakeClient{ready: true})
	err := a.LaunchPurchase(context.Background(), models.Product{ProductID: "sub.basic"})
	if !errors.Is(err, apperrors.ErrNoProductFound) {
		t.Errorf("got %v, want ErrNoProductFound", err)
	}
}

func TestLaunchPurchase_BillingFlowError(t *testing.T) {
	client := &fakeClient{ready: true, details: []ProductDetails{basic}, launch: BillingResult{ResponseCode: ItemAlreadyOwned}}
	a := New(client)
	ctx := context.Background()
	if _, err := a.QueryProducts(ctx, []string{"sub.basic"}); err != nil {
		t.Fatal(err)
	}

	err := a.LaunchPurchase(ctx, models.Product{ProductID: "sub.basic"})
	var billingErr *models.BillingError
	if !errors.As(err, &billingErr) || billingErr.Code != int(ItemAlreadyOwned) {
		t.Fatalf("got %v, want ITEM_ALREADY_OWNED billing error", err)
	}
}

func TestOnPurchasesUpdated_UserCanceled(t *testing.T) {
	client := &fakeClient{ready: true, details: []ProductDetails{basic}}
	a := New(client)
	rec := newRecorder()
	a.SetObserver(rec)
	ctx := context.Background()
	if _, err := a.QueryProducts(ctx, []string{"sub.basic"}); err != nil {
		t.Fatal(err)
	}
	if err := a.LaunchPurchase(ctx, models.Product{ProductID: "sub.basic"}); err != nil {
		t.Fatal(err)
	}

	a.OnPurchasesUpdated(BillingResult{ResponseCode: UserCanceled}, nil)

	tx := rec.next(t)
	if tx.State != models.TransactionFailed || tx.ProductID != "sub.basic" || tx.ID == "" {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	var billingErr *models.BillingError
	if !errors.As(tx.Err, &billingErr) || !billingErr.Cancelled {
		t.Errorf("expected cancellation, got %v", tx.Err)
	}
}

func TestLaunchPurchase_OneFlowAtATime(t *testing.T) {
	pro := basic
	pro.ProductID = "sub.pro"
	client := &fakeClient{ready: true, details: []ProductDetails{basic, pro}}
	a := New(client)
	rec := newRecorder()
	a.SetObserver(rec)
	ctx := context.Background()
	if _, err := a.QueryProducts(ctx, []string{"sub.basic", "sub.pro"}); err != nil {
		t.Fatal(err)
	}

	if err := a.LaunchPurchase(ctx, models.Product{ProductID: "sub.basic"}); err != nil {
		t.Fatal(err)
	}
	if err := a.LaunchPurchase(ctx, models.Product{ProductID: "sub.pro"}); !errors.Is(err, apperrors.ErrPurchaseInProgress) {
		t.Fatalf("second launch: got %v, want ErrPurchaseInProgress", err)
	}

	a.OnPurchasesUpdated(BillingResult{ResponseCode: UserCanceled}, nil)
	if tx := rec.next(t); tx.ProductID != "sub.basic" {
		t.Errorf("cancel reported for %q, want sub.basic", tx.ProductID)
	}

	if err := a.LaunchPurchase(ctx, models.Product{ProductID: "sub.pro"}); err != nil {
		t.Fatalf("launch after update: %v", err)
	}
	if len(client.launched) != 2 {
		t.Errorf("launched flows = %v", client.launched)
	}
}

func TestOnPurchasesUpdated_PurchasedAndProof(t *testing.T) {
	a := New(&fakeClient{ready: true})
	rec := newRecorder()
	a.SetObserver(rec)

	a.OnPurchasesUpdated(BillingResult{ResponseCode: OK}, []Purchase{
		{OrderID: "GPA.1", PackageName: "com.example", PurchaseToken: "tok-1", Products: []string{"sub.basic"}, PurchaseTime: 1626863400000, PurchaseState: PurchaseStatePurchased},
		{PurchaseToken: "tok-2", Products: []string{"sub.pro"}, PurchaseState: PurchaseStatePending},
	})

	first, second := rec.next(t), rec.next(t)
	if first.ID != "tok-1" || first.State != models.TransactionPurchased || first.OrderID != "GPA.1" {
		t.Errorf("unexpected first transaction %+v", first)
	}
	if !first.PurchaseTime.Equal(time.UnixMilli(1626863400000)) {
		t.Errorf("purchase time = %v", first.PurchaseTime)
	}
	if second.State != models.TransactionDeferred {
		t.Errorf("pending purchase state = %s, want deferred", second.State)
	}

	proof, err := a.Proof(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if proof.Platform != models.PlatformGoogle || len(proof.Purchases) != 2 {
		t.Fatalf("unexpected proof %+v", proof)
	}
	if proof.Purchases[1].PurchaseToken != "tok-1" || proof.Purchases[1].SKU != "sub.basic" {
		t.Errorf("proof not ordered by purchase time: %+v", proof.Purchases)
	}
}

func TestProof_NotReadyIsNil(t *testing.T) {
	proof, err := New(&fakeClient{}).Proof(context.Background())
	if err != nil || proof != nil {
		t.Errorf("got %+v, %v; want nil, nil", proof, err)
	}
}

func TestProof_NothingOwned(t *testing.T) {
	_, err := New(&fakeClient{ready: true}).Proof(context.Background())
	if !errors.Is(err, apperrors.ErrNoPurchaseFound) {
		t.Errorf("got %v, want ErrNoPurchaseFound", err)
	}
}

func TestProof_QueriesOwnedPurchases(t *testing.T) {
	client := &fakeClient{ready: true, owned: []Purchase{
		{OrderID: "GPA.1", PackageName: "com.example", PurchaseToken: "tok-1", Products: []string{"sub.basic"}, PurchaseTime: 1626863400000, PurchaseState: PurchaseStatePurchased, Acknowledged: true},
	}}
	a := New(client)
	ctx := context.Background()

	proof, err := a.Proof(ctx)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}
	if proof == nil || len(proof.Purchases) != 1 {
		t.Fatalf("unexpected proof %+v", proof)
	}
	if got := proof.Purchases[0]; got.PurchaseToken != "tok-1" || got.SKU != "sub.basic" || got.OrderID != "GPA.1" {
		t.Errorf("unexpected purchase %+v", got)
	}

	if _, err := a.Proof(ctx); err != nil {
		t.Fatal(err)
	}
	if client.queries != 1 {
		t.Errorf("queried owned purchases %d times, want 1", client.queries)
	}
}

func TestProof_QueryFailure(t *testing.T) {
	a := New(&fakeClient{ready: true, queryErr: BillingResult{ResponseCode: ServiceUnavailable}})

	proof, err := a.Proof(context.Background())
	var billingErr *models.BillingError
	if proof != nil || !errors.As(err, &billingErr) || billingErr.Code != int(ServiceUnavailable) {
		t.Errorf("got %+v, %v; want SERVICE_UNAVAILABLE billing error", proof, err)
	}
}

type fakeAcknowledger struct{ calls []string }

func (f *fakeAcknowledger) Acknowledge(_ context.Context, productID, token string) error {
	f.calls = append(f.calls, productID+"/"+token)
	return nil
}

func TestAcknowledge(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{ready: true}
	a := New(client)

	if err := a.Acknowledge(ctx, models.Transaction{PurchaseToken: "tok-1", Acknowledged: true}); err != nil {
		t.Fatal(err)
	}
	if len(client.acked) != 0 {
		t.Fatalf("acknowledged an acknowledged purchase")
	}

	if err := a.Acknowledge(ctx, models.Transaction{PurchaseToken: "tok-1"}); err != nil {
		t.Fatal(err)
	}
	if len(client.acked) != 1 || client.acked[0] != "tok-1" {
		t.Errorf("acked = %v", client.acked)
	}

	client.ackResult = BillingResult{ResponseCode: ServiceUnavailable}
	if err := a.Acknowledge(ctx, models.Transaction{PurchaseToken: "tok-2"}); err == nil {
		t.Error("expected billing error")
	}
}

func TestAcknowledge_SkipsObservedAcknowledgement(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{ready: true}
	a := New(client)

	a.OnPurchasesUpdated(BillingResult{ResponseCode: OK}, []Purchase{
		{PurchaseToken: "tok-1", Products: []string{"sub.basic"}, PurchaseState: PurchaseStatePurchased},
	})
	stale := models.Transaction{ProductID: "sub.basic", PurchaseToken: "tok-1"}
	if err := a.Acknowledge(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if err := a.Acknowledge(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if len(client.acked) != 1 {
		t.Errorf("acknowledged %d times, want 1", len(client.acked))
	}
}

func TestAcknowledge_PrefersAcknowledger(t *testing.T) {
	client := &fakeClient{ready: true}
	ack := &fakeAcknowledger{}
	a := New(client, WithAcknowledger(ack))

	if err := a.Acknowledge(context.Background(), models.Transaction{ProductID: "sub.basic", PurchaseToken: "tok-1"}); err != nil {
		t.Fatal(err)
	}
	if len(ack.calls) != 1 || ack.calls[0] != "sub.basic/tok-1" || len(client.acked) != 0 {
		t.Errorf("acknowledger calls = %v, client acks = %v", ack.calls, client.acked)
	}
}

func TestRestorePurchases(t *testing.T) {
	client := &fakeClient{ready: true, owned: []Purchase{
		{PurchaseToken: "tok-1", Products: []string{"sub.basic"}, PurchaseState: PurchaseStatePurchased, Acknowledged: true},
		{PurchaseToken: "tok-2", Products: []string{"sub.pro"}, PurchaseState: PurchaseStatePending},
	}}
	a := New(client)
	rec := newRecorder()
	a.SetObserver(rec)

	if err := a.RestorePurchases(context.Background()); err != nil {
		t.Fatal(err)
	}

	tx := rec.next(t)
	if tx.State != models.TransactionRestored || tx.ID != "tok-1" {
		t.Errorf("unexpected restored transaction %+v", tx)
	}
	select {
	case <-rec.finished:
	case <-time.After(time.Second):
		t.Fatal("restore never finished")
	}
	if len(rec.txs) != 0 {
		t.Errorf("pending purchase replayed as restored")
	}

	proof, _ := a.Proof(context.Background())
	if proof == nil || len(proof.Purchases) != 2 {
		t.Errorf("restore did not feed the proof: %+v", proof)
	}
}

func TestRestorePurchases_Failure(t *testing.T) {
	a := New(&fakeClient{ready: true, queryErr: BillingResult{ResponseCode: ServiceDisconnected}})
	rec := newRecorder()
	a.SetObserver(rec)

	if err := a.RestorePurchases(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-rec.failed:
		var billingErr *models.BillingError
		if !errors.As(err, &billingErr) || billingErr.Code != int(ServiceDisconnected) {
			t.Errorf("got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("restore failure not reported")
	}
}

func TestResponseCodeString(t *testing.T) {
	if got := UserCanceled.String(); got != "USER_CANCELED" {
		t.Errorf("got %q", got)
	}
	if got := ResponseCode(42).String(); got != "RESPONSE_CODE(42)" {
		t.Errorf("got %q", got)
	}
}

func TestPlayAcknowledger(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx := context.Background()
	ack, err := NewPlayAcknowledger(ctx, "com.example.app", nil,
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"),
	)
	if err != nil {
		t.Fatalf("NewPlayAcknowledger: %v", err)
	}

	if err := ack.Acknowledge(ctx, "sub.basic", "tok-1"); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %s", gotMethod)
	}
	want := "/applications/com.example.app/purchases/subscriptions/sub.basic/tokens/tok-1:acknowledge"
	if !strings.HasSuffix(gotPath, want) {
		t.Errorf("path = %s, want suffix %s", gotPath, want)
	}
}

func TestNewPlayAcknowledger_Validation(t *testing.T) {
	if _, err := NewPlayAcknowledger(context.Background(), "", nil); err == nil {
		t.Error("expected error for empty package name")
	}
	if _, err := NewPlayAcknowledger(context.Background(), "com.example.app", []byte("not json")); err == nil {
		t.Error("expected error for invalid service account")
	}
}
