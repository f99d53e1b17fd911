package apple

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/eternisai/purchases-bridge/internal/errors"
	"github.com/eternisai/purchases-bridge/internal/logger"
	"github.com/eternisai/purchases-bridge/models"
	"github.com/eternisai/purchases-bridge/pkg/billing"
)

type Option func(*Adapter)

// WithDecoder enables UpdatedSignedTransaction.
func WithDecoder(d TransactionDecoder) Option {
	return func(a *Adapter) { a.decoder = d }
}

func WithLogger(log *logger.Logger) Option {
	return func(a *Adapter) {
		if log != nil {
			a.logger = log
		}
	}
}

// Adapter implements billing.Adapter on top of a host PaymentQueue.
type Adapter struct {
	queue    PaymentQueue
	decoder  TransactionDecoder
	logger   *logger.Logger
	observer billing.ObserverSlot
}

var _ billing.Adapter = (*Adapter)(nil)

func New(queue PaymentQueue, opts ...Option) *Adapter {
	a := &Adapter{queue: queue, logger: logger.Nop()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.WithComponent("billing.apple")
	return a
}

func (a *Adapter) Platform() models.Platform { return models.PlatformIOS }

func (a *Adapter) SetObserver(o billing.Observer) { a.observer.Set(o) }

func (a *Adapter) CanMakePayments() bool {
	return a.queue != nil && a.queue.CanMakePayments()
}

func (a *Adapter) QueryProducts(ctx context.Context, skus []string) ([]models.Product, error) {
	if a.queue == nil {
		return nil, apperrors.ErrNoActivityFound
	}
	found, err := a.queue.RequestProducts(ctx, skus)
	if err != nil {
		return nil, fmt.Errorf("request products: %w", err)
	}

	products := make([]models.Product, 0, len(found))
	for _, p := range found {
		products = append(products, models.Product{
			ProductID:          p.ProductIdentifier,
			Price:              p.Price,
			Currency:           p.CurrencyCode,
			LocalizedPrice:     p.LocalizedPrice,
			Title:              p.LocalizedTitle,
			Description:        p.LocalizedDescription,
			SubscriptionPeriod: p.SubscriptionPeriod,
			CountryCode:        p.RegionCode,
		})
	}
	return products, nil
}

func (a *Adapter) LaunchPurchase(ctx context.Context, product models.Product) error {
	if a.queue == nil {
		return apperrors.ErrNoActivityFound
	}
	return a.queue.AddPayment(ctx, product.ProductID)
}

// Acknowledge is a no-op: StoreKit has no acknowledgement step.
func (a *Adapter) Acknowledge(context.Context, models.Transaction) error { return nil }

func (a *Adapter) Finish(ctx context.Context, tx models.Transaction) error {
	if a.queue == nil {
		return apperrors.ErrNoActivityFound
	}
	return a.queue.FinishTransaction(ctx, tx.ID)
}

func (a *Adapter) RestorePurchases(ctx context.Context) error {
	if a.queue == nil {
		return apperrors.ErrNoActivityFound
	}
	return a.queue.RestoreCompletedTransactions(ctx)
}

// Proof returns the base64 App Store receipt. A missing or unreadable receipt
// yields no proof.
func (a *Adapter) Proof(context.Context) (*models.PurchaseProof, error) {
	if a.queue == nil {
		return nil, nil
	}
	receipt, err := a.queue.AppStoreReceipt()
	if err != nil {
		a.logger.Debug("app store receipt unavailable", "error", err)
		return nil, nil
	}
	if len(receipt) == 0 {
		return nil, nil
	}
	return &models.PurchaseProof{
		Platform: models.PlatformIOS,
		Receipt:  base64.StdEncoding.EncodeToString(receipt),
	}, nil
}

// UpdatedTransactions is called by the host from paymentQueue(_:updatedTransactions:).
func (a *Adapter) UpdatedTransactions(transactions []PaymentTransaction) {
	txs := make([]models.Transaction, 0, len(transactions))
	for _, t := range transactions {
		txs = append(txs, transactionFrom(t))
	}
	a.observer.Transactions(txs...)
}

func (a *Adapter) RestoreCompletedTransactionsFinished() {
	a.observer.RestoreFinished()
}

func (a *Adapter) RestoreCompletedTransactionsFailed(err error) {
	a.observer.RestoreFailed(billingError(err))
}

// UpdatedSignedTransaction decodes a StoreKit 2 JWS transaction and delivers
// it as purchased.
func (a *Adapter) UpdatedSignedTransaction(jws string) error {
	if a.decoder == nil {
		return fmt.Errorf("signed transactions are not configured")
	}
	tx, err := DecodeSigned(a.decoder, jws)
	if err != nil {
		return err
	}
	a.observer.Transactions(tx)
	return nil
}

// DecodeSigned turns a verified JWS transaction into a purchased transaction.
func DecodeSigned(d TransactionDecoder, jws string) (models.Transaction, error) {
	payload, err := d.Decode(jws)
	if err != nil {
		return models.Transaction{}, err
	}

	tx := models.Transaction{
		ID:                    payload.TransactionID,
		OriginalTransactionID: payload.OriginalTransactionId,
		ProductID:             payload.ProductID,
		State:                 models.TransactionPurchased,
	}
	if payload.PurchaseDate > 0 {
		tx.PurchaseTime = time.UnixMilli(payload.PurchaseDate).UTC()
	}
	return tx, nil
}

var states = map[TransactionState]models.TransactionState{
	StatePurchasing: models.TransactionPurchasing,
	StatePurchased:  models.TransactionPurchased,
	StateFailed:     models.TransactionFailed,
	StateRestored:   models.TransactionRestored,
	StateDeferred:   models.TransactionDeferred,
}

func transactionFrom(t PaymentTransaction) models.Transaction {
	state, ok := states[t.State]
	if !ok {
		state = models.TransactionPurchasing
	}
	tx := models.Transaction{
		ID:                    t.TransactionIdentifier,
		OriginalTransactionID: t.OriginalTransactionIdentifier,
		ProductID:             t.ProductIdentifier,
		PurchaseTime:          t.TransactionDate,
		State:                 state,
	}
	if state == models.TransactionFailed {
		tx.Err = billingError(t.Error)
	}
	return tx
}

// billingError converts a StoreKit error; other errors pass through.
func billingError(err error) error {
	var skErr *SKError
	if !errors.As(err, &skErr) {
		return err
	}
	return &models.BillingError{
		Platform:  models.PlatformIOS,
		Code:      skErr.Code,
		Message:   skErr.Message,
		Cancelled: skErr.Code == SKErrorPaymentCancelled,
	}
}
