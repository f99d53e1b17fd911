// Package apple adapts the StoreKit payment queue of an iOS host to the
// billing.Adapter contract.
package apple

import (
	"context"
	"fmt"
	"time"
)

// SKErrorPaymentCancelled is the StoreKit error code for a user cancellation.
const SKErrorPaymentCancelled = 2

// TransactionState mirrors SKPaymentTransactionState.
type TransactionState int

const (
	StatePurchasing TransactionState = iota
	StatePurchased
	StateFailed
	StateRestored
	StateDeferred
)

// SKError is a StoreKit error reported with a failed transaction.
type SKError struct {
	Code    int
	Message string
}

func (e *SKError) Error() string {
	return fmt.Sprintf("storekit error %d: %s", e.Code, e.Message)
}

// Product is an SKProduct.
type Product struct {
	ProductIdentifier    string
	LocalizedTitle       string
	LocalizedDescription string
	Price                float64
	CurrencyCode         string
	LocalizedPrice       string
	// RegionCode is the region of the price locale.
	RegionCode         string
	SubscriptionPeriod string
}

// PaymentTransaction is an SKPaymentTransaction.
type PaymentTransaction struct {
	TransactionIdentifier         string
	OriginalTransactionIdentifier string
	ProductIdentifier             string
	TransactionDate               time.Time
	State                         TransactionState
	Error                         error
}

// PaymentQueue is implemented by the iOS host around SKPaymentQueue.
type PaymentQueue interface {
	CanMakePayments() bool
	RequestProducts(ctx context.Context, productIDs []string) ([]Product, error)
	AddPayment(ctx context.Context, productID string) error
	FinishTransaction(ctx context.Context, transactionID string) error
	RestoreCompletedTransactions(ctx context.Context) error
	// AppStoreReceipt returns the contents of the app's receipt file.
	AppStoreReceipt() ([]byte, error)
}
