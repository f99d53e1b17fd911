package models

import (
	"fmt"
	"time"
)

// TransactionState is the lifecycle state of a native transaction.
type TransactionState string

const (
	TransactionPurchasing TransactionState = "purchasing"
	TransactionPurchased  TransactionState = "purchased"
	TransactionFailed     TransactionState = "failed"
	TransactionRestored   TransactionState = "restored"
	TransactionDeferred   TransactionState = "deferred"
)

// Terminal reports whether the transaction must be finished.
func (s TransactionState) Terminal() bool {
	switch s {
	case TransactionPurchased, TransactionFailed, TransactionRestored:
		return true
	}
	return false
}

// Transaction is a purchase event observed on the platform billing queue.
type Transaction struct {
	ID                    string           `json:"transactionId"`
	OriginalTransactionID string           `json:"originalTransactionId,omitempty"`
	ProductID             string           `json:"productId"`
	PurchaseTime          time.Time        `json:"purchaseTime"`
	State                 TransactionState `json:"state"`

	// Google Play fields.
	PurchaseToken string `json:"purchaseToken,omitempty"`
	OrderID       string `json:"orderId,omitempty"`
	PackageName   string `json:"packageName,omitempty"`
	Acknowledged  bool   `json:"acknowledged,omitempty"`

	// Err is set for failed transactions.
	Err error `json:"-"`
}

// OriginalID returns the original transaction id, falling back to the id itself.
func (t Transaction) OriginalID() string {
	if t.OriginalTransactionID != "" {
		return t.OriginalTransactionID
	}
	return t.ID
}

// BillingError is an error code reported by the native billing SDK.
type BillingError struct {
	Platform  Platform
	Code      int
	Message   string
	Cancelled bool
}

func (e *BillingError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s billing error (code %d)", e.Platform, e.Code)
	}
	return fmt.Sprintf("%s billing error (code %d): %s", e.Platform, e.Code, e.Message)
}
