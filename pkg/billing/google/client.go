// Package google adapts the Play Billing client of an Android host to the
// billing.Adapter contract.
package google

import (
	"context"
	"fmt"
)

// ResponseCode is a Play Billing response code.
type ResponseCode int

const (
	ServiceTimeout      ResponseCode = -3
	FeatureNotSupported ResponseCode = -2
	ServiceDisconnected ResponseCode = -1
	OK                  ResponseCode = 0
	UserCanceled        ResponseCode = 1
	ServiceUnavailable  ResponseCode = 2
	BillingUnavailable  ResponseCode = 3
	ItemUnavailable     ResponseCode = 4
	DeveloperError      ResponseCode = 5
	Error               ResponseCode = 6
	ItemAlreadyOwned    ResponseCode = 7
	ItemNotOwned        ResponseCode = 8
)

var responseCodeNames = map[ResponseCode]string{
	ServiceTimeout:      "SERVICE_TIMEOUT",
	FeatureNotSupported: "FEATURE_NOT_SUPPORTED",
	ServiceDisconnected: "SERVICE_DISCONNECTED",
	OK:                  "OK",
	UserCanceled:        "USER_CANCELED",
	ServiceUnavailable:  "SERVICE_UNAVAILABLE",
	BillingUnavailable:  "BILLING_UNAVAILABLE",
	ItemUnavailable:     "ITEM_UNAVAILABLE",
	DeveloperError:      "DEVELOPER_ERROR",
	Error:               "ERROR",
	ItemAlreadyOwned:    "ITEM_ALREADY_OWNED",
	ItemNotOwned:        "ITEM_NOT_OWNED",
}

func (c ResponseCode) String() string {
	if name, ok := responseCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("RESPONSE_CODE(%d)", int(c))
}

// BillingResult is the outcome of a Play Billing call.
type BillingResult struct {
	ResponseCode ResponseCode
	DebugMessage string
}

// PurchaseState mirrors Purchase.PurchaseState.
type PurchaseState int

const (
	PurchaseStateUnspecified PurchaseState = 0
	PurchaseStatePurchased   PurchaseState = 1
	PurchaseStatePending     PurchaseState = 2
)

// Purchase is a Play Billing purchase as handed over by the host.
type Purchase struct {
	OrderID       string
	PackageName   string
	PurchaseToken string
	Products      []string
	// PurchaseTime is in milliseconds since the epoch.
	PurchaseTime  int64
	PurchaseState PurchaseState
	Acknowledged  bool
}

// SKU returns the first product of the purchase.
func (p Purchase) SKU() string {
	if len(p.Products) == 0 {
		return ""
	}
	return p.Products[0]
}

// ProductDetails is the pricing of a subscription's base plan.
type ProductDetails struct {
	ProductID         string
	Title             string
	Description       string
	PriceAmountMicros int64
	PriceCurrencyCode string
	FormattedPrice    string
	// BillingPeriod is an ISO-8601 duration, e.g. P1M.
	BillingPeriod string
}

// BillingClient is implemented by the Android host around its
// com.android.billingclient BillingClient.
type BillingClient interface {
	IsReady() bool
	QueryProductDetails(ctx context.Context, productIDs []string) (BillingResult, []ProductDetails)
	LaunchBillingFlow(ctx context.Context, details ProductDetails) BillingResult
	AcknowledgePurchase(ctx context.Context, purchaseToken string) BillingResult
	QueryPurchases(ctx context.Context) (BillingResult, []Purchase)
}
