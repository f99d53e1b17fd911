package backend

import (
	"time"

	"github.com/eternisai/purchases-bridge/models"
)

type subscriptionListResponse struct {
	Data *models.SubscriptionCatalog `json:"data"`
}

type googleVerifyRequest struct {
	Purchases []models.GooglePurchase `json:"purchases"`
}

type appleVerifyRequest struct {
	Receipt string `json:"receipt"`
}

type verifyResponse struct {
	Data struct {
		Purchases []models.Receipt `json:"purchases"`
	} `json:"data"`
}

// receipts never returns nil so an empty verification result still replaces
// the cached set.
func (r verifyResponse) receipts() []models.Receipt {
	if r.Data.Purchases == nil {
		return []models.Receipt{}
	}
	return r.Data.Purchases
}

type purchaseLogRequest struct {
	SKU                   string  `json:"sku"`
	Country               string  `json:"country"`
	Currency              string  `json:"currency"`
	Price                 float64 `json:"price"`
	TransactionID         string  `json:"transactionId"`
	OriginalTransactionID string  `json:"originalTransactionId"`
	PurchaseDate          string  `json:"purchaseDate"`
}

// purchaseDateLayout is ISO-8601 with fractional seconds.
const purchaseDateLayout = "2006-01-02T15:04:05.000Z07:00"

func newPurchaseLogRequest(entry models.PurchaseLog) purchaseLogRequest {
	original := entry.OriginalTransactionID
	if original == "" {
		original = entry.TransactionID
	}
	date := entry.PurchaseDate
	if date.IsZero() {
		date = time.Now()
	}
	return purchaseLogRequest{
		SKU:                   entry.SKU,
		Country:               entry.Country,
		Currency:              entry.Currency,
		Price:                 entry.Price,
		TransactionID:         entry.TransactionID,
		OriginalTransactionID: original,
		PurchaseDate:          date.UTC().Format(purchaseDateLayout),
	}
}
