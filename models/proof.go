package models

import "time"

// PurchaseProof is the device-held proof of purchase sent for verification.
// Exactly one of Receipt (iOS) or Purchases (Google) is populated.
type PurchaseProof struct {
	Platform  Platform
	Receipt   string
	Purchases []GooglePurchase
}

// Empty reports whether the proof carries nothing to verify.
func (p *PurchaseProof) Empty() bool {
	return p == nil || (p.Receipt == "" && len(p.Purchases) == 0)
}

// GooglePurchase is one entry of the Google verify request body.
type GooglePurchase struct {
	PackageName   string `json:"packageName"`
	PurchaseToken string `json:"purchaseToken"`
	OrderID       string `json:"orderId"`
	PurchaseTime  int64  `json:"purchaseTime"`
	SKU           string `json:"sku"`
}

// PurchaseLog reports an App Store sale to the backend.
type PurchaseLog struct {
	SKU                   string    `json:"sku"`
	Country               string    `json:"country"`
	Currency              string    `json:"currency"`
	Price                 float64   `json:"price"`
	TransactionID         string    `json:"transactionId"`
	OriginalTransactionID string    `json:"originalTransactionId"`
	PurchaseDate          time.Time `json:"-"`
}

// NewPurchaseLog builds the log entry for a purchased transaction of product.
// An unknown transaction date falls back to now.
func NewPurchaseLog(product Product, tx Transaction, country string) PurchaseLog {
	if product.CountryCode != "" {
		country = product.CountryCode
	}
	date := tx.PurchaseTime
	if date.IsZero() {
		date = time.Now()
	}
	return PurchaseLog{
		SKU:                   product.ProductID,
		Country:               country,
		Currency:              product.Currency,
		Price:                 product.Price,
		TransactionID:         tx.ID,
		OriginalTransactionID: tx.OriginalID(),
		PurchaseDate:          date,
	}
}
