package models

// Product is a purchasable subscription as reported by the platform store,
// seeded with SKUs from the backend catalog.
type Product struct {
	ProductID          string  `json:"productId"`
	Price              float64 `json:"price"`
	Currency           string  `json:"currency"`
	LocalizedPrice     string  `json:"localizedPrice"`
	Title              string  `json:"title"`
	Description        string  `json:"description"`
	SubscriptionPeriod string  `json:"subscriptionPeriod"` // ISO-8601 duration, e.g. P1M

	// CountryCode is the region of the price locale (iOS) when known.
	CountryCode string `json:"countryCode,omitempty"`

	// Copied from the backend catalog entry with the same SKU.
	FamilyName string `json:"familyName,omitempty"`
	Attributes string `json:"attributes,omitempty"`
}

// FindProduct returns the product with the given id from products.
func FindProduct(products []Product, productID string) (Product, bool) {
	for _, p := range products {
		if p.ProductID == productID {
			return p, true
		}
	}
	return Product{}, false
}
