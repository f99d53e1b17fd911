package models

// SubscriptionCatalog is the list of subscription SKUs configured in the backend.
type SubscriptionCatalog struct {
	Platform         string         `json:"platform,omitempty"`
	Attributes       string         `json:"attributes,omitempty"`
	SubscriptionList []Subscription `json:"subscriptionList"`
}

// Subscription is a single catalog entry.
type Subscription struct {
	SKU        string `json:"sku"`
	FamilyName string `json:"familyName,omitempty"`
	Attributes string `json:"attributes,omitempty"`
}

// SKUs returns the non-empty SKUs of the catalog in order, without duplicates.
func (c *SubscriptionCatalog) SKUs() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(c.SubscriptionList))
	skus := make([]string, 0, len(c.SubscriptionList))
	for _, s := range c.SubscriptionList {
		if s.SKU == "" {
			continue
		}
		if _, ok := seen[s.SKU]; ok {
			continue
		}
		seen[s.SKU] = struct{}{}
		skus = append(skus, s.SKU)
	}
	return skus
}

// Lookup returns the catalog entry for sku.
func (c *SubscriptionCatalog) Lookup(sku string) (Subscription, bool) {
	if c == nil {
		return Subscription{}, false
	}
	for _, s := range c.SubscriptionList {
		if s.SKU == sku {
			return s, true
		}
	}
	return Subscription{}, false
}
