package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ReceiptTimeLayout is the date layout used by the verification backend.
const ReceiptTimeLayout = "2006-01-02T15:04:05.000Z"

// Receipt is a server-verified proof of entitlement.
type Receipt struct {
	SKU             string    `json:"sku"`
	PurchaseID      string    `json:"purchaseId"`
	TransactionDate Timestamp `json:"transactionDate"`
	ValidUntilDate  Timestamp `json:"validUntilDate"`
	IsTrial         bool      `json:"isTrial"`
	IsExpired       bool      `json:"isExpired"`
	FamilyName      *string   `json:"familyName,omitempty"`
	Attributes      *string   `json:"attributes,omitempty"`
	Period          *string   `json:"period,omitempty"`
}

// Active reports whether the receipt grants entitlement at t.
func (r Receipt) Active(t time.Time) bool {
	return !r.IsExpired && r.ValidUntilDate.After(t)
}

// Timestamp is a UTC time that decodes both the backend layout and RFC3339.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(ReceiptTimeLayout))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		t.Time = time.Time{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}

	for _, layout := range []string{ReceiptTimeLayout, time.RFC3339Nano} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unsupported timestamp %q", s)
}
