package apple

import (
	"fmt"
	"strings"

	appstore "github.com/richzw/appstore"
)

// SignedConfig holds the App Store Connect API key used to read signed
// StoreKit 2 transactions.
type SignedConfig struct {
	KeyP8    string
	KeyID    string
	BundleID string
	IssuerID string
}

// TransactionDecoder verifies and decodes a JWS transaction.
type TransactionDecoder interface {
	Decode(jws string) (*appstore.JWSTransaction, error)
}

// StoreDecoder tries the production environment first and falls back to sandbox.
type StoreDecoder struct {
	prod    *appstore.StoreClient
	sandbox *appstore.StoreClient
}

func NewStoreDecoder(cfg SignedConfig) *StoreDecoder {
	// Support both literal newlines and \n-escaped keys.
	key := cfg.KeyP8
	if strings.Contains(key, "\\n") && !strings.Contains(key, "\n") {
		key = strings.ReplaceAll(key, "\\n", "\n")
	}

	newClient := func(sandbox bool) *appstore.StoreClient {
		return appstore.NewStoreClient(&appstore.StoreConfig{
			KeyContent: []byte(key),
			KeyID:      cfg.KeyID,
			BundleID:   cfg.BundleID,
			Issuer:     cfg.IssuerID,
			Sandbox:    sandbox,
		})
	}
	return &StoreDecoder{prod: newClient(false), sandbox: newClient(true)}
}

func (d *StoreDecoder) Decode(jws string) (*appstore.JWSTransaction, error) {
	tx, err := d.prod.ParseNotificationV2TransactionInfo(jws)
	if err == nil {
		return tx, nil
	}
	tx, err = d.sandbox.ParseNotificationV2TransactionInfo(jws)
	if err != nil {
		return nil, fmt.Errorf("decode signed transaction: %w", err)
	}
	return tx, nil
}
