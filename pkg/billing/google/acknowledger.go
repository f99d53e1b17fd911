package google

import (
	"context"
	"fmt"

	googleoauth "golang.org/x/oauth2/google"
	androidpublisher "google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"
)

// PlayAcknowledger acknowledges subscriptions through the Google Play
// Developer API with a service account.
type PlayAcknowledger struct {
	packageName string
	service     *androidpublisher.Service
}

var _ Acknowledger = (*PlayAcknowledger)(nil)

// NewPlayAcknowledger authenticates with the service account key in
// serviceAccountJSON. Extra options are passed to the API client.
func NewPlayAcknowledger(ctx context.Context, packageName string, serviceAccountJSON []byte, opts ...option.ClientOption) (*PlayAcknowledger, error) {
	if packageName == "" {
		return nil, fmt.Errorf("google play package name is empty")
	}
	if len(opts) == 0 {
		creds, err := googleoauth.CredentialsFromJSON(ctx, serviceAccountJSON, androidpublisher.AndroidpublisherScope)
		if err != nil {
			return nil, fmt.Errorf("parse service account: %w", err)
		}
		opts = []option.ClientOption{option.WithTokenSource(creds.TokenSource)}
	}

	service, err := androidpublisher.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("androidpublisher.NewService: %w", err)
	}
	return &PlayAcknowledger{packageName: packageName, service: service}, nil
}

func (a *PlayAcknowledger) Acknowledge(ctx context.Context, productID, purchaseToken string) error {
	err := a.service.Purchases.Subscriptions.
		Acknowledge(a.packageName, productID, purchaseToken, &androidpublisher.SubscriptionPurchasesAcknowledgeRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("acknowledge subscription %s: %w", productID, err)
	}
	return nil
}
