package purchases

import (
	"github.com/eternisai/purchases-bridge/internal/errors"
	"github.com/eternisai/purchases-bridge/models"
)

// Errors returned by Purchases. Match with errors.Is.
var (
	ErrLaunchSdkNeeded     = errors.ErrLaunchSdkNeeded
	ErrNoActivityFound     = errors.ErrNoActivityFound
	ErrInvalidEnvironment  = errors.ErrInvalidEnvironment
	ErrNoProductIdsFound   = errors.ErrNoProductIdsFound
	ErrNoProductsFound     = errors.ErrNoProductsFound
	ErrNoProductFound      = errors.ErrNoProductFound
	ErrCantMakePayments    = errors.ErrCantMakePayments
	ErrPaymentWasCancelled = errors.ErrPaymentWasCancelled
	ErrNoPurchaseFound     = errors.ErrNoPurchaseFound
	ErrNoReceiptInfo       = errors.ErrNoReceiptInfo
	ErrNetwork             = errors.ErrNetwork
	ErrDecoding            = errors.ErrDecoding
	ErrPurchaseInProgress  = errors.ErrPurchaseInProgress
	ErrDeviceNotSupported  = errors.ErrDeviceNotSupported
)

// BackendError is a non-success response of the verification backend.
type BackendError = errors.BackendError

// isCancellation reports whether err means the user backed out of the native UI.
func isCancellation(err error) bool {
	if errors.Is(err, ErrPaymentWasCancelled) {
		return true
	}
	var billingErr *models.BillingError
	return errors.As(err, &billingErr) && billingErr.Cancelled
}

// cancellationOrRaw maps a native cancellation to ErrPaymentWasCancelled and
// passes every other error through unchanged.
func cancellationOrRaw(err error) error {
	if isCancellation(err) {
		return ErrPaymentWasCancelled
	}
	return err
}
