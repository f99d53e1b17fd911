package errors

import "errors"

// Purchase flow errors. Callers match them with errors.Is; wrapped variants
// carry extra context but keep the sentinel in their chain.
var (
	// ErrLaunchSdkNeeded is returned by every operation invoked before Launch.
	ErrLaunchSdkNeeded = errors.New("launch sdk needed")
	// ErrNoActivityFound means the platform context (activity, payment queue) is missing.
	ErrNoActivityFound    = errors.New("no activity found")
	ErrInvalidEnvironment = errors.New("invalid environment")
	// ErrNoProductIdsFound means the backend catalog contains no SKU.
	ErrNoProductIdsFound = errors.New("no product ids found")
	// ErrNoProductsFound means the store matched none of the catalog SKUs.
	ErrNoProductsFound = errors.New("no products found")
	// ErrNoProductFound means the product id is not in the last fetched product list.
	ErrNoProductFound      = errors.New("given product id does not exist")
	ErrCantMakePayments    = errors.New("device can't make payments")
	ErrPaymentWasCancelled = errors.New("user cancelled payment")
	ErrNoPurchaseFound     = errors.New("no purchase found")
	// ErrNoReceiptInfo means there is no device-held proof of purchase to verify.
	ErrNoReceiptInfo = errors.New("no receipt info")
	ErrNetwork       = errors.New("network error")
	ErrDecoding      = errors.New("decoding error")
	// ErrPurchaseInProgress is returned when the product already has a pending purchase.
	ErrPurchaseInProgress = errors.New("purchase already in progress")
	// ErrDeviceNotSupported means billing setup failed on the device.
	ErrDeviceNotSupported = errors.New("device not supported")
)

// Is and As are re-exported so callers importing this package as "errors" keep
// access to the standard helpers.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }
