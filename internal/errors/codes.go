package errors

import (
	"context"
	"errors"
	"net/http"

	"github.com/eternisai/purchases-bridge/models"
	"github.com/gin-gonic/gin"
)

var codes = []struct {
	err    error
	code   string
	status int
}{
	{ErrLaunchSdkNeeded, "LAUNCH_SDK_NEEDED", http.StatusPreconditionFailed},
	{ErrNoActivityFound, "NO_ACTIVITY_FOUND", http.StatusPreconditionFailed},
	{ErrInvalidEnvironment, "INVALID_ENVIRONMENT", http.StatusBadRequest},
	{ErrNoProductIdsFound, "NO_PRODUCT_IDS_FOUND", http.StatusNotFound},
	{ErrNoProductsFound, "NO_PRODUCTS_FOUND", http.StatusNotFound},
	{ErrNoProductFound, "NO_PRODUCT_FOUND", http.StatusNotFound},
	{ErrCantMakePayments, "CANT_MAKE_PAYMENTS", http.StatusForbidden},
	{ErrPaymentWasCancelled, "PAYMENT_WAS_CANCELLED", http.StatusConflict},
	{ErrNoPurchaseFound, "NO_PURCHASE_FOUND", http.StatusNotFound},
	{ErrNoReceiptInfo, "NO_RECEIPT_INFO", http.StatusNotFound},
	{ErrPurchaseInProgress, "PURCHASE_IN_PROGRESS", http.StatusConflict},
	{ErrDeviceNotSupported, "DEVICE_NOT_SUPPORTED", http.StatusServiceUnavailable},
	{ErrNetwork, "NETWORK_ERROR", http.StatusBadGateway},
	{ErrDecoding, "DECODING_ERROR", http.StatusBadGateway},
}

// Code returns the stable string code for err, "UNKNOWN" when it is not part
// of the purchase error taxonomy.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}

	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return "BACKEND_ERROR"
	}
	var billingErr *models.BillingError
	if errors.As(err, &billingErr) {
		return "BILLING_ERROR"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "TIMEOUT"
	}
	return "UNKNOWN"
}

// HTTPStatus maps err to the status the bridge responds with.
func HTTPStatus(err error) int {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.status
		}
	}

	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return http.StatusBadGateway
	}
	var billingErr *models.BillingError
	if errors.As(err, &billingErr) {
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// AbortWithError sends the JSON error body matching err and aborts the request.
func AbortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(HTTPStatus(err), NewAPIError(err.Error(), nil).WithCode(Code(err)))
}
