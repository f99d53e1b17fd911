// Package bridge exposes the purchase orchestrator over HTTP for hosts that
// drive it out of process.
package bridge

import (
	"context"
	"net/http"
	"strconv"

	"github.com/eternisai/purchases-bridge/internal/errors"
	"github.com/eternisai/purchases-bridge/internal/logger"
	"github.com/eternisai/purchases-bridge/models"
	"github.com/gin-gonic/gin"
)

// Orchestrator is implemented by *purchases.Purchases.
type Orchestrator interface {
	Launch(ctx context.Context, apiKey, environment string) (string, error)
	Ready() bool
	Platform() models.Platform
	FetchSubscriptions(ctx context.Context) ([]models.Product, error)
	Purchase(ctx context.Context, productID string) (bool, error)
	Restore(ctx context.Context) (bool, error)
	FetchReceiptInfo(ctx context.Context, fromCache bool) ([]models.Receipt, error)
}

// SignedTransactionSink accepts StoreKit 2 signed transactions.
type SignedTransactionSink interface {
	UpdatedSignedTransaction(jws string) error
}

type Handler struct {
	purchases Orchestrator
	signed    SignedTransactionSink
	logger    *logger.Logger
}

// NewHandler creates the bridge handler. signed may be nil.
func NewHandler(purchases Orchestrator, signed SignedTransactionSink, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{purchases: purchases, signed: signed, logger: log.WithComponent("bridge")}
}

// Register mounts the bridge routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)

	v1 := r.Group("/v1")
	{
		v1.POST("/launch", h.Launch)
		v1.GET("/subscriptions", h.FetchSubscriptions)
		v1.POST("/purchase", h.Purchase)
		v1.POST("/restore", h.Restore)
		v1.GET("/receipts", h.FetchReceiptInfo)
		v1.POST("/transactions/signed", h.SignedTransaction)
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"launched": h.purchases.Ready(),
		"platform": h.purchases.Platform(),
	})
}

// Launch configures the orchestrator.
// Request body: { "apiKey": "...", "environment": "STAGING" }
func (h *Handler) Launch(c *gin.Context) {
	var body struct {
		APIKey      string `json:"apiKey"`
		Environment string `json:"environment"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		errors.AbortWithBadRequest(c, "invalid request body", nil)
		return
	}
	if body.APIKey == "" {
		errors.AbortWithBadRequest(c, "apiKey is required", nil)
		return
	}

	result, err := h.purchases.Launch(c.Request.Context(), body.APIKey, body.Environment)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (h *Handler) FetchSubscriptions(c *gin.Context) {
	products, err := h.purchases.FetchSubscriptions(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

// Purchase blocks until the purchase resolves or the client goes away.
// Request body: { "productId": "..." }
func (h *Handler) Purchase(c *gin.Context) {
	var body struct {
		ProductID string `json:"productId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.ProductID == "" {
		errors.AbortWithBadRequest(c, "productId is required", nil)
		return
	}

	ctx := logger.WithProductID(c.Request.Context(), body.ProductID)
	ok, err := h.purchases.Purchase(ctx, body.ProductID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": ok})
}

func (h *Handler) Restore(c *gin.Context) {
	ok, err := h.purchases.Restore(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored": ok})
}

// FetchReceiptInfo returns the verified receipts; ?fromCache=true serves the
// cached set when present.
func (h *Handler) FetchReceiptInfo(c *gin.Context) {
	fromCache := false
	if raw := c.Query("fromCache"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			errors.AbortWithBadRequest(c, "fromCache must be a boolean", map[string]interface{}{"fromCache": raw})
			return
		}
		fromCache = v
	}

	receipts, err := h.purchases.FetchReceiptInfo(c.Request.Context(), fromCache)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, receipts)
}

// SignedTransaction feeds a StoreKit 2 transaction into the billing queue.
// Request body: { "jwsTransactionInfo": "<JWS>" }
func (h *Handler) SignedTransaction(c *gin.Context) {
	if h.signed == nil {
		errors.AbortWithNotFound(c, "signed transactions are not enabled", nil)
		return
	}
	var body struct {
		JWSTransactionInfo string `json:"jwsTransactionInfo"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.JWSTransactionInfo == "" {
		errors.AbortWithBadRequest(c, "jwsTransactionInfo is required", nil)
		return
	}

	if err := h.signed.UpdatedSignedTransaction(body.JWSTransactionInfo); err != nil {
		h.logger.LogError(c.Request.Context(), err, "rejected signed transaction")
		errors.AbortWithBadRequest(c, "invalid jwsTransactionInfo", nil)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": true})
}

func (h *Handler) fail(c *gin.Context, err error) {
	if errors.HTTPStatus(err) >= http.StatusInternalServerError {
		h.logger.LogError(c.Request.Context(), err, "bridge call failed", "path", c.FullPath())
	}
	errors.AbortWithError(c, err)
}
