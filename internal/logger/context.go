package logger

import (
	"context"

	"github.com/google/uuid"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// WithOperation adds an operation name to the context.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, ContextKeyOperation, operation)
}

// WithProductID adds the product being purchased to the context.
func WithProductID(ctx context.Context, productID string) context.Context {
	return context.WithValue(ctx, ContextKeyProductID, productID)
}

// WithTransactionID adds a native transaction id to the context.
func WithTransactionID(ctx context.Context, transactionID string) context.Context {
	return context.WithValue(ctx, ContextKeyTransactionID, transactionID)
}

// RequestID returns the request ID stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyRequestID).(string)
	return id
}

// GenerateRequestID generates a new request ID.
func GenerateRequestID() string {
	return uuid.New().String()
}
