package logger

import (
	"context"

	"github.com/google/uuid"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// WithMessageID adds an archived message ID to the context.
func WithMessageID(ctx context.Context, messageID int) context.Context {
	return context.WithValue(ctx, ContextKeyMessageID, messageID)
}

// WithSessionID adds an upstream session ID to the context.
func WithSessionID(ctx context.Context, sessionID int) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// WithOperation adds an operation name to the context.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, ContextKeyOperation, operation)
}

// GenerateRequestID generates a new request ID.
func GenerateRequestID() string {
	requestID := uuid.New()
	return requestID.String()
}
