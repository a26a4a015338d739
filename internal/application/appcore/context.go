package appcore

import (
	"context"

	"github.com/lllypuk/estately/internal/domain/event"
)

// Context keys
type contextKey string

const (
	userIDKey        contextKey = "userID"
	correlationIDKey contextKey = "correlationID"
	causationIDKey   contextKey = "causationID"
)

// GetUserID extracts the acting user ID from the context
func GetUserID(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

// WithUserID adds the acting user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetCorrelationID extracts the correlation ID from the context
func GetCorrelationID(ctx context.Context) string {
	correlationID, _ := ctx.Value(correlationIDKey).(string)
	return correlationID
}

// WithCorrelationID adds the correlation ID to the context
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// GetCausationID extracts the causation ID (the message that caused the command)
func GetCausationID(ctx context.Context) string {
	causationID, _ := ctx.Value(causationIDKey).(string)
	return causationID
}

// WithCausationID adds the causation ID to the context
func WithCausationID(ctx context.Context, causationID string) context.Context {
	return context.WithValue(ctx, causationIDKey, causationID)
}

// MetadataFromContext builds event metadata from the request context.
func MetadataFromContext(ctx context.Context) event.Metadata {
	return event.NewMetadata(GetUserID(ctx), GetCorrelationID(ctx), GetCausationID(ctx))
}
