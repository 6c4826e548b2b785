package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyRunID        contextKey = "run_id"
	keyWorker       contextKey = "worker"
	keyDelegationID contextKey = "delegation_id"
)

// WithRunID adds the run ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, keyRunID, runID)
}

// RunID extracts the run ID from context.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRunID).(string)
	return v, ok && v != ""
}

// WithWorker adds the name of the acting worker to context.
func WithWorker(ctx context.Context, worker string) context.Context {
	return context.WithValue(ctx, keyWorker, worker)
}

// Worker extracts the acting worker from context.
func Worker(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyWorker).(string)
	return v, ok && v != ""
}

// WithDelegationID adds the ID of the enclosing delegation to context.
// Engine calls made while a delegated task runs carry the innermost ID.
func WithDelegationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyDelegationID, id)
}

// DelegationID extracts the innermost delegation ID from context.
func DelegationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyDelegationID).(string)
	return v, ok && v != ""
}
