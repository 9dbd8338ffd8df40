// Package requestctx carries per-request identity through context.
package requestctx

import "context"

// participantIDContextKey is the context key for authenticated participant identity.
type participantIDContextKey struct{}

// WithParticipantID stores a participant identifier in context.
func WithParticipantID(ctx context.Context, participantID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, participantIDContextKey{}, participantID)
}

// ParticipantIDFromContext returns the participant identifier stored in context.
func ParticipantIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(participantIDContextKey{}).(string)
	return value
}
