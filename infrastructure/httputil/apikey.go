package httputil

import "context"

func withAPIKeyID(ctx context.Context, keyID string) context.Context {
	return context.WithValue(ctx, apiKeyContextKey{}, keyID)
}

func apiKeyIDFromContext(ctx context.Context) string {
	if keyID, ok := ctx.Value(apiKeyContextKey{}).(string); ok {
		return keyID
	}
	return ""
}
