package middleware

import "context"

type identityContextKey struct{}

type requestIdentity struct {
	userID    string
	sessionID string
}

func withRequestIdentity(ctx context.Context, ids *requestIdentity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, ids)
}
