package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// contextKey prevents collisions with keys from other packages.
type contextKey int

const (
	principalKey contextKey = iota
	rawTokenKey
)

// ContextWithPrincipal attaches the verified principal to ctx.
func ContextWithPrincipal(ctx context.Context, p *AuthenticatedPrincipal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the principal set by the auth middleware.
func PrincipalFromContext(ctx context.Context) (*AuthenticatedPrincipal, bool) {
	p, ok := ctx.Value(principalKey).(*AuthenticatedPrincipal)
	return p, ok && p != nil
}

// SubjectFromContext returns the user_id of the authenticated caller. This is
// the field handlers read to learn who is calling.
//
//	owner, ok := auth.SubjectFromContext(r.Context())
//	if !ok {
//	    // route is not behind the auth middleware
//	}
func SubjectFromContext(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return "", false
	}
	return p.Subject, true
}

// ContextWithRawToken keeps the caller's bearer token for handlers that
// forward it to other services on the caller's behalf.
func ContextWithRawToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, rawTokenKey, token)
}

// RawTokenFromContext returns the bearer token stored by the middleware.
func RawTokenFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(rawTokenKey).(string)
	return t, ok && t != ""
}

// TraceIDFromContext returns the active trace id, used to correlate auth
// log lines with traces.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return "", false
	}
	return sc.TraceID().String(), true
}
