package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	sserr "github.com/StricklySoft/stricklysoft-fstorage/pkg/errors"
)

// HeaderAuthorization is the request header carrying the bearer token.
const HeaderAuthorization = "Authorization"

// ParseBearer extracts the token from an Authorization header value. The
// value must be exactly "Bearer <token>": one space, case-sensitive scheme,
// no extra fields.
func ParseBearer(header string) (string, error) {
	if header == "" {
		return "", sserr.NewMissingAuthHeader()
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", sserr.NewMalformedAuthHeader()
	}
	return parts[1], nil
}

// HTTPMiddleware rejects requests without a valid bearer token and stores
// the verified principal in the request context for downstream handlers.
//
// Failures answer 401 with {"error": "..."}: the header errors use their own
// message, verification errors are prefixed with "Invalid token: ". Only the
// error's public message reaches the caller; the cause is logged.
//
//	r := chi.NewRouter()
//	r.Use(auth.HTTPMiddleware(verifier, logger))
func HTTPMiddleware(verifier Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, err := ParseBearer(r.Header.Get(HeaderAuthorization))
			if err != nil {
				logRejection(logger, r, err)
				writeUnauthorized(w, publicMessage(err))
				return
			}

			principal, err := verifier.Verify(ctx, token)
			if err != nil {
				logRejection(logger, r, err)
				writeUnauthorized(w, "Invalid token: "+publicMessage(err))
				return
			}

			logger.DebugContext(ctx, "auth: token validated",
				"user_id", principal.Subject,
				"kid", principal.KeyID,
			)
			ctx = ContextWithPrincipal(ctx, principal)
			ctx = ContextWithRawToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func publicMessage(err error) string {
	if e, ok := sserr.AsError(err); ok {
		return e.Message
	}
	return "invalid token"
}

func logRejection(logger *slog.Logger, r *http.Request, err error) {
	attrs := []any{
		"code", sserr.GetCode(err).String(),
		"error", err.Error(),
		"method", r.Method,
		"path", r.URL.Path,
	}
	if traceID, ok := TraceIDFromContext(r.Context()); ok {
		attrs = append(attrs, "trace_id", traceID)
	}
	logger.WarnContext(r.Context(), "auth: request rejected", attrs...)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="fstorage"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
