package auth

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	sserr "github.com/StricklySoft/stricklysoft-fstorage/pkg/errors"
)

// metadataAuthorization is the gRPC metadata key for the bearer token.
// gRPC lowercases all metadata keys.
const metadataAuthorization = "authorization"

// UnaryServerInterceptor applies the same verification as HTTPMiddleware to
// unary RPCs. Failures return codes.Unauthenticated with the public message.
func UnaryServerInterceptor(verifier Verifier, logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := authenticateGRPC(ctx, verifier, logger, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of
// UnaryServerInterceptor.
func StreamServerInterceptor(verifier Verifier, logger *slog.Logger) grpc.StreamServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticateGRPC(ss.Context(), verifier, logger, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func authenticateGRPC(ctx context.Context, verifier Verifier, logger *slog.Logger, method string) (context.Context, error) {
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(metadataAuthorization); len(values) > 0 {
			header = values[0]
		}
	}

	token, err := ParseBearer(header)
	if err != nil {
		return ctx, rejectGRPC(ctx, logger, method, err, publicMessage(err))
	}

	principal, err := verifier.Verify(ctx, token)
	if err != nil {
		return ctx, rejectGRPC(ctx, logger, method, err, "Invalid token: "+publicMessage(err))
	}

	ctx = ContextWithPrincipal(ctx, principal)
	return ContextWithRawToken(ctx, token), nil
}

func rejectGRPC(ctx context.Context, logger *slog.Logger, method string, err error, message string) error {
	logger.WarnContext(ctx, "auth: rpc rejected",
		"code", sserr.GetCode(err).String(),
		"error", err.Error(),
		"method", method,
	)
	return status.Error(codes.Unauthenticated, message)
}

// wrappedServerStream overrides Context so handlers see the principal.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
