package grpcx

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/telecare/signaling-service/internal/domain"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const mdAuthorization = "authorization"

type TokenVerifier interface {
	Verify(token string) (domain.Identity, error)
}

// UnaryServerInterceptor logs each call, recovers panics and bounds calls
// that arrive without a deadline.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		start := time.Now()
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
		}

		defer func() {
			if r := recover(); r != nil {
				slog.Error("grpc unary panic",
					"method", info.FullMethod,
					"panic", r,
					"stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal server error")
			}
			slog.Info("grpc unary",
				"method", info.FullMethod,
				"dur_ms", time.Since(start).Milliseconds(),
				"code", status.Code(err).String(),
				"err", errString(err))
		}()

		return handler(ctx, req)
	}
}

// AuthUnaryInterceptor checks "authorization: Bearer <jwt>" metadata when
// required is set. Census reads are not per-user, so the identity is only logged.
func AuthUnaryInterceptor(v TokenVerifier, required bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !required {
			return handler(ctx, req)
		}

		id, err := identityFromMD(ctx, v)
		if err != nil {
			return nil, err
		}
		slog.Debug("grpc caller", "method", info.FullMethod, "user", id.UserID, "role", id.Role)
		return handler(ctx, req)
	}
}

func identityFromMD(ctx context.Context, v TokenVerifier) (domain.Identity, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return domain.Identity{}, status.Error(codes.Unauthenticated, "missing metadata")
	}
	auth := first(md.Get(mdAuthorization))
	if auth == "" {
		return domain.Identity{}, status.Error(codes.Unauthenticated, "missing authorization")
	}
	if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return domain.Identity{}, status.Error(codes.Unauthenticated, "invalid authorization")
	}

	id, err := v.Verify(strings.TrimSpace(auth[len("bearer "):]))
	if err != nil {
		slog.Warn("grpc auth failed", "err", err)
		return domain.Identity{}, status.Error(codes.Unauthenticated, "invalid token")
	}
	return id, nil
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return strings.TrimSpace(ss[0])
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
