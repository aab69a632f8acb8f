package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/npcforge/npcforge/pkg/logger"
)

// LoggingUnaryInterceptor logs each unary call with its status and duration.
// Health checks are logged at debug level.
func LoggingUnaryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = logger.Nop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(ctx, log, info.FullMethod, err, time.Since(start))
		return resp, err
	}
}

// LoggingStreamInterceptor logs stream lifecycle for streaming RPCs
func LoggingStreamInterceptor(log logger.Logger) grpc.StreamServerInterceptor {
	if log == nil {
		log = logger.Nop()
	}
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logCall(ss.Context(), log, info.FullMethod, err, time.Since(start))
		return err
	}
}

func logCall(ctx context.Context, log logger.Logger, method string, err error, elapsed time.Duration) {
	requestID, ok := RequestIDFromContext(ctx)
	if !ok {
		requestID = "unknown"
	}
	code := status.Code(err)
	args := []any{
		"method", method,
		"code", code.String(),
		"duration", elapsed,
		"request_id", requestID,
	}

	switch {
	case code == codes.Internal || code == codes.Unknown:
		log.ErrorContext(ctx, "gRPC call failed", append(args, "error", err)...)
	case isHealthMethod(method):
		log.DebugContext(ctx, "gRPC call", args...)
	default:
		log.InfoContext(ctx, "gRPC call", args...)
	}
}

func isHealthMethod(method string) bool {
	return method == "/grpc.health.v1.Health/Check" || method == "/grpc.health.v1.Health/Watch"
}
