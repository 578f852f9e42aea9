package observability

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ai-voice-session-service/internal/observability/logging"
	"ai-voice-session-service/internal/observability/metrics"
)

// UnaryServerInterceptor counts every unary call by method and status code.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observeCall(info.FullMethod, "unary", start, err)
		return resp, err
	}
}

// StreamServerInterceptor is the stream counterpart of UnaryServerInterceptor.
// Health Watch is the only stream served; it ends when the client leaves.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observeCall(info.FullMethod, "stream", start, err)
		return err
	}
}

func observeCall(method, kind string, start time.Time, err error) {
	code := status.Code(err)
	metrics.DefaultMetrics.RecordGRPCRequest(method, code.String())

	// Health checks arrive every few seconds; only failures log above debug.
	l := logging.WithComponent("grpc")
	ev := l.Debug()
	if code != codes.OK && code != codes.Canceled {
		ev = l.Warn().Err(err)
	}
	ev.Str("method", method).
		Str("kind", kind).
		Str("code", code.String()).
		Dur("duration", time.Since(start)).
		Msg("gRPC call served")
}
