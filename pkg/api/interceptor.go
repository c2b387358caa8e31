package api

import (
	"context"
	"strings"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor logs each unary gRPC call and counts it by method and
// status code.
func LoggingInterceptor() grpc.UnaryServerInterceptor {
	logger := log.WithComponent("grpc")
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		timer := metrics.NewTimer()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		metrics.APIRequestsTotal.WithLabelValues(methodName(info.FullMethod), code.String()).Inc()

		evt := logger.Debug()
		if err != nil && code != codes.NotFound {
			evt = logger.Warn().Err(err)
		}
		evt.Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", timer.Duration()).
			Msg("gRPC request")
		return resp, err
	}
}

// methodName extracts the method from a full path
// ("/grpc.health.v1.Health/Check" -> "Check")
func methodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return fullMethod
	}
	return parts[len(parts)-1]
}
