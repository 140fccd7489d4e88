package interceptors

import (
	"context"

	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"titancompute/pkg/logger"
)

func recoveryHandler(ctx context.Context, p any) error {
	logger.Log.Error("recovered from panic in gRPC handler", "panic", p)
	return status.Errorf(codes.Internal, "internal server error")
}

// RecoveryInterceptor turns a panic inside any unary handler into an
// Internal status instead of crashing the process.
func RecoveryInterceptor() grpc.UnaryServerInterceptor {
	return grpc_recovery.UnaryServerInterceptor(grpc_recovery.WithRecoveryHandlerContext(recoveryHandler))
}

// StreamRecoveryInterceptor is the streaming counterpart of RecoveryInterceptor.
func StreamRecoveryInterceptor() grpc.StreamServerInterceptor {
	return grpc_recovery.StreamServerInterceptor(grpc_recovery.WithRecoveryHandlerContext(recoveryHandler))
}
