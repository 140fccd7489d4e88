package client

import (
	"context"
	"time"

	grpc_retry "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/retry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
)

type ClientConfig struct {
	Address      string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// NewGRPCClient создает соединение с Retry и Timeout. extra is appended
// after the retry/transport defaults, so a caller that needs a non-default
// wire codec (e.g. a hand-rolled JSON codec in place of protobuf) can pass
// grpc.WithDefaultCallOptions(grpc.ForceCodec(...)) without this package
// needing to know about it.
func NewGRPCClient(_ context.Context, cfg ClientConfig, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts := []grpc_retry.CallOption{
		grpc_retry.WithBackoff(grpc_retry.BackoffLinear(cfg.RetryBackoff)),
		grpc_retry.WithCodes(codes.Unavailable, codes.Aborted, codes.DeadlineExceeded),
		grpc_retry.WithMax(uint(cfg.MaxRetries)),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, grpc_retry.WithPerRetryTimeout(cfg.Timeout))
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(
			grpc_retry.UnaryClientInterceptor(opts...),
		),
		grpc.WithChainStreamInterceptor(
			grpc_retry.StreamClientInterceptor(opts...),
		),
	}
	dialOpts = append(dialOpts, extra...)

	return grpc.NewClient(cfg.Address, dialOpts...)
}
