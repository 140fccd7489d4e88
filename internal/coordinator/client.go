// Package coordinator implements the agent's side of the registration
// and heartbeat protocol: an explicit state machine, a retrying gRPC
// dial to the coordinator, and the heartbeat loop that keeps the agent's
// liveness contract current.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	grpc_retry "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/retry"
	"google.golang.org/grpc"

	"titancompute/internal/rpcmsg"
	"titancompute/internal/telemetry"
	"titancompute/internal/token"
	"titancompute/pkg/client"
	"titancompute/pkg/logger"
)

// State is a point in the agent's coordinator lifecycle.
type State int

const (
	StateInit State = iota
	StateRegistered
	StateAuthenticatingReady
	StateAuthenticatingFallback
	StateHealthy
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "REGISTERED"
	case StateAuthenticatingReady:
		return "AUTHENTICATING_READY"
	case StateAuthenticatingFallback:
		return "AUTHENTICATING_FALLBACK"
	case StateHealthy:
		return "HEALTHY"
	default:
		return "INIT"
	}
}

// DialOptions configures the retrying connection to the coordinator.
type DialOptions struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultDialOptions returns 3 retries with a 100ms linear backoff.
func DefaultDialOptions() DialOptions {
	return DialOptions{MaxRetries: 3, RetryBackoff: 100 * time.Millisecond}
}

// Dial connects to the coordinator at endpoint. The connection carries
// messages with the shared rpcmsg JSON codec and retries Unavailable/
// Aborted/DeadlineExceeded unary calls, built on top of the same
// retrying dial every inter-service client in this codebase uses.
func Dial(ctx context.Context, endpoint string, opts DialOptions) (*grpc.ClientConn, error) {
	return client.NewGRPCClient(ctx, client.ClientConfig{
		Address:      endpoint,
		MaxRetries:   opts.MaxRetries,
		RetryBackoff: opts.RetryBackoff,
	}, grpc.WithDefaultCallOptions(grpc.ForceCodec(rpcmsg.Codec)))
}

// Status describes coordinator connectivity: the lifecycle state and
// whether token validation has a public key configured.
type Status struct {
	State           State
	TokenConfigured bool
}

// Client owns the agent's relationship with the coordinator: the
// connection, the current lifecycle state, and the heartbeat loop.
type Client struct {
	conn   *grpc.ClientConn
	stub   rpcmsg.CoordinatorServiceClient
	probe  *telemetry.Probe
	tokens *token.Validator

	agentID           string
	endpoint          string
	maxJobs           int
	supportedModels   []string
	backendURL        string
	heartbeatInterval time.Duration

	mu    sync.RWMutex
	state State

	activeSessionCount func() int
}

// Config supplies everything the Client needs to register and heartbeat.
type Config struct {
	AgentID           string
	Endpoint          string // this agent's own address, advertised to the coordinator
	MaxConcurrentJobs int
	SupportedModels   []string
	BackendURL        string
	HeartbeatInterval time.Duration
}

// New builds a Client bound to conn. ActiveSessionCount reports the
// current session count for heartbeat payloads.
func New(conn *grpc.ClientConn, cfg Config, probe *telemetry.Probe, tokens *token.Validator, activeSessionCount func() int) *Client {
	return &Client{
		conn:               conn,
		stub:               rpcmsg.NewCoordinatorServiceClient(conn),
		probe:              probe,
		tokens:             tokens,
		agentID:            cfg.AgentID,
		endpoint:           cfg.Endpoint,
		maxJobs:            cfg.MaxConcurrentJobs,
		supportedModels:    cfg.SupportedModels,
		backendURL:         cfg.BackendURL,
		heartbeatInterval:  cfg.HeartbeatInterval,
		state:              StateInit,
		activeSessionCount: activeSessionCount,
	}
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Register registers this agent with the coordinator. Failure here is
// fatal to the process: an unrouted agent cannot serve traffic.
func (c *Client) Register(ctx context.Context) error {
	sample, err := c.probe.Collect()
	if err != nil {
		return fmt.Errorf("sample telemetry for registration: %w", err)
	}

	reg := &rpcmsg.AgentRegistration{
		AgentID:         c.agentID,
		Endpoint:        c.endpoint,
		TotalVRAMMB:     sample.TotalVRAMMB,
		TotalRAMMB:      sample.TotalRAMMB,
		MaxJobs:         c.maxJobs,
		SupportedModels: c.supportedModels,
		Capabilities: map[string]string{
			"gpu_available": fmt.Sprintf("%t", sample.TotalVRAMMB > 0),
			"backend_url":   c.backendURL,
		},
	}

	resp, err := c.stub.RegisterAgent(ctx, reg)
	if err != nil {
		return fmt.Errorf("register with coordinator: %w", err)
	}

	logger.Info("registered with coordinator", "status", resp.Status)
	c.setState(StateRegistered)
	return nil
}

// ConfigurePublicKey fetches the coordinator's signing key and configures
// the token validator with it. Failure degrades to fallback validation
// rather than stopping the agent.
func (c *Client) ConfigurePublicKey(ctx context.Context) {
	resp, err := c.stub.GetPublicKey(ctx, &rpcmsg.Empty{})
	if err != nil {
		logger.Warn("public key fetch failed, falling back to basic validation", "error", err)
		c.setState(StateAuthenticatingFallback)
		return
	}

	if err := c.tokens.Configure([]byte(resp.PublicKeyPEM)); err != nil {
		logger.Warn("public key configuration failed, falling back to basic validation", "error", err)
		c.setState(StateAuthenticatingFallback)
		return
	}

	logger.Info("token validation configured", "algorithm", resp.Algorithm, "issuer", resp.Issuer)
	c.setState(StateAuthenticatingReady)
}

// RunHeartbeatLoop reports health on a fixed cadence until ctx is
// canceled. Each failure is logged and retried after 5s; the loop never
// exits on its own.
func (c *Client) RunHeartbeatLoop(ctx context.Context) {
	c.setState(StateHealthy)

	for {
		if err := c.reportHealth(ctx); err != nil {
			logger.Error("health reporting failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.heartbeatInterval):
		}
	}
}

func (c *Client) reportHealth(ctx context.Context) error {
	sample, err := c.probe.Collect()
	if err != nil {
		return fmt.Errorf("sample telemetry for heartbeat: %w", err)
	}

	start := time.Now()

	// Retries are disabled for this call: the retry interceptor installed by
	// Dial refuses client-streaming RPCs when retries are enabled.
	stream, err := c.stub.ReportHealth(ctx, grpc_retry.Disable())
	if err != nil {
		return fmt.Errorf("open heartbeat stream: %w", err)
	}

	update := &rpcmsg.HealthUpdate{
		AgentID:     c.agentID,
		FreeVRAMMB:  sample.FreeVRAMMB,
		FreeRAMMB:   sample.FreeRAMMB,
		RunningJobs: c.activeSessionCount(),
		QueuedJobs:  0,
		CPUPercent:  sample.CPUPercent,
		TimestampMs: sample.CollectedAt.UnixMilli(),
	}
	// RTTMs is sent as 0: the round trip is measured only after this update
	// has been sent, and that measurement is logged, not reported.
	update.RTTMs = 0

	if err := stream.Send(update); err != nil {
		return fmt.Errorf("send heartbeat: %w", err)
	}

	ack, err := stream.CloseAndRecv()
	if err != nil {
		return fmt.Errorf("receive heartbeat ack: %w", err)
	}

	rtt := time.Since(start)
	logger.Debug("heartbeat acknowledged", "status", ack.Status, "rtt_ms", rtt.Milliseconds())
	return nil
}

// Close releases the coordinator connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
