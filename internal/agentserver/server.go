// Package agentserver implements the agent's external RPC surface:
// StreamInference and GetStatus. It owns session bookkeeping exclusively —
// no other package mutates active_sessions or total_requests — and
// translates every internal failure into the gRPC status the caller sees.
package agentserver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"titancompute/internal/modelmanager"
	"titancompute/internal/rpcmsg"
	"titancompute/internal/telemetry"
	"titancompute/internal/token"
	pkgerrors "titancompute/pkg/apperror"
	"titancompute/pkg/logger"
	tracing "titancompute/pkg/telemetry"
)

// session is the bookkeeping record for one open StreamInference call.
type session struct {
	id             string
	clientID       string
	requestedModel string
	startedAt      time.Time
}

// Server implements rpcmsg.AgentServiceServer. It is the only owner of
// session state; the model manager, token validator, and telemetry probe
// it depends on are exclusively owned by their own packages.
type Server struct {
	agentID   string
	validator *token.Validator
	manager   *modelmanager.Manager
	probe     *telemetry.Probe

	mu             sync.RWMutex
	activeSessions map[string]*session
	totalRequests  int64
}

// New builds a Server for agentID, serving inference through manager and
// validating bearer tokens with validator.
func New(agentID string, validator *token.Validator, manager *modelmanager.Manager, probe *telemetry.Probe) *Server {
	return &Server{
		agentID:        agentID,
		validator:      validator,
		manager:        manager,
		probe:          probe,
		activeSessions: make(map[string]*session),
	}
}

// ActiveSessionCount reports the number of currently open streams — used
// as the coordinator client's running_jobs heartbeat field.
func (s *Server) ActiveSessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.activeSessions)
}

func (s *Server) addSession(sess *session) {
	s.mu.Lock()
	s.activeSessions[sess.id] = sess
	s.mu.Unlock()
}

func (s *Server) removeSession(id string) {
	s.mu.Lock()
	delete(s.activeSessions, id)
	s.mu.Unlock()
}

func (s *Server) recordRequest() {
	s.mu.Lock()
	s.totalRequests++
	s.mu.Unlock()
}

// StreamInference validates the bearer token, opens a session, and
// forwards the model manager's generated chunks to the caller until the
// backend signals completion, the peer disconnects, or an error occurs.
// total_requests is incremented and the session removed on every exit
// path, per the scoped-cleanup contract.
func (s *Server) StreamInference(req *rpcmsg.StreamRequest, stream rpcmsg.AgentService_StreamInferenceServer) (err error) {
	claims, ok := s.validator.Validate(req.SessionToken)
	if !ok {
		return status.Error(codes.Unauthenticated, "session token rejected")
	}

	sess := &session{
		id:             uuid.NewString(),
		requestedModel: req.Model,
		startedAt:      time.Now(),
	}
	if claims != nil {
		sess.clientID = claims.ClientID
	}

	s.addSession(sess)
	defer func() {
		s.removeSession(sess.id)
		s.recordRequest()
	}()

	ctx := stream.Context()
	tracing.SetAttributes(ctx, tracing.InferenceAttributes(sess.id, sess.clientID, req.Model, "")...)

	chunks, genErr := s.manager.StreamInference(ctx, req.Model, req.Prompt, toOptions(req.Options))
	if genErr != nil {
		logger.Error("stream inference failed to start", "session_id", sess.id, "model", req.Model, "error", genErr)
		tracing.SetError(ctx, genErr)
		return pkgerrors.ToGRPC(pkgerrors.Wrap(genErr, pkgerrors.CodeInternal, "failed to start inference"))
	}

	chunkCount := 0
	variantSeen := false

	for result := range chunks {
		if !variantSeen {
			tracing.SetAttributes(ctx, tracing.InferenceAttributes(sess.id, sess.clientID, req.Model, result.Variant)...)
			variantSeen = true
		}

		if result.Chunk.Err != nil {
			logger.Error("inference chunk error", "session_id", sess.id, "error", result.Chunk.Err)
			tracing.SetError(ctx, result.Chunk.Err)
			return pkgerrors.ToGRPC(pkgerrors.Wrap(result.Chunk.Err, pkgerrors.CodeInternal, "inference failed mid-stream"))
		}
		chunkCount++

		resp := &rpcmsg.StreamResponse{
			SessionToken: req.SessionToken,
			Content:      result.Chunk.Response,
			Done:         result.Chunk.Done,
			Token:        result.Chunk.Response,
			CreatedAt:    time.Now().UnixMilli(),
			Metadata: map[string]string{
				"model":      result.Variant,
				"session_id": sess.id,
			},
		}

		if sendErr := stream.Send(resp); sendErr != nil {
			logger.Warn("failed to send inference chunk, peer likely gone", "session_id", sess.id, "error", sendErr)
			return status.Error(codes.Internal, "failed to deliver inference chunk")
		}

		select {
		case <-ctx.Done():
			logger.Info("stream canceled by peer", "session_id", sess.id)
			return status.FromContextError(ctx.Err()).Err()
		default:
		}
	}

	tracing.AddEvent(ctx, "inference.stream_completed", attribute.Int(tracing.AttrChunks, chunkCount))
	return nil
}

func toOptions(raw map[string]string) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out
}

// GetStatus returns a structured snapshot of this agent's load, memory,
// and capabilities.
func (s *Server) GetStatus(ctx context.Context, _ *rpcmsg.AgentStatusRequest) (*rpcmsg.AgentStatusResponse, error) {
	sysStatus, err := s.manager.GetSystemStatus()
	if err != nil {
		return nil, pkgerrors.ToGRPC(pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to collect system status"))
	}

	loaded := s.manager.LoadedVariants()

	s.mu.RLock()
	activeCount := len(s.activeSessions)
	totalRequests := s.totalRequests
	s.mu.RUnlock()

	sample, sampleErr := s.probe.Collect()
	if sampleErr != nil {
		logger.Warn("telemetry sample failed for GetStatus", "error", sampleErr)
	}

	tracing.SetAttributes(ctx, tracing.StatusAttributes(s.agentID, activeCount, sample.FreeRAMMB)...)

	return &rpcmsg.AgentStatusResponse{
		AgentID:                s.agentID,
		Status:                 "healthy",
		FreeVRAMMB:             sample.FreeVRAMMB,
		FreeRAMMB:              sample.FreeRAMMB,
		ActiveSessions:         activeCount,
		TotalRequestsProcessed: totalRequests,
		ModelLoaded:            strings.Join(loaded, ","),
		Capabilities: map[string]string{
			"quantization_support": "true",
			"total_models":         fmt.Sprintf("%d", len(loaded)),
			"jwt_validation":       fmt.Sprintf("%t", s.validator.Configured()),
			"memory_tier":          sysStatus.RecommendedTier.String(),
			"is_arm":               fmt.Sprintf("%t", sysStatus.IsARM),
		},
	}, nil
}

var _ rpcmsg.AgentServiceServer = (*Server)(nil)
