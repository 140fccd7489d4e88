package agentserver

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"titancompute/internal/modelmanager"
	"titancompute/internal/rpcmsg"
	"titancompute/internal/telemetry"
	"titancompute/internal/token"
	"titancompute/pkg/logger"
)

func init() {
	logger.Init("error")
}

type fakeBackend struct {
	mu        sync.Mutex
	models    []string
	genChunks []modelmanager.GenerateChunk
}

func (f *fakeBackend) ListModels(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.models...), nil
}

func (f *fakeBackend) PullModel(ctx context.Context, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models = append(f.models, model)
	return nil
}

func (f *fakeBackend) Generate(ctx context.Context, model, prompt string, options map[string]any) (<-chan modelmanager.GenerateChunk, error) {
	out := make(chan modelmanager.GenerateChunk, len(f.genChunks))
	for _, c := range f.genChunks {
		out <- c
	}
	close(out)
	return out, nil
}

func (f *fakeBackend) ShowModel(ctx context.Context, model string) (map[string]any, error) {
	return map[string]any{"name": model}, nil
}

type fakeGPU struct{}

func (fakeGPU) Sample() (int, int, *int, bool) { return 0, 0, nil, false }

func newTestServer(t *testing.T, backend *fakeBackend) *Server {
	t.Helper()
	probe := telemetry.NewProbe(fakeGPU{})
	registry := modelmanager.NewRegistry(nil)
	manager := modelmanager.NewManager(backend, registry, probe)
	registry.MarkLoaded("llama3:q4_k_m")
	validator := token.NewValidator("agent-1")
	return New("agent-1", validator, manager, probe)
}

func startTestAgent(t *testing.T, srv *Server) (rpcmsg.AgentServiceClient, func()) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	grpcServer := grpc.NewServer(grpc.ForceServerCodec(rpcmsg.Codec))
	rpcmsg.RegisterAgentServiceServer(grpcServer, srv)
	go grpcServer.Serve(lis)

	conn, err := grpc.NewClient(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rpcmsg.Codec)),
	)
	if err != nil {
		grpcServer.Stop()
		t.Fatalf("dial: %v", err)
	}

	return rpcmsg.NewAgentServiceClient(conn), func() {
		conn.Close()
		grpcServer.Stop()
	}
}

func TestStreamInferenceRejectsShortFallbackToken(t *testing.T) {
	srv := newTestServer(t, &fakeBackend{models: []string{"llama3:q4_k_m"}})
	client, stop := startTestAgent(t, srv)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.StreamInference(ctx, &rpcmsg.StreamRequest{SessionToken: "short", Model: "llama3:q4_k_m", Prompt: "hi"})
	if err != nil {
		t.Fatalf("StreamInference() error = %v", err)
	}

	_, recvErr := stream.Recv()
	if status.Code(recvErr) != codes.Unauthenticated {
		t.Fatalf("got error %v, want Unauthenticated", recvErr)
	}
}

func TestStreamInferenceAcceptsFallbackTokenAndStreams(t *testing.T) {
	srv := newTestServer(t, &fakeBackend{
		models:    []string{"llama3:q4_k_m"},
		genChunks: []modelmanager.GenerateChunk{{Response: "2"}, {Response: "+2=4", Done: true}},
	})
	client, stop := startTestAgent(t, srv)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.StreamInference(ctx, &rpcmsg.StreamRequest{
		SessionToken: "xxxxxxxxxxxx",
		Model:        "llama3:q4_k_m",
		Prompt:       "What is 2+2?",
	})
	if err != nil {
		t.Fatalf("StreamInference() error = %v", err)
	}

	var chunks []*rpcmsg.StreamResponse
	for {
		chunk, err := stream.Recv()
		if err != nil {
			break
		}
		chunks = append(chunks, chunk)
		if chunk.Done {
			break
		}
	}

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if !chunks[1].Done {
		t.Error("expected last chunk to be done")
	}
	if chunks[0].Metadata["model"] != "llama3:q4_k_m" {
		t.Errorf("got metadata %+v, want model llama3:q4_k_m", chunks[0].Metadata)
	}

	if got := srv.ActiveSessionCount(); got != 0 {
		t.Errorf("ActiveSessionCount() = %d after stream completed, want 0", got)
	}
}

func TestGetStatusReportsCounters(t *testing.T) {
	srv := newTestServer(t, &fakeBackend{models: []string{"llama3:q4_k_m"}})

	resp, err := srv.GetStatus(context.Background(), &rpcmsg.AgentStatusRequest{})
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if resp.AgentID != "agent-1" {
		t.Errorf("AgentID = %q, want agent-1", resp.AgentID)
	}
	if resp.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", resp.Status)
	}
	if resp.Capabilities["jwt_validation"] != "false" {
		t.Errorf("jwt_validation = %q, want false (validator unconfigured)", resp.Capabilities["jwt_validation"])
	}
}
