// Package rpcmsg defines the wire messages exchanged between this agent,
// its clients, and its coordinator, plus the hand-written gRPC service
// descriptors that carry them. See codec.go for why these travel as JSON
// over grpc-go rather than as generated protobuf types.
package rpcmsg

// Empty is sent where a method takes no parameters.
type Empty struct{}

// AgentRegistration is what an agent sends the coordinator on startup.
type AgentRegistration struct {
	AgentID         string            `json:"agent_id"`
	Endpoint        string            `json:"endpoint"`
	TotalVRAMMB     int               `json:"total_vram_mb"`
	TotalRAMMB      int               `json:"total_ram_mb"`
	MaxJobs         int               `json:"max_jobs"`
	SupportedModels []string          `json:"supported_models"`
	Capabilities    map[string]string `json:"capabilities"`
}

// RegisterAgentResponse acknowledges a registration.
type RegisterAgentResponse struct {
	Status string `json:"status"`
}

// PublicKeyResponse carries the coordinator's signing key for token
// validation.
type PublicKeyResponse struct {
	PublicKeyPEM string `json:"public_key_pem"`
	Algorithm    string `json:"algorithm"`
	Issuer       string `json:"issuer"`
}

// HealthUpdate is the single message sent on each heartbeat.
type HealthUpdate struct {
	AgentID     string  `json:"agent_id"`
	FreeVRAMMB  int     `json:"free_vram_mb"`
	FreeRAMMB   int     `json:"free_ram_mb"`
	RunningJobs int     `json:"running_jobs"`
	QueuedJobs  int     `json:"queued_jobs"`
	CPUPercent  float64 `json:"cpu_percent"`
	RTTMs       float64 `json:"rtt_ms"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// HealthAck acknowledges one HealthUpdate.
type HealthAck struct {
	Status string `json:"status"`
}

// StreamRequest is a client's request to begin an inference stream.
type StreamRequest struct {
	SessionToken string            `json:"session_token"`
	Model        string            `json:"model"`
	Prompt       string            `json:"prompt"`
	Options      map[string]string `json:"options"`
}

// StreamResponse is one chunk of a StreamInference response.
type StreamResponse struct {
	SessionToken string            `json:"session_token"`
	Content      string            `json:"content"`
	Done         bool              `json:"done"`
	Token        string            `json:"token"`
	CreatedAt    int64             `json:"created_at"`
	Metadata     map[string]string `json:"metadata"`
}

// AgentStatusRequest requests a GetStatus snapshot. Currently carries no
// fields but is a distinct type so the RPC surface can grow one without a
// breaking wire change.
type AgentStatusRequest struct{}

// AgentStatusResponse is the GetStatus result.
type AgentStatusResponse struct {
	AgentID                string            `json:"agent_id"`
	Status                 string            `json:"status"`
	FreeVRAMMB             int               `json:"free_vram_mb"`
	FreeRAMMB              int               `json:"free_ram_mb"`
	ActiveSessions         int               `json:"active_sessions"`
	TotalRequestsProcessed int64             `json:"total_requests_processed"`
	ModelLoaded            string            `json:"model_loaded"`
	Capabilities           map[string]string `json:"capabilities"`
}
