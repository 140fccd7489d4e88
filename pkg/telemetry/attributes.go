package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Standard attribute keys for the agent's inference and status spans.
const (
	// Inference session.
	AttrSessionID = "inference.session_id"
	AttrClientID  = "inference.client_id"
	AttrModel     = "inference.model"
	AttrVariant   = "inference.variant"
	AttrChunks    = "inference.chunks_streamed"

	// Quantization.
	AttrQuantizationFormat = "quantization.format"
	AttrQuantizationTier   = "quantization.tier"

	// Agent status.
	AttrAgentID        = "agent.id"
	AttrActiveSessions = "agent.active_sessions"
	AttrFreeRAMMB      = "agent.free_ram_mb"
)

// InferenceAttributes returns the attributes identifying one
// StreamInference session: who asked, for which base model, and which
// quantized variant is actually serving it (empty until resolved).
func InferenceAttributes(sessionID, clientID, model, variant string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSessionID, sessionID),
		attribute.String(AttrClientID, clientID),
		attribute.String(AttrModel, model),
		attribute.String(AttrVariant, variant),
	}
}

// QuantizationAttributes describes the format and tier a variant was
// selected under.
func QuantizationAttributes(format, tier string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrQuantizationFormat, format),
		attribute.String(AttrQuantizationTier, tier),
	}
}

// StatusAttributes describes a GetStatus snapshot.
func StatusAttributes(agentID string, activeSessions, freeRAMMB int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrAgentID, agentID),
		attribute.Int(AttrActiveSessions, activeSessions),
		attribute.Int(AttrFreeRAMMB, freeRAMMB),
	}
}
