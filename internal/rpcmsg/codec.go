package rpcmsg

import "encoding/json"

// CodecName is negotiated over the wire via the grpc "content-subtype"
// the default protobuf codec that ships with google.golang.org/grpc
// expects every message to implement proto.Message, which these plain
// structs deliberately do not — there is no .proto source anywhere in
// this project to generate that glue from. jsonCodec is registered via
// grpc.ForceServerCodec/grpc.ForceCodec, a documented first-class
// extension point for exactly this situation, so the rest of grpc-go's
// machinery (streaming, deadlines, status codes, interceptors) behaves
// identically to a protobuf service.
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

// Codec is the shared encoding.Codec instance used by both the Agent RPC
// server/client and the Coordinator RPC server/client in this project.
var Codec = jsonCodec{}
