// Package rpc implements px's remote builder protocol: a gRPC service that
// lets a build run on a remote compute node instead of locally, the way
// distri's "distri builder" subcommand (cmd/distri/builder.go, pb/builder)
// runs a remote build server to "leverage additional compute resources...
// from a cluster or the public cloud".
//
// Unlike distri's protobuf-generated messages, px's wire messages are plain
// Go structs carried over grpc using a JSON codec (registered below)
// instead of protobuf wire encoding — this keeps BuildRequest/BuildResult
// symmetric with the rest of px's JSON-based object model while
// still getting gRPC's framing, multiplexing, and deadline propagation.
package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements grpc/encoding.Codec by marshaling with encoding/json
// instead of protobuf. Any exported Go struct can be sent or received.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }
