package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered as the grpc.CallContentSubtype / the content-subtype
// negotiated for every RPC in this package's ServiceDesc.
const codecName = "tripwirejson"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements google.golang.org/grpc/encoding.Codec by marshaling
// the plain Go structs in this package as JSON. grpc-go's default codec
// requires proto.Message; since no protobuf-generated types exist for this
// service (see the package doc comment), messages are carried as JSON
// instead of the wire-format protobuf would normally produce. This is an
// explicit, documented deviation from real gRPC wire compatibility — see
// spec.md §7's non-goal and DESIGN.md.
type jsonCodec struct{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal %T: %w", v, err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: unmarshal into %T: %w", v, err)
	}
	return nil
}
