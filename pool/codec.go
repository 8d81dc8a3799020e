package pool

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonSubtype is the gRPC content-subtype used for every call this pool
// makes. Executors in this system exchange wire.Request/wire.Response
// values, not generated protobuf messages, so framing is plain JSON over
// gRPC's existing stream/flow-control machinery rather than a bespoke
// transport.
const jsonSubtype = "json"

// jsonCodec implements encoding.Codec by delegating straight to
// encoding/json. Registered once via init so any grpc.ClientConn in this
// process can select it with grpc.CallContentSubtype(jsonSubtype).
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return jsonSubtype }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
