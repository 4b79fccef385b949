// Package transport wires the replication core's role handlers to gRPC,
// using a gob-based codec so request/response types round-trip as plain Go
// structs instead of requiring generated protobuf bindings for every
// message the core already defines.
package transport

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is registered with grpc's encoding package and selected via
// grpc.ForceServerCodec / grpc.ForceCodec on both ends of the connection.
const CodecName = "gob"

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// gobCodec implements encoding.Codec by gob-encoding whatever struct value
// it is handed. It is registered once at package init and selected per-call
// or per-server via grpc's codec override options, never as the process
// default, so other gRPC clients in the same binary are unaffected.
type gobCodec struct{}

func (gobCodec) Name() string { return CodecName }

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("gob marshal: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("gob unmarshal: %w", err)
	}
	return nil
}
