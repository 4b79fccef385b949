package transport

import "google.golang.org/grpc"

// NewGRPCServer returns a grpc.Server configured to use the gob codec for
// every call it serves, regardless of what content-subtype a client
// advertises.
func NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ForceServerCodec(gobCodec{})}, opts...)
	return grpc.NewServer(opts...)
}
