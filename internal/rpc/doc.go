// Package rpc defines the gRPC session stream shared by the gateway and the
// client. Frames are JSON encoded through a registered codec, so the
// service descriptor here stands in for generated protobuf stubs.
package rpc
