// ABOUTME: Maps protocol error codes onto gRPC status codes and back
// ABOUTME: The wire code rides in trailer metadata so clients recover the exact error

package rpc

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/protocol"
)

// ErrorCodeKey is the trailer key holding the protocol error code.
const ErrorCodeKey = "mcp-error-code"

// GRPCCode maps a protocol code to a gRPC status code.
func GRPCCode(c protocol.Code) codes.Code {
	switch c {
	case "":
		return codes.OK
	case protocol.CodeForbidden:
		return codes.PermissionDenied
	case protocol.CodeRateLimited:
		return codes.ResourceExhausted
	case protocol.CodeNotFound:
		return codes.NotFound
	case protocol.CodeShuttingDown, protocol.CodeSessionClosed:
		return codes.Unavailable
	case protocol.CodeBadRequest:
		return codes.InvalidArgument
	case protocol.CodeConversationFull:
		return codes.FailedPrecondition
	case protocol.CodeCanceled:
		return codes.Canceled
	}
	if c.IsAuth() {
		return codes.Unauthenticated
	}
	return codes.Internal
}

// StreamError ends a server stream with err, recording its protocol code
// in the trailer.
func StreamError(stream grpc.ServerStream, err error) error {
	code := protocol.CodeOf(err)
	stream.SetTrailer(metadata.Pairs(ErrorCodeKey, string(code)))
	return status.Error(GRPCCode(code), err.Error())
}

// FromStreamError rebuilds a typed error from a failed client stream. The
// trailer code wins; without one the gRPC status is mapped.
func FromStreamError(err error, trailer metadata.MD) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	if vals := trailer.Get(ErrorCodeKey); len(vals) > 0 && vals[0] != "" {
		return protocol.ErrorForCode(protocol.Code(vals[0]), st.Message())
	}

	switch st.Code() {
	case codes.Unauthenticated:
		if c := protocol.Code(st.Message()); c.IsAuth() {
			return protocol.ErrorForCode(c, st.Message())
		}
		return protocol.ErrorForCode(protocol.CodeUnauthenticated, st.Message())
	case codes.PermissionDenied:
		return protocol.ErrorForCode(protocol.CodeForbidden, st.Message())
	case codes.ResourceExhausted:
		return protocol.ErrorForCode(protocol.CodeRateLimited, st.Message())
	case codes.NotFound:
		return protocol.ErrorForCode(protocol.CodeNotFound, st.Message())
	case codes.Canceled:
		return protocol.ErrorForCode(protocol.CodeCanceled, st.Message())
	default:
		return err
	}
}
