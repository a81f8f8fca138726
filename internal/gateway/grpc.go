// ABOUTME: Conversation gRPC service: one protocol session per bidirectional stream
// ABOUTME: Handles authentication frames, concurrent sends, request-id dedupe and shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/auth"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/protocol"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/rpc"
)

// conversationServer implements the Conversation gRPC service.
type conversationServer struct {
	gateway *Gateway
	logger  *slog.Logger
}

// newConversationServer creates a new Conversation service instance.
func newConversationServer(gw *Gateway, logger *slog.Logger) *conversationServer {
	return &conversationServer{
		gateway: gw,
		logger:  logger,
	}
}

// streamConn serializes writes to one stream and tracks requests still
// being processed.
type streamConn struct {
	stream rpc.SessionServer
	sendMu sync.Mutex
	wg     sync.WaitGroup
}

func (c *streamConn) send(f *rpc.Frame) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.stream.Send(f)
}

// Session handles the bidirectional stream for one client.
// Protocol flow:
// 1. Client sends an auth frame (or presents bearer metadata)
// 2. Server responds with a welcome frame, or an error frame
// 3. Client sends send frames; each gets a response frame
// 4. Either side sends close, or the stream ends
func (s *conversationServer) Session(stream rpc.SessionServer) error {
	ctx := stream.Context()
	sess, err := s.gateway.protocol.Open(peerAddress(ctx))
	if err != nil {
		return rpc.StreamError(stream, err)
	}
	defer sess.Close()

	conn := &streamConn{stream: stream}
	defer conn.wg.Wait()

	logger := s.logger.With("session_id", sess.ID)
	authenticated := false

	// Bearer metadata already validated by the interceptor.
	if a := auth.FromContext(ctx); a != nil {
		if err := s.authenticate(ctx, conn, sess, rpc.Auth{Token: a.Token.Value}); err != nil {
			return rpc.StreamError(stream, err)
		}
		authenticated = true
	}

	frames, recvErr := s.receive(stream)
	for {
		select {
		case <-sess.Done():
			logger.Info("session closed by server")
			_ = conn.send(rpc.CloseFrame())
			return nil

		case err := <-recvErr:
			if errors.Is(err, io.EOF) {
				logger.Info("client disconnected (EOF)")
				return nil
			}
			if status.Code(err) == codes.Canceled {
				logger.Info("session stream cancelled")
				return nil
			}
			logger.Error("receiving frame", "error", err)
			return status.Errorf(codes.Internal, "receiving frame: %v", err)

		case f := <-frames:
			if !authenticated && f.Type != rpc.FrameAuth {
				err := protocol.ErrorForCode(protocol.CodeBadRequest, "first frame must be auth")
				_ = conn.send(rpc.ErrorFrame(err))
				return rpc.StreamError(stream, err)
			}

			switch f.Type {
			case rpc.FrameAuth:
				if f.Auth == nil {
					_ = conn.send(rpc.ErrorFrame(protocol.ErrorForCode(protocol.CodeBadRequest, "auth frame without payload")))
					continue
				}
				err := s.authenticate(ctx, conn, sess, *f.Auth)
				if errors.Is(err, auth.ErrTooManyAttempts) {
					return rpc.StreamError(stream, err)
				}
				if err == nil {
					authenticated = true
				}

			case rpc.FrameSend:
				if f.Send == nil {
					_ = conn.send(rpc.ErrorFrame(protocol.ErrorForCode(protocol.CodeBadRequest, "send frame without payload")))
					continue
				}
				s.dispatch(ctx, conn, sess, *f.Send)

			case rpc.FrameClose:
				logger.Info("client closed session")
				return nil

			default:
				logger.Warn("received unexpected frame", "type", f.Type)
			}
		}
	}
}

// receive pumps frames from the stream until it fails.
func (s *conversationServer) receive(stream rpc.SessionServer) (<-chan *rpc.Frame, <-chan error) {
	frames := make(chan *rpc.Frame)
	errc := make(chan error, 1)
	go func() {
		for {
			f, err := stream.Recv()
			if err != nil {
				errc <- err
				return
			}
			select {
			case frames <- f:
			case <-stream.Context().Done():
				errc <- stream.Context().Err()
				return
			}
		}
	}()
	return frames, errc
}

// authenticate runs one authentication attempt and answers with a welcome
// or an error frame.
func (s *conversationServer) authenticate(ctx context.Context, conn *streamConn, sess *protocol.Session, a rpc.Auth) error {
	tok, err := sess.Authenticate(ctx, protocol.Credentials{
		Identity: a.Identity,
		Secret:   a.Secret,
		Token:    a.Token,
	})
	if err != nil {
		s.logger.Warn("auth failure",
			"reason", string(protocol.CodeOf(err)),
			"peer_addr", sess.Peer,
			"session_id", sess.ID,
		)
		_ = conn.send(rpc.ErrorFrame(err))
		return err
	}

	welcome := &rpc.Frame{
		Type: rpc.FrameWelcome,
		Welcome: &rpc.Welcome{
			SessionID:       sess.ID,
			Identity:        tok.Identity,
			Token:           tok.Value,
			ExpiresAt:       tok.ExpiresAt,
			Server:          s.gateway.serverID,
			ProtocolVersion: protocol.ProtocolVersion,
		},
	}
	if err := conn.send(welcome); err != nil {
		return status.Errorf(codes.Internal, "sending welcome: %v", err)
	}
	return nil
}

// dispatch processes a send frame in its own goroutine so a slow handler
// never blocks the stream. Replayed request ids are rejected.
func (s *conversationServer) dispatch(ctx context.Context, conn *streamConn, sess *protocol.Session, req protocol.Request) {
	if req.RequestID != "" && s.gateway.requestIDs.CheckAndMark(sess.ID+":"+req.RequestID) {
		resp := s.gateway.protocol.Reject(req, fmt.Errorf("%w: duplicate request id", protocol.ErrBadRequest))
		_ = conn.send(rpc.ResponseFrame(resp))
		return
	}

	conn.wg.Add(1)
	go func() {
		defer conn.wg.Done()
		resp, err := sess.Send(ctx, req)
		if err != nil {
			s.logger.Debug("request failed",
				"session_id", sess.ID,
				"request_id", req.RequestID,
				"code", protocol.CodeOf(err),
			)
		}
		if err := conn.send(rpc.ResponseFrame(resp)); err != nil {
			s.logger.Warn("failed to send response", "session_id", sess.ID, "error", err)
		}
	}()
}

// peerAddress returns the remote address of the stream, if known.
func peerAddress(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}
