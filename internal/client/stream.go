// ABOUTME: One session stream: a receive loop routing responses to waiting requests by id
// ABOUTME: Welcome and error frames are handed to the single in-progress authentication

package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	"google.golang.org/grpc"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/protocol"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/rpc"
)

// stream wraps a session stream. Once it fails every waiter is released
// and later calls return the recorded error.
type stream struct {
	rpc    rpc.SessionClient
	cancel context.CancelFunc
	logger *slog.Logger

	sendMu sync.Mutex

	mu        sync.Mutex
	pending   map[string]chan protocol.Response
	authReply chan *rpc.Frame
	err       error

	done chan struct{}
}

func openStream(conn grpc.ClientConnInterface, logger *slog.Logger) (*stream, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sc, err := rpc.OpenSession(ctx, conn)
	if err != nil {
		cancel()
		return nil, rpc.FromStreamError(err, nil)
	}

	s := &stream{
		rpc:     sc,
		cancel:  cancel,
		logger:  logger,
		pending: make(map[string]chan protocol.Response),
		done:    make(chan struct{}),
	}
	go s.receive()
	return s, nil
}

func (s *stream) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// failure returns the error that ended the stream, or nil.
func (s *stream) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// fail records err as the stream's failure and releases pending requests.
// The first error wins.
func (s *stream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}

func (s *stream) send(f *rpc.Frame) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	err := s.rpc.Send(f)
	if errors.Is(err, io.EOF) {
		// The stream has ended; Recv reports the actual status.
		<-s.done
		return s.failure()
	}
	return err
}

func (s *stream) receive() {
	defer close(s.done)
	for {
		f, err := s.rpc.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = protocol.ErrSessionClosed
			} else {
				err = rpc.FromStreamError(err, s.rpc.Trailer())
			}
			s.fail(err)
			return
		}

		switch f.Type {
		case rpc.FrameWelcome, rpc.FrameError:
			s.deliverAuth(f)
		case rpc.FrameResponse:
			if f.Response != nil {
				s.deliver(*f.Response)
			}
		case rpc.FrameClose:
			s.logger.Info("server closed session")
		default:
			s.logger.Warn("received unexpected frame", "type", f.Type)
		}
	}
}

func (s *stream) deliver(resp protocol.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.pending[resp.RequestID]
	if !ok {
		s.logger.Debug("response for unknown request", "request_id", resp.RequestID)
		return
	}
	delete(s.pending, resp.RequestID)
	ch <- resp
}

func (s *stream) deliverAuth(f *rpc.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.authReply == nil {
		if err := f.Err(); err != nil {
			s.logger.Warn("unsolicited error frame", "code", f.Error.Code, "error", err)
		}
		return
	}
	s.authReply <- f
	s.authReply = nil
}

// authenticate sends one auth frame and waits for the welcome. Callers
// serialize authentication.
func (s *stream) authenticate(ctx context.Context, a rpc.Auth) (*rpc.Welcome, error) {
	reply := make(chan *rpc.Frame, 1)
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return nil, err
	}
	s.authReply = reply
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.authReply = nil
		s.mu.Unlock()
	}()

	if err := s.send(rpc.AuthFrame(a)); err != nil {
		return nil, err
	}

	select {
	case f := <-reply:
		if err := f.Err(); err != nil {
			return nil, err
		}
		if f.Welcome == nil {
			return nil, protocol.ErrorForCode(protocol.CodeInternal, "welcome frame without payload")
		}
		return f.Welcome, nil
	case <-s.done:
		return nil, s.failure()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// request sends req under a fresh request id and waits for its response.
// The response is returned even when it carries an error.
func (s *stream) request(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	req.RequestID = ulid.Make().String()
	ch := make(chan protocol.Response, 1)

	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return protocol.Response{}, err
	}
	s.pending[req.RequestID] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, req.RequestID)
		s.mu.Unlock()
	}()

	if err := s.send(rpc.SendFrame(req)); err != nil {
		return protocol.Response{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return protocol.Response{}, s.failure()
		}
		return resp, resp.Err()
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	}
}

// close ends the stream. Requests still waiting fail with ErrNotConnected.
func (s *stream) close() {
	s.fail(ErrNotConnected)

	s.sendMu.Lock()
	if s.alive() {
		_ = s.rpc.Send(rpc.CloseFrame())
		_ = s.rpc.CloseSend()
	}
	s.sendMu.Unlock()

	s.cancel()
	<-s.done
}
