// Package bus is the TCP routing gateway. Each connection is served by one
// goroutine that reads frames, dispatches the payload to the handler
// registered for the frame's service identifier, and writes the framed
// response. Errors become error frames on the same connection; only a
// failed read closes it.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/example/campus-reservation/internal/protocol"
)

// Handler processes one decoded request payload for a service.
type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	return f(ctx, payload)
}

// malformedService is the identifier carried by error frames answering
// requests whose frame could not be decoded at all.
const malformedService = "error"

// errorEnvelope is the single error response shape of the bus.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Server routes frames to registered handlers. The routing table is fixed
// at construction; Serve never mutates it, so lookups need no locking.
type Server struct {
	handlers       map[string]Handler
	errorKind      func(error) string
	requestTimeout time.Duration
	logger         *slog.Logger

	mu        sync.Mutex
	listener  net.Listener
	conns     map[net.Conn]struct{}
	closed    bool
	serveDone chan struct{}
}

// NewServer builds a server over the given routing table. Keys are
// normalized to the wire's 5-character form, so handlers can be registered
// under either "book" or "book ". errorKind maps handler errors to the
// stable kind strings of error envelopes; nil falls back to "downstream_error"
// for everything. A non-positive requestTimeout disables per-request deadlines.
func NewServer(handlers map[string]Handler, errorKind func(error) string, requestTimeout time.Duration, logger *slog.Logger) *Server {
	table := make(map[string]Handler, len(handlers))
	for service, handler := range handlers {
		table[protocol.NormalizeService(service)] = handler
	}
	if errorKind == nil {
		errorKind = func(error) string { return "downstream_error" }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		handlers:       table,
		errorKind:      errorKind,
		requestTimeout: requestTimeout,
		logger:         logger,
		conns:          make(map[net.Conn]struct{}),
		serveDone:      make(chan struct{}),
	}
}

// Serve accepts connections on the listener until Shutdown or ctx
// cancellation. It always returns a non-nil error; after a clean shutdown
// the error is net.ErrClosed.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return net.ErrClosed
	}
	s.listener = listener
	s.mu.Unlock()
	defer close(s.serveDone)

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return net.ErrClosed
			}
			return err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			wg.Wait()
			return net.ErrClosed
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// Shutdown closes the listener and every open connection.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	listener := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	if listener != nil {
		_ = listener.Close()
	}
	for _, conn := range conns {
		_ = conn.Close()
	}
	if listener != nil {
		<-s.serveDone
	}
}

// serveConn reads frames until the peer disconnects. Every request gets
// exactly one response frame; malformed input and handler failures produce
// error frames instead of closing the connection.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	logger := s.logger.With("remote_addr", conn.RemoteAddr().String())
	logger.Debug("connection opened")

	for {
		service, payload, err := protocol.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				logger.Debug("connection closed by peer")
				return
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				logger.Debug("connection closed mid-frame")
				return
			}
			// The stream position is still known: ReadFrame consumed the
			// declared length, so answer and keep reading.
			logger.Warn("malformed frame", "error", err)
			if writeErr := s.writeError(conn, malformedService, "malformed_frame", err.Error()); writeErr != nil {
				logger.Warn("write error frame failed", "error", writeErr)
				return
			}
			continue
		}

		if err := s.respond(ctx, conn, service, payload); err != nil {
			logger.Warn("write response failed", "service", service, "error", err)
			return
		}
	}
}

// respond dispatches one request and writes its response frame. The
// returned error is a write failure; handler errors are encoded into the
// response instead.
func (s *Server) respond(ctx context.Context, conn net.Conn, service string, payload json.RawMessage) error {
	handler, ok := s.handlers[service]
	if !ok {
		s.logger.Warn("unknown service requested", "service", service)
		return s.writeError(conn, service, "service_not_found",
			fmt.Sprintf("no handler registered for service %q", service))
	}

	result, err := s.dispatch(ctx, handler, payload)
	if err != nil {
		return s.writeError(conn, service, s.errorKind(err), err.Error())
	}
	return protocol.WriteFrame(conn, service, result)
}

// dispatch runs the handler under the request timeout and converts panics
// into errors so one bad request cannot take down the connection goroutine.
func (s *Server) dispatch(ctx context.Context, handler Handler, payload json.RawMessage) (result any, err error) {
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", "panic", r)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, payload)
}

func (s *Server) writeError(conn net.Conn, service, kind, message string) error {
	return protocol.WriteFrame(conn, service, errorEnvelope{
		Error: errorBody{Kind: kind, Message: message},
	})
}
