package quorumvote

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/Lord-Y/quorumvote/logger"
	"github.com/rs/zerolog"
)

// NewInmemTransport return a transport whose links are in memory pipes.
// Nodes sharing the same InmemTransport can reach each other
func NewInmemTransport(log *zerolog.Logger) *InmemTransport {
	if log == nil {
		l := logger.NewLogger().With().Str("logProvider", "quorumvote").Logger()
		log = &l
	}
	return &InmemTransport{
		listeners: make(map[int]*inmemListener),
		Logger:    log,
	}
}

// Dial opens a pipe to the node listening on port
func (t *InmemTransport) Dial(ctx context.Context, port int, handler Handler) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: port %d: %w", ErrConnectFailure, port, err)
	}

	t.mu.Lock()
	listener, ok := t.listeners[port]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: port %d: connection refused", ErrConnectFailure, port)
	}

	client, server := net.Pipe()
	if !listener.accept(server) {
		_ = client.Close()
		return nil, fmt.Errorf("%w: port %d: connection refused", ErrConnectFailure, port)
	}
	return newLineConn(client, fmt.Sprintf("inmem:%d", port), handler, t.Logger), nil
}

// Listen registers handler for port
func (t *InmemTransport) Listen(port, maxConnections int, handler Handler) (io.Closer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listeners == nil {
		t.listeners = make(map[int]*inmemListener)
	}
	if _, ok := t.listeners[port]; ok {
		return nil, fmt.Errorf("port %d already in use", port)
	}

	l := &inmemListener{
		transport:      t,
		port:           port,
		handler:        handler,
		maxConnections: maxConnections,
	}
	t.listeners[port] = l
	return l, nil
}

// accept return false when the link is refused
func (l *inmemListener) accept(nc net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	if l.maxConnections > 0 && l.open >= l.maxConnections {
		l.transport.Logger.Warn().
			Int("port", l.port).
			Int("maxConnections", l.maxConnections).
			Msg("Rejecting connection")
		return false
	}
	l.accepted++
	l.open++
	conn := newLineConn(nc, fmt.Sprintf("inmem:%d:%d", l.port, l.accepted), l.handler, l.transport.Logger)
	go func() {
		<-conn.Done()
		l.mu.Lock()
		l.open--
		l.mu.Unlock()
	}()
	return true
}

// Close unregisters the listener
func (l *inmemListener) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	l.transport.mu.Lock()
	defer l.transport.mu.Unlock()
	if l.transport.listeners[l.port] == l {
		delete(l.transport.listeners, l.port)
	}
	return nil
}
