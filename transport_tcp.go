package quorumvote

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"

	"github.com/Lord-Y/quorumvote/logger"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// NewTCPTransport return a TCPTransport listening and dialing on host.
// An empty host defaults to 127.0.0.1
func NewTCPTransport(host string, log *zerolog.Logger) *TCPTransport {
	if host == "" {
		host = defaultHost
	}
	if log == nil {
		l := logger.NewLogger().With().Str("logProvider", "quorumvote").Logger()
		log = &l
	}
	return &TCPTransport{Host: host, Logger: log}
}

func (t *TCPTransport) address(port int) string {
	host := t.Host
	if host == "" {
		host = defaultHost
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Dial opens a tcp link to port
func (t *TCPTransport) Dial(ctx context.Context, port int, handler Handler) (Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", t.address(port))
	if err != nil {
		return nil, pkgerrors.Wrapf(errors.Join(ErrConnectFailure, err), "unable to dial port %d", port)
	}
	return newLineConn(nc, nc.RemoteAddr().String(), handler, t.Logger), nil
}

// Listen accepts tcp links on port. Port 0 picks an ephemeral port,
// use ListenPort on the returned value to find it
func (t *TCPTransport) Listen(port, maxConnections int, handler Handler) (io.Closer, error) {
	listener, err := net.Listen("tcp", t.address(port))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "unable to listen on port %d", port)
	}

	l := &tcpListener{
		listener:       listener,
		handler:        handler,
		maxConnections: maxConnections,
		logger:         t.Logger,
	}
	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

// acceptLoop accepts links until the listener is closed
func (l *tcpListener) acceptLoop() {
	defer l.wg.Done()

	for {
		nc, err := l.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.logger.Error().Err(err).
					Str("address", l.listener.Addr().String()).
					Msg("Fail to accept connection")
			}
			return
		}

		if !l.reserve() {
			l.logger.Warn().
				Str("address", l.listener.Addr().String()).
				Str("remoteAddr", nc.RemoteAddr().String()).
				Int("maxConnections", l.maxConnections).
				Msg("Rejecting connection")
			_ = nc.Close()
			continue
		}
		conn := newLineConn(nc, nc.RemoteAddr().String(), l.handler, l.logger)
		go func() {
			<-conn.Done()
			l.mu.Lock()
			l.open--
			l.mu.Unlock()
		}()
	}
}

// reserve return false when maxConnections links are already open
func (l *tcpListener) reserve() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxConnections > 0 && l.open >= l.maxConnections {
		return false
	}
	l.open++
	return true
}

// ListenPort return the port the listener is bound to
func (l *tcpListener) ListenPort() int {
	if addr, ok := l.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Close stops accepting links
func (l *tcpListener) Close() error {
	err := l.listener.Close()
	l.wg.Wait()
	return err
}
