package quorumvote

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

const (
	// defaultHost is the address used by TCPTransport when none is provided
	defaultHost string = "127.0.0.1"

	// maxLineSize is the size of the largest line the read loop accepts
	maxLineSize int = 1 << 20
)

// Handler receives the events of a connection.
// OnData is never called after OnDisconnect and OnDisconnect
// is called exactly once per connection
type Handler interface {
	// OnData is called by the read loop for every decoded token
	OnData(conn Conn, token Token)

	// OnDisconnect is called when the stream reached its end,
	// was reset or was closed
	OnDisconnect(conn Conn)
}

// MalformedHandler can optionally be implemented by a Handler
// to be notified of discarded lines
type MalformedHandler interface {
	OnMalformed(conn Conn, line string, err error)
}

// Conn is a line delimited link to another node
type Conn interface {
	// Send queues the token for writing. It never blocks on the network
	Send(token Token) error

	// Close flushes queued tokens and releases the link
	Close() error

	// RemoteAddr return the address of the other side
	RemoteAddr() string

	// Done is closed once the link is fully released
	Done() <-chan struct{}
}

// Transport opens links between nodes identified by their port
type Transport interface {
	// Dial opens a link to the node listening on port.
	// The returned error wraps ErrConnectFailure
	Dial(ctx context.Context, port int, handler Handler) (Conn, error)

	// Listen accepts inbound links on port. When maxConnections is greater
	// than zero, links exceeding that many open links are closed right away.
	// Closing the returned value stops accepting but keeps accepted links
	Listen(port, maxConnections int, handler Handler) (io.Closer, error)
}

// lineConn implements Conn on top of a net.Conn
type lineConn struct {
	// nc is the underlying stream
	nc net.Conn

	// handler receives connection events
	handler Handler

	// remoteAddr is the label returned by RemoteAddr
	remoteAddr string

	// logger expose zerolog so it can be override
	logger *zerolog.Logger

	// mu protects queue and closing
	mu sync.Mutex

	// queue holds encoded lines waiting to be written
	queue []string

	// closing is set once Close was called or the stream failed
	closing bool

	// notify wakes up the writer
	notify chan struct{}

	// disconnectOnce guarantees a single OnDisconnect
	disconnectOnce sync.Once

	// releaseOnce guarantees the stream is closed once
	releaseOnce sync.Once

	// writerDone is closed when the writer exits
	writerDone chan struct{}

	// done is closed when both loops exited
	done chan struct{}
}

// TCPTransport implements Transport over tcp sockets
type TCPTransport struct {
	// Host is the address to listen on and to dial.
	// Defaults to 127.0.0.1
	Host string

	// Logger expose zerolog so it can be override
	Logger *zerolog.Logger
}

// tcpListener accepts tcp links
type tcpListener struct {
	listener       net.Listener
	handler        Handler
	maxConnections int
	logger         *zerolog.Logger
	wg             sync.WaitGroup

	// mu protects open
	mu sync.Mutex

	// open is the number of accepted links not yet closed
	open int
}

// InmemTransport implements Transport with in memory pipes
// so that nodes can be tested without going over a network
type InmemTransport struct {
	// mu protects listeners
	mu sync.Mutex

	// listeners maps a port to its listener
	listeners map[int]*inmemListener

	// Logger expose zerolog so it can be override
	Logger *zerolog.Logger
}

// inmemListener accepts in memory links
type inmemListener struct {
	transport      *InmemTransport
	port           int
	handler        Handler
	maxConnections int

	mu       sync.Mutex
	accepted int
	open     int
	closed   bool
}
