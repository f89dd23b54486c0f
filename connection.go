package quorumvote

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/rs/zerolog"
)

// newLineConn wraps nc and starts its read and write loops
func newLineConn(nc net.Conn, remoteAddr string, handler Handler, logger *zerolog.Logger) *lineConn {
	c := &lineConn{
		nc:         nc,
		handler:    handler,
		remoteAddr: remoteAddr,
		logger:     logger,
		notify:     make(chan struct{}, 1),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	readerDone := make(chan struct{})
	go c.writeLoop()
	go func() {
		defer close(readerDone)
		c.readLoop()
	}()
	go func() {
		<-readerDone
		<-c.writerDone
		close(c.done)
	}()
	return c
}

// Send queues the token for writing
func (c *lineConn) Send(token Token) error {
	line := Encode(token)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return ErrConnClosed
	}
	c.queue = append(c.queue, line)
	c.wakeUp()
	return nil
}

// Close flushes queued tokens and then closes the stream.
// It does not wait for the flush, use Done for that
func (c *lineConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closing {
		c.closing = true
		c.wakeUp()
	}
	return nil
}

// RemoteAddr return the address of the other side
func (c *lineConn) RemoteAddr() string {
	return c.remoteAddr
}

// Done is closed once the link is fully released
func (c *lineConn) Done() <-chan struct{} {
	return c.done
}

// wakeUp must be called with mu held
func (c *lineConn) wakeUp() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// release closes the underlying stream once
func (c *lineConn) release() {
	c.releaseOnce.Do(func() {
		_ = c.nc.Close()
	})
}

// abort drops queued tokens and closes the stream
func (c *lineConn) abort() {
	c.mu.Lock()
	c.closing = true
	c.queue = nil
	c.wakeUp()
	c.mu.Unlock()
	c.release()
}

// writeLoop drains the queue until the connection is closing
// and nothing is left to write
func (c *lineConn) writeLoop() {
	defer close(c.writerDone)
	defer c.release()

	w := bufio.NewWriter(c.nc)
	for range c.notify {
		c.mu.Lock()
		lines, closing := c.queue, c.closing
		c.queue = nil
		c.mu.Unlock()

		for _, line := range lines {
			if _, err := w.WriteString(line + "\n"); err != nil {
				c.logWriteError(err)
				return
			}
		}
		if err := w.Flush(); err != nil {
			c.logWriteError(err)
			return
		}
		if closing {
			return
		}
	}
}

func (c *lineConn) logWriteError(err error) {
	if !isClosedError(err) {
		c.logger.Debug().Err(err).
			Str("remoteAddr", c.remoteAddr).
			Msg("Fail to write to connection")
	}
}

// readLoop decodes every line of the stream and calls the handler.
// Malformed lines are dropped
func (c *lineConn) readLoop() {
	defer c.disconnect()

	scanner := bufio.NewScanner(c.nc)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	for scanner.Scan() {
		if line := scanner.Text(); strings.TrimSpace(line) != "" {
			c.deliver(line)
		}
	}

	err := scanner.Err()
	switch {
	case errors.Is(err, bufio.ErrTooLong):
		c.logger.Warn().
			Str("remoteAddr", c.remoteAddr).
			Int("maxLineSize", maxLineSize).
			Msg("Line too long, closing connection")
	case err != nil && !isClosedError(err):
		c.logger.Debug().Err(err).
			Str("remoteAddr", c.remoteAddr).
			Msg("Fail to read from connection")
	}
}

func (c *lineConn) deliver(line string) {
	line = strings.TrimRight(line, "\r\n")
	token, err := Decode(line)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("remoteAddr", c.remoteAddr).
			Str("line", line).
			Msg("Dropping malformed token")
		if h, ok := c.handler.(MalformedHandler); ok {
			h.OnMalformed(c, line, err)
		}
		return
	}
	c.handler.OnData(c, token)
}

func (c *lineConn) disconnect() {
	c.abort()
	c.disconnectOnce.Do(func() {
		c.handler.OnDisconnect(c)
	})
}

// isClosedError return true when err reports a stream closed by either side
func isClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF)
}
