package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"
)

// ErrConnectionClosed is returned when the peer goes away before a read is
// satisfied.
var ErrConnectionClosed = errors.New("transport: connection closed")

// Conn is the octet source of the telemetry stream. Reads are all-or-nothing.
type Conn struct {
	conn        net.Conn
	reader      *bufio.Reader
	bufSize     int
	dialTimeout time.Duration
	pollTimeout time.Duration
	readTimeout time.Duration
}

type Option func(*Conn)

func WithBufferSize(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.bufSize = n
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithPollTimeout bounds how long DataAvailable waits for a first byte.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.pollTimeout = d
		}
	}
}

// WithReadTimeout fails a blocked ReadFull after d. Zero blocks forever.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

func newConn(opts []Option) *Conn {
	c := &Conn{
		bufSize:     64 * 1024,
		dialTimeout: 5 * time.Second,
		pollTimeout: time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to the streaming port of the device.
func Dial(ctx context.Context, addr string, opts ...Option) (*Conn, error) {
	c := newConn(opts)
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c.attach(conn)
	return c, nil
}

// NewConn wraps an already connected stream.
func NewConn(conn net.Conn, opts ...Option) *Conn {
	c := newConn(opts)
	c.attach(conn)
	return c
}

func (c *Conn) attach(conn net.Conn) {
	c.conn = conn
	c.reader = bufio.NewReaderSize(conn, c.bufSize)
}

// DataAvailable reports whether at least one byte can be read without
// blocking for longer than the poll timeout.
func (c *Conn) DataAvailable() (bool, error) {
	if c.reader.Buffered() > 0 {
		return true, nil
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.pollTimeout)); err != nil {
		return false, mapReadErr(err)
	}
	_, err := c.reader.Peek(1)
	if derr := c.conn.SetReadDeadline(time.Time{}); derr != nil && err == nil {
		return false, mapReadErr(derr)
	}
	if err != nil {
		if isTimeout(err) {
			return false, nil
		}
		return false, mapReadErr(err)
	}
	return true, nil
}

// ReadFull fills p completely or fails.
func (c *Conn) ReadFull(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if err := c.armReadDeadline(); err != nil {
		return err
	}
	if _, err := io.ReadFull(c.reader, p); err != nil {
		return mapReadErr(err)
	}
	return nil
}

// Discard consumes exactly n bytes.
func (c *Conn) Discard(n int) error {
	if n <= 0 {
		return nil
	}
	if err := c.armReadDeadline(); err != nil {
		return err
	}
	if _, err := c.reader.Discard(n); err != nil {
		return mapReadErr(err)
	}
	return nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Conn) armReadDeadline() error {
	var deadline time.Time
	if c.readTimeout > 0 {
		deadline = time.Now().Add(c.readTimeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return mapReadErr(err)
	}
	return nil
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func mapReadErr(err error) error {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	case errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("transport: read timeout: %w", err)
	default:
		return err
	}
}
