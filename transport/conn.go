package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/samaelod/devsim/types"
)

const DefaultReadBuffer = 4096

// aLongTimeAgo is a deadline in the past used to unblock pending I/O.
var aLongTimeAgo = time.Unix(1, 0)

// Conn adapts a stream connection to the engine: one Send per payload, one
// Read of at most the read buffer size per received message.
type Conn struct {
	c   net.Conn
	buf []byte
}

func NewConn(c net.Conn, readBuffer int) *Conn {
	if readBuffer <= 0 {
		readBuffer = DefaultReadBuffer
	}
	return &Conn{c: c, buf: make([]byte, readBuffer)}
}

func (c *Conn) RemoteAddr() string {
	if a := c.c.RemoteAddr(); a != nil && a.String() != "" && a.String() != "<nil>" {
		return a.String()
	}
	return c.c.LocalAddr().String()
}

// Send writes the whole payload.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = c.c.SetWriteDeadline(aLongTimeAgo) })
	defer stop()

	for len(payload) > 0 {
		n, err := c.c.Write(payload)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		payload = payload[n:]
	}
	return nil
}

// Receive returns the next chunk sent by the peer. It returns
// types.ErrTimeout when nothing arrived within timeout (0 waits forever)
// and io.EOF or types.ErrPeerClosed once the peer or the conn is closed.
func (c *Conn) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.c.SetReadDeadline(deadline); err != nil {
		return nil, receiveError(ctx, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = c.c.SetReadDeadline(aLongTimeAgo) })
	defer stop()

	n, err := c.c.Read(c.buf)
	if n > 0 {
		data := make([]byte, n)
		copy(data, c.buf[:n])
		return data, nil
	}

	if err == nil {
		return []byte{}, nil
	}
	return nil, receiveError(ctx, err)
}

// receiveError maps a read or deadline failure onto the engine's errors.
func receiveError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, os.ErrDeadlineExceeded):
		return types.ErrTimeout
	case errors.Is(err, io.EOF):
		return io.EOF
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return types.ErrPeerClosed
	default:
		return err
	}
}

func (c *Conn) Close() error {
	return c.c.Close()
}
