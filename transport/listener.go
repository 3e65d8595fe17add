package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
)

const unixNetwork = "unix"

var (
	// ErrEmptyAddress is returned when no socket path or address is given.
	ErrEmptyAddress = errors.New("transport: empty address")
	// ErrPathNotSocket is returned when the unix socket path exists and is not a socket.
	ErrPathNotSocket = errors.New("transport: path exists and is not a socket")
	// ErrUnsupportedNetwork is returned for networks other than unix and tcp.
	ErrUnsupportedNetwork = errors.New("transport: unsupported network")
)

// Listener is the device endpoint a single peer connects to.
type Listener struct {
	network string
	address string
	ln      net.Listener

	closeOnce sync.Once
	closeErr  error
}

// Listen opens the endpoint. For unix sockets a stale socket file is
// removed first and the file is unlinked again when the listener closes.
func Listen(network, address string) (*Listener, error) {
	if address == "" {
		return nil, ErrEmptyAddress
	}

	var (
		ln  net.Listener
		err error
	)
	switch network {
	case unixNetwork:
		if err := RemoveIfExists(address); err != nil {
			return nil, err
		}
		var uln *net.UnixListener
		uln, err = net.ListenUnix(unixNetwork, &net.UnixAddr{Name: address, Net: unixNetwork})
		if err == nil {
			uln.SetUnlinkOnClose(true)
			ln = uln
		}
	case "tcp", "tcp4", "tcp6":
		ln, err = net.Listen(network, address)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, network)
	}
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, address, err)
	}

	return &Listener{network: network, address: address, ln: ln}, nil
}

func (l *Listener) Network() string { return l.network }

// Addr returns the bound address; for tcp this carries the chosen port.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept waits for the peer. Cancelling ctx closes the listener.
func (l *Listener) Accept(ctx context.Context, readBuffer int) (*Conn, error) {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	c, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	return NewConn(c, readBuffer), nil
}

// Close stops listening. It is safe to call more than once.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.ln.Close()
		if errors.Is(l.closeErr, net.ErrClosed) {
			l.closeErr = nil
		}
	})
	return l.closeErr
}

// RemoveIfExists removes the socket file at path if there is one and
// refuses to touch anything that is not a socket.
func RemoveIfExists(path string) error {
	if path == "" {
		return ErrEmptyAddress
	}
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return ErrPathNotSocket
	}
	return os.Remove(path)
}
