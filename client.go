package plist

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danderson/plist/transport"
	"golang.org/x/sys/unix"
)

// Client is the unprivileged side of a boundary: it sends property
// list requests to a [Server], and receives its replies.
type Client struct {
	opts Options

	mu      sync.Mutex
	t       transport.Transport
	lastCmd uint32
}

// Dial connects to the service listening on the Unix socket at path.
func Dial(ctx context.Context, path string, opts Options) (*Client, error) {
	t, err := transport.DialUnix(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewClient(t, opts), nil
}

// NewClient returns a Client that talks to a service over t.
//
// opts.MaxSize bounds the size of replies the client accepts.
// Requests are always sent as XML, the only format a service can
// internalize.
func NewClient(t transport.Transport, opts Options) *Client {
	opts.Format = XML
	return &Client{
		opts: opts,
		t:    t,
	}
}

// Close closes the connection to the service.
func (c *Client) Close() error {
	return c.t.Close()
}

// Call sends req to the service as command cmd, and waits for the
// reply. The reply must be of kind want, or [KindUnknown] to accept
// any kind. A successful call with no reply document returns a nil
// Value.
//
// If the service fails the request, Call returns a [CallError].
//
// If ctx is canceled before the reply arrives, the client is closed,
// since the connection is left in an unknown state.
func (c *Client) Call(ctx context.Context, cmd uint32, req Value, want Kind) (Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { c.t.Close() })
	defer stop()

	if err := c.send(cmd, req); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	ret, err := c.recv(want)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return ret, err
}

// Send sends req to the service as command cmd, without waiting for
// the reply. Each Send must be followed by a [Client.Recv].
func (c *Client) Send(cmd uint32, req Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(cmd, req)
}

// Recv waits for the reply to the last request sent with
// [Client.Send].
func (c *Client) Recv(want Kind) (Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recv(want)
}

func (c *Client) send(cmd uint32, req Value) error {
	doc, err := c.opts.Externalize(req)
	if err != nil {
		return err
	}
	c.lastCmd = cmd
	return transport.Send(c.t, transport.Header{Cmd: cmd}, doc)
}

func (c *Client) recv(want Kind) (Value, error) {
	h, ref, err := transport.Receive(c.t, c.opts.maxSize())
	if err != nil {
		return nil, err
	}
	if ref != nil {
		defer ref.Release()
	}
	if h.Flags&transport.FlagReply == 0 {
		return nil, errors.New("received request from service")
	}
	if h.Cmd != 0 {
		return nil, CallError{c.lastCmd, unix.Errno(h.Cmd)}
	}
	if ref == nil {
		return nil, nil
	}
	ret, err := c.opts.FromRef(ref, want)
	if err != nil {
		return nil, fmt.Errorf("reply to command %d: %w", c.lastCmd, err)
	}
	return ret, nil
}
