package plist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"github.com/creachadair/mds/mapset"
	"github.com/danderson/plist/transport"
	"golang.org/x/sys/unix"
)

// HandlerFunc handles one request to a [Server].
//
// req is owned by the server and released once the handler returns.
// The handler transfers ownership of its returned value to the
// server, which releases it after sending the reply. A nil Value with
// a nil error is a successful reply with no document.
//
// A returned error is reported to the client as an errno value. A
// [unix.Errno] is passed through unchanged, the package's sentinel
// errors are mapped to the matching errno, and anything else is
// reported as EIO.
type HandlerFunc func(ctx context.Context, req Value) (Value, error)

type handler struct {
	want Kind
	fn   HandlerFunc
}

// Server is the privileged side of a boundary: it receives property
// list requests from untrusted clients, and replies with property
// lists of its own.
//
// Requests are copied in from the connection, after checking their
// claimed size against the server's ceiling. A request may instead
// arrive in a memory file, which must be sealed. Replies are placed in
// a sealed shared memory file, which the client maps.
type Server struct {
	opts Options

	mu        sync.Mutex
	closed    bool
	handlers  map[uint32]handler
	conns     mapset.Set[transport.Transport]
	listeners mapset.Set[net.Listener]
}

// NewServer returns a Server that uses the limits in opts for all
// requests. Replies are always XML, the only format a client can
// internalize.
func NewServer(opts Options) *Server {
	opts.Format = XML
	return &Server{
		opts:     opts,
		handlers: map[uint32]handler{},
	}
}

// Handle registers fn to handle requests for cmd. Requests whose
// document is not of kind want are rejected without calling fn. want
// may be [KindUnknown] to accept any kind.
//
// Handle replaces any previous handler for cmd.
func (s *Server) Handle(cmd uint32, want Kind, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[cmd] = handler{want, fn}
}

func (s *Server) handler(cmd uint32) (handler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handlers[cmd]
	return h, ok
}

// Close stops all listeners and closes all connections being served.
func (s *Server) Close() error {
	s.mu.Lock()
	ts, ls := s.conns, s.listeners
	s.conns, s.listeners = nil, nil
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for l := range ls {
		errs = append(errs, l.Close())
	}
	for t := range ts {
		errs = append(errs, t.Close())
	}
	return errors.Join(errs...)
}

func (s *Server) track(t transport.Transport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns.Add(t)
	return true
}

func (s *Server) untrack(t transport.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns.Remove(t)
}

// ServeListener accepts connections from l and serves each of them,
// until ctx is canceled or the server is closed.
func (s *Server) ServeListener(ctx context.Context, l *net.UnixListener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return net.ErrClosed
	}
	s.listeners.Add(l)
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		conn, err := l.AcceptUnix()
		if errors.Is(err, net.ErrClosed) {
			return nil
		} else if err != nil {
			return err
		}
		go s.Serve(ctx, transport.NewUnix(conn))
	}
}

// Serve serves requests arriving on t, until t is closed, ctx is
// canceled, or the client violates the protocol. t is closed when
// Serve returns.
func (s *Server) Serve(ctx context.Context, t transport.Transport) error {
	defer t.Close()
	if !s.track(t) {
		return net.ErrClosed
	}
	defer s.untrack(t)

	stop := context.AfterFunc(ctx, func() { t.Close() })
	defer stop()

	cred, err := t.Cred()
	if err != nil {
		return fmt.Errorf("getting peer credentials: %w", err)
	}
	ctx = withContextPeer(ctx, cred)

	for {
		if err := s.serveOne(ctx, t); errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
			// Client hung up, or the server is shutting down.
			return nil
		} else if err != nil {
			// Errors that bubble out here leave the connection in an
			// unknown state, and are fatal to it.
			log.Printf("plist: serving pid %d: %v", cred.Pid, err)
			return err
		}
	}
}

func (s *Server) serveOne(ctx context.Context, t transport.Transport) error {
	h, err := transport.ReadHeader(t)
	if err != nil {
		return err
	}
	if h.Flags&transport.FlagReply != 0 {
		return errors.New("received reply from client")
	}

	ref, err := transport.ReceiveBody(t, h, s.opts.maxSize())
	if err != nil {
		if errors.Is(err, ErrTooLarge) || errors.Is(err, ErrEmptyRef) || errors.Is(err, ErrBadMapping) {
			if replyErr := s.reply(t, errnoFor(err), nil); replyErr != nil {
				return replyErr
			}
			if h.Flags&transport.FlagMapped != 0 {
				// The document was never read, but its file was
				// consumed and the connection is still in sync.
				return nil
			}
		}
		return fmt.Errorf("receiving command %d: %w", h.Cmd, err)
	}
	if ref != nil {
		defer ref.Release()
	}

	ctx = withContextCmd(ctx, h.Cmd)
	resp, err := s.dispatch(ctx, h.Cmd, ref)
	if err != nil {
		return s.reply(t, errnoFor(err), nil)
	}
	if resp == nil {
		return s.reply(t, 0, nil)
	}
	doc, err := s.opts.Externalize(resp)
	Release(resp)
	if err != nil {
		return s.reply(t, errnoFor(err), nil)
	}
	return s.reply(t, 0, doc)
}

func (s *Server) dispatch(ctx context.Context, cmd uint32, ref *transport.Ref) (Value, error) {
	h, ok := s.handler(cmd)
	if !ok {
		return nil, ErrUnknownCommand
	}
	req, err := s.opts.FromRef(ref, h.want)
	if err != nil {
		return nil, err
	}
	defer Release(req)
	return h.fn(ctx, req)
}

func (s *Server) reply(t transport.Transport, status unix.Errno, doc []byte) error {
	hdr := transport.Header{
		Cmd:   uint32(status),
		Flags: transport.FlagReply | transport.FlagMapped,
	}
	return transport.Send(t, hdr, doc)
}
