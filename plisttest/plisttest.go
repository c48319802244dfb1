// Package plisttest provides helpers to run an isolated property list
// service in tests.
package plisttest

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/danderson/plist"
	"github.com/danderson/plist/transport"
)

// Service is a [plist.Server] listening on a Unix socket dedicated to
// the calling test.
type Service struct {
	*plist.Server

	sock    string
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New starts a service dedicated to the calling test, using opts. The
// service is stopped when the test completes.
//
// Handlers can be registered on the returned service at any time,
// including after clients have connected.
func New(t *testing.T, opts plist.Options) *Service {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "plist.sock")
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: sock, Net: "unix"})
	if err != nil {
		t.Fatalf("listening on %s: %v", sock, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ret := &Service{
		Server:  plist.NewServer(opts),
		sock:    sock,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go func() {
		defer close(ret.stopped)
		if err := ret.ServeListener(ctx, l); err != nil && !errors.Is(err, net.ErrClosed) {
			t.Errorf("serving %s: %v", sock, err)
		}
	}()
	t.Cleanup(ret.close)
	return ret
}

func (s *Service) close() {
	s.cancel()
	s.Server.Close()
	select {
	case <-s.stopped:
	case <-time.After(10 * time.Second):
		panic("timed out waiting for service to stop")
	}
}

// Socket returns the path to the service's Unix socket.
func (s *Service) Socket() string {
	return s.sock
}

// MustClient returns a client connected to the service. It causes an
// immediate test failure with t.Fatal if it is unable to connect. The
// client is closed when the test completes.
func (s *Service) MustClient(t *testing.T, opts plist.Options) *plist.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ret, err := plist.Dial(ctx, s.sock, opts)
	if err != nil {
		t.Fatalf("connecting to test service: %v", err)
	}
	t.Cleanup(func() { ret.Close() })
	return ret
}

// Pair serves srv on one end of an in-process socket pair, and
// returns a client connected to the other end. Both ends are closed
// when the test completes.
func Pair(t *testing.T, srv *plist.Server, opts plist.Options) *plist.Client {
	t.Helper()
	a, b, err := transport.Pair()
	if err != nil {
		t.Fatalf("creating socket pair: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(context.Background(), b)
	}()
	ret := plist.NewClient(a, opts)
	t.Cleanup(func() {
		ret.Close()
		b.Close()
		<-done
	})
	return ret
}
