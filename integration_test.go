package plist_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/danderson/plist"
	"github.com/danderson/plist/plisttest"
	"github.com/danderson/plist/transport"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
)

const (
	cmdEcho uint32 = iota + 1
	cmdPeer
	cmdFail
	cmdNothing
	cmdData
	cmdSlow
)

func testServer(opts plist.Options) *plist.Server {
	srv := plist.NewServer(opts)
	srv.Handle(cmdEcho, plist.KindUnknown, func(ctx context.Context, req plist.Value) (plist.Value, error) {
		return plist.Retain(req), nil
	})
	srv.Handle(cmdPeer, plist.KindDictionary, func(ctx context.Context, req plist.Value) (plist.Value, error) {
		peer, ok := plist.ContextPeer(ctx)
		if !ok {
			return nil, errors.New("no peer in context")
		}
		cmd, _ := plist.ContextCmd(ctx)
		return plist.FromGo(map[string]any{
			"pid": int64(peer.Pid),
			"uid": uint64(peer.Uid),
			"cmd": uint64(cmd),
		})
	})
	srv.Handle(cmdFail, plist.KindUnknown, func(ctx context.Context, req plist.Value) (plist.Value, error) {
		return nil, unix.EPERM
	})
	srv.Handle(cmdNothing, plist.KindUnknown, func(ctx context.Context, req plist.Value) (plist.Value, error) {
		return nil, nil
	})
	srv.Handle(cmdData, plist.KindNumber, func(ctx context.Context, req plist.Value) (plist.Value, error) {
		n := req.(*plist.Number).Uint()
		return plist.NewData(bytes.Repeat([]byte{0xa5}, int(n))), nil
	})
	srv.Handle(cmdSlow, plist.KindUnknown, func(ctx context.Context, req plist.Value) (plist.Value, error) {
		time.Sleep(time.Second)
		return nil, nil
	})
	return srv
}

func TestCall(t *testing.T) {
	c := plisttest.Pair(t, testServer(plist.Options{}), plist.Options{})
	ctx := context.Background()

	in := sample(t)
	out, err := c.Call(ctx, cmdEcho, in, plist.KindDictionary)
	if err != nil {
		t.Fatalf("echo call failed: %v", err)
	}
	defer plist.Release(out)
	if diff := cmp.Diff(plist.ToGo(out), plist.ToGo(in)); diff != "" {
		t.Errorf("echo returned wrong value (-got+want):\n%s", diff)
	}

	out, err = c.Call(ctx, cmdPeer, mustFromGo(t, map[string]any{}), plist.KindDictionary)
	if err != nil {
		t.Fatalf("peer call failed: %v", err)
	}
	defer plist.Release(out)
	want := map[string]any{
		"pid": int64(os.Getpid()),
		"uid": uint64(os.Getuid()),
		"cmd": uint64(cmdPeer),
	}
	if diff := cmp.Diff(plist.ToGo(out), want); diff != "" {
		t.Errorf("peer call returned wrong value (-got+want):\n%s", diff)
	}

	out, err = c.Call(ctx, cmdNothing, mustFromGo(t, true), plist.KindUnknown)
	if err != nil {
		t.Fatalf("empty reply call failed: %v", err)
	}
	if out != nil {
		t.Errorf("empty reply call returned %v, want nil", out)
	}
}

func TestCallErrors(t *testing.T) {
	c := plisttest.Pair(t, testServer(plist.Options{}), plist.Options{})
	ctx := context.Background()

	tests := []struct {
		name      string
		cmd       uint32
		req       plist.Value
		want      plist.Kind
		wantErrno unix.Errno
		wantErr   error
	}{
		{"unknown_command", 99, mustFromGo(t, true), plist.KindUnknown, unix.ENOTTY, plist.ErrUnknownCommand},
		{"wrong_request_kind", cmdPeer, mustFromGo(t, "not a dict"), plist.KindUnknown, unix.EINVAL, nil},
		{"handler_errno", cmdFail, mustFromGo(t, true), plist.KindUnknown, unix.EPERM, unix.EPERM},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := c.Call(ctx, tc.cmd, tc.req, tc.want)
			if err == nil {
				plist.Release(out)
				t.Fatal("call succeeded, want error")
			}
			var ce plist.CallError
			if !errors.As(err, &ce) {
				t.Fatalf("call error %v is not a CallError", err)
			}
			if ce.Cmd != tc.cmd || ce.Errno != tc.wantErrno {
				t.Errorf("got CallError{%d, %v}, want {%d, %v}", ce.Cmd, ce.Errno, tc.cmd, tc.wantErrno)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("call got err %v, want match for %v", err, tc.wantErr)
			}
		})
	}

	// The connection survives failed calls.
	out, err := c.Call(ctx, cmdEcho, mustFromGo(t, "still here"), plist.KindString)
	if err != nil {
		t.Fatalf("call after failures failed: %v", err)
	}
	plist.Release(out)
}

func TestCallReplyKind(t *testing.T) {
	c := plisttest.Pair(t, testServer(plist.Options{}), plist.Options{})
	out, err := c.Call(context.Background(), cmdEcho, mustFromGo(t, "s"), plist.KindArray)
	if err == nil {
		plist.Release(out)
		t.Fatal("call with wrong reply kind succeeded")
	}
	if !errors.As(err, new(plist.TypeError)) {
		t.Errorf("got err %v, want TypeError", err)
	}
}

func TestCallRequestTooLarge(t *testing.T) {
	c := plisttest.Pair(t, testServer(plist.Options{MaxSize: 512}), plist.Options{})
	big := mustFromGo(t, bytes.Repeat([]byte("x"), 1024))
	_, err := c.Call(context.Background(), cmdEcho, big, plist.KindUnknown)
	if !errors.Is(err, plist.ErrTooLarge) {
		t.Fatalf("oversize request got err %v, want %v", err, plist.ErrTooLarge)
	}
	var ce plist.CallError
	if !errors.As(err, &ce) || ce.Errno != unix.E2BIG {
		t.Errorf("oversize request got err %v, want CallError with E2BIG", err)
	}
}

func TestCallReplyTooLarge(t *testing.T) {
	c := plisttest.Pair(t, testServer(plist.Options{}), plist.Options{MaxSize: 4096})

	out, err := c.Call(context.Background(), cmdData, mustFromGo(t, uint64(16)), plist.KindData)
	if err != nil {
		t.Fatalf("small data call failed: %v", err)
	}
	if got := plist.DataLen(out); got != 16 {
		t.Errorf("got %d bytes of data, want 16", got)
	}
	plist.Release(out)

	// The reply is mapped, not streamed, so rejecting it leaves the
	// connection usable.
	_, err = c.Call(context.Background(), cmdData, mustFromGo(t, uint64(8192)), plist.KindData)
	if !errors.Is(err, plist.ErrTooLarge) {
		t.Fatalf("oversize reply got err %v, want %v", err, plist.ErrTooLarge)
	}
	out, err = c.Call(context.Background(), cmdEcho, mustFromGo(t, true), plist.KindBoolean)
	if err != nil {
		t.Fatalf("call after oversize reply failed: %v", err)
	}
	plist.Release(out)
}

func TestCallCanceled(t *testing.T) {
	c := plisttest.Pair(t, testServer(plist.Options{}), plist.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Call(ctx, cmdSlow, mustFromGo(t, true), plist.KindUnknown)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("canceled call got err %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestMalformedRequest(t *testing.T) {
	a, b, err := transport.Pair()
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	srv := testServer(plist.Options{})
	go srv.Serve(context.Background(), b)

	send := func(doc string) unix.Errno {
		t.Helper()
		if err := transport.Send(a, transport.Header{Cmd: cmdEcho}, []byte(doc)); err != nil {
			t.Fatalf("sending request: %v", err)
		}
		h, ref, err := transport.Receive(a, 1<<20)
		if err != nil {
			t.Fatalf("receiving reply: %v", err)
		}
		if ref != nil {
			ref.Release()
		}
		return unix.Errno(h.Cmd)
	}

	if got := send("<plist>garbage"); got != unix.EBADMSG {
		t.Errorf("malformed request got status %v, want %v", got, unix.EBADMSG)
	}
	if got := send(""); got != unix.EBADMSG {
		t.Errorf("empty request got status %v, want %v", got, unix.EBADMSG)
	}
	// The final byte is overwritten with the terminator, a sender
	// that leaves it out loses its last byte.
	if got := send(`<plist version="1.0"><true/></plist>` + "\n"); got != 0 {
		t.Errorf("request without terminator got status %v, want success", got)
	}
	if got := send(`<plist version="1.0"><true/></plist>`); got != unix.EBADMSG {
		t.Errorf("request truncated by terminator got status %v, want %v", got, unix.EBADMSG)
	}
}

func TestMappedRequest(t *testing.T) {
	a, b, err := transport.Pair()
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	srv := testServer(plist.Options{})
	go srv.Serve(context.Background(), b)

	doc := []byte(`<plist version="1.0"><string>mapped</string></plist>` + "\x00")
	recv := func() unix.Errno {
		t.Helper()
		h, ref, err := transport.Receive(a, 1<<20)
		if err != nil {
			t.Fatalf("receiving reply: %v", err)
		}
		if h.Cmd != 0 {
			if ref != nil {
				ref.Release()
			}
			return unix.Errno(h.Cmd)
		}
		v, err := plist.FromRef(ref, plist.KindString)
		ref.Release()
		if err != nil {
			t.Fatalf("reading reply: %v", err)
		}
		defer plist.Release(v)
		if !v.(*plist.String).EqualString("mapped") {
			t.Errorf("echo got %v, want %q", v, "mapped")
		}
		return 0
	}
	sendFile := func(f *os.File) {
		t.Helper()
		hdr := transport.Header{Cmd: cmdEcho, Flags: transport.FlagMapped, Len: uint64(len(doc))}
		if _, err := a.WriteWithFiles(hdr.AppendTo(nil), []*os.File{f}); err != nil {
			t.Fatalf("sending request: %v", err)
		}
	}

	// A well-behaved sender seals its mapping.
	if err := transport.Send(a, transport.Header{Cmd: cmdEcho, Flags: transport.FlagMapped}, doc); err != nil {
		t.Fatal(err)
	}
	if got := recv(); got != 0 {
		t.Fatalf("sealed mapped request got status %v, want success", got)
	}

	fd, err := unix.MemfdCreate("unsealed", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		t.Fatal(err)
	}
	unsealed := os.NewFile(uintptr(fd), "unsealed")
	defer unsealed.Close()
	if _, err := unsealed.Write(doc); err != nil {
		t.Fatal(err)
	}
	sendFile(unsealed)
	if got := recv(); got != unix.EBADF {
		t.Errorf("unsealed mapped request got status %v, want %v", got, unix.EBADF)
	}

	path := filepath.Join(t.TempDir(), "doc")
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		t.Fatal(err)
	}
	regular, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer regular.Close()
	sendFile(regular)
	if got := recv(); got != unix.EBADF {
		t.Errorf("regular file mapped request got status %v, want %v", got, unix.EBADF)
	}

	// Rejected mappings leave the connection usable.
	if err := transport.Send(a, transport.Header{Cmd: cmdEcho, Flags: transport.FlagMapped}, doc); err != nil {
		t.Fatal(err)
	}
	if got := recv(); got != 0 {
		t.Fatalf("mapped request after rejections got status %v, want success", got)
	}
}

func TestRequestUndeclaredFiles(t *testing.T) {
	a, b, err := transport.Pair()
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	devnull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	defer devnull.Close()

	before := countFDs(t)
	srv := testServer(plist.Options{})
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(context.Background(), b) }()

	doc := []byte(`<plist version="1.0"><true/></plist>` + "\x00")
	msg := append(transport.Header{Cmd: cmdEcho, Len: uint64(len(doc))}.AppendTo(nil), doc...)
	if _, err := a.WriteWithFiles(msg, []*os.File{devnull, devnull, devnull}); err != nil {
		t.Fatalf("sending request: %v", err)
	}
	if _, _, err := transport.Receive(a, 1<<20); err == nil {
		t.Error("server replied to a request carrying undeclared files")
	}
	if err := <-errc; !errors.Is(err, transport.ErrUndeclaredFiles) {
		t.Errorf("Serve got err %v, want %v", err, transport.ErrUndeclaredFiles)
	}

	// The server's end of the connection is gone, and so are the
	// files it received.
	if after := countFDs(t); after >= before {
		t.Errorf("open descriptors went from %d to %d, received files leaked", before, after)
	}
}

func TestService(t *testing.T) {
	svc := plisttest.New(t, plist.Options{})
	svc.Handle(cmdEcho, plist.KindUnknown, func(ctx context.Context, req plist.Value) (plist.Value, error) {
		return plist.Retain(req), nil
	})

	const clients = 4
	g := taskgroup.New(nil)
	for i := range clients {
		c := svc.MustClient(t, plist.Options{})
		g.Go(func() error {
			for j := range 20 {
				req, err := plist.FromGo(map[string]any{"client": int64(i), "call": int64(j)})
				if err != nil {
					return err
				}
				out, err := c.Call(context.Background(), cmdEcho, req, plist.KindDictionary)
				if err != nil {
					plist.Release(req)
					return err
				}
				eq := plist.Equal(req, out)
				plist.Release(req)
				plist.Release(out)
				if !eq {
					return errors.New("echo returned a different value")
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}
