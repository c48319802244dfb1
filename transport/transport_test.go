package transport_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/creachadair/taskgroup"
	"github.com/danderson/plist/transport"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
)

func mustPair(t *testing.T) (transport.Transport, transport.Transport) {
	t.Helper()
	a, b, err := transport.Pair()
	if err != nil {
		t.Fatalf("creating transport pair: %v", err)
	}
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestCopyIn(t *testing.T) {
	const ceiling = 16
	doc := bytes.Repeat([]byte("x"), 32)

	tests := []struct {
		name    string
		n       uint64
		wantErr error
	}{
		{"empty", 0, transport.ErrEmptyRef},
		{"one", 1, nil},
		{"below_ceiling", ceiling - 1, nil},
		{"at_ceiling", ceiling, transport.ErrTooLarge},
		{"over_ceiling", ceiling + 1, transport.ErrTooLarge},
		{"huge", 1 << 62, transport.ErrTooLarge},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := bytes.NewReader(doc)
			ref, err := transport.CopyIn(r, tc.n, ceiling)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("CopyIn(%d) got err %v, want %v", tc.n, err, tc.wantErr)
				}
				if r.Len() != len(doc) {
					t.Errorf("CopyIn(%d) consumed %d bytes before failing", tc.n, len(doc)-r.Len())
				}
				return
			}
			if err != nil {
				t.Fatalf("CopyIn(%d) failed: %v", tc.n, err)
			}
			defer ref.Release()
			if got := ref.Len(); got != int(tc.n) {
				t.Errorf("CopyIn(%d).Len() = %d, want %d", tc.n, got, tc.n)
			}
		})
	}
}

func TestCopyInShort(t *testing.T) {
	_, err := transport.CopyIn(strings.NewReader("abc"), 8, 16)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("CopyIn of short input got err %v, want %v", err, io.ErrUnexpectedEOF)
	}
}

func TestRef(t *testing.T) {
	ref := transport.NewRef([]byte("hello!"))
	ref.Terminate()
	if got, want := ref.Bytes(), []byte("hello\x00"); !bytes.Equal(got, want) {
		t.Errorf("Terminate() got %q, want %q", got, want)
	}
	if err := ref.Release(); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
	if err := ref.Release(); err != nil {
		t.Fatalf("second Release() failed: %v", err)
	}
	if got := ref.Len(); got != 0 {
		t.Errorf("Len() after Release = %d, want 0", got)
	}
}

func TestMapping(t *testing.T) {
	doc := []byte("<plist version=\"1.0\"><true/></plist>\x00")
	m, err := transport.MapOut(doc)
	if err != nil {
		t.Fatalf("MapOut failed: %v", err)
	}
	defer m.File.Close()

	if m.Len != len(doc) {
		t.Errorf("MapOut Len = %d, want %d", m.Len, len(doc))
	}
	if want := transport.PageRound(len(doc)); m.Size != want {
		t.Errorf("MapOut Size = %d, want %d", m.Size, want)
	}
	if m.Size < m.Len || m.Size%os.Getpagesize() != 0 {
		t.Errorf("MapOut Size = %d is not a page multiple covering %d bytes", m.Size, m.Len)
	}

	// Sealed files cannot be written.
	if _, err := m.File.WriteAt([]byte("x"), 0); err == nil {
		t.Errorf("write to sealed mapping succeeded")
	}

	ref, err := transport.MapIn(m.File, uint64(m.Len), 1<<20)
	if err != nil {
		t.Fatalf("MapIn failed: %v", err)
	}
	if diff := cmp.Diff(ref.Bytes(), doc); diff != "" {
		t.Errorf("MapIn got wrong contents (-got+want):\n%s", diff)
	}
	// Private mapping, the writes stay local.
	ref.Bytes()[0] = '!'
	if err := ref.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	ref2, err := transport.MapIn(m.File, uint64(m.Len), 1<<20)
	if err != nil {
		t.Fatalf("second MapIn failed: %v", err)
	}
	defer ref2.Release()
	if got := ref2.Bytes()[0]; got != '<' {
		t.Errorf("write to private mapping leaked to the file, got %q", got)
	}
}

func TestMapInLimits(t *testing.T) {
	m, err := transport.MapOut([]byte("abc\x00"))
	if err != nil {
		t.Fatalf("MapOut failed: %v", err)
	}
	defer m.File.Close()

	tests := []struct {
		name    string
		n       uint64
		ceiling int
		wantErr error
	}{
		{"empty", 0, 1 << 20, transport.ErrEmptyRef},
		{"at_ceiling", 4, 4, transport.ErrTooLarge},
		{"past_file", uint64(m.Size) + 1, 1 << 30, transport.ErrBadMapping},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ref, err := transport.MapIn(m.File, tc.n, tc.ceiling)
			if err == nil {
				ref.Release()
				t.Fatalf("MapIn(%d, %d) succeeded, want error", tc.n, tc.ceiling)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("MapIn(%d, %d) got err %v, want %v", tc.n, tc.ceiling, err, tc.wantErr)
			}
		})
	}
}

func TestMapInRequiresSeals(t *testing.T) {
	page := os.Getpagesize()
	fd, err := unix.MemfdCreate("unsealed", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		t.Fatalf("creating memfd: %v", err)
	}
	f := os.NewFile(uintptr(fd), "unsealed")
	defer f.Close()
	if err := f.Truncate(int64(2 * page)); err != nil {
		t.Fatal(err)
	}
	n := uint64(page + 10)

	// Seals only accumulate, each step adds one to the file.
	steps := []struct {
		name string
		add  int
		ok   bool
	}{
		{"none", 0, false},
		{"grow", unix.F_SEAL_GROW, false},
		{"shrink", unix.F_SEAL_SHRINK, false},
		{"write", unix.F_SEAL_WRITE, true},
	}
	for _, step := range steps {
		if step.add != 0 {
			if _, err := unix.FcntlInt(f.Fd(), unix.F_ADD_SEALS, step.add); err != nil {
				t.Fatalf("adding seal %s: %v", step.name, err)
			}
		}
		ref, err := transport.MapIn(f, n, 1<<20)
		if step.ok {
			if err != nil {
				t.Errorf("MapIn after sealing %s failed: %v", step.name, err)
			} else {
				ref.Release()
			}
			continue
		}
		if err == nil {
			ref.Release()
			t.Errorf("MapIn after sealing %s succeeded, want error", step.name)
		} else if !errors.Is(err, transport.ErrBadMapping) {
			t.Errorf("MapIn after sealing %s got err %v, want %v", step.name, err, transport.ErrBadMapping)
		}
	}
}

func TestMapInNotMemfd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc")
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), 64), 0o600); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{path, os.DevNull} {
		f, err := os.Open(name)
		if err != nil {
			t.Fatal(err)
		}
		ref, err := transport.MapIn(f, 32, 1<<20)
		f.Close()
		if err == nil {
			ref.Release()
			t.Errorf("MapIn(%s) succeeded, want error", name)
		} else if !errors.Is(err, transport.ErrBadMapping) {
			t.Errorf("MapIn(%s) got err %v, want %v", name, err, transport.ErrBadMapping)
		}
	}
}

func TestSendReceive(t *testing.T) {
	tests := []struct {
		name string
		hdr  transport.Header
		doc  []byte
	}{
		{"inline", transport.Header{Cmd: 1}, []byte("inline doc\x00")},
		{"mapped", transport.Header{Cmd: 2, Flags: transport.FlagMapped | transport.FlagReply}, []byte("mapped doc\x00")},
		{"empty", transport.Header{Cmd: 22, Flags: transport.FlagReply}, nil},
		{"empty_mapped", transport.Header{Cmd: 3, Flags: transport.FlagMapped}, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, b := mustPair(t)

			g := taskgroup.New(nil)
			g.Go(func() error {
				return transport.Send(a, tc.hdr, tc.doc)
			})

			h, ref, err := transport.Receive(b, 1<<20)
			if err != nil {
				t.Fatalf("Receive failed: %v", err)
			}
			if err := g.Wait(); err != nil {
				t.Fatalf("Send failed: %v", err)
			}

			if h.Cmd != tc.hdr.Cmd {
				t.Errorf("got Cmd %d, want %d", h.Cmd, tc.hdr.Cmd)
			}
			if h.Len != uint64(len(tc.doc)) {
				t.Errorf("got Len %d, want %d", h.Len, len(tc.doc))
			}
			if len(tc.doc) == 0 {
				if ref != nil {
					t.Fatalf("got ref for empty message")
				}
				return
			}
			defer ref.Release()
			if diff := cmp.Diff(ref.Bytes(), tc.doc); diff != "" {
				t.Errorf("wrong document (-got+want):\n%s", diff)
			}
		})
	}
}

func TestReceiveTooLarge(t *testing.T) {
	a, b := mustPair(t)
	doc := bytes.Repeat([]byte("a"), 64)

	g := taskgroup.New(nil)
	g.Go(func() error {
		return transport.Send(a, transport.Header{Cmd: 1}, doc)
	})
	_, ref, err := transport.Receive(b, len(doc))
	if !errors.Is(err, transport.ErrTooLarge) {
		t.Fatalf("Receive got err %v, want %v", err, transport.ErrTooLarge)
	}
	if ref != nil {
		t.Errorf("Receive returned a ref on failure")
	}
	b.Close()
	g.Wait()
}

func countFDs(t *testing.T) int {
	t.Helper()
	ents, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Fatalf("listing open files: %v", err)
	}
	return len(ents)
}

func TestReceiveUndeclaredFiles(t *testing.T) {
	devnull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	defer devnull.Close()

	mapped, err := transport.MapOut([]byte("mapped\x00"))
	if err != nil {
		t.Fatal(err)
	}
	defer mapped.File.Close()

	doc := []byte("inline\x00")
	tests := []struct {
		name  string
		hdr   transport.Header
		body  []byte
		files []*os.File
	}{
		{"inline", transport.Header{Cmd: 1, Len: uint64(len(doc))}, doc, []*os.File{devnull}},
		{"empty", transport.Header{Cmd: 1}, nil, []*os.File{devnull, devnull}},
		{"mapped_extra", transport.Header{Cmd: 1, Flags: transport.FlagMapped, Len: uint64(mapped.Len)}, nil, []*os.File{mapped.File, devnull}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, b := mustPair(t)
			msg := append(tc.hdr.AppendTo(nil), tc.body...)
			if _, err := a.WriteWithFiles(msg, tc.files); err != nil {
				t.Fatalf("sending message: %v", err)
			}
			_, ref, err := transport.Receive(b, 1<<20)
			if !errors.Is(err, transport.ErrUndeclaredFiles) {
				t.Fatalf("Receive got err %v, want %v", err, transport.ErrUndeclaredFiles)
			}
			if ref != nil {
				t.Errorf("Receive returned a ref on failure")
			}
			if n := b.DiscardFiles(); n != 0 {
				t.Errorf("%d received files still queued after failure", n)
			}
		})
	}
}

func TestReceiveFileFlood(t *testing.T) {
	a, b := mustPair(t)
	devnull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	defer devnull.Close()
	files := make([]*os.File, 100)
	for i := range files {
		files[i] = devnull
	}
	doc := []byte("<plist version=\"1.0\"><true/></plist>\x00")
	msg := append(transport.Header{Cmd: 1, Len: uint64(len(doc))}.AppendTo(nil), doc...)

	before := countFDs(t)
	g := taskgroup.New(nil)
	g.Go(func() error {
		for range 20 {
			if _, err := a.WriteWithFiles(msg, files); err != nil {
				// The receiver hung up.
				return nil
			}
		}
		return nil
	})
	for range 20 {
		_, ref, err := transport.Receive(b, 1<<20)
		if err == nil {
			ref.Release()
			t.Fatal("Receive accepted a message carrying 100 files")
		}
		if _, err := b.Write([]byte{0}); err != nil {
			// Receive failures of this kind close the transport.
			break
		}
	}
	a.Close()
	g.Wait()

	// a and b are closed, so fewer descriptors than before are open.
	if after := countFDs(t); after >= before {
		t.Errorf("open descriptors went from %d to %d, received files leaked", before, after)
	}
}

func TestReceiveBadFlags(t *testing.T) {
	a, b := mustPair(t)
	hdr := transport.Header{Cmd: 1, Flags: 0x80}
	go a.Write(hdr.AppendTo(nil))
	if _, _, err := transport.Receive(b, 1024); err == nil {
		t.Fatal("Receive accepted unknown flags")
	}
}

func TestCred(t *testing.T) {
	a, _ := mustPair(t)
	cred, err := a.Cred()
	if err != nil {
		t.Fatalf("Cred() failed: %v", err)
	}
	if got, want := int(cred.Pid), os.Getpid(); got != want {
		t.Errorf("Cred().Pid = %d, want %d", got, want)
	}
	if got, want := int(cred.Uid), os.Getuid(); got != want {
		t.Errorf("Cred().Uid = %d, want %d", got, want)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.plist")

	if err := transport.WriteFileAtomic(path, []byte("first")); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := transport.WriteFileAtomic(path, []byte("second")); err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("got %q, want %q", got, "second")
	}

	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 1 {
		var names []string
		for _, e := range ents {
			names = append(names, e.Name())
		}
		t.Errorf("temporary files left behind: %v", names)
	}
}

func TestWriteFileAtomicMode(t *testing.T) {
	for _, mask := range []int{0o022, 0o077, 0o002} {
		old := unix.Umask(mask)
		path := filepath.Join(t.TempDir(), "test.plist")
		err := transport.WriteFileAtomic(path, []byte("x"))
		unix.Umask(old)
		if err != nil {
			t.Fatalf("WriteFileAtomic failed: %v", err)
		}
		fi, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := fi.Mode().Perm(), os.FileMode(0o666&^mask); got != want {
			t.Errorf("with umask %#o, got mode %v, want %v", mask, got, want)
		}
	}
}

func TestWriteFileAtomicFailure(t *testing.T) {
	dir := t.TempDir()
	// The target is a directory, so the final rename fails.
	path := filepath.Join(dir, "sub")
	if err := os.Mkdir(path, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "keep"), nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := transport.WriteFileAtomic(path, []byte("x")); err == nil {
		t.Fatal("WriteFileAtomic over a non-empty directory succeeded")
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 1 {
		t.Errorf("temporary file left behind after failure, dir has %d entries", len(ents))
	}
}

func TestWriteFileAtomicConcurrentReaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.plist")
	a := bytes.Repeat([]byte("a"), 64<<10)
	b := bytes.Repeat([]byte("b"), 64<<10)
	if err := transport.WriteFileAtomic(path, a); err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	readers := taskgroup.New(nil)
	for range 4 {
		readers.Go(func() error {
			for {
				select {
				case <-stop:
					return nil
				default:
				}
				got, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				if !bytes.Equal(got, a) && !bytes.Equal(got, b) {
					return errors.New("reader saw a torn write")
				}
			}
		})
	}

	for i := range 50 {
		doc := a
		if i%2 == 0 {
			doc = b
		}
		if err := transport.WriteFileAtomic(path, doc); err != nil {
			t.Errorf("write %d failed: %v", i, err)
			break
		}
	}
	close(stop)
	if err := readers.Wait(); err != nil {
		t.Fatal(err)
	}
}
