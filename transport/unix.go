package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/creachadair/mds/queue"
	"golang.org/x/sys/unix"
)

// Transport is a raw connection to a peer on the other side of a
// privilege boundary.
type Transport interface {
	io.ReadWriteCloser

	// GetFiles returns n received files that were attached to
	// previously read bytes as ancillary data.
	GetFiles(n int) ([]*os.File, error)
	// DiscardFiles closes all received files not yet returned by
	// GetFiles, and reports how many there were.
	DiscardFiles() int
	// WriteWithFiles is like Transport.Write, but additionally sends
	// the given files as ancillary data.
	WriteWithFiles(bs []byte, fds []*os.File) (int, error)
	// SetDeadline sets the read and write deadline of the
	// connection, as in net.Conn.
	SetDeadline(t time.Time) error
	// Cred returns the credentials of the peer process.
	Cred() (*unix.Ucred, error)
}

// DialUnix connects to the service listening at the given socket
// path.
func DialUnix(ctx context.Context, path string) (Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return NewUnix(conn.(*net.UnixConn)), nil
}

// NewUnix returns a Transport that runs over conn.
func NewUnix(conn *net.UnixConn) Transport {
	return &unixTransport{
		conn: conn,
		fds:  queue.New[*os.File](),
	}
}

// Pair returns two connected Transports, backed by a Unix socket
// pair.
func Pair() (Transport, Transport, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("creating socket pair: %w", err)
	}
	var ts [2]Transport
	for i, fd := range fds {
		f := os.NewFile(uintptr(fd), fmt.Sprintf("socketpair-%d", i))
		conn, err := net.FileConn(f)
		// FileConn dups the descriptor.
		f.Close()
		if err != nil {
			if i == 0 {
				unix.Close(fds[1])
			} else {
				ts[0].Close()
			}
			return nil, nil, err
		}
		ts[i] = NewUnix(conn.(*net.UnixConn))
	}
	return ts[0], ts[1], nil
}

// maxQueuedFiles is the most received files a transport holds
// before GetFiles claims them. Every message declares at most one.
const maxQueuedFiles = 4

// unixTransport is a Transport that runs over a Unix domain socket.
type unixTransport struct {
	conn *net.UnixConn
	oob  [512]byte
	fds  *queue.Queue[*os.File]
}

func (u *unixTransport) Read(bs []byte) (int, error) {
	n, oobn, flags, _, err := u.conn.ReadMsgUnix(bs, u.oob[:])
	if flags&unix.MSG_CTRUNC != 0 {
		u.Close()
		return 0, errors.New("control message truncated")
	}
	if oobn > 0 {
		if oobErr := u.parseFDs(u.oob[:oobn]); oobErr != nil {
			u.Close()
			return 0, oobErr
		}
	}
	if err != nil {
		return n, err
	}
	return n, nil
}

func (u *unixTransport) Write(bs []byte) (int, error) {
	return u.conn.Write(bs)
}

func (u *unixTransport) SetDeadline(t time.Time) error {
	return u.conn.SetDeadline(t)
}

func (u *unixTransport) Close() error {
	u.DiscardFiles()
	return u.conn.Close()
}

func (u *unixTransport) DiscardFiles() int {
	n := u.fds.Len()
	u.fds.Each(func(f *os.File) bool {
		f.Close()
		return true
	})
	u.fds.Clear()
	return n
}

func (u *unixTransport) Cred() (*unix.Ucred, error) {
	raw, err := u.conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	var (
		cred    *unix.Ucred
		credErr error
	)
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return nil, err
	}
	return cred, credErr
}

func (u *unixTransport) WriteWithFiles(bs []byte, fs []*os.File) (int, error) {
	if len(fs) == 0 {
		return u.Write(bs)
	}

	fds := make([]int, 0, len(fs))
	for _, f := range fs {
		fds = append(fds, int(f.Fd()))
	}
	scm := unix.UnixRights(fds...)
	n, oobn, err := u.conn.WriteMsgUnix(bs, scm, nil)
	if err != nil {
		return n, err
	}
	if oobn != len(scm) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

func (u *unixTransport) GetFiles(n int) ([]*os.File, error) {
	ret := make([]*os.File, 0, n)
	for range n {
		f, ok := u.fds.Pop()
		if !ok {
			for _, f := range ret {
				f.Close()
			}
			return nil, errors.New("requested file not available")
		}
		ret = append(ret, f)
	}
	return ret, nil
}

func (u *unixTransport) parseFDs(oob []byte) error {
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return err
	}
	// Accumulate errors and keep parsing on errors. We want to
	// extract all provided file descriptors from the message, so that
	// we can correctly close all of them on error. If we bailed on
	// first error, we'd leave dangling fds in the process, and allow
	// for a DoS.
	var errs []error
	for _, scm := range scms {
		if scm.Header.Level != unix.SOL_SOCKET || scm.Header.Type != unix.SCM_RIGHTS {
			continue
		}
		fds, err := unix.ParseUnixRights(&scm)
		if err != nil {
			errs = append(errs, fmt.Errorf("parsing unix rights: %w", err))
			continue
		}
		for _, fd := range fds {
			f := os.NewFile(uintptr(fd), "")
			switch {
			case f == nil:
				errs = append(errs, fmt.Errorf("invalid file descriptor %d received on socket", fd))
			case u.fds.Len() >= maxQueuedFiles:
				f.Close()
				errs = append(errs, fmt.Errorf("too many files received, limit is %d", maxQueuedFiles))
			default:
				u.fds.Add(f)
			}
		}
	}

	return errors.Join(errs...)
}
