package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// HeaderLen is the encoded size of a Header.
const HeaderLen = 16

// ErrUndeclaredFiles is returned when a message carries files that
// its header does not account for.
var ErrUndeclaredFiles = errors.New("undeclared files attached to message")

// Flags modify the interpretation of a message.
type Flags uint32

const (
	// FlagMapped marks a message whose document travels as a shared
	// memory file attached to the message, rather than inline after
	// the header.
	FlagMapped Flags = 1 << iota
	// FlagReply marks a message as the reply to a request.
	FlagReply
)

// Header is the fixed size preamble of every message exchanged
// over a Transport.
//
// Messages only travel between processes on the same machine, so the
// header is in native byte order.
type Header struct {
	// Cmd is the request selector. In a reply, Cmd is instead the
	// status of the request: zero on success, an errno value on
	// failure.
	Cmd   uint32
	Flags Flags
	// Len is the length of the document that follows, including its
	// terminator.
	Len uint64
}

// AppendTo appends the encoding of h to bs.
func (h Header) AppendTo(bs []byte) []byte {
	bs = binary.NativeEndian.AppendUint32(bs, h.Cmd)
	bs = binary.NativeEndian.AppendUint32(bs, uint32(h.Flags))
	return binary.NativeEndian.AppendUint64(bs, h.Len)
}

// ReadHeader reads one Header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	ret := Header{
		Cmd:   binary.NativeEndian.Uint32(buf[:4]),
		Flags: Flags(binary.NativeEndian.Uint32(buf[4:8])),
		Len:   binary.NativeEndian.Uint64(buf[8:]),
	}
	if unknown := ret.Flags &^ (FlagMapped | FlagReply); unknown != 0 {
		return Header{}, fmt.Errorf("unknown message flags %#x", uint32(unknown))
	}
	return ret, nil
}

// Send writes h followed by doc, if any. If h has
// FlagMapped set, the document is placed in a sealed memory file and
// attached to the header instead.
func Send(t Transport, h Header, doc []byte) error {
	h.Len = uint64(len(doc))
	if h.Flags&FlagMapped == 0 || len(doc) == 0 {
		h.Flags &^= FlagMapped
		msg := h.AppendTo(make([]byte, 0, HeaderLen+len(doc)))
		msg = append(msg, doc...)
		_, err := t.Write(msg)
		return err
	}

	m, err := MapOut(doc)
	if err != nil {
		return err
	}
	defer m.File.Close()
	h.Len = uint64(m.Len)
	_, err = t.WriteWithFiles(h.AppendTo(nil), []*os.File{m.File})
	return err
}

// Receive reads one message from t. The returned Ref is nil if the
// message carries no document, otherwise the caller must release it.
func Receive(t Transport, ceiling int) (Header, *Ref, error) {
	h, err := ReadHeader(t)
	if err != nil {
		return Header{}, nil, err
	}
	ref, err := ReceiveBody(t, h, ceiling)
	return h, ref, err
}

// ReceiveBody reads the document that follows h, h having just been
// read from t. The returned Ref is nil if h carries no document.
//
// The document length claimed by the sender is checked against
// ceiling before any memory is committed to the document. If an
// inline document is rejected, its bytes are left unread and t can
// no longer be used.
//
// Files attached to the message beyond the one h declares are closed,
// and the message fails with [ErrUndeclaredFiles].
func ReceiveBody(t Transport, h Header, ceiling int) (*Ref, error) {
	ref, err := receiveBody(t, h, ceiling)
	if n := t.DiscardFiles(); n > 0 {
		if ref != nil {
			ref.Release()
		}
		return nil, fmt.Errorf("%w: %d files attached to message", ErrUndeclaredFiles, n)
	}
	return ref, err
}

func receiveBody(t Transport, h Header, ceiling int) (*Ref, error) {
	if h.Flags&FlagMapped != 0 {
		fs, err := t.GetFiles(1)
		if err != nil {
			return nil, err
		}
		defer fs[0].Close()
		return MapIn(fs[0], h.Len, ceiling)
	}
	if h.Len == 0 {
		return nil, nil
	}
	return CopyIn(t, h.Len, ceiling)
}
