// Package transport moves serialized property lists across a
// privilege boundary: between a process and a privileged service, or
// between a process and stable storage.
//
// Nothing in this package parses documents. It only bounds, copies,
// maps and writes the bytes, leaving validation to the receiver.
package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	// ErrTooLarge is returned when an untrusted length is at or
	// above the ceiling configured for the receiving side.
	ErrTooLarge = errors.New("length exceeds size ceiling")
	// ErrEmptyRef is returned when a zero-length reference is
	// received.
	ErrEmptyRef = errors.New("zero-length reference")
)

// Ref is a serialized document in transit, paired with its length.
// The length includes the document's terminating NUL byte.
//
// The producer of a Ref allocates it, the consumer must call
// [Ref.Release] when done with it. How the memory is released
// depends on where it came from: a Ref backed by a shared mapping is
// unmapped, a Ref backed by a heap copy is simply dropped.
type Ref struct {
	buf     []byte
	release func() error
	once    sync.Once
}

// NewRef returns a Ref for doc. doc is not copied.
func NewRef(doc []byte) *Ref {
	return &Ref{buf: doc}
}

func newMappedRef(buf []byte, release func() error) *Ref {
	return &Ref{buf: buf, release: release}
}

// Len returns the length of the referenced document, including its
// terminator.
func (r *Ref) Len() int {
	return len(r.buf)
}

// Bytes returns the referenced document. The slice is only valid
// until [Ref.Release] is called.
func (r *Ref) Bytes() []byte {
	return r.buf
}

// Terminate overwrites the final byte of the document with NUL, so
// that a sender who left out the terminator cannot make the receiver
// read past the end of the buffer.
func (r *Ref) Terminate() {
	if len(r.buf) > 0 {
		r.buf[len(r.buf)-1] = 0
	}
}

// Release frees the memory backing r. Release is safe to call more
// than once, only the first call has any effect.
func (r *Ref) Release() error {
	var err error
	r.once.Do(func() {
		r.buf = nil
		if r.release != nil {
			err = r.release()
		}
	})
	return err
}

// CopyIn reads a document of untrusted length n from r.
//
// n is checked against ceiling before anything is allocated: a
// length at or above ceiling fails with [ErrTooLarge], and a zero
// length fails with [ErrEmptyRef]. Otherwise, exactly n bytes are
// read from r into a fresh buffer.
func CopyIn(r io.Reader, n uint64, ceiling int) (*Ref, error) {
	if n == 0 {
		return nil, ErrEmptyRef
	}
	if ceiling <= 0 || n >= uint64(ceiling) {
		return nil, fmt.Errorf("%w: %d bytes, ceiling is %d", ErrTooLarge, n, ceiling)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("copying in %d bytes: %w", n, err)
	}
	return NewRef(buf), nil
}
