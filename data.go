package plist

import (
	"bytes"
	"errors"
	"io"
)

var (
	// ErrEmptyData is returned by [Data.CopyInto] when the source
	// value is empty.
	ErrEmptyData = errors.New("data value is empty")
	// ErrImmutable is returned when attempting to modify an
	// immutable value.
	ErrImmutable = errors.New("value is immutable")
)

// dataStorage is how a Data value holds its bytes.
type dataStorage uint8

const (
	// dataOwned values hold a private copy of their bytes.
	dataOwned dataStorage = iota
	// dataBorrowed values reference memory owned by someone else.
	dataBorrowed
	// dataMutable values hold a private, modifiable copy of their
	// bytes. Copying one duplicates the bytes.
	dataMutable
)

// Data is an opaque byte sequence value.
//
// An empty Data always has a nil byte slice, whichever way it was
// created.
type Data struct {
	refcount
	storage dataStorage
	b       []byte
	release func()
}

func newData(storage dataStorage, b []byte, release func()) *Data {
	if len(b) == 0 {
		b = nil
	}
	ret := &Data{storage: storage, b: b, release: release}
	ret.init()
	return ret
}

// NewData returns a new data value holding a copy of b.
func NewData(b []byte) *Data {
	return newData(dataOwned, bytes.Clone(b), nil)
}

// NewDataNoCopy returns a new data value that references b without
// copying it.
//
// The caller must keep b alive and unmodified until the value's
// reference count reaches zero. At that point release, if non-nil,
// is called exactly once. This is the one place where a value
// borrows memory it does not own, typically a shared mapping handed
// over by another process.
func NewDataNoCopy(b []byte, release func()) *Data {
	return newData(dataBorrowed, b, release)
}

// NewMutableData returns a new data value holding a copy of b, which
// can be extended with [Data.Append].
//
// Deprecated: mutable data exists for compatibility with older
// callers. [Copy] duplicates mutable data instead of sharing it.
func NewMutableData(b []byte) *Data {
	return newData(dataMutable, bytes.Clone(b), nil)
}

func (*Data) Kind() Kind { return KindData }

// Len returns the number of bytes in d.
func (d *Data) Len() int { return len(d.b) }

// Bytes returns the bytes of d. The caller must not modify them.
func (d *Data) Bytes() []byte { return d.b }

// IsBorrowed reports whether d references memory it does not own.
func (d *Data) IsBorrowed() bool { return d.storage == dataBorrowed }

// IsMutable reports whether d was created by [NewMutableData].
func (d *Data) IsMutable() bool { return d.storage == dataMutable }

// CopyInto copies the bytes of d into dst, and returns the number of
// bytes copied.
//
// CopyInto fails with [io.ErrShortBuffer] if dst is too small, and
// with [ErrEmptyData] if d is empty.
func (d *Data) CopyInto(dst []byte) (int, error) {
	if len(d.b) == 0 {
		return 0, ErrEmptyData
	}
	if len(dst) < len(d.b) {
		return 0, io.ErrShortBuffer
	}
	return copy(dst, d.b), nil
}

// EqualBytes reports whether d holds exactly the bytes b.
func (d *Data) EqualBytes(b []byte) bool {
	return bytes.Equal(d.b, b)
}

// Append appends b to d. Only data created by [NewMutableData] can
// be appended to, other data values return [ErrImmutable].
func (d *Data) Append(b []byte) error {
	if d.storage != dataMutable {
		return ErrImmutable
	}
	if len(b) > 0 {
		d.b = append(d.b, b...)
	}
	return nil
}

func (d *Data) copy() *Data {
	if d.storage == dataMutable {
		return NewMutableData(d.b)
	}
	return Retain(d)
}

func (d *Data) destroy() {
	d.b = nil
	if d.release != nil {
		rel := d.release
		d.release = nil
		rel()
	}
}

// DataLen returns the number of bytes in v, or 0 if v is not a data
// value.
func DataLen(v Value) int {
	if d, ok := v.(*Data); ok && d != nil {
		return d.Len()
	}
	return 0
}

// DataBytes returns the bytes of v, or nil if v is not a data value.
// The caller must not modify the returned slice.
func DataBytes(v Value) []byte {
	if d, ok := v.(*Data); ok && d != nil {
		return d.Bytes()
	}
	return nil
}
