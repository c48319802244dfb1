package plist

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/danderson/plist/transport"
)

// SaveFile externalizes v in format f and atomically replaces the
// file at path with the result. Concurrent readers of path see either
// the old file or the new one, never a mix.
func SaveFile(path string, v Value, f Format) error {
	return Options{Format: f}.SaveFile(path, v)
}

// SaveFile is like the package-level [SaveFile], using o to
// externalize v.
func (o Options) SaveFile(path string, v Value) error {
	doc, err := o.Externalize(v)
	if err != nil {
		return err
	}
	// The terminator is for in-memory consumers, files don't carry it.
	doc = bytes.TrimSuffix(doc, []byte{0})
	if err := transport.WriteFileAtomic(path, doc); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	return nil
}

// LoadFile internalizes the XML property list stored at path, and
// checks that it holds a value of kind want. want may be
// [KindUnknown] to accept any kind.
func LoadFile(path string, want Kind) (Value, error) {
	return Options{}.LoadFile(path, want)
}

// LoadFile is like the package-level [LoadFile], using the limits in
// o. Local files are trusted to the extent that their size is only
// checked if o.MaxSize is set explicitly.
func (o Options) LoadFile(path string, want Kind) (Value, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if o.MaxSize > 0 {
		fi, err := f.Stat()
		if err != nil {
			return nil, err
		}
		if fi.Size() >= int64(o.MaxSize) {
			return nil, fmt.Errorf("loading %s: %w: %d bytes, ceiling is %d", path, ErrTooLarge, fi.Size(), o.MaxSize)
		}
	}
	bs, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	o.Format = XML
	v, err := o.Internalize(bs)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	if err := checkKind(v, want); err != nil {
		Release(v)
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return v, nil
}
