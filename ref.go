package plist

import (
	"fmt"

	"github.com/danderson/plist/transport"
)

// NewRef externalizes v in format f, and returns the document ready
// to be handed to another process.
func NewRef(v Value, f Format) (*transport.Ref, error) {
	return Options{Format: f}.NewRef(v)
}

// NewRef externalizes v using o, and returns the document ready to be
// handed to another process.
func (o Options) NewRef(v Value) (*transport.Ref, error) {
	doc, err := o.Externalize(v)
	if err != nil {
		return nil, err
	}
	return transport.NewRef(doc), nil
}

// FromRef internalizes the document in ref, received from an
// untrusted source, and checks that it holds a value of kind want.
// want may be [KindUnknown] to accept any kind.
//
// ref is not released. Its memory is no longer needed once FromRef
// returns.
func FromRef(ref *transport.Ref, want Kind) (Value, error) {
	return Options{}.FromRef(ref, want)
}

// FromRefLimit is like [FromRef], but rejects documents of limit
// bytes or more instead of the default ceiling.
func FromRefLimit(ref *transport.Ref, want Kind, limit int) (Value, error) {
	return Options{MaxSize: limit}.FromRef(ref, want)
}

// FromRef internalizes the document in ref using the limits in o. The
// document is always parsed as XML, whatever o.Format says.
//
// Before parsing, the final byte of the document is overwritten with
// NUL. A sender that omits the terminator gets a malformed document,
// never a read past the end of its buffer.
func (o Options) FromRef(ref *transport.Ref, want Kind) (Value, error) {
	if ref == nil || ref.Len() == 0 {
		return nil, ErrEmptyRef
	}
	if ceiling := o.maxSize(); ref.Len() >= ceiling {
		return nil, fmt.Errorf("%w: %d bytes, ceiling is %d", ErrTooLarge, ref.Len(), ceiling)
	}
	ref.Terminate()

	o.Format = XML
	v, err := o.Internalize(ref.Bytes())
	if err != nil {
		return nil, err
	}
	if err := checkKind(v, want); err != nil {
		Release(v)
		return nil, err
	}
	return v, nil
}
