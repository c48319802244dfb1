package plist

import "github.com/danderson/plist/fragments"

// Format is a text syntax for externalized values.
type Format = fragments.Format

const (
	// XML is the XML property list dialect. It can represent every
	// value, and is the only format that can be internalized.
	XML = fragments.XML
	// JSON is plain JSON. It cannot represent [Data] values.
	JSON = fragments.JSON
)

// ParseFormat returns the Format named s, "xml" or "json".
func ParseFormat(s string) (Format, error) {
	return fragments.ParseFormat(s)
}

const (
	// DefaultFormat is the format used when none is specified.
	DefaultFormat = XML
	// DefaultMaxSize is the default ceiling on the size of a
	// serialized document received from an untrusted peer.
	DefaultMaxSize = 128 << 10
	// DefaultMaxDepth is the default limit on value nesting.
	DefaultMaxDepth = 64
)

// Options configures externalization, internalization and transport.
//
// The zero value is ready to use, and selects the defaults.
type Options struct {
	// Format is the text format to use. The zero value is XML.
	Format Format
	// MaxSize is the ceiling on the length of serialized documents
	// accepted from an untrusted source. Lengths at or above
	// MaxSize are rejected before allocating anything. If zero,
	// DefaultMaxSize is used.
	MaxSize int
	// MaxDepth limits the nesting of arrays and dictionaries, in
	// both directions. If zero, DefaultMaxDepth is used.
	MaxDepth int
	// MaxOutput, if positive, limits the length of externalized
	// documents. Exceeding it fails with ErrNoSpace.
	MaxOutput int
}

func (o Options) maxSize() int {
	if o.MaxSize > 0 {
		return o.MaxSize
	}
	return DefaultMaxSize
}

func (o Options) maxDepth() int {
	if o.MaxDepth > 0 {
		return o.MaxDepth
	}
	return DefaultMaxDepth
}
