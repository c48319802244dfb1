package fragments

import (
	"encoding/base64"
	"errors"
)

var (
	// ErrNoSpace is reported by [Encoder.Err] when the output would
	// have grown past [Encoder.Limit].
	ErrNoSpace = errors.New("encoded output exceeds size limit")
	// ErrUnsupported is returned when the encoder's format has no
	// representation for a [Tag].
	ErrUnsupported = errors.New("value type not representable in format")
)

// A Tag describes how one value type is framed in each format.
type Tag struct {
	// XML is the element name used in the XML format.
	XML string
	// JSONOpen and JSONClose are the literal tokens that open and
	// close the value in the JSON format. Either may be empty, for
	// types that have no framing in JSON.
	JSONOpen, JSONClose string
	// NoJSON marks types with no JSON representation at all.
	NoJSON bool
}

// An Encoder provides utilities to write a property list document to
// a byte slice.
//
// Encoder methods do not return errors. Once the output would grow
// past Limit, all further writes are dropped and [Encoder.Err]
// reports [ErrNoSpace].
type Encoder struct {
	// Format selects the tag syntax and escaping rules.
	Format Format
	// Depth is the current nesting depth, used by [Encoder.Indent].
	Depth int
	// Limit, if positive, is the maximum length of Out.
	Limit int
	// Out is the encoded output.
	Out []byte

	full bool
}

// Err returns [ErrNoSpace] if any write was dropped because of
// Limit, or nil otherwise.
func (e *Encoder) Err() error {
	if e.full {
		return ErrNoSpace
	}
	return nil
}

// Reset discards all output and clears any error, keeping the
// allocated buffer.
func (e *Encoder) Reset() {
	e.Out = e.Out[:0]
	e.Depth = 0
	e.full = false
}

func (e *Encoder) room(n int) bool {
	if e.full {
		return false
	}
	if e.Limit > 0 && len(e.Out)+n > e.Limit {
		e.full = true
		return false
	}
	return true
}

// Byte writes b as-is to the output.
func (e *Encoder) Byte(b byte) {
	if e.room(1) {
		e.Out = append(e.Out, b)
	}
}

// Write writes bs as-is to the output. It is the caller's
// responsibility to ensure correct escaping.
func (e *Encoder) Write(bs []byte) {
	if e.room(len(bs)) {
		e.Out = append(e.Out, bs...)
	}
}

// WriteString is like [Encoder.Write], for strings.
func (e *Encoder) WriteString(s string) {
	if e.room(len(s)) {
		e.Out = append(e.Out, s...)
	}
}

// Escaped writes s to the output, escaping each byte according to
// [Encoder.Format].
func (e *Encoder) Escaped(s string) {
	for i := range len(s) {
		esc := Escape(e.Format, s[i])
		if esc == "" {
			e.Byte(s[i])
		} else {
			e.WriteString(esc)
		}
	}
}

// Newline writes a line break.
func (e *Encoder) Newline() {
	e.Byte('\n')
}

// Indent writes one tab per level of [Encoder.Depth].
func (e *Encoder) Indent() {
	for range e.Depth {
		e.Byte('\t')
	}
}

// CanEncode reports whether t has a representation in the encoder's
// format.
func (e *Encoder) CanEncode(t Tag) bool {
	return e.Format != JSON || !t.NoJSON
}

// StartTag writes the opening framing of t.
func (e *Encoder) StartTag(t Tag) error {
	if !e.CanEncode(t) {
		return ErrUnsupported
	}
	if e.Format == JSON {
		e.WriteString(t.JSONOpen)
		return nil
	}
	e.Byte('<')
	e.WriteString(t.XML)
	e.Byte('>')
	return nil
}

// EndTag writes the closing framing of t.
func (e *Encoder) EndTag(t Tag) error {
	if !e.CanEncode(t) {
		return ErrUnsupported
	}
	if e.Format == JSON {
		e.WriteString(t.JSONClose)
		return nil
	}
	e.WriteString("</")
	e.WriteString(t.XML)
	e.Byte('>')
	return nil
}

// EmptyTag writes the framing of an empty t: a self-closing element
// in XML, or the open and close tokens back to back in JSON.
func (e *Encoder) EmptyTag(t Tag) error {
	if !e.CanEncode(t) {
		return ErrUnsupported
	}
	if e.Format == JSON {
		e.WriteString(t.JSONOpen)
		e.WriteString(t.JSONClose)
		return nil
	}
	e.Byte('<')
	e.WriteString(t.XML)
	e.WriteString("/>")
	return nil
}

// Base64 writes the standard base64 encoding of bs, with padding.
func (e *Encoder) Base64(bs []byte) {
	if e.room(base64.StdEncoding.EncodedLen(len(bs))) {
		e.Out = base64.StdEncoding.AppendEncode(e.Out, bs)
	}
}
