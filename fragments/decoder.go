package fragments

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrMalformed matches every [SyntaxError] with [errors.Is].
var ErrMalformed = errors.New("malformed property list")

// SyntaxError reports malformed input found by a [Decoder].
type SyntaxError struct {
	// Offset is the byte offset into the input where the problem
	// was found.
	Offset int
	// Reason describes the problem.
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("malformed property list at offset %d: %s", e.Offset, e.Reason)
}

func (e *SyntaxError) Is(target error) bool {
	return target == ErrMalformed
}

// TagKind is the kind of a scanned tag.
type TagKind uint8

const (
	// TagStart is an opening tag, like <foo>.
	TagStart TagKind = iota + 1
	// TagEnd is a closing tag, like </foo>.
	TagEnd
	// TagEmpty is a self-closing tag, like <foo/>.
	TagEmpty
)

func (k TagKind) String() string {
	switch k {
	case TagStart:
		return "start tag"
	case TagEnd:
		return "end tag"
	case TagEmpty:
		return "empty tag"
	default:
		return fmt.Sprintf("TagKind(%d)", uint8(k))
	}
}

// A Decoder scans property list text.
//
// The read cursor only ever moves forward. The decoder understands
// tags with at most one attribute, character data, and the prolog
// constructs that precede the root element. It is not a general XML
// parser.
type Decoder struct {
	// In is the input text. Scanning stops at the first NUL byte,
	// or at the end of In.
	In []byte

	// TagName is the name of the most recently scanned tag.
	TagName string
	// TagKind is the kind of the most recently scanned tag.
	TagKind TagKind
	// AttrName and AttrValue are the attribute of the most recently
	// scanned tag, if it had one.
	AttrName, AttrValue string

	pos   int
	n     int
	sized bool
}

// NewDecoder returns a Decoder that reads text up to its first NUL
// byte.
func NewDecoder(text []byte) *Decoder {
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}
	return &Decoder{In: text}
}

// Offset returns the current position of the read cursor.
func (d *Decoder) Offset() int {
	return d.pos
}

// Errorf returns a [SyntaxError] at the current offset.
func (d *Decoder) Errorf(reason string, args ...any) error {
	return d.errorAt(d.pos, reason, args...)
}

func (d *Decoder) errorAt(offset int, reason string, args ...any) error {
	return &SyntaxError{offset, fmt.Sprintf(reason, args...)}
}

func (d *Decoder) end() int {
	if !d.sized {
		d.n = len(d.In)
		if i := bytes.IndexByte(d.In, 0); i >= 0 {
			d.n = i
		}
		d.sized = true
	}
	return d.n
}

func (d *Decoder) peek() (byte, bool) {
	if d.pos >= d.end() {
		return 0, false
	}
	return d.In[d.pos], true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '_' || c == '-' || c == '.' || c == ':'
}

// SkipSpace advances past any whitespace.
func (d *Decoder) SkipSpace() {
	for {
		c, ok := d.peek()
		if !ok || !isSpace(c) {
			return
		}
		d.pos++
	}
}

// AtEOF reports whether only whitespace remains in the input.
func (d *Decoder) AtEOF() bool {
	d.SkipSpace()
	_, ok := d.peek()
	return !ok
}

// HasPrefix reports whether the unread input starts with s.
func (d *Decoder) HasPrefix(s string) bool {
	return bytes.HasPrefix(d.In[d.pos:d.end()], []byte(s))
}

// SkipPast advances the cursor to just after the next occurrence of
// s. It is an error if s does not occur in the remaining input.
func (d *Decoder) SkipPast(s string) error {
	i := bytes.Index(d.In[d.pos:d.end()], []byte(s))
	if i < 0 {
		return d.Errorf("unexpected end of input looking for %q", s)
	}
	d.pos += i + len(s)
	return nil
}

// NextTag skips whitespace and scans one tag, recording it in
// [Decoder.TagName], [Decoder.TagKind], [Decoder.AttrName] and
// [Decoder.AttrValue].
func (d *Decoder) NextTag() error {
	d.TagName, d.TagKind, d.AttrName, d.AttrValue = "", 0, "", ""

	d.SkipSpace()
	start := d.pos
	if c, ok := d.peek(); !ok {
		return d.Errorf("unexpected end of input, expected tag")
	} else if c != '<' {
		return d.Errorf("unexpected character %q, expected tag", c)
	}
	d.pos++

	kind := TagStart
	if c, ok := d.peek(); ok && c == '/' {
		kind = TagEnd
		d.pos++
	}

	name, err := d.name()
	if err != nil {
		return err
	}

	d.SkipSpace()
	c, ok := d.peek()
	if ok && isNameByte(c) {
		if kind == TagEnd {
			return d.Errorf("attribute on end tag </%s>", name)
		}
		if err := d.attr(); err != nil {
			return err
		}
		d.SkipSpace()
		c, ok = d.peek()
	}
	if !ok {
		return d.errorAt(start, "unterminated tag <%s", name)
	}
	if c == '/' {
		if kind == TagEnd {
			return d.Errorf("malformed end tag </%s>", name)
		}
		kind = TagEmpty
		d.pos++
		c, ok = d.peek()
		if !ok {
			return d.errorAt(start, "unterminated tag <%s", name)
		}
	}
	if c != '>' {
		return d.Errorf("unexpected character %q in tag <%s>", c, name)
	}
	d.pos++

	d.TagName, d.TagKind = name, kind
	return nil
}

func (d *Decoder) name() (string, error) {
	start := d.pos
	for {
		c, ok := d.peek()
		if !ok || !isNameByte(c) {
			break
		}
		d.pos++
	}
	if d.pos == start {
		return "", d.Errorf("missing tag name")
	}
	return string(d.In[start:d.pos]), nil
}

func (d *Decoder) attr() error {
	name, err := d.name()
	if err != nil {
		return err
	}
	d.SkipSpace()
	if c, ok := d.peek(); !ok || c != '=' {
		return d.Errorf("expected '=' after attribute %q", name)
	}
	d.pos++
	d.SkipSpace()
	if c, ok := d.peek(); !ok || c != '"' {
		return d.Errorf("expected quoted value for attribute %q", name)
	}
	d.pos++
	start := d.pos
	if i := bytes.IndexByte(d.In[d.pos:d.end()], '"'); i < 0 {
		return d.errorAt(start, "unterminated value for attribute %q", name)
	} else {
		d.pos += i
	}
	d.AttrName, d.AttrValue = name, string(d.In[start:d.pos])
	d.pos++
	return nil
}

// Text returns the raw character data from the cursor up to, but not
// including, the next '<'. It is an error to run out of input before
// finding one.
func (d *Decoder) Text() (string, error) {
	i := bytes.IndexByte(d.In[d.pos:d.end()], '<')
	if i < 0 {
		return "", d.Errorf("unexpected end of input in character data")
	}
	ret := string(d.In[d.pos : d.pos+i])
	d.pos += i
	return ret, nil
}

// Expect scans the next tag and checks that it is of kind k and
// named name.
func (d *Decoder) Expect(k TagKind, name string) error {
	start := d.pos
	if err := d.NextTag(); err != nil {
		return err
	}
	if d.TagKind != k || d.TagName != name {
		return d.errorAt(start, "got %s %q, want %s %q", d.TagKind, d.TagName, k, name)
	}
	return nil
}
