package plist

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/danderson/plist/fragments"
)

// Internalize parses an XML property list document and returns the
// value it holds, using the default [Options].
//
// Parsing stops at the first NUL byte in text, if any. The document
// must consist of an optional XML declaration, DOCTYPE and comments,
// followed by a single plist element with version="1.0" holding
// exactly one value.
//
// On any error, Internalize returns a nil Value and an error
// matching [ErrMalformed]. No partially built value is ever
// returned.
func Internalize(text []byte) (Value, error) {
	return Options{}.Internalize(text)
}

// Internalize parses a property list document using the limits in o.
// Only the XML format can be internalized, other formats fail with
// [ErrFormatUnsupported].
//
// The returned value has a reference count of 1, owned by the caller.
func (o Options) Internalize(text []byte) (Value, error) {
	if o.Format != XML {
		return nil, fmt.Errorf("%w: cannot internalize %s", ErrFormatUnsupported, o.Format)
	}
	p := internalizer{
		d:        fragments.NewDecoder(text),
		maxDepth: o.maxDepth(),
	}
	return p.document()
}

type internalizer struct {
	d        *fragments.Decoder
	maxDepth int
}

func (p *internalizer) document() (Value, error) {
	if err := p.prolog(); err != nil {
		return nil, err
	}

	if err := p.d.Expect(fragments.TagStart, "plist"); err != nil {
		return nil, err
	}
	if p.d.AttrName != "version" || p.d.AttrValue != "1.0" {
		return nil, p.d.Errorf("unsupported plist version %s=%q", p.d.AttrName, p.d.AttrValue)
	}

	if err := p.d.NextTag(); err != nil {
		return nil, err
	}
	ret, err := p.value(0)
	if err != nil {
		return nil, err
	}

	if err := p.d.Expect(fragments.TagEnd, "plist"); err != nil {
		Release(ret)
		return nil, err
	}
	if !p.d.AtEOF() {
		Release(ret)
		return nil, p.d.Errorf("trailing garbage after document")
	}
	return ret, nil
}

// prolog skips the XML declaration, DOCTYPE and any comments ahead
// of the root element.
func (p *internalizer) prolog() error {
	for {
		p.d.SkipSpace()
		var err error
		switch {
		case p.d.HasPrefix("<?"):
			err = p.d.SkipPast("?>")
		case p.d.HasPrefix("<!--"):
			err = p.d.SkipPast("-->")
		case p.d.HasPrefix("<!"):
			err = p.d.SkipPast(">")
		default:
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// value internalizes the value whose opening tag was just scanned.
func (p *internalizer) value(depth int) (Value, error) {
	if depth > p.maxDepth {
		return nil, p.d.Errorf("values nested deeper than %d levels", p.maxDepth)
	}
	if p.d.TagKind == fragments.TagEnd {
		return nil, p.d.Errorf("unexpected end tag </%s>", p.d.TagName)
	}
	if p.d.AttrName != "" && p.d.TagName != "data" {
		return nil, p.d.Errorf("unexpected attribute %q on <%s>", p.d.AttrName, p.d.TagName)
	}

	switch p.d.TagName {
	case "true", "false":
		return p.boolean()
	case "integer":
		return p.number()
	case "string":
		return p.str()
	case "data":
		return p.data()
	case "array":
		return p.array(depth)
	case "dict":
		return p.dict(depth)
	}
	return nil, p.d.Errorf("unknown element <%s>", p.d.TagName)
}

func (p *internalizer) boolean() (Value, error) {
	if p.d.TagKind != fragments.TagEmpty {
		return nil, p.d.Errorf("<%s> must be an empty element", p.d.TagName)
	}
	return NewBool(p.d.TagName == "true"), nil
}

// text reads character data up to the end tag of the element named
// name, and unescapes it.
func (p *internalizer) text(name string) (string, error) {
	if p.d.TagKind == fragments.TagEmpty {
		return "", nil
	}
	start := p.d.Offset()
	raw, err := p.d.Text()
	if err != nil {
		return "", err
	}
	s, err := fragments.Unescape(raw)
	if err != nil {
		return "", &SyntaxError{Offset: start, Reason: err.Error()}
	}
	if err := p.d.Expect(fragments.TagEnd, name); err != nil {
		return "", err
	}
	return s, nil
}

func (p *internalizer) number() (Value, error) {
	if p.d.TagKind == fragments.TagEmpty {
		return nil, p.d.Errorf("empty <integer>")
	}
	start := p.d.Offset()
	s, err := p.text("integer")
	if err != nil {
		return nil, err
	}
	n, err := parseNumber(s)
	if err != nil {
		return nil, &SyntaxError{Offset: start, Reason: err.Error()}
	}
	return n, nil
}

// parseNumber parses the text of an integer element. Negative
// numbers are signed. Hexadecimal numbers are unsigned. Decimal
// numbers are signed if they fit in an int64, unsigned otherwise.
func parseNumber(s string) (*Number, error) {
	switch {
	case strings.HasPrefix(s, "-"):
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		return NewInt(v), nil
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		v, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		return NewUint(v), nil
	default:
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		if v > math.MaxInt64 {
			return NewUint(v), nil
		}
		return NewInt(int64(v)), nil
	}
}

func (p *internalizer) str() (Value, error) {
	s, err := p.text("string")
	if err != nil {
		return nil, err
	}
	return NewString(s), nil
}

func (p *internalizer) data() (Value, error) {
	size := -1
	switch p.d.AttrName {
	case "":
	case "size":
		n, err := strconv.ParseUint(p.d.AttrValue, 10, 31)
		if err != nil {
			return nil, p.d.Errorf("invalid data size %q", p.d.AttrValue)
		}
		size = int(n)
	default:
		return nil, p.d.Errorf("unexpected attribute %q on <data>", p.d.AttrName)
	}

	// An empty element is a zero-length blob. It never reaches the
	// base64 decoder.
	if p.d.TagKind == fragments.TagEmpty {
		if size > 0 {
			return nil, p.d.Errorf("declared size %d, but element is empty", size)
		}
		return newData(dataOwned, nil, nil), nil
	}

	b, err := p.d.Base64(size)
	if err != nil {
		return nil, err
	}
	if err := p.d.Expect(fragments.TagEnd, "data"); err != nil {
		return nil, err
	}
	return newData(dataOwned, b, nil), nil
}

func (p *internalizer) array(depth int) (Value, error) {
	ret := newArray(nil)
	if p.d.TagKind == fragments.TagEmpty {
		return ret, nil
	}
	for {
		if err := p.d.NextTag(); err != nil {
			Release(ret)
			return nil, err
		}
		if p.d.TagKind == fragments.TagEnd && p.d.TagName == "array" {
			return ret, nil
		}
		elem, err := p.value(depth + 1)
		if err != nil {
			Release(ret)
			return nil, err
		}
		// Ownership of elem moves to the array.
		ret.elems = append(ret.elems, elem)
	}
}

func (p *internalizer) dict(depth int) (Value, error) {
	ret := NewDict()
	if p.d.TagKind == fragments.TagEmpty {
		return ret, nil
	}
	fail := func(err error) (Value, error) {
		Release(ret)
		return nil, err
	}
	for {
		if err := p.d.NextTag(); err != nil {
			return fail(err)
		}
		if p.d.TagKind == fragments.TagEnd && p.d.TagName == "dict" {
			return ret, nil
		}
		if p.d.TagName != "key" || p.d.TagKind == fragments.TagEnd || p.d.AttrName != "" {
			return fail(p.d.Errorf("got <%s>, want <key>", p.d.TagName))
		}
		key, err := p.text("key")
		if err != nil {
			return fail(err)
		}

		if err := p.d.NextTag(); err != nil {
			return fail(err)
		}
		val, err := p.value(depth + 1)
		if err != nil {
			return fail(err)
		}
		// Ownership of val moves to the dictionary.
		if old, ok := ret.m[key]; ok {
			Release(old)
		}
		ret.m[key] = val
	}
}
