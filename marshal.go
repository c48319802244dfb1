package plist

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/danderson/plist/fragments"
)

var (
	tagTrue    = fragments.Tag{XML: "true", JSONOpen: "true"}
	tagFalse   = fragments.Tag{XML: "false", JSONOpen: "false"}
	tagInteger = fragments.Tag{XML: "integer"}
	tagString  = fragments.Tag{XML: "string", JSONOpen: `"`, JSONClose: `"`}
	tagKey     = fragments.Tag{XML: "key", JSONOpen: `"`, JSONClose: `"`}
	tagData    = fragments.Tag{XML: "data", NoJSON: true}
	tagArray   = fragments.Tag{XML: "array", JSONOpen: "[", JSONClose: "]"}
	tagDict    = fragments.Tag{XML: "dict", JSONOpen: "{", JSONClose: "}"}
)

const (
	xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">` + "\n" +
		`<plist version="1.0">` + "\n"
	xmlFooter = "\n</plist>\n"
)

var errNilValue = errors.New("cannot externalize nil value")

// Externalize returns the text representation of v in format f.
//
// The returned document ends with a NUL byte, so that it can be
// handed as-is to consumers that expect a C string. [Data] values
// cannot be represented in [JSON], externalizing one fails with
// [ErrFormatUnsupported].
//
// On any error, no partial output is returned.
func Externalize(v Value, f Format) ([]byte, error) {
	return Options{Format: f}.Externalize(v)
}

// Externalize returns the text representation of v, using the format
// and limits in o.
//
// Externalize reads v but does not change its reference count.
func (o Options) Externalize(v Value) ([]byte, error) {
	if o.Format != XML && o.Format != JSON {
		return nil, fmt.Errorf("%w: %s", ErrFormatUnsupported, o.Format)
	}
	x := externalizer{
		e: fragments.Encoder{
			Format: o.Format,
			Limit:  o.MaxOutput,
		},
		maxDepth: o.maxDepth(),
	}
	if o.Format == XML {
		x.e.WriteString(xmlHeader)
	}
	if err := x.value(v); err != nil {
		return nil, err
	}
	if o.Format == XML {
		x.e.WriteString(xmlFooter)
	} else {
		x.e.Newline()
	}
	x.e.Byte(0)
	if err := x.e.Err(); err != nil {
		return nil, err
	}
	return x.e.Out, nil
}

type externalizer struct {
	e        fragments.Encoder
	maxDepth int
}

func (x *externalizer) value(v Value) error {
	switch v := v.(type) {
	case *Bool:
		if v.v {
			return x.e.EmptyTag(tagTrue)
		}
		return x.e.EmptyTag(tagFalse)
	case *Number:
		return x.number(v)
	case *String:
		return x.str(tagString, v.s)
	case *Data:
		return x.data(v)
	case *Array:
		return x.array(v)
	case *Dict:
		return x.dict(v)
	case nil:
		return errNilValue
	}
	return fmt.Errorf("%w: unknown value type %T", ErrFormatUnsupported, v)
}

func (x *externalizer) number(n *Number) error {
	if err := x.e.StartTag(tagInteger); err != nil {
		return err
	}
	var buf [24]byte
	switch {
	case n.unsigned && x.e.Format == XML:
		x.e.WriteString("0x")
		x.e.Write(strconv.AppendUint(buf[:0], n.v, 16))
	case n.unsigned:
		x.e.Write(strconv.AppendUint(buf[:0], n.v, 10))
	default:
		x.e.Write(strconv.AppendInt(buf[:0], int64(n.v), 10))
	}
	return x.e.EndTag(tagInteger)
}

func (x *externalizer) str(t fragments.Tag, s string) error {
	if x.e.Format == XML {
		if i := fragments.XMLInvalid(s); i >= 0 {
			return fmt.Errorf("%w: byte %#02x at offset %d of <%s> in XML", ErrFormatUnsupported, s[i], i, t.XML)
		}
	}
	if err := x.e.StartTag(t); err != nil {
		return err
	}
	x.e.Escaped(s)
	return x.e.EndTag(t)
}

func (x *externalizer) data(d *Data) error {
	// Checked up front, so that nothing is written for a value that
	// the format cannot hold, not even an empty tag.
	if !x.e.CanEncode(tagData) {
		return fmt.Errorf("%w: data in %s", ErrFormatUnsupported, x.e.Format)
	}
	if d.Len() == 0 {
		return x.e.EmptyTag(tagData)
	}
	if err := x.e.StartTag(tagData); err != nil {
		return err
	}
	x.e.Base64(d.b)
	return x.e.EndTag(tagData)
}

func (x *externalizer) push() error {
	if x.e.Depth >= x.maxDepth {
		return fmt.Errorf("values nested deeper than %d levels", x.maxDepth)
	}
	x.e.Depth++
	return nil
}

func (x *externalizer) array(a *Array) error {
	if len(a.elems) == 0 {
		return x.e.EmptyTag(tagArray)
	}
	if err := x.e.StartTag(tagArray); err != nil {
		return err
	}
	x.e.Newline()
	if err := x.push(); err != nil {
		return err
	}
	for i, elem := range a.elems {
		x.e.Indent()
		if err := x.value(elem); err != nil {
			return err
		}
		if x.e.Format == JSON && i < len(a.elems)-1 {
			x.e.Byte(',')
		}
		x.e.Newline()
	}
	x.e.Depth--
	x.e.Indent()
	return x.e.EndTag(tagArray)
}

func (x *externalizer) dict(d *Dict) error {
	if len(d.m) == 0 {
		return x.e.EmptyTag(tagDict)
	}
	if err := x.e.StartTag(tagDict); err != nil {
		return err
	}
	x.e.Newline()
	if err := x.push(); err != nil {
		return err
	}
	keys := d.Keys()
	for i, k := range keys {
		x.e.Indent()
		if err := x.str(tagKey, k); err != nil {
			return err
		}
		if x.e.Format == JSON {
			x.e.WriteString(": ")
		} else {
			x.e.Newline()
			x.e.Indent()
		}
		if err := x.value(d.m[k]); err != nil {
			return err
		}
		if x.e.Format == JSON && i < len(keys)-1 {
			x.e.Byte(',')
		}
		x.e.Newline()
	}
	x.e.Depth--
	x.e.Indent()
	return x.e.EndTag(tagDict)
}
