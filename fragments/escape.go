package fragments

import (
	"errors"
	"strings"
)

var jsonShort = [...]string{
	'\b': `\b`,
	'\f': `\f`,
	'\n': `\n`,
	'\r': `\r`,
	'\t': `\t`,
}

const hexDigits = "0123456789abcdef"

// Escape returns the escaped form of c in format f, or "" if c is
// written verbatim.
//
// XML escapes only '<', '>' and '&'. JSON escapes '"', '\\', '/' and
// the control characters below 0x20. No other byte is touched, in
// particular no attempt is made to validate UTF-8.
func Escape(f Format, c byte) string {
	switch f {
	case XML:
		switch c {
		case '<':
			return "&lt;"
		case '>':
			return "&gt;"
		case '&':
			return "&amp;"
		}
	case JSON:
		switch {
		case c == '"':
			return `\"`
		case c == '\\':
			return `\\`
		case c == '/':
			return `\/`
		case int(c) < len(jsonShort) && jsonShort[c] != "":
			return jsonShort[c]
		case c < 0x20:
			return `\u00` + string([]byte{hexDigits[c>>4], hexDigits[c&0xf]})
		}
	}
	return ""
}

// XMLInvalid returns the offset of the first byte of s that XML
// cannot carry, not even escaped, or -1 if there is none. These are
// the control characters other than tab, newline and carriage return.
func XMLInvalid(s string) int {
	for i := range len(s) {
		if c := s[i]; c < 0x20 && c != '\t' && c != '\n' && c != '\r' {
			return i
		}
	}
	return -1
}

var errBadEntity = errors.New("unknown character entity")

var xmlEntities = map[string]byte{
	"lt":   '<',
	"gt":   '>',
	"amp":  '&',
	"quot": '"',
	"apos": '\'',
}

// Unescape decodes the XML character entities in s. Only the five
// predefined entities are recognized, anything else is an error.
func Unescape(s string) (string, error) {
	if !strings.Contains(s, "&") {
		return s, nil
	}
	var ret strings.Builder
	ret.Grow(len(s))
	for {
		before, after, found := strings.Cut(s, "&")
		ret.WriteString(before)
		if !found {
			return ret.String(), nil
		}
		name, rest, ok := strings.Cut(after, ";")
		if !ok {
			return "", errBadEntity
		}
		c, ok := xmlEntities[name]
		if !ok {
			return "", errBadEntity
		}
		ret.WriteByte(c)
		s = rest
	}
}
