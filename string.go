package plist

import "strconv"

// String is an immutable string value.
//
// Strings are byte sequences. No particular encoding is enforced.
type String struct {
	refcount
	s string
}

// NewString returns a new string value.
func NewString(s string) *String {
	ret := &String{s: s}
	ret.init()
	return ret
}

func (*String) Kind() Kind { return KindString }

// Value returns the contents of s.
func (s *String) Value() string { return s.s }

// Len returns the length of s in bytes.
func (s *String) Len() int { return len(s.s) }

// EqualString reports whether s holds exactly str.
func (s *String) EqualString(str string) bool { return s.s == str }

func (s *String) String() string { return strconv.Quote(s.s) }
