package plist

import (
	"math"
	"strconv"
)

// Number is an immutable 64-bit integer value, either signed or
// unsigned.
type Number struct {
	refcount
	unsigned bool
	v        uint64
}

// NewInt returns a new signed number.
func NewInt(v int64) *Number {
	ret := &Number{v: uint64(v)}
	ret.init()
	return ret
}

// NewUint returns a new unsigned number.
func NewUint(v uint64) *Number {
	ret := &Number{unsigned: true, v: v}
	ret.init()
	return ret
}

func (*Number) Kind() Kind { return KindNumber }

// IsUnsigned reports whether n was created as an unsigned number.
func (n *Number) IsUnsigned() bool { return n.unsigned }

// Int returns n as a signed integer. Unsigned values above
// math.MaxInt64 wrap around.
func (n *Number) Int() int64 { return int64(n.v) }

// Uint returns n as an unsigned integer. Negative signed values wrap
// around.
func (n *Number) Uint() uint64 { return n.v }

// negative reports whether n is a signed value below zero.
func (n *Number) negative() bool {
	return !n.unsigned && int64(n.v) < 0
}

// equal compares numbers by value: a signed and an unsigned number
// are equal if they denote the same integer.
func (n *Number) equal(o *Number) bool {
	if n.negative() != o.negative() {
		return false
	}
	return n.v == o.v
}

// EqualInt reports whether n denotes the integer v.
func (n *Number) EqualInt(v int64) bool {
	if n.unsigned && n.v > math.MaxInt64 {
		return false
	}
	return int64(n.v) == v
}

// EqualUint reports whether n denotes the integer v.
func (n *Number) EqualUint(v uint64) bool {
	return !n.negative() && n.v == v
}

func (n *Number) String() string {
	if n.unsigned {
		return strconv.FormatUint(n.v, 10)
	}
	return strconv.FormatInt(int64(n.v), 10)
}
