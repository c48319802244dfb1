package plist

import (
	"fmt"
	"sync/atomic"
)

// Kind is the type of a [Value].
type Kind uint8

const (
	// KindUnknown is not the kind of any value. It is used in type
	// checks to mean "any kind is acceptable".
	KindUnknown Kind = iota
	KindBoolean
	KindNumber
	KindString
	KindData
	KindArray
	KindDictionary
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindData:
		return "data"
	case KindArray:
		return "array"
	case KindDictionary:
		return "dictionary"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is a property list value.
//
// The set of Value implementations is closed: *Bool, *Number,
// *String, *Data, *Array and *Dict. Operations that need per-type
// behavior switch over those concrete types.
//
// Every value carries a reference count, which starts at 1 when the
// value is constructed. See [Retain] and [Release].
type Value interface {
	// Kind returns the value's type.
	Kind() Kind

	refs() *refcount
}

// refcount is the intrusive reference count embedded in every value.
type refcount struct {
	n atomic.Int32
}

func (r *refcount) refs() *refcount { return r }

func (r *refcount) init() {
	r.n.Store(1)
}

// Retain increments v's reference count, and returns v.
func Retain[V Value](v V) V {
	v.refs().n.Add(1)
	return v
}

// Release decrements v's reference count. When the count reaches
// zero, v releases everything it holds: containers release their
// elements, and borrowed [Data] runs its release function.
//
// Releasing a value more times than it was retained panics.
func Release(v Value) {
	switch n := v.refs().n.Add(-1); {
	case n == 0:
		destroy(v)
	case n < 0:
		panic(fmt.Sprintf("plist: release of %s value with no references", v.Kind()))
	}
}

// RefCount returns v's current reference count.
func RefCount(v Value) int {
	return int(v.refs().n.Load())
}

func destroy(v Value) {
	switch v := v.(type) {
	case *Array:
		for _, e := range v.elems {
			Release(e)
		}
		v.elems = nil
	case *Dict:
		for _, e := range v.m {
			Release(e)
		}
		v.m = nil
	case *Data:
		v.destroy()
	}
}

// Is reports whether v is of kind k. Every value is of kind
// [KindUnknown].
func Is(v Value, k Kind) bool {
	return k == KindUnknown || v.Kind() == k
}

// Equal reports whether a and b are structurally equal. A value is
// always equal to itself, whatever its contents.
func Equal(a, b Value) bool {
	if a == b {
		return true
	}
	if isNil(a) || isNil(b) {
		return false
	}
	switch a := a.(type) {
	case *Bool:
		b, ok := b.(*Bool)
		return ok && a.v == b.v
	case *Number:
		b, ok := b.(*Number)
		return ok && a.equal(b)
	case *String:
		b, ok := b.(*String)
		return ok && a.s == b.s
	case *Data:
		b, ok := b.(*Data)
		return ok && a.EqualBytes(b.b)
	case *Array:
		b, ok := b.(*Array)
		if !ok || len(a.elems) != len(b.elems) {
			return false
		}
		for i := range a.elems {
			if !Equal(a.elems[i], b.elems[i]) {
				return false
			}
		}
		return true
	case *Dict:
		b, ok := b.(*Dict)
		if !ok || len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// isNil reports whether v is nil, or a nil pointer of one of the
// value types.
func isNil(v Value) bool {
	switch v := v.(type) {
	case nil:
		return true
	case *Bool:
		return v == nil
	case *Number:
		return v == nil
	case *String:
		return v == nil
	case *Data:
		return v == nil
	case *Array:
		return v == nil
	case *Dict:
		return v == nil
	}
	return false
}

// Copy returns a copy of v.
//
// Immutable values (booleans, numbers, strings, and data not created
// by [NewMutableData]) are returned as-is with an extra reference.
// Mutable data is duplicated byte for byte. Arrays and dictionaries
// are copied shallowly: the new container holds new references to
// the same elements.
func Copy[V Value](v V) V {
	var ret Value
	switch x := Value(v).(type) {
	case *Data:
		ret = x.copy()
	case *Array:
		elems := make([]Value, len(x.elems))
		for i, e := range x.elems {
			elems[i] = Retain(e)
		}
		ret = newArray(elems)
	case *Dict:
		d := NewDict()
		for k, e := range x.m {
			d.m[k] = Retain(e)
		}
		ret = d
	default:
		ret = Retain(x)
	}
	return ret.(V)
}
