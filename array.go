package plist

import (
	"iter"
	"slices"
)

// Array is an ordered sequence of values.
//
// An array holds one reference to each of its elements. Array is not
// safe for concurrent mutation.
type Array struct {
	refcount
	elems []Value
}

func newArray(elems []Value) *Array {
	ret := &Array{elems: elems}
	ret.init()
	return ret
}

// NewArray returns a new array holding vs. The array takes a new
// reference to each element, the caller keeps its own.
func NewArray(vs ...Value) *Array {
	ret := newArray(make([]Value, 0, len(vs)))
	for _, v := range vs {
		ret.Append(v)
	}
	return ret
}

func (*Array) Kind() Kind { return KindArray }

// Len returns the number of elements in a.
func (a *Array) Len() int { return len(a.elems) }

// At returns the element at index i, or nil if i is out of range. The
// returned value is borrowed from a: retain it to keep it beyond the
// array's lifetime.
func (a *Array) At(i int) Value {
	if i < 0 || i >= len(a.elems) {
		return nil
	}
	return a.elems[i]
}

// Append adds v to the end of a, taking a new reference to it.
func (a *Array) Append(v Value) {
	a.elems = append(a.elems, Retain(v))
}

// Set replaces the element at index i with v, and reports whether i
// was in range.
func (a *Array) Set(i int, v Value) bool {
	if i < 0 || i >= len(a.elems) {
		return false
	}
	old := a.elems[i]
	a.elems[i] = Retain(v)
	Release(old)
	return true
}

// Remove deletes the element at index i, and reports whether i was
// in range.
func (a *Array) Remove(i int) bool {
	if i < 0 || i >= len(a.elems) {
		return false
	}
	old := a.elems[i]
	a.elems = slices.Delete(a.elems, i, i+1)
	Release(old)
	return true
}

// All iterates over the elements of a in order.
func (a *Array) All() iter.Seq2[int, Value] {
	return slices.All(a.elems)
}
