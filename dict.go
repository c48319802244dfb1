package plist

import (
	"iter"
	"maps"
	"slices"
)

// Dict is a dictionary mapping strings to values.
//
// A dictionary holds one reference to each of its values. Keys are
// iterated and externalized in sorted order. Dict is not safe for
// concurrent mutation.
type Dict struct {
	refcount
	m map[string]Value
}

// NewDict returns a new, empty dictionary.
func NewDict() *Dict {
	ret := &Dict{m: map[string]Value{}}
	ret.init()
	return ret
}

func (*Dict) Kind() Kind { return KindDictionary }

// Len returns the number of entries in d.
func (d *Dict) Len() int { return len(d.m) }

// Get returns the value stored under key, or nil. The returned value
// is borrowed from d: retain it to keep it beyond the dictionary's
// lifetime.
func (d *Dict) Get(key string) Value {
	return d.m[key]
}

// Set stores v under key, taking a new reference to v and releasing
// any value previously stored there.
func (d *Dict) Set(key string, v Value) {
	v = Retain(v)
	old, ok := d.m[key]
	d.m[key] = v
	if ok {
		Release(old)
	}
}

// Delete removes key from d, and reports whether it was present.
func (d *Dict) Delete(key string) bool {
	old, ok := d.m[key]
	if !ok {
		return false
	}
	delete(d.m, key)
	Release(old)
	return true
}

// Keys returns the keys of d in sorted order.
func (d *Dict) Keys() []string {
	return slices.Sorted(maps.Keys(d.m))
}

// All iterates over the entries of d in key order.
func (d *Dict) All() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		for _, k := range d.Keys() {
			if !yield(k, d.m[k]) {
				return
			}
		}
	}
}
