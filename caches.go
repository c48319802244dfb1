package plist

import (
	"reflect"
	"sync"
)

type cache[V any] struct {
	m sync.Map
}

func (c *cache[V]) Get(t reflect.Type) (val V, found bool) {
	ent, ok := c.m.Load(t)
	if !ok {
		return val, false
	}
	return ent.(V), true
}

// Put records val for t. If another goroutine raced to compute the
// same entry, the first stored value wins and is returned.
func (c *cache[V]) Put(t reflect.Type, val V) V {
	ent, _ := c.m.LoadOrStore(t, val)
	return ent.(V)
}

// structField is an exported struct field that maps to a dictionary
// key.
type structField struct {
	Index     int
	Name      string
	OmitEmpty bool
}

var structCache cache[[]structField]

// structFields returns the dictionary layout of the struct type t.
func structFields(t reflect.Type) []structField {
	if ret, ok := structCache.Get(t); ok {
		return ret
	}
	var ret []structField
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, omitEmpty := fieldName(f)
		if name == "" {
			continue
		}
		ret = append(ret, structField{i, name, omitEmpty})
	}
	return structCache.Put(t, ret)
}
