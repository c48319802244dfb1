package plist

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// FromGo converts the plain Go value x into a [Value].
//
// Booleans, integers, strings and byte slices become the matching
// scalar values. Other slices and arrays become an [Array], maps with
// string keys and structs become a [Dict]. Pointers are followed. A
// Value in x is included as-is, with an extra reference.
//
// Struct fields are named by their `plist:"name"` tag, or by the
// field name if untagged. A tag of "-" skips the field, and the
// "omitempty" option skips zero fields.
//
// The returned value has a reference count of 1, owned by the caller.
func FromGo(x any) (Value, error) {
	if x == nil {
		return nil, errors.New("cannot convert nil to a property list value")
	}
	return fromGo(reflect.ValueOf(x), 0)
}

var valueType = reflect.TypeFor[Value]()

func fromGo(v reflect.Value, depth int) (Value, error) {
	if depth > DefaultMaxDepth {
		return nil, fmt.Errorf("values nested deeper than %d levels", DefaultMaxDepth)
	}
	if v.IsValid() && v.Type().Implements(valueType) {
		if v.IsNil() {
			return nil, fmt.Errorf("cannot convert nil %s", v.Type())
		}
		return Retain(v.Interface().(Value)), nil
	}
	v = derefZero(v)
	if !v.IsValid() {
		return nil, errors.New("cannot convert nil pointer to a property list value")
	}

	switch v.Kind() {
	case reflect.Bool:
		return NewBool(v.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return NewInt(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return NewUint(v.Uint()), nil
	case reflect.String:
		return NewString(v.String()), nil
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			if v.Kind() == reflect.Array {
				b := make([]byte, v.Len())
				for i := range b {
					b[i] = byte(v.Index(i).Uint())
				}
				return NewData(b), nil
			}
			return NewData(v.Bytes()), nil
		}
		ret := NewArray()
		for i := range v.Len() {
			elem, err := fromGo(v.Index(i), depth+1)
			if err != nil {
				Release(ret)
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			ret.elems = append(ret.elems, elem)
		}
		return ret, nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("cannot convert %s, map keys must be strings", v.Type())
		}
		ret := NewDict()
		for it := v.MapRange(); it.Next(); {
			elem, err := fromGo(it.Value(), depth+1)
			if err != nil {
				Release(ret)
				return nil, fmt.Errorf("key %q: %w", it.Key().String(), err)
			}
			ret.m[it.Key().String()] = elem
		}
		return ret, nil
	case reflect.Struct:
		return structFromGo(v, depth)
	case reflect.Interface:
		if v.IsNil() {
			return nil, fmt.Errorf("cannot convert nil %s", v.Type())
		}
		return fromGo(v.Elem(), depth)
	}
	return nil, fmt.Errorf("cannot convert %s to a property list value", v.Type())
}

func structFromGo(v reflect.Value, depth int) (Value, error) {
	ret := NewDict()
	for _, f := range structFields(v.Type()) {
		fv := v.Field(f.Index)
		if f.OmitEmpty && fv.IsZero() {
			continue
		}
		elem, err := fromGo(fv, depth+1)
		if err != nil {
			Release(ret)
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		ret.m[f.Name] = elem
	}
	return ret, nil
}

// fieldName returns the dictionary key for f, or "" if f is skipped.
func fieldName(f reflect.StructField) (name string, omitEmpty bool) {
	tag, ok := f.Tag.Lookup("plist")
	if !ok {
		return f.Name, false
	}
	if tag == "-" {
		return "", false
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	return name, opts == "omitempty"
}

func derefZero(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// ToGo converts v into plain Go data: bool, int64 or uint64, string,
// []byte, []any or map[string]any. Data bytes are copied, so the
// result does not alias v.
func ToGo(v Value) any {
	switch v := v.(type) {
	case *Bool:
		return v.v
	case *Number:
		if v.unsigned {
			return v.v
		}
		return int64(v.v)
	case *String:
		return v.s
	case *Data:
		if len(v.b) == 0 {
			return []byte{}
		}
		return append([]byte(nil), v.b...)
	case *Array:
		ret := make([]any, 0, len(v.elems))
		for _, e := range v.elems {
			ret = append(ret, ToGo(e))
		}
		return ret
	case *Dict:
		ret := make(map[string]any, len(v.m))
		for k, e := range v.m {
			ret[k] = ToGo(e)
		}
		return ret
	}
	return nil
}
