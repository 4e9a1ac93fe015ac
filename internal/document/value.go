package document

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrParse        = errors.New("document: parse error")
	ErrKind         = errors.New("document: unexpected kind")
	ErrMissingField = errors.New("document: missing field")
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is one node of a dynamically shaped JSON document.
// The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	s    string
	arr  []Value
	obj  *Object
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Number wraps a number literal.
func Number(n json.Number) Value { return Value{kind: KindNumber, s: n.String()} }

// Int wraps an integer.
func Int(i int64) Value { return Value{kind: KindNumber, s: fmt.Sprintf("%d", i)} }

// Array wraps items as an array value.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

// FromObject wraps an object. A nil object becomes an empty one.
func FromObject(o *Object) Value {
	if o == nil {
		o = NewObject()
	}
	return Value{kind: KindObject, obj: o}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", kindError(KindString, v.kind)
	}
	return v.s, nil
}

func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, kindError(KindBool, v.kind)
	}
	return v.b, nil
}

func (v Value) AsNumber() (json.Number, error) {
	if v.kind != KindNumber {
		return "", kindError(KindNumber, v.kind)
	}
	return json.Number(v.s), nil
}

// AsArray returns the backing slice; element mutation is visible to v.
func (v Value) AsArray() ([]Value, error) {
	if v.kind != KindArray {
		return nil, kindError(KindArray, v.kind)
	}
	return v.arr, nil
}

// AsObject returns the backing object; mutation is visible to v.
func (v Value) AsObject() (*Object, error) {
	if v.kind != KindObject {
		return nil, kindError(KindObject, v.kind)
	}
	return v.obj, nil
}

// Field looks up key on an object value.
func (v Value) Field(key string) (Value, error) {
	obj, err := v.AsObject()
	if err != nil {
		return Value{}, err
	}
	return obj.Lookup(key)
}

// StringField looks up key on an object value and requires a string.
func (v Value) StringField(key string) (string, error) {
	f, err := v.Field(key)
	if err != nil {
		return "", err
	}
	s, err := f.AsString()
	if err != nil {
		return "", fmt.Errorf("field %q: %w", key, err)
	}
	return s, nil
}

// Clone returns a deep copy that shares nothing with v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		out := make([]Value, len(v.arr))
		for i := range v.arr {
			out[i] = v.arr[i].Clone()
		}
		return Value{kind: KindArray, arr: out}
	case KindObject:
		return Value{kind: KindObject, obj: v.obj.Clone()}
	default:
		return v
	}
}

func kindError(want, got Kind) error {
	return fmt.Errorf("%w: want %s, got %s", ErrKind, want, got)
}

// Object is a JSON object that remembers key insertion order.
type Object struct {
	keys []string
	vals map[string]Value
}

// NewObject returns an empty object.
func NewObject() *Object {
	return &Object{vals: make(map[string]Value)}
}

func (o *Object) Len() int { return len(o.keys) }

// Keys returns keys in insertion order.
func (o *Object) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

func (o *Object) Get(key string) (Value, bool) {
	v, ok := o.vals[key]
	return v, ok
}

func (o *Object) Lookup(key string) (Value, error) {
	v, ok := o.vals[key]
	if !ok {
		return Value{}, fmt.Errorf("%w: %q", ErrMissingField, key)
	}
	return v, nil
}

// Set stores v under key. Existing keys keep their position.
func (o *Object) Set(key string, v Value) {
	if _, ok := o.vals[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.vals[key] = v
}

func (o *Object) Delete(key string) {
	if _, ok := o.vals[key]; !ok {
		return
	}
	delete(o.vals, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

func (o *Object) Clone() *Object {
	out := &Object{
		keys: make([]string, len(o.keys)),
		vals: make(map[string]Value, len(o.vals)),
	}
	copy(out.keys, o.keys)
	for k, v := range o.vals {
		out.vals[k] = v.Clone()
	}
	return out
}
