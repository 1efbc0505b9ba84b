package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/tidwall/gjson"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a JSON-compatible dynamically-typed value: null, bool, number,
// string, list of values, or an ordered string-keyed map of values.
// The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	list []Value
	obj  *Object
}

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }
func Int(n int64) Value { return Value{kind: KindNumber, n: float64(n)} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

// ObjectValue wraps o in a Value. A nil object yields an empty object.
func ObjectValue(o *Object) Value {
	if o == nil {
		o = NewObject()
	}
	return Value{kind: KindObject, obj: o}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }
func (v Value) AsObject() (*Object, bool) { return v.obj, v.kind == KindObject }

// AsInt returns the number as an int64 when it has no fractional part and
// lies in [-2^63, 2^63).
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber || v.n != math.Trunc(v.n) {
		return 0, false
	}
	if v.n < -(1<<63) || v.n >= 1<<63 {
		return 0, false
	}
	return int64(v.n), true
}

func fromUint(u uint64) Value {
	if u > math.MaxInt64 {
		return Number(float64(u))
	}
	return Int(int64(u))
}

// Equal reports deep equality. Object key order is not significant.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return v.obj.Equal(o.obj)
	}
	return false
}

// Any converts the value to plain Go values (nil, bool, float64, string,
// []any, map[string]any).
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		if i, ok := v.AsInt(); ok {
			return i
		}
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Any()
		}
		return out
	case KindObject:
		return v.obj.Any()
	}
	return nil
}

// FromAny converts plain Go values into a Value. Maps with non-string keys
// and unsupported types return an error.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case *Object:
		return ObjectValue(t), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return fromUint(uint64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return fromUint(t), nil
	case float32:
		return Number(float64(t)), nil
	case float64:
		return Number(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t, err)
		}
		return Number(f), nil
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = String(s)
		}
		return List(items...), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return List(items...), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := NewObject()
		for _, k := range keys {
			v, err := FromAny(t[k])
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			obj.Set(k, v)
		}
		return ObjectValue(obj), nil
	case map[string]string:
		obj := NewObject()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			obj.Set(k, String(t[k]))
		}
		return ObjectValue(obj), nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", x)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.appendJSON(nil)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseValue decodes a JSON document into a Value, preserving object key order.
func ParseValue(data []byte) (Value, error) {
	if !gjson.ValidBytes(data) {
		return Value{}, fmt.Errorf("%w: invalid json value", ErrMalformed)
	}
	return fromResult(gjson.ParseBytes(data)), nil
}

func (v Value) appendJSON(buf []byte) ([]byte, error) {
	switch v.kind {
	case KindNull:
		return append(buf, "null"...), nil
	case KindBool:
		if v.b {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return nil, fmt.Errorf("unsupported number %v", v.n)
		}
		b, err := json.Marshal(v.n)
		if err != nil {
			return nil, err
		}
		return append(buf, b...), nil
	case KindString:
		return appendString(buf, v.s)
	case KindList:
		buf = append(buf, '[')
		for i, item := range v.list {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			if buf, err = item.appendJSON(buf); err != nil {
				return nil, err
			}
		}
		return append(buf, ']'), nil
	case KindObject:
		return v.obj.appendJSON(buf)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

func appendString(buf []byte, s string) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return append(buf, b...), nil
}

func fromResult(r gjson.Result) Value {
	switch r.Type {
	case gjson.Null:
		return Null()
	case gjson.False:
		return Bool(false)
	case gjson.True:
		return Bool(true)
	case gjson.Number:
		return Number(r.Num)
	case gjson.String:
		return String(r.Str)
	case gjson.JSON:
		if r.IsArray() {
			items := []Value{}
			r.ForEach(func(_, item gjson.Result) bool {
				items = append(items, fromResult(item))
				return true
			})
			return List(items...)
		}
		return ObjectValue(objectFromResult(r))
	}
	return Null()
}

func objectFromResult(r gjson.Result) *Object {
	obj := NewObject()
	r.ForEach(func(key, item gjson.Result) bool {
		obj.Set(key.String(), fromResult(item))
		return true
	})
	return obj
}

// Object is an insertion-ordered map from string keys to Values.
type Object struct {
	keys   []string
	fields map[string]Value
}

// NewObject returns an empty object.
func NewObject() *Object {
	return &Object{fields: make(map[string]Value)}
}

// Set inserts or replaces key. Replacing keeps the original position.
func (o *Object) Set(key string, v Value) *Object {
	if o.fields == nil {
		o.fields = make(map[string]Value)
	}
	if _, ok := o.fields[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.fields[key] = v
	return o
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Value{}, false
	}
	v, ok := o.fields[key]
	return v, ok
}

// Delete removes key if present.
func (o *Object) Delete(key string) {
	if o == nil {
		return
	}
	if _, ok := o.fields[key]; !ok {
		return
	}
	delete(o.fields, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Len returns the number of keys.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Range calls fn for each key in order until fn returns false.
func (o *Object) Range(fn func(key string, v Value) bool) {
	if o == nil {
		return
	}
	for _, k := range o.keys {
		if !fn(k, o.fields[k]) {
			return
		}
	}
}

// StringOr returns the string stored under key, or def.
func (o *Object) StringOr(key, def string) string {
	v, ok := o.Get(key)
	if !ok {
		return def
	}
	if s, ok := v.AsString(); ok {
		return s
	}
	return def
}

// IntOr returns the integer stored under key, or def.
func (o *Object) IntOr(key string, def int64) int64 {
	v, ok := o.Get(key)
	if !ok {
		return def
	}
	if n, ok := v.AsInt(); ok {
		return n
	}
	return def
}

// Clone returns a deep copy.
func (o *Object) Clone() *Object {
	out := NewObject()
	o.Range(func(k string, v Value) bool {
		out.Set(k, v.clone())
		return true
	})
	return out
}

func (v Value) clone() Value {
	switch v.kind {
	case KindList:
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			items[i] = item.clone()
		}
		return List(items...)
	case KindObject:
		return ObjectValue(v.obj.Clone())
	}
	return v
}

// Equal reports whether both objects hold the same keys and values.
func (o *Object) Equal(other *Object) bool {
	if o.Len() != other.Len() {
		return false
	}
	equal := true
	o.Range(func(k string, v Value) bool {
		ov, ok := other.Get(k)
		if !ok || !v.Equal(ov) {
			equal = false
		}
		return equal
	})
	return equal
}

// Any converts the object into a map[string]any.
func (o *Object) Any() map[string]any {
	out := make(map[string]any, o.Len())
	o.Range(func(k string, v Value) bool {
		out[k] = v.Any()
		return true
	})
	return out
}

// MarshalJSON implements json.Marshaler.
func (o *Object) MarshalJSON() ([]byte, error) {
	return o.appendJSON(nil)
}

// UnmarshalJSON implements json.Unmarshaler. The document must be an object.
func (o *Object) UnmarshalJSON(data []byte) error {
	parsed, err := ParseObject(data)
	if err != nil {
		return err
	}
	*o = *parsed
	return nil
}

// ParseObject decodes a JSON object, preserving key order.
func ParseObject(data []byte) (*Object, error) {
	data = bytes.TrimSpace(data)
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid json object", ErrMalformed)
	}
	r := gjson.ParseBytes(data)
	if !r.IsObject() {
		return nil, fmt.Errorf("%w: expected object", ErrMalformed)
	}
	return objectFromResult(r), nil
}

func (o *Object) appendJSON(buf []byte) ([]byte, error) {
	buf = append(buf, '{')
	var err error
	first := true
	o.Range(func(k string, v Value) bool {
		if !first {
			buf = append(buf, ',')
		}
		first = false
		if buf, err = appendString(buf, k); err != nil {
			return false
		}
		buf = append(buf, ':')
		buf, err = v.appendJSON(buf)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return append(buf, '}'), nil
}
