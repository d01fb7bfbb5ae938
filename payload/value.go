// Package payload implements a typed JSON tree with ordered objects.
//
// Requests, results and templates exchanged with the coordination service
// are loosely structured documents. Rather than passing around untyped
// maps, the workflow engine operates on Value: a tagged union of null,
// boolean, number, string, object and array. Objects keep their member
// order so that merging and serialization are deterministic and so that a
// document survives a parse/marshal round trip byte-for-byte.
package payload

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the type tag of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindObject
	KindArray
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
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "invalid"
	}
}

// ErrNotObject is returned when a path crosses a non-object value.
var ErrNotObject = errors.New("not an object")

// Member is a single key/value pair of an object.
type Member struct {
	Key   string
	Value Value
}

// Value is a node of a JSON document.
// The zero value is a JSON null.
type Value struct {
	kind    Kind
	boolean bool
	text    string // string contents or the raw number literal
	members []Member
	items   []Value
}

// Null returns a null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// Number returns a number value for f.
func Number(f float64) Value {
	return Value{kind: KindNumber, text: strconv.FormatFloat(f, 'f', -1, 64)}
}

// NumberLiteral returns a number value that keeps raw as its literal text.
// No validation of raw is performed.
func NumberLiteral(raw string) Value {
	return Value{kind: KindNumber, text: raw}
}

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, text: s} }

// Object returns an object value with members in the given order.
// Later duplicate keys replace earlier ones in place.
func Object(members ...Member) Value {
	v := Value{kind: KindObject, members: make([]Member, 0, len(members))}
	for _, m := range members {
		v.Set(m.Key, m.Value)
	}
	return v
}

// Array returns an array value.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, items: items}
}

// Kind returns the type tag of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsObject reports whether v is an object.
func (v Value) IsObject() bool { return v.kind == KindObject }

// IsArray reports whether v is an array.
func (v Value) IsArray() bool { return v.kind == KindArray }

// IsEmpty reports whether v carries no data: null, an empty string, an
// empty object or an empty array.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.text == ""
	case KindObject:
		return len(v.members) == 0
	case KindArray:
		return len(v.items) == 0
	}
	return false
}

// Len returns the number of members of an object or items of an array.
func (v Value) Len() int {
	switch v.kind {
	case KindObject:
		return len(v.members)
	case KindArray:
		return len(v.items)
	}
	return 0
}

// Str returns the contents of a string value.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.text, true
}

// Float returns the numeric value of a number.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.text, 64)
	return f, err == nil
}

// Boolean returns the value of a boolean.
func (v Value) Boolean() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.boolean, true
}

// Literal returns the raw literal text of a number.
func (v Value) Literal() string {
	if v.kind != KindNumber {
		return ""
	}
	return v.text
}

// IsOptionalMarker reports whether v is a string placeholder that marks
// an optional template field, i.e. contains "optional" in any case.
func (v Value) IsOptionalMarker() bool {
	return v.kind == KindString && strings.Contains(strings.ToLower(v.text), "optional")
}

func (v Value) index(key string) int {
	for i := range v.members {
		if v.members[i].Key == key {
			return i
		}
	}
	return -1
}

// Has reports whether object v has key.
func (v Value) Has(key string) bool {
	return v.kind == KindObject && v.index(key) >= 0
}

// Get returns the member key of object v.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	if i := v.index(key); i >= 0 {
		return v.members[i].Value, true
	}
	return Value{}, false
}

// Lookup returns a pointer to the member key of object v, or nil.
// The pointer is invalidated by any later insertion or deletion on v.
func (v *Value) Lookup(key string) *Value {
	if v.kind != KindObject {
		return nil
	}
	if i := v.index(key); i >= 0 {
		return &v.members[i].Value
	}
	return nil
}

// Path walks nested objects by keys.
func (v Value) Path(keys ...string) (Value, bool) {
	cur := v
	for _, k := range keys {
		next, ok := cur.Get(k)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// Set assigns key in object v, keeping the position of an existing key.
// A null v becomes an empty object first; any other non-object kind is
// replaced by an object.
func (v *Value) Set(key string, val Value) {
	if v.kind != KindObject {
		*v = Value{kind: KindObject}
	}
	if i := v.index(key); i >= 0 {
		v.members[i].Value = val
		return
	}
	v.members = append(v.members, Member{Key: key, Value: val})
}

// SetPath assigns val at the nested keys, creating intermediate objects
// where keys are absent or null.
func (v *Value) SetPath(val Value, keys ...string) error {
	if len(keys) < 1 {
		return errors.New("empty path")
	}
	cur := v
	for i, k := range keys[:len(keys)-1] {
		if cur.kind == KindNull {
			*cur = Value{kind: KindObject}
		}
		if cur.kind != KindObject {
			return fmt.Errorf("%w at %s", ErrNotObject, strings.Join(keys[:i], "."))
		}
		next := cur.Lookup(k)
		if next == nil {
			cur.Set(k, Value{kind: KindObject})
			next = cur.Lookup(k)
		}
		cur = next
	}
	if cur.kind == KindNull {
		*cur = Value{kind: KindObject}
	}
	if cur.kind != KindObject {
		return fmt.Errorf("%w at %s", ErrNotObject, strings.Join(keys[:len(keys)-1], "."))
	}
	cur.Set(keys[len(keys)-1], val)
	return nil
}

// Delete removes key from object v and reports whether it was present.
func (v *Value) Delete(key string) bool {
	if v.kind != KindObject {
		return false
	}
	i := v.index(key)
	if i < 0 {
		return false
	}
	v.members = append(v.members[:i], v.members[i+1:]...)
	return true
}

// Rename changes the key of a member in place, keeping its position.
// An existing member named to is removed first.
func (v *Value) Rename(from, to string) bool {
	if v.kind != KindObject || from == to {
		return false
	}
	i := v.index(from)
	if i < 0 {
		return false
	}
	if j := v.index(to); j >= 0 {
		v.members = append(v.members[:j], v.members[j+1:]...)
		if j < i {
			i--
		}
	}
	v.members[i].Key = to
	return true
}

// Keys returns the member keys of object v in order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, len(v.members))
	for i, m := range v.members {
		keys[i] = m.Key
	}
	return keys
}

// Members returns the members of object v in order.
// The returned slice must not be modified.
func (v Value) Members() []Member {
	if v.kind != KindObject {
		return nil
	}
	return v.members
}

// Items returns the items of array v.
// The returned slice must not be modified.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.items
}

// Append adds items to array v. A null v becomes an empty array first.
func (v *Value) Append(items ...Value) {
	if v.kind != KindArray {
		*v = Value{kind: KindArray, items: []Value{}}
	}
	v.items = append(v.items, items...)
}

// Update copies every top-level member of other into object v,
// overwriting existing keys in place and appending new ones.
// Non-object values of other are ignored.
func (v *Value) Update(other Value) {
	if other.kind != KindObject {
		return
	}
	for _, m := range other.members {
		v.Set(m.Key, m.Value.Clone())
	}
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	c := Value{kind: v.kind, boolean: v.boolean, text: v.text}
	if v.members != nil {
		c.members = make([]Member, len(v.members))
		for i, m := range v.members {
			c.members[i] = Member{Key: m.Key, Value: m.Value.Clone()}
		}
	}
	if v.items != nil {
		c.items = make([]Value, len(v.items))
		for i, item := range v.items {
			c.items[i] = item.Clone()
		}
	}
	return c
}

// Equal reports whether v and other are structurally identical,
// including object member order.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.boolean == other.boolean
	case KindNumber, KindString:
		return v.text == other.text
	case KindObject:
		if len(v.members) != len(other.members) {
			return false
		}
		for i := range v.members {
			if v.members[i].Key != other.members[i].Key || !v.members[i].Value.Equal(other.members[i].Value) {
				return false
			}
		}
		return true
	case KindArray:
		if len(v.items) != len(other.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(other.items[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// String returns the compact JSON encoding of v.
func (v Value) String() string {
	b, _ := v.MarshalJSON()
	return string(b)
}
