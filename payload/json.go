package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned when parsing malformed input.
var ErrInvalidJSON = errors.New("invalid JSON")

// Parse decodes a JSON document into a Value, keeping object member order
// and the literal text of numbers. Empty input parses as null.
func Parse(b []byte) (Value, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return Value{}, nil
	}
	if !gjson.ValidBytes(b) {
		return Value{}, ErrInvalidJSON
	}
	return fromResult(gjson.ParseBytes(b)), nil
}

// MustParse is like Parse but panics on error.
// It is intended for static documents and tests.
func MustParse(s string) Value {
	v, err := Parse([]byte(s))
	if err != nil {
		panic(fmt.Sprintf("payload: parsing %q: %v", s, err))
	}
	return v
}

func fromResult(r gjson.Result) Value {
	switch r.Type {
	case gjson.Null:
		return Value{}
	case gjson.False:
		return Bool(false)
	case gjson.True:
		return Bool(true)
	case gjson.Number:
		return NumberLiteral(r.Raw)
	case gjson.String:
		return String(r.Str)
	}
	if r.IsArray() {
		v := Value{kind: KindArray, items: []Value{}}
		r.ForEach(func(_, item gjson.Result) bool {
			v.items = append(v.items, fromResult(item))
			return true
		})
		return v
	}
	v := Value{kind: KindObject, members: []Member{}}
	r.ForEach(func(key, member gjson.Result) bool {
		v.Set(key.Str, fromResult(member))
		return true
	})
	return v
}

// MarshalJSON encodes v compactly. Output is deterministic.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes b into v.
func (v *Value) UnmarshalJSON(b []byte) error {
	parsed, err := Parse(b)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalIndent encodes v with two-space indentation.
func MarshalIndent(v Value) ([]byte, error) {
	compact, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err = json.Indent(&buf, compact, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.boolean {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		if v.text == "" {
			return errors.New("empty number literal")
		}
		buf.WriteString(v.text)
	case KindString:
		return encodeString(buf, v.text)
	case KindObject:
		buf.WriteByte('{')
		for i, m := range v.members {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, m.Key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := m.Value.encode(buf); err != nil {
				return fmt.Errorf("encoding %s: %w", m.Key, err)
			}
		}
		buf.WriteByte('}')
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("invalid kind: %d", v.kind)
	}
	return nil
}
