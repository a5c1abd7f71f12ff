package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind identifies the dynamic type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindDouble
	KindBool
	KindString
	KindList
)

// Value is an event attribute value: int, double, bool, string or an
// ordered list of named attributes. The zero Value is null.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
	list []Attr
}

// Attr is one named entry of a structured attribute list.
type Attr struct {
	Name  string `json:"n"`
	Value Value  `json:"v"`
}

func Int(v int64) Value      { return Value{kind: KindInt, i: v} }
func Double(v float64) Value { return Value{kind: KindDouble, f: v} }
func Bool(v bool) Value      { return Value{kind: KindBool, b: v} }
func String(v string) Value  { return Value{kind: KindString, s: v} }

// List copies attrs into a list Value.
func List(attrs ...Attr) Value {
	return Value{kind: KindList, list: append([]Attr(nil), attrs...)}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) Int() (int64, bool)      { return v.i, v.kind == KindInt }
func (v Value) Double() (float64, bool) { return v.f, v.kind == KindDouble }
func (v Value) Bool() (bool, bool)      { return v.b, v.kind == KindBool }
func (v Value) Str() (string, bool)     { return v.s, v.kind == KindString }

// List returns a copy of the attribute list.
func (v Value) List() ([]Attr, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return append([]Attr(nil), v.list...), true
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindInt:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindDouble:
		return json.Marshal(v.f)
	case KindBool:
		return strconv.AppendBool(nil, v.b), nil
	case KindString:
		return json.Marshal(v.s)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	default:
		return nil, fmt.Errorf("unknown value kind %d", v.kind)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty attribute value")
	}

	switch data[0] {
	case 'n':
		*v = Value{}
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case '[':
		var attrs []Attr
		if err := json.Unmarshal(data, &attrs); err != nil {
			return fmt.Errorf("decode attribute list: %w", err)
		}
		*v = List(attrs...)
		return nil
	case '{':
		return fmt.Errorf("objects are not valid attribute values; use an attribute list")
	}

	if i, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*v = Int(i)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("decode attribute value %q: %w", data, err)
	}
	*v = Double(f)
	return nil
}
