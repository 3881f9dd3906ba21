package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind discriminates the closed set of value shapes that cross the bridge.
// Conversion sites switch exhaustively over Kind instead of type-asserting
// on an open-ended interface.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindNil
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
	KindHandle
)

// String returns the lowercase name of the kind, for diagnostics.
func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindHandle:
		return "handle"
	default:
		return "invalid"
	}
}

// Handle is an opaque reference to an object living in the host model.
// The bridge never inspects host objects beyond this identity triple.
type Handle struct {
	Document string `json:"document"`
	Element  string `json:"element"`
	Type     string `json:"type,omitempty"`
}

// Key returns the canonical cache-key form of the handle.
func (h Handle) Key() string {
	return h.Document + "/" + h.Element
}

func (h Handle) String() string {
	if h.Type == "" {
		return h.Key()
	}
	return h.Key() + ":" + h.Type
}

// IsZero reports whether the handle references nothing.
func (h Handle) IsZero() bool {
	return h.Document == "" && h.Element == ""
}

// Value is the single dynamic value shape exchanged with the scripting
// runtime. It is a tagged variant: exactly one payload field is meaningful,
// selected by Kind. Values are immutable by convention; accessors return
// copies of composite payloads only where documented.
type Value struct {
	kind Kind

	b      bool
	i      int64
	f      float64
	s      string
	list   []Value
	keys   []string // map key order, parallel to m
	m      map[string]Value
	handle Handle
}

// NilValue is the scripting runtime's null.
var NilValue = Value{kind: KindNil}

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps a signed integer.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a float64.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List wraps a slice of values. The slice is taken by reference.
func List(items ...Value) Value { return Value{kind: KindList, list: items} }

// HandleOf wraps a host object reference.
func HandleOf(h Handle) Value { return Value{kind: KindHandle, handle: h} }

// Map builds an ordered map value. Keys preserve insertion order so that
// structurally converted host types render their properties in declaration
// order on the dynamic side.
func Map() Value {
	return Value{kind: KindMap, m: map[string]Value{}}
}

// MapOf builds an ordered map from alternating key/value pairs, in the
// given order. Odd trailing arguments are ignored.
func MapOf(pairs ...any) Value {
	v := Map()
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		val, ok := pairs[i+1].(Value)
		if !ok {
			continue
		}
		v.Set(key, val)
	}
	return v
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether the value is nil or invalid.
func (v Value) IsNil() bool { return v.kind == KindNil || v.kind == KindInvalid }

// Bool returns the boolean payload. Valid only for KindBool.
func (v Value) Bool() bool { return v.b }

// Int returns the integer payload. Valid only for KindInt.
func (v Value) Int() int64 { return v.i }

// Float returns the float payload. For KindInt the integer is widened so
// numeric call sites can treat both kinds uniformly.
func (v Value) Float() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

// Str returns the string payload. Valid only for KindString.
func (v Value) Str() string { return v.s }

// ListItems returns the underlying slice. Callers must not mutate it.
func (v Value) ListItems() []Value { return v.list }

// Len returns the number of items for lists and maps, zero otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.keys)
	default:
		return 0
	}
}

// Handle returns the handle payload. Valid only for KindHandle.
func (v Value) Handle() Handle { return v.handle }

// Keys returns the map keys in insertion order.
func (v Value) Keys() []string { return v.keys }

// Get looks up a map entry.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	item, ok := v.m[key]
	return item, ok
}

// Set inserts or replaces a map entry, preserving first-insertion order.
// It is the one mutating operation on Value and is only legal on values
// created by Map/MapOf before they are shared.
func (v *Value) Set(key string, item Value) {
	if v.kind != KindMap {
		return
	}
	if _, exists := v.m[key]; !exists {
		v.keys = append(v.keys, key)
	}
	v.m[key] = item
}

// Equal reports deep equality. Float comparison is exact; callers needing
// tolerance compare payloads themselves.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNil, KindInvalid:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindHandle:
		return v.handle == other.handle
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.keys) != len(other.keys) {
			return false
		}
		for _, k := range v.keys {
			a, _ := v.Get(k)
			b, ok := other.Get(k)
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders the value for logs and error messages. Maps render keys in
// insertion order so output is deterministic.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindHandle:
		return "handle(" + v.handle.String() + ")"
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		parts := make([]string, 0, len(v.keys))
		for _, k := range v.keys {
			item := v.m[k]
			parts = append(parts, fmt.Sprintf("%s: %s", k, item.String()))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return "invalid"
	}
}

// SortedKeys returns map keys sorted lexically, for call sites that need a
// canonical rather than insertion order (e.g. content hashing).
func (v Value) SortedKeys() []string {
	keys := append([]string(nil), v.keys...)
	sort.Strings(keys)
	return keys
}
