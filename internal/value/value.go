// Package value implements the dynamic, JSON-equivalent document type that
// every stored key maps to: a tagged variant of null, bool, number, string,
// ordered sequence, or string-keyed mapping.
//
// Values must round-trip byte-for-byte through the WAL and snapshot codecs
// (see internal/wal and internal/snapshot) so that replay determinism
// (spec invariant: replaying records from empty state reproduces the live
// map) can be checked by comparing canonical encodings rather than deep
// object graphs.
package value

import (
	"fmt"
	"sort"

	json "github.com/goccy/go-json"
)

// Kind tags which alternative of the Value variant is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindMap
)

// Value is a JSON-equivalent document tree. Exactly one field is
// meaningful for a given Kind; the zero Value is KindNull.
type Value struct {
	Kind   Kind
	Bool   bool
	Number float64
	Str    string
	Array  []Value
	Map    map[string]Value
}

func Null() Value                { return Value{Kind: KindNull} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func Number(n float64) Value     { return Value{Kind: KindNumber, Number: n} }
func String(s string) Value      { return Value{Kind: KindString, Str: s} }
func Array(items []Value) Value  { return Value{Kind: KindArray, Array: items} }
func Map(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

// IsNull reports whether v represents the JSON null literal.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// MarshalJSON implements json.Marshaler. Maps are marshaled through Go's
// map[string]Value encoding, which encoding/json (and goccy/go-json, which
// mirrors its behavior) sorts by key — this is what makes two
// independently-built stores comparable byte-for-byte after replay.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindNumber:
		return json.Marshal(v.Number)
	case KindString:
		return json.Marshal(v.Str)
	case KindArray:
		return json.Marshal(v.Array)
	case KindMap:
		return json.Marshal(v.Map)
	default:
		return nil, fmt.Errorf("value: unknown kind %d", v.Kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler, decoding any JSON document
// into the matching Value variant.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// FromAny converts a generic decoded-JSON value (as produced by
// encoding/json or goccy/go-json into `any`) into a Value tree.
func FromAny(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case float64:
		return Number(x)
	case string:
		return String(x)
	case []any:
		items := make([]Value, len(x))
		for i, e := range x {
			items[i] = FromAny(e)
		}
		return Array(items)
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = FromAny(e)
		}
		return Map(m)
	default:
		return Null()
	}
}

// ToAny converts a Value back into a plain Go value tree, useful for
// handing a result to gin's JSON renderer without going through this
// package's own MarshalJSON (cheaper when the caller already controls
// encoding).
func (v Value) ToAny() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Number
	case KindString:
		return v.Str
	case KindArray:
		out := make([]any, len(v.Array))
		for i, e := range v.Array {
			out[i] = e.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.Map))
		for k, e := range v.Map {
			out[k] = e.ToAny()
		}
		return out
	default:
		return nil
	}
}

// Canonical returns a deterministic encoding of v suitable for equality
// checks between two stores after replay. Map keys are sorted explicitly
// here (rather than relying on the encoder) so the guarantee holds even
// if the underlying JSON library's key-ordering behavior ever changes.
func (v Value) Canonical() []byte {
	var buf []byte
	buf = v.appendCanonical(buf)
	return buf
}

func (v Value) appendCanonical(buf []byte) []byte {
	switch v.Kind {
	case KindNull:
		return append(buf, "null"...)
	case KindBool:
		if v.Bool {
			return append(buf, "true"...)
		}
		return append(buf, "false"...)
	case KindNumber:
		b, _ := json.Marshal(v.Number)
		return append(buf, b...)
	case KindString:
		b, _ := json.Marshal(v.Str)
		return append(buf, b...)
	case KindArray:
		buf = append(buf, '[')
		for i, e := range v.Array {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = e.appendCanonical(buf)
		}
		return append(buf, ']')
	case KindMap:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, _ := json.Marshal(k)
			buf = append(buf, kb...)
			buf = append(buf, ':')
			buf = v.Map[k].appendCanonical(buf)
		}
		return append(buf, '}')
	default:
		return buf
	}
}

// Equal reports whether v and other encode to the same canonical form.
func (v Value) Equal(other Value) bool {
	return string(v.Canonical()) == string(other.Canonical())
}

// AsString extracts the underlying string for indexing purposes; returns
// ("", false) for any non-string Value. Used by internal/indexer, which
// only tokenizes string-valued keys (mirroring original_source's
// IndexManager.update, which does the same isinstance(value, str) check).
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.Str, true
}
