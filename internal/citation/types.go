package citation

import (
	"fmt"
	"maps"
)

// Field names with special meaning in a Record.
const (
	FieldID      = "id"
	FieldChained = "chained"

	// FieldFormattedText carries ready-made citation text; renderers use it
	// verbatim instead of formatting the record.
	FieldFormattedText = "_formatted_text"
)

// Key identifies a citation by source prefix and key within that source.
type Key struct {
	Prefix string
	Key    string
}

// String returns the canonical id form "prefix:key".
func (k Key) String() string {
	return CanonicalID(k.Prefix, k.Key)
}

// CanonicalID joins a prefix and key into the id stamped on records.
func CanonicalID(prefix, key string) string {
	return prefix + ":" + key
}

// Record is a raw citation record: field name to value. Values are strings,
// numbers, nested mappings/sequences, or a chain pointer under "chained".
type Record map[string]any

// Chain is a parsed chain pointer: the record is an alias for Target, and
// SetProperties override fields of the target.
type Chain struct {
	Target        Key
	SetProperties map[string]any
}

// ID returns the record's id field, or "" if absent or not a string.
func (r Record) ID() string {
	id, _ := r[FieldID].(string)
	return id
}

// Clone returns a shallow copy of the record.
// Nested values are shared; records are treated as immutable once fetched.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}

// IsChained reports whether the record carries a chain pointer.
func (r Record) IsChained() bool {
	_, ok := r[FieldChained]
	return ok
}

// Chain parses the record's chain pointer.
//
// Returns ok=false for terminal records. A malformed pointer returns a
// FormatError.
//
// Wire shape:
//
//	{"chained": {"cite_prefix": "doi", "cite_key": "10.1/x", "set_properties": {...}}}
func (r Record) Chain() (Chain, bool, error) {
	raw, ok := r[FieldChained]
	if !ok {
		return Chain{}, false, nil
	}
	where := fmt.Sprintf("chain pointer of %q", r.ID())

	m, ok := asMap(raw)
	if !ok {
		return Chain{}, true, NewFormatError(where, fmt.Sprintf("expected a mapping, got %T", raw), nil)
	}

	prefix, _ := m["cite_prefix"].(string)
	key, _ := m["cite_key"].(string)
	if prefix == "" || key == "" {
		return Chain{}, true, NewFormatError(where, "cite_prefix and cite_key are required", nil)
	}

	c := Chain{Target: Key{Prefix: prefix, Key: key}}
	if sp, present := m["set_properties"]; present && sp != nil {
		props, ok := asMap(sp)
		if !ok {
			return Chain{}, true, NewFormatError(where, fmt.Sprintf("set_properties must be a mapping, got %T", sp), nil)
		}
		c.SetProperties = props
	}
	return c, true, nil
}

// NewChainedRecord builds an alias record pointing at target.
func NewChainedRecord(target Key, setProperties map[string]any) Record {
	if setProperties == nil {
		setProperties = map[string]any{}
	}
	return Record{
		FieldChained: map[string]any{
			"cite_prefix":    target.Prefix,
			"cite_key":       target.Key,
			"set_properties": setProperties,
		},
	}
}

// asMap accepts both decoded JSON objects and Record values.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Record:
		return m, true
	default:
		return nil, false
	}
}
