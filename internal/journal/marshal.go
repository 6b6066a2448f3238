package journal

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/citechain/internal/citation"
)

// marshalKeyMap converts prefix -> keys to canonical JSON TEXT.
func marshalKeyMap(m map[string][]string) (string, error) {
	obj := make(map[string]any, len(m))
	for _, prefix := range slices.Sorted(maps.Keys(m)) {
		obj[prefix] = stringsToAny(m[prefix])
	}
	data, err := citation.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal key map: %w", err)
	}
	return string(data), nil
}

// marshalKeyList converts a key list to canonical JSON TEXT.
func marshalKeyList(keys []string) (string, error) {
	data, err := citation.MarshalCanonical(stringsToAny(keys))
	if err != nil {
		return "", fmt.Errorf("marshal key list: %w", err)
	}
	return string(data), nil
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func unmarshalKeyMap(data string) (map[string][]string, error) {
	out := map[string][]string{}
	if data == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal key map: %w", err)
	}
	return out, nil
}

func unmarshalKeyList(data string) ([]string, error) {
	out := []string{}
	if data == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal key list: %w", err)
	}
	return out, nil
}

func unmarshalRecord(data string) (citation.Record, error) {
	var out citation.Record
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return out, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// marshalRecord converts a record to canonical JSON TEXT.
func marshalRecord(rec citation.Record) (string, error) {
	data, err := citation.MarshalCanonical(rec)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	return string(data), nil
}

func fingerprint(rec citation.Record) (string, error) {
	return citation.Fingerprint(rec)
}
