package source

import (
	"context"
	"fmt"

	"github.com/roach88/citechain/internal/citation"
)

// InlineName is the registry name of the inline variant.
const InlineName = "inline"

// Inline serves records declared directly in configuration under
// "records", typically aliases:
//
//	sources:
//	  alias:
//	    name: inline
//	    config:
//	      records:
//	        knuth84:
//	          chained: {cite_prefix: doi, cite_key: 10.1093/comjnl/27.2.97}
type Inline struct {
	Base
	records map[string]citation.Record
}

// NewInline creates an inline Source. cite_prefix must be given.
func NewInline(opts Options) (*Inline, error) {
	cfg, err := Layer(
		opts,
		Options{OptChunkSize: "unbounded", OptChunkQueryDelay: 0},
	).Config(InlineName)
	if err != nil {
		return nil, err
	}

	raw, ok := opts["records"]
	if !ok {
		raw = map[string]any{}
	}
	records, err := recordsFrom(raw, "records")
	if err != nil {
		return nil, err
	}
	return &Inline{Base: NewBase(cfg), records: records}, nil
}

// RetrieveChunk returns copies of the configured records. Keys that were
// not configured are omitted.
func (s *Inline) RetrieveChunk(ctx context.Context, keys []string) (map[string]citation.Record, error) {
	out := make(map[string]citation.Record, len(keys))
	for _, k := range keys {
		if r, ok := s.records[k]; ok {
			out[k] = r.Clone()
		}
	}
	return out, nil
}

// recordsFrom accepts a list of records carrying "id" or an id -> record
// mapping.
func recordsFrom(raw any, location string) (map[string]citation.Record, error) {
	raw = normalize(raw)
	out := make(map[string]citation.Record)

	switch v := raw.(type) {
	case []any:
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, citation.NewFormatError(fmt.Sprintf("%s[%d]", location, i), fmt.Sprintf("expected a record, got %T", item), nil)
			}
			id, ok := m[citation.FieldID].(string)
			if !ok || id == "" {
				return nil, citation.NewFormatError(fmt.Sprintf("%s[%d]", location, i), "record has no id", nil)
			}
			out[id] = citation.Record(m)
		}
	case map[string]any:
		for id, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, citation.NewFormatError(fmt.Sprintf("%s.%s", location, id), fmt.Sprintf("expected a record, got %T", item), nil)
			}
			out[id] = citation.Record(m)
		}
	default:
		return nil, citation.NewFormatError(location, fmt.Sprintf("expected a list or mapping of records, got %T", raw), nil)
	}
	return out, nil
}
