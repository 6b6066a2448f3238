package source

import (
	"context"

	"github.com/roach88/citechain/internal/citation"
)

// ManualName is the registry name of the manual variant.
const ManualName = "manual"

// Manual treats every key as ready-made citation text.
type Manual struct {
	Base
}

// NewManual creates a manual Source. It always fetches in a single chunk
// with no delay.
func NewManual(opts Options) (*Manual, error) {
	cfg, err := Layer(
		Options{OptCitePrefix: "manual"},
		opts,
		Options{OptChunkSize: "unbounded", OptChunkQueryDelay: 0},
	).Config(ManualName)
	if err != nil {
		return nil, err
	}
	return &Manual{Base: NewBase(cfg)}, nil
}

// RetrieveChunk returns {"_formatted_text": key} for every key.
func (m *Manual) RetrieveChunk(ctx context.Context, keys []string) (map[string]citation.Record, error) {
	out := make(map[string]citation.Record, len(keys))
	for _, k := range keys {
		out[k] = citation.Record{citation.FieldFormattedText: k}
	}
	return out, nil
}
