package source

import (
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/citechain/internal/citation"
)

// Option keys shared by every variant.
const (
	OptChunkSize       = "chunk_size"
	OptChunkQueryDelay = "chunk_query_delay_ms"
	OptCitePrefix      = "cite_prefix"
	OptSourceName      = "source_name"
)

// Base defaults, applied beneath every variant's own defaults.
const (
	DefaultChunkSize         = 512
	DefaultChunkQueryDelayMs = 1000
)

// Options is a raw option mapping as read from configuration.
type Options map[string]any

// Layer merges option layers; later layers win. The usual order is
// variant defaults, then user configuration, then variant overrides.
func Layer(layers ...Options) Options {
	out := Options{
		OptChunkSize:       DefaultChunkSize,
		OptChunkQueryDelay: DefaultChunkQueryDelayMs,
	}
	for _, l := range layers {
		maps.Copy(out, l)
	}
	return out
}

// String returns the string option name, or def when absent.
func (o Options) String(name, def string) (string, error) {
	v, ok := o[name]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", citation.NewFormatError(name, fmt.Sprintf("expected a string, got %T", v), nil)
	}
	return s, nil
}

// Strings returns a list option that may also be given as a single string.
func (o Options) Strings(name string) ([]string, error) {
	switch v := o[name].(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, citation.NewFormatError(fmt.Sprintf("%s[%d]", name, i), fmt.Sprintf("expected a string, got %T", item), nil)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, citation.NewFormatError(name, fmt.Sprintf("expected a string or list of strings, got %T", v), nil)
	}
}

// Int returns a non-negative integer option, or def when absent.
func (o Options) Int(name string, def int) (int, error) {
	v, ok := o[name]
	if !ok || v == nil {
		return def, nil
	}
	n, ok := toInt(v)
	if !ok || n < 0 {
		return 0, citation.NewFormatError(name, fmt.Sprintf("expected a non-negative integer, got %v", v), nil)
	}
	return n, nil
}

// Config resolves the shared options into a Config for a source of the
// given variant. source_name defaults to the variant name.
func (o Options) Config(variant string) (Config, error) {
	size, err := o.chunkSize()
	if err != nil {
		return Config{}, err
	}
	delay, err := o.Int(OptChunkQueryDelay, DefaultChunkQueryDelayMs)
	if err != nil {
		return Config{}, err
	}
	sourceName, err := o.String(OptSourceName, variant)
	if err != nil {
		return Config{}, err
	}
	if sourceName == "" {
		sourceName = variant
	}
	prefix, err := o.String(OptCitePrefix, "")
	if err != nil {
		return Config{}, err
	}
	if prefix == "" {
		return Config{}, citation.NewFormatError(OptCitePrefix, fmt.Sprintf("source %q has no cite_prefix", sourceName), nil)
	}
	return Config{
		ChunkSize:       size,
		ChunkQueryDelay: time.Duration(delay) * time.Millisecond,
		CitePrefix:      prefix,
		SourceName:      sourceName,
	}, nil
}

// chunkSize accepts a positive integer or "unbounded"/"inf".
func (o Options) chunkSize() (int, error) {
	v, ok := o[OptChunkSize]
	if !ok || v == nil {
		return DefaultChunkSize, nil
	}
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "unbounded", "inf", "infinity":
			return Unbounded, nil
		}
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n, nil
		}
	}
	if f, ok := v.(float64); ok && math.IsInf(f, 1) {
		return Unbounded, nil
	}
	n, ok := toInt(v)
	if !ok || n <= 0 {
		return 0, citation.NewFormatError(OptChunkSize, fmt.Sprintf("expected a positive integer or \"unbounded\", got %v", v), nil)
	}
	return n, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
