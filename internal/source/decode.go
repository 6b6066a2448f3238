package source

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/roach88/citechain/internal/citation"
)

// Bibliography formats by file extension.
const (
	FormatJSON  = ".json"
	FormatJSONC = ".jsonc"
	FormatYAML  = ".yaml"
	FormatYML   = ".yml"
	FormatCUE   = ".cue"
)

// DecodeBibliography parses a bibliography file into id -> record.
// The format is chosen from the extension of name; content may be a list
// of records carrying "id" or an id -> record mapping.
func DecodeBibliography(name string, data []byte) (map[string]citation.Record, error) {
	raw, err := decodeDocument(name, data)
	if err != nil {
		return nil, err
	}
	return recordsFrom(raw, name)
}

func decodeDocument(name string, data []byte) (any, error) {
	var raw any
	switch ext := strings.ToLower(path.Ext(stripQuery(name))); ext {
	case FormatJSON:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, citation.NewFormatError(name, "invalid JSON", err)
		}
	case FormatJSONC:
		if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
			return nil, citation.NewFormatError(name, "invalid JSONC", err)
		}
	case FormatYAML, FormatYML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, citation.NewFormatError(name, "invalid YAML", err)
		}
	case FormatCUE:
		v := cuecontext.New().CompileBytes(data, cue.Filename(name))
		if err := v.Err(); err != nil {
			return nil, citation.NewFormatError(name, "invalid CUE", err)
		}
		if err := v.Decode(&raw); err != nil {
			return nil, citation.NewFormatError(name, "CUE value is not concrete data", err)
		}
	default:
		return nil, citation.NewFormatError(name, fmt.Sprintf("unsupported bibliography format %q", ext), nil)
	}
	return raw, nil
}

// stripQuery drops the query and fragment of a URL so the extension of a
// remote file can be read.
func stripQuery(name string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		return name[:i]
	}
	return name
}

// normalize rewrites decoded values into the shapes records use:
// map[string]any, []any and scalars.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case citation.Record:
		return normalize(map[string]any(val))
	case Options:
		return normalize(map[string]any(val))
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return val
	}
}
