// Package scan turns citation occurrences found in a document into
// per-prefix fetch requests.
//
// Finding occurrences in markup is the host's job; this package defines the
// occurrence shape the host hands over and the request building the
// resolver expects.
package scan

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/roach88/citechain/internal/citation"
)

// EncounteredIn locates an occurrence in the source document.
type EncounteredIn struct {
	What string `yaml:"what" json:"what"`
}

// Occurrence is one citation reference found in a document.
type Occurrence struct {
	CitePrefix    string        `yaml:"cite_prefix" json:"cite_prefix"`
	CiteKey       string        `yaml:"cite_key" json:"cite_key"`
	EncounteredIn EncounteredIn `yaml:"encountered_in" json:"encountered_in"`
}

// Key returns the occurrence's citation key.
func (o Occurrence) Key() citation.Key {
	return citation.Key{Prefix: o.CitePrefix, Key: o.CiteKey}
}

// ParseKey splits "prefix:key" at the first colon. Keys may themselves
// contain colons.
func ParseKey(s string) (citation.Key, error) {
	prefix, key, ok := strings.Cut(s, ":")
	if !ok || prefix == "" || key == "" {
		return citation.Key{}, citation.NewFormatError(fmt.Sprintf("%q", s), "expected prefix:key", nil)
	}
	return citation.Key{Prefix: prefix, Key: key}, nil
}

// BuildRequests groups occurrences by prefix, keeping first-seen key order
// and dropping duplicates. An occurrence whose prefix is not registered
// fails with UnknownPrefix naming where it was encountered.
func BuildRequests(occs []Occurrence, registered []string) (map[string][]string, error) {
	out := make(map[string][]string)
	seen := make(map[citation.Key]struct{}, len(occs))

	for _, o := range occs {
		if !slices.Contains(registered, o.CitePrefix) {
			where := o.EncounteredIn.What
			if where == "" {
				where = o.Key().String()
			}
			return nil, citation.NewUnknownPrefixError(o.CitePrefix, where)
		}
		k := o.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out[k.Prefix] = append(out[k.Prefix], k.Key)
	}
	return out, nil
}

// FromKeys builds occurrences from "prefix:key" strings, such as
// command-line arguments.
func FromKeys(keys []string) ([]Occurrence, error) {
	out := make([]Occurrence, 0, len(keys))
	for i, s := range keys {
		k, err := ParseKey(s)
		if err != nil {
			return nil, err
		}
		out = append(out, Occurrence{
			CitePrefix:    k.Prefix,
			CiteKey:       k.Key,
			EncounteredIn: EncounteredIn{What: fmt.Sprintf("argument %d", i+1)},
		})
	}
	return out, nil
}

// LoadOccurrences reads a list of occurrences from a YAML, JSON or JSONC
// file.
func LoadOccurrences(path string) ([]Occurrence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read occurrences: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".jsonc") {
		data = jsonc.ToJSON(data)
	}

	var occs []Occurrence
	if err := yaml.Unmarshal(data, &occs); err != nil {
		return nil, citation.NewFormatError(path, "invalid occurrence list", err)
	}
	for i, o := range occs {
		if o.CitePrefix == "" || o.CiteKey == "" {
			return nil, citation.NewFormatError(fmt.Sprintf("%s[%d]", path, i), "cite_prefix and cite_key are required", nil)
		}
	}
	return occs, nil
}
