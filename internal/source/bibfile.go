package source

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/citechain/internal/citation"
	"github.com/roach88/citechain/internal/fetch"
)

// BibfileName is the registry name of the bibliography file variant.
const BibfileName = "bibfile"

// Bibfile option keys.
const (
	OptBibliographyFile = "bibliography_file"
	OptCacheSize        = "cache_size"
)

// DefaultBibfileCacheSize bounds the number of parsed files kept in memory.
const DefaultBibfileCacheSize = 64

// Bibfile serves records from one or more CSL-JSON-like bibliography files
// (.json, .jsonc, .yaml, .yml, .cue), local or remote. Later files override
// earlier ones on duplicate ids.
//
// Files are loaded in InitializeRun. Parsed files are memoized, so the
// rounds of one resolution session read each file only once.
type Bibfile struct {
	Base
	files   []string
	fetcher *fetch.Fetcher
	logger  *slog.Logger
	parsed  *lru.Cache[string, map[string]citation.Record]
	records map[string]citation.Record
}

// NewBibfile creates a bibliography file Source.
func NewBibfile(opts Options, env Env) (*Bibfile, error) {
	env = env.withDefaults()

	layered := Layer(
		Options{OptCitePrefix: "bibfile"},
		opts,
		Options{OptChunkSize: "unbounded", OptChunkQueryDelay: 0},
	)
	cfg, err := layered.Config(BibfileName)
	if err != nil {
		return nil, err
	}
	files, err := layered.Strings(OptBibliographyFile)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, citation.NewFormatError(OptBibliographyFile, "at least one bibliography file is required", nil)
	}
	size, err := layered.Int(OptCacheSize, DefaultBibfileCacheSize)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		size = DefaultBibfileCacheSize
	}
	cache, err := lru.New[string, map[string]citation.Record](size)
	if err != nil {
		return nil, fmt.Errorf("create bibliography cache: %w", err)
	}

	return &Bibfile{
		Base:    NewBase(cfg),
		files:   files,
		fetcher: env.Fetcher,
		logger:  env.Logger,
		parsed:  cache,
	}, nil
}

// Files returns the configured bibliography files.
func (b *Bibfile) Files() []string {
	return b.files
}

// InitializeRun loads every bibliography file.
func (b *Bibfile) InitializeRun(ctx context.Context) error {
	merged := make(map[string]citation.Record)
	for _, name := range b.files {
		recs, err := b.load(ctx, name)
		if err != nil {
			return err
		}
		for id, r := range recs {
			merged[id] = r
		}
	}
	b.records = merged
	return nil
}

func (b *Bibfile) load(ctx context.Context, name string) (map[string]citation.Record, error) {
	if recs, ok := b.parsed.Get(name); ok {
		return recs, nil
	}
	data, err := b.fetcher.Fetch(ctx, name, fetch.Request{})
	if err != nil {
		return nil, fmt.Errorf("load bibliography: %w", err)
	}
	recs, err := DecodeBibliography(name, data)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("loaded bibliography", "file", name, "records", len(recs))
	b.parsed.Add(name, recs)
	return recs, nil
}

// RetrieveChunk looks keys up in the loaded files. The first key that no
// file defines fails with KeyNotFound naming the key and the files; the
// records found for the other keys are returned with it.
func (b *Bibfile) RetrieveChunk(ctx context.Context, keys []string) (map[string]citation.Record, error) {
	if b.records == nil {
		if err := b.InitializeRun(ctx); err != nil {
			return nil, err
		}
	}
	out := make(map[string]citation.Record, len(keys))
	var notFound error
	for _, k := range keys {
		r, ok := b.records[k]
		if !ok {
			if notFound == nil {
				notFound = citation.NewKeyNotFoundError(b.Config().CitePrefix, k,
					"bibliography file(s) "+strings.Join(b.files, ", "))
			}
			continue
		}
		out[k] = r.Clone()
	}
	return out, notFound
}
