// Package source defines the contract every citation source implements and
// the built-in variants.
//
// A Source fetches raw records for a batch of keys. The retrieval
// orchestrator drives it chunk by chunk, calling the optional run hooks
// around each batch of chunks:
//
//	InitializeRun -> RetrieveChunk (once per chunk) -> FinalizeRun
//
// A Source instance is never asked for two chunks at once.
package source

import (
	"context"
	"time"

	"github.com/roach88/citechain/internal/citation"
)

// Unbounded is the ChunkSize meaning "all keys in one chunk".
const Unbounded = 0

// Config is the resolved configuration of a Source.
type Config struct {
	// ChunkSize is the maximum number of keys per RetrieveChunk call.
	// Unbounded (0) puts every key in a single chunk.
	ChunkSize int

	// ChunkQueryDelay is the minimum time between the starts of two
	// consecutive chunks of one run.
	ChunkQueryDelay time.Duration

	// CitePrefix is the prefix this Source answers for.
	CitePrefix string

	// SourceName is the variant name, used in diagnostics.
	SourceName string
}

// Source retrieves raw citation records.
type Source interface {
	// Config returns the Source's chunking and identity configuration.
	Config() Config

	// RetrieveChunk fetches records for keys. The result maps key to
	// record; keys that could not be found may be omitted or reported
	// with a KeyNotFound error. Alongside a KeyNotFound error a Source may
	// return the records it did find; they are kept.
	RetrieveChunk(ctx context.Context, keys []string) (map[string]citation.Record, error)
}

// RunInitializer is implemented by Sources that prepare state before the
// first chunk of a run.
type RunInitializer interface {
	InitializeRun(ctx context.Context) error
}

// RunFinalizer is implemented by Sources that release state after the last
// chunk of a run. It is called even when a chunk failed.
type RunFinalizer interface {
	FinalizeRun(ctx context.Context) error
}

// Base carries a Config and provides no-op run hooks. Variants embed it and
// supply RetrieveChunk; one that does not fails with NotImplemented on
// first use.
type Base struct {
	cfg Config
}

// NewBase returns a Base for cfg.
func NewBase(cfg Config) Base {
	return Base{cfg: cfg}
}

// Config implements Source.
func (b Base) Config() Config { return b.cfg }

// InitializeRun does nothing.
func (b Base) InitializeRun(ctx context.Context) error { return nil }

// FinalizeRun does nothing.
func (b Base) FinalizeRun(ctx context.Context) error { return nil }

// RetrieveChunk reports that the variant did not implement retrieval.
func (b Base) RetrieveChunk(ctx context.Context, keys []string) (map[string]citation.Record, error) {
	return nil, citation.NewNotImplementedError(b.cfg.SourceName, "RetrieveChunk")
}

var (
	_ Source         = Base{}
	_ RunInitializer = Base{}
	_ RunFinalizer   = Base{}
)
