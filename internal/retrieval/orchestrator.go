// Package retrieval drives a Source through one batched, rate-limited run.
//
// A run is: InitializeRun, the chunks in order with at least the Source's
// ChunkQueryDelay between the starts of consecutive chunks, then
// FinalizeRun. Every returned record is stamped with id "prefix:key".
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/citechain/internal/citation"
	"github.com/roach88/citechain/internal/source"
)

// ChunkEvent describes one finished RetrieveChunk call.
type ChunkEvent struct {
	Prefix   string
	Source   string
	Index    int // 0-based; repeated when a chunk resumes after a dropped key
	Total    int
	Keys     []string
	Returned int
	Started  time.Time
	Elapsed  time.Duration
	Err      error
}

// ChunkHook observes chunk events. Hooks run synchronously on the fetching
// goroutine and must not block.
type ChunkHook func(ChunkEvent)

// Orchestrator runs Sources. It holds no per-run state and may be shared
// across goroutines, as long as each Source is run by one goroutine at a
// time.
type Orchestrator struct {
	clock  Clock
	logger *slog.Logger
	hooks  []ChunkHook
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used for inter-chunk spacing.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithLogger sets the progress logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithChunkHook adds a chunk observer.
func WithChunkHook(h ChunkHook) Option {
	return func(o *Orchestrator) {
		o.hooks = append(o.hooks, h)
	}
}

// New creates an Orchestrator using the system clock and slog.Default.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		clock:  SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DropFunc inspects a failed chunk. It returns the key to drop when err
// names a single key of chunk that may be skipped.
type DropFunc func(err error, chunk []string) (key string, ok bool)

// Retrieve fetches records for keys from src.
//
// Duplicate keys are fetched once. An empty key list returns an empty
// result without calling any hook. The first chunk error stops the run;
// FinalizeRun is still called and its error joined to the chunk error.
// Records merged from earlier chunks are never overwritten by later ones.
func (o *Orchestrator) Retrieve(ctx context.Context, src source.Source, keys []string) (map[string]citation.Record, error) {
	result, _, err := o.RetrieveDropping(ctx, src, keys, nil)
	return result, err
}

// RetrieveDropping is Retrieve with per-key recovery. When a chunk fails
// and drop names one of its keys, that key is dropped, records returned
// with the error are kept, and only the rest of the same chunk is
// requested again, spaced by the usual delay. Finished chunks are never
// refetched and the run hooks are called once. Returns the dropped keys in
// the order they were dropped.
func (o *Orchestrator) RetrieveDropping(ctx context.Context, src source.Source, keys []string, drop DropFunc) (map[string]citation.Record, []string, error) {
	result := make(map[string]citation.Record)
	keys = dedupe(keys)
	if len(keys) == 0 {
		return result, nil, nil
	}

	cfg := src.Config()
	if init, ok := src.(source.RunInitializer); ok {
		if err := init.InitializeRun(ctx); err != nil {
			return nil, nil, fmt.Errorf("initialize %s source %q: %w", cfg.SourceName, cfg.CitePrefix, err)
		}
	}

	dropped, runErr := o.runChunks(ctx, src, cfg, keys, drop, result)

	if fin, ok := src.(source.RunFinalizer); ok {
		if err := fin.FinalizeRun(ctx); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("finalize %s source %q: %w", cfg.SourceName, cfg.CitePrefix, err))
		}
	}
	if runErr != nil {
		return nil, nil, runErr
	}

	for k, r := range result {
		stamped := r.Clone()
		if stamped == nil {
			stamped = citation.Record{}
		}
		stamped[citation.FieldID] = citation.CanonicalID(cfg.CitePrefix, k)
		result[k] = stamped
	}
	return result, dropped, nil
}

func (o *Orchestrator) runChunks(ctx context.Context, src source.Source, cfg source.Config, keys []string, drop DropFunc, result map[string]citation.Record) ([]string, error) {
	chunks := Chunks(keys, cfg.ChunkSize)
	var (
		prevStart time.Time
		dropped   []string
		calls     int
		done      int
	)

	for i, chunk := range chunks {
		pending := chunk
		for len(pending) > 0 {
			if calls > 0 && cfg.ChunkQueryDelay > 0 {
				if wait := cfg.ChunkQueryDelay - o.clock.Now().Sub(prevStart); wait > 0 {
					if err := o.clock.Sleep(ctx, wait); err != nil {
						return dropped, fmt.Errorf("waiting before chunk %d of %q: %w", i+1, cfg.CitePrefix, err)
					}
				}
			}
			if err := ctx.Err(); err != nil {
				return dropped, err
			}

			prevStart = o.clock.Now()
			recs, err := src.RetrieveChunk(ctx, pending)
			calls++
			o.emit(ChunkEvent{
				Prefix:   cfg.CitePrefix,
				Source:   cfg.SourceName,
				Index:    i,
				Total:    len(chunks),
				Keys:     pending,
				Returned: len(recs),
				Started:  prevStart,
				Elapsed:  o.clock.Now().Sub(prevStart),
				Err:      err,
			})
			merge(result, recs)
			if err == nil {
				break
			}

			key, ok := "", false
			if drop != nil {
				key, ok = drop(err, pending)
			}
			if !ok || !slices.Contains(pending, key) {
				return dropped, fmt.Errorf("retrieve chunk %d/%d from %q: %w", i+1, len(chunks), cfg.CitePrefix, err)
			}
			dropped = append(dropped, key)
			pending = slices.DeleteFunc(slices.Clone(pending), func(k string) bool {
				_, got := result[k]
				return k == key || got
			})
		}

		done += len(chunk)
		o.logger.Info("retrieving citations",
			"source", cfg.CitePrefix,
			"done", done,
			"total", len(keys),
		)
	}
	return dropped, nil
}

// merge adds recs to result without overwriting earlier keys.
func merge(result, recs map[string]citation.Record) {
	for k, r := range recs {
		if _, seen := result[k]; !seen {
			result[k] = r
		}
	}
}

func (o *Orchestrator) emit(ev ChunkEvent) {
	for _, h := range o.hooks {
		h(ev)
	}
}

// Chunks partitions keys into consecutive chunks of at most size keys.
// size == source.Unbounded yields one chunk.
func Chunks(keys []string, size int) [][]string {
	if len(keys) == 0 {
		return nil
	}
	n := chunkLen(size, len(keys))
	out := make([][]string, 0, (len(keys)+n-1)/n)
	for start := 0; start < len(keys); start += n {
		end := min(start+n, len(keys))
		out = append(out, keys[start:end:end])
	}
	return out
}

func chunkLen(size, total int) int {
	if size == source.Unbounded || size > total {
		return total
	}
	return size
}

// dedupe keeps the first occurrence of each key.
func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
