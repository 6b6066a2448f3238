package testutil

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/roach88/citechain/internal/citation"
	"github.com/roach88/citechain/internal/source"
)

// Call records one RetrieveChunk invocation on a StubSource.
type Call struct {
	Keys []string
	At   time.Time
}

// StubSource is a scripted Source for tests.
//
// Records maps key to the record returned for it; keys absent from Records
// are omitted from the result. Errors maps key to an error returned when
// that key is part of a chunk; with PartialOnError the records of the
// chunk's other keys are returned alongside the first such error. Work,
// when set, advances Clock on each chunk to simulate fetch latency.
type StubSource struct {
	source.Base

	Records map[string]citation.Record
	Errors  map[string]error
	Clock   *FakeClock
	Work    time.Duration

	PartialOnError bool

	InitErr     error
	FinalizeErr error

	mu        sync.Mutex
	calls     []Call
	inits     int
	finalizes int
}

// NewStubSource creates a StubSource answering for prefix.
func NewStubSource(prefix string, chunkSize int, delay time.Duration, records map[string]citation.Record) *StubSource {
	return &StubSource{
		Base: source.NewBase(source.Config{
			ChunkSize:       chunkSize,
			ChunkQueryDelay: delay,
			CitePrefix:      prefix,
			SourceName:      "stub",
		}),
		Records: records,
	}
}

// InitializeRun counts the call and returns InitErr.
func (s *StubSource) InitializeRun(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inits++
	return s.InitErr
}

// FinalizeRun counts the call and returns FinalizeErr.
func (s *StubSource) FinalizeRun(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizes++
	return s.FinalizeErr
}

// RetrieveChunk returns the scripted records for keys.
func (s *StubSource) RetrieveChunk(ctx context.Context, keys []string) (map[string]citation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := Call{Keys: slices.Clone(keys)}
	if s.Clock != nil {
		call.At = s.Clock.Now()
		if s.Work > 0 {
			s.Clock.Advance(s.Work)
		}
	}
	s.calls = append(s.calls, call)

	out := make(map[string]citation.Record, len(keys))
	var firstErr error
	for _, k := range keys {
		if err, ok := s.Errors[k]; ok {
			if !s.PartialOnError {
				return nil, err
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if r, ok := s.Records[k]; ok {
			out[k] = r.Clone()
		}
	}
	return out, firstErr
}

// Calls returns the recorded RetrieveChunk invocations.
func (s *StubSource) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// RequestedKeys returns every key requested so far, in order.
func (s *StubSource) RequestedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.calls {
		out = append(out, c.Keys...)
	}
	return out
}

// Runs returns the number of InitializeRun and FinalizeRun calls.
func (s *StubSource) Runs() (inits, finalizes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inits, s.finalizes
}
