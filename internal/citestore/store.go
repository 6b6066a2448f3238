// Package citestore holds the raw records fetched during a resolution
// session, grouped by prefix.
//
// Iteration order is insertion order: prefixes in the order they were
// first stored, keys within a prefix in the order they were first stored.
// Re-putting a key replaces its record in place. The store only grows.
//
// A Store is not safe for concurrent mutation; the resolver mutates it only
// between rounds.
package citestore

import (
	"iter"
	"slices"

	"github.com/roach88/citechain/internal/citation"
)

type bucket struct {
	keys    []string
	records map[string]citation.Record
}

// Store maps prefix -> key -> record.
type Store struct {
	prefixes []string
	buckets  map[string]*bucket
	size     int
}

// New creates an empty Store.
func New() *Store {
	return &Store{buckets: make(map[string]*bucket)}
}

// Put stores r under (prefix, key).
func (s *Store) Put(prefix, key string, r citation.Record) {
	b, ok := s.buckets[prefix]
	if !ok {
		b = &bucket{records: make(map[string]citation.Record)}
		s.buckets[prefix] = b
		s.prefixes = append(s.prefixes, prefix)
	}
	if _, exists := b.records[key]; !exists {
		b.keys = append(b.keys, key)
		s.size++
	}
	b.records[key] = r
}

// Get returns the record at (prefix, key).
func (s *Store) Get(prefix, key string) (citation.Record, bool) {
	b, ok := s.buckets[prefix]
	if !ok {
		return nil, false
	}
	r, ok := b.records[key]
	return r, ok
}

// Has reports whether (prefix, key) is stored.
func (s *Store) Has(prefix, key string) bool {
	_, ok := s.Get(prefix, key)
	return ok
}

// Prefixes returns the stored prefixes in insertion order.
func (s *Store) Prefixes() []string {
	return slices.Clone(s.prefixes)
}

// Keys returns the keys stored under prefix in insertion order.
func (s *Store) Keys(prefix string) []string {
	b, ok := s.buckets[prefix]
	if !ok {
		return nil
	}
	return slices.Clone(b.keys)
}

// Len returns the total number of stored records.
func (s *Store) Len() int {
	return s.size
}

// All iterates every (key, record) pair in insertion order.
func (s *Store) All() iter.Seq2[citation.Key, citation.Record] {
	return func(yield func(citation.Key, citation.Record) bool) {
		for _, p := range s.prefixes {
			b := s.buckets[p]
			for _, k := range b.keys {
				if !yield(citation.Key{Prefix: p, Key: k}, b.records[k]) {
					return
				}
			}
		}
	}
}
