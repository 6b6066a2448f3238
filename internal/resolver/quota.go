package resolver

import "github.com/roach88/citechain/internal/citation"

// RoundQuota bounds the number of fixpoint rounds of a session.
//
// The limit is the number of distinct keys the session has seen so far,
// and grows as chains reveal new keys. Every round fetches at least one key
// not fetched before, so a well-formed chain graph converges within the
// quota; exceeding it means chain pointers keep producing work without
// reaching terminal records.
//
// This complements the chain walk in chain.go, which catches pointers that
// loop back onto already-fetched keys (A -> B -> A).
type RoundQuota struct {
	rounds int
}

// Check counts one round against limit.
// Returns a ChainCycle error when the round count exceeds limit.
func (q *RoundQuota) Check(limit int) error {
	q.rounds++
	if q.rounds > limit {
		return citation.NewRoundQuotaError(q.rounds, limit)
	}
	return nil
}

// Rounds returns the number of rounds counted so far.
func (q *RoundQuota) Rounds() int {
	return q.rounds
}
