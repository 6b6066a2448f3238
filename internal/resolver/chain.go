package resolver

import (
	"github.com/roach88/citechain/internal/citation"
	"github.com/roach88/citechain/internal/citestore"
)

// chainWalk is the result of following chain pointers to a terminal record.
type chainWalk struct {
	// Path lists the visited keys, starting key first, terminal last.
	Path []citation.Key

	// Terminal is the stored terminal record.
	Terminal citation.Record

	// Overrides holds each hop's set_properties, nearest to the start first.
	Overrides []map[string]any
}

// walkChain follows chain pointers from start through store.
//
// A key visited twice fails with ChainCycle carrying the path. A target
// without a Source fails with UnknownPrefix naming the pointer's origin; a
// target absent from store fails with KeyNotFound.
func walkChain(store *citestore.Store, known func(prefix string) bool, start citation.Key) (chainWalk, error) {
	var w chainWalk
	visited := make(map[citation.Key]bool)

	cur := start
	for {
		if visited[cur] {
			return chainWalk{}, citation.NewChainCycleError(append(w.Path, cur))
		}
		visited[cur] = true

		if !known(cur.Prefix) {
			where := ""
			if len(w.Path) > 0 {
				where = "chain of " + w.Path[len(w.Path)-1].String()
			}
			return chainWalk{}, citation.NewUnknownPrefixError(cur.Prefix, where)
		}
		w.Path = append(w.Path, cur)

		rec, ok := store.Get(cur.Prefix, cur.Key)
		if !ok {
			return chainWalk{}, citation.NewKeyNotFoundError(cur.Prefix, cur.Key, "resolved citations")
		}
		chain, chained, err := rec.Chain()
		if err != nil {
			return chainWalk{}, err
		}
		if !chained {
			w.Terminal = rec
			return w, nil
		}
		w.Overrides = append(w.Overrides, chain.SetProperties)
		cur = chain.Target
	}
}
