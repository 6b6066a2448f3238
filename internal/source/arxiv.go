package source

import (
	"context"
	"encoding/xml"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/citechain/internal/citation"
	"github.com/roach88/citechain/internal/fetch"
)

// ArxivName is the registry name of the arXiv variant.
const ArxivName = "arxiv"

// arXiv variant options and defaults.
const (
	OptAPIURL         = "api_url"
	OptChainDOIPrefix = "chain_doi_prefix"

	DefaultArxivAPIURL = "https://export.arxiv.org/api/query"
)

// Arxiv fetches preprint metadata from the arXiv export API.
//
// An entry that carries a published DOI becomes a chain pointer to that DOI
// (under chain_doi_prefix, "doi" by default) with the arXiv id kept as a
// property, so the published version's metadata is used.
type Arxiv struct {
	Base
	apiURL      string
	chainPrefix string
	fetcher     *fetch.Fetcher
	logger      *slog.Logger
}

// NewArxiv creates an arXiv Source. Defaults: 64 keys per chunk, 3 s
// between chunks.
func NewArxiv(opts Options, env Env) (*Arxiv, error) {
	env = env.withDefaults()

	layered := Layer(
		Options{
			OptCitePrefix:      "arxiv",
			OptChunkSize:       64,
			OptChunkQueryDelay: 3000,
			OptChainDOIPrefix:  "doi",
		},
		opts,
	)
	cfg, err := layered.Config(ArxivName)
	if err != nil {
		return nil, err
	}
	api, err := layered.String(OptAPIURL, DefaultArxivAPIURL)
	if err != nil {
		return nil, err
	}
	chain, err := layered.String(OptChainDOIPrefix, "")
	if err != nil {
		return nil, err
	}
	return &Arxiv{
		Base:        NewBase(cfg),
		apiURL:      api,
		chainPrefix: chain,
		fetcher:     env.Fetcher,
		logger:      env.Logger,
	}, nil
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	Authors   []atomAuthor `xml:"author"`
	DOI       string       `xml:"doi"`
	Journal   string       `xml:"journal_ref"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

// RetrieveChunk queries all keys in one request. Ids the API does not
// return fail with KeyNotFound.
func (a *Arxiv) RetrieveChunk(ctx context.Context, keys []string) (map[string]citation.Record, error) {
	q := url.Values{}
	q.Set("id_list", strings.Join(keys, ","))
	q.Set("max_results", strconv.Itoa(len(keys)))
	target := a.apiURL + "?" + q.Encode()

	body, err := a.fetcher.Text(ctx, target, fetch.Request{})
	if err != nil {
		return nil, err
	}

	var feed atomFeed
	if err := xml.Unmarshal([]byte(body), &feed); err != nil {
		return nil, citation.NewFormatError(target, "invalid Atom feed", err)
	}

	byID := make(map[string]atomEntry, len(feed.Entries))
	for _, e := range feed.Entries {
		id := arxivID(e.ID)
		if id == "" {
			continue
		}
		byID[id] = e
		byID[stripVersion(id)] = e
	}

	out := make(map[string]citation.Record, len(keys))
	for _, k := range keys {
		e, ok := byID[k]
		if !ok {
			e, ok = byID[stripVersion(k)]
		}
		if !ok {
			return nil, citation.NewKeyNotFoundError(a.Config().CitePrefix, k, a.apiURL)
		}
		out[k] = a.toRecord(k, e)
	}
	a.logger.Debug("arxiv entries", "requested", len(keys), "returned", len(feed.Entries))
	return out, nil
}

func (a *Arxiv) toRecord(key string, e atomEntry) citation.Record {
	if doi := strings.TrimSpace(e.DOI); doi != "" && a.chainPrefix != "" {
		return citation.NewChainedRecord(
			citation.Key{Prefix: a.chainPrefix, Key: doi},
			map[string]any{"arxiv_id": key},
		)
	}

	rec := citation.Record{
		"type":      "article",
		"title":     collapseSpace(e.Title),
		"URL":       "https://arxiv.org/abs/" + key,
		"number":    key,
		"publisher": "arXiv",
	}
	if s := collapseSpace(e.Summary); s != "" {
		rec["abstract"] = s
	}
	if len(e.Authors) > 0 {
		authors := make([]any, 0, len(e.Authors))
		for _, au := range e.Authors {
			authors = append(authors, splitName(au.Name))
		}
		rec["author"] = authors
	}
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
		rec["issued"] = map[string]any{
			"date-parts": []any{[]any{t.Year(), int(t.Month()), t.Day()}},
		}
	}
	if j := collapseSpace(e.Journal); j != "" {
		rec["container-title"] = j
	}
	return rec
}

// arxivID extracts "2101.00001v1" from "http://arxiv.org/abs/2101.00001v1".
func arxivID(entryID string) string {
	_, id, ok := strings.Cut(strings.TrimSpace(entryID), "/abs/")
	if !ok {
		return ""
	}
	return id
}

// stripVersion drops a trailing "vN" version suffix.
func stripVersion(id string) string {
	i := strings.LastIndexByte(id, 'v')
	if i <= 0 || i == len(id)-1 {
		return id
	}
	if _, err := strconv.Atoi(id[i+1:]); err != nil {
		return id
	}
	return id[:i]
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// splitName splits "Given Names Family" at the last space.
func splitName(name string) map[string]any {
	name = collapseSpace(name)
	i := strings.LastIndexByte(name, ' ')
	if i < 0 {
		return map[string]any{"family": name}
	}
	return map[string]any{"family": name[i+1:], "given": name[:i]}
}
