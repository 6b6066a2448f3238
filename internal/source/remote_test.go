package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/citechain/internal/citation"
)

func TestDOI_ContentNegotiation(t *testing.T) {
	var accept, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept")
		path = r.URL.Path
		if strings.HasSuffix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"type": "article-journal", "title": "Resolved", "DOI": "10.1000/xyz"}`))
	}))
	defer srv.Close()

	src, err := NewDOI(Options{OptBaseURL: srv.URL}, Env{})
	require.NoError(t, err)
	assert.Equal(t, 8, src.Config().ChunkSize)
	assert.Equal(t, "doi", src.Config().CitePrefix)

	got, err := src.RetrieveChunk(context.Background(), []string{"10.1000/xyz"})
	require.NoError(t, err)
	assert.Equal(t, CSLJSONMediaType, accept)
	assert.Equal(t, "/10.1000/xyz", path)
	assert.Equal(t, "Resolved", got["10.1000/xyz"]["title"])

	_, err = src.RetrieveChunk(context.Background(), []string{"10.1000/missing"})
	require.Error(t, err)
	assert.True(t, citation.IsKeyNotFound(err))
}

func TestDOI_ServerErrorIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src, err := NewDOI(Options{OptBaseURL: srv.URL + "/"}, Env{})
	require.NoError(t, err)

	_, err = src.RetrieveChunk(context.Background(), []string{"10.1/x"})
	require.Error(t, err)
	assert.True(t, citation.IsTransportError(err))
}

const arxivFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <entry>
    <id>http://arxiv.org/abs/2101.00001v2</id>
    <published>2021-01-04T18:59:59Z</published>
    <title>A Study of
      Things</title>
    <summary>We study things.</summary>
    <author><name>Ada Lovelace</name></author>
    <author><name>Turing</name></author>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2102.00002v1</id>
    <published>2021-02-01T00:00:00Z</published>
    <title>Published Later</title>
    <arxiv:doi>10.1000/pub</arxiv:doi>
  </entry>
</feed>`

func newArxivServer(t *testing.T, query *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if query != nil {
			*query = r.URL.RawQuery
		}
		w.Write([]byte(arxivFeed))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestArxiv_MapsEntriesToRecords(t *testing.T) {
	var query string
	srv := newArxivServer(t, &query)

	src, err := NewArxiv(Options{OptAPIURL: srv.URL}, Env{})
	require.NoError(t, err)
	assert.Equal(t, 64, src.Config().ChunkSize)

	got, err := src.RetrieveChunk(context.Background(), []string{"2101.00001", "2102.00002"})
	require.NoError(t, err)
	assert.Contains(t, query, "id_list=2101.00001%2C2102.00002")
	assert.Contains(t, query, "max_results=2")

	rec := got["2101.00001"]
	assert.Equal(t, "A Study of Things", rec["title"])
	assert.Equal(t, "We study things.", rec["abstract"])
	assert.Equal(t, "https://arxiv.org/abs/2101.00001", rec["URL"])
	assert.Equal(t, []any{
		map[string]any{"family": "Lovelace", "given": "Ada"},
		map[string]any{"family": "Turing"},
	}, rec["author"])
	assert.Equal(t, map[string]any{"date-parts": []any{[]any{2021, 1, 4}}}, rec["issued"])

	chain, ok, err := got["2102.00002"].Chain()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, citation.Key{Prefix: "doi", Key: "10.1000/pub"}, chain.Target)
	assert.Equal(t, "2102.00002", chain.SetProperties["arxiv_id"])
}

func TestArxiv_ChainingDisabled(t *testing.T) {
	srv := newArxivServer(t, nil)

	src, err := NewArxiv(Options{OptAPIURL: srv.URL, OptChainDOIPrefix: ""}, Env{})
	require.NoError(t, err)

	got, err := src.RetrieveChunk(context.Background(), []string{"2102.00002v1"})
	require.NoError(t, err)
	assert.False(t, got["2102.00002v1"].IsChained())
	assert.Equal(t, "Published Later", got["2102.00002v1"]["title"])
}

func TestArxiv_UnknownID(t *testing.T) {
	srv := newArxivServer(t, nil)

	src, err := NewArxiv(Options{OptAPIURL: srv.URL}, Env{})
	require.NoError(t, err)

	_, err = src.RetrieveChunk(context.Background(), []string{"9999.99999"})
	require.Error(t, err)
	assert.True(t, citation.IsKeyNotFound(err))
}

func TestStripVersion(t *testing.T) {
	assert.Equal(t, "2101.00001", stripVersion("2101.00001v12"))
	assert.Equal(t, "2101.00001", stripVersion("2101.00001"))
	assert.Equal(t, "hep-th/9901001", stripVersion("hep-th/9901001v1"))
	assert.Equal(t, "solv-int/9901001", stripVersion("solv-int/9901001"))
}
