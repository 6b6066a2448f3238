package citation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyString(t *testing.T) {
	assert.Equal(t, "doi:10.1000/xyz", Key{Prefix: "doi", Key: "10.1000/xyz"}.String())
	assert.Equal(t, "manual:p1", CanonicalID("manual", "p1"))
}

func TestRecordChain_Terminal(t *testing.T) {
	r := Record{"id": "bibfile:x", "title": "X"}

	_, ok, err := r.Chain()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, r.IsChained())
}

func TestRecordChain_Parses(t *testing.T) {
	r := Record{
		"chained": map[string]any{
			"cite_prefix":    "doi",
			"cite_key":       "10.1/abc",
			"set_properties": map[string]any{"page": "3-5"},
		},
	}

	c, ok, err := r.Chain()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Key{Prefix: "doi", Key: "10.1/abc"}, c.Target)
	assert.Equal(t, map[string]any{"page": "3-5"}, c.SetProperties)
}

func TestRecordChain_MissingSetPropertiesIsEmpty(t *testing.T) {
	r := Record{"chained": map[string]any{"cite_prefix": "doi", "cite_key": "k"}}

	c, ok, err := r.Chain()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, c.SetProperties)
}

func TestRecordChain_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		chained any
	}{
		{"not a mapping", "doi:10.1/abc"},
		{"missing key", map[string]any{"cite_prefix": "doi"}},
		{"missing prefix", map[string]any{"cite_key": "k"}},
		{"bad set_properties", map[string]any{"cite_prefix": "doi", "cite_key": "k", "set_properties": []any{"x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := Record{"chained": tt.chained}.Chain()
			assert.True(t, ok)
			require.Error(t, err)
			assert.True(t, IsFormatError(err))
		})
	}
}

func TestNewChainedRecord_RoundTrips(t *testing.T) {
	r := NewChainedRecord(Key{Prefix: "doi", Key: "10.1/x"}, map[string]any{"arxiv_id": "2101.00001"})

	c, ok, err := r.Chain()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "doi", c.Target.Prefix)
	assert.Equal(t, "2101.00001", c.SetProperties["arxiv_id"])
}

func TestRecordClone_IsIndependent(t *testing.T) {
	r := Record{"id": "a:b", "title": "T"}
	c := r.Clone()
	c["title"] = "changed"

	assert.Equal(t, "T", r["title"])
	assert.Nil(t, Record(nil).Clone())
}

func TestErrors_MatchByCode(t *testing.T) {
	err := fmt.Errorf("round 2: %w", NewKeyNotFoundError("bibfile", "z", "a.json"))

	assert.True(t, IsKeyNotFound(err))
	assert.True(t, errors.Is(err, ErrKeyNotFound))
	assert.False(t, errors.Is(err, ErrChainCycle))
	assert.Equal(t, CodeKeyNotFound, CodeOf(err))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.Contains(t, err.Error(), `key "z" was not found in a.json`)
	assert.Contains(t, err.Error(), "bibfile:z")
}

func TestNewChainCycleError_NamesPath(t *testing.T) {
	err := NewChainCycleError([]Key{{"alias", "A"}, {"alias", "B"}, {"alias", "A"}})

	assert.True(t, IsChainCycle(err))
	assert.Contains(t, err.Error(), "alias:A -> alias:B -> alias:A")
	assert.Equal(t, "alias:A,alias:B,alias:A", err.Details["path"])
}

func TestNewTransportError_Unwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewTransportError("https://doi.org/x", 0, "", cause)

	assert.True(t, IsTransportError(err))
	assert.ErrorIs(t, err, cause)

	withStatus := NewTransportError("https://doi.org/x", 503, "busy", nil)
	assert.Equal(t, 503, withStatus.Status)
	assert.Contains(t, withStatus.Error(), "HTTP status 503")
}

func TestMarshalCanonical_SortsAndNormalizes(t *testing.T) {
	r := Record{
		"title":  "Cafe\u0301 <b>&",
		"author": []any{map[string]any{"family": "Z", "given": "A"}},
		"issued": map[string]any{"date-parts": []any{[]any{float64(2020), 5}}},
		"id":     "bibfile:x",
		"empty":  nil,
	}

	data, err := MarshalCanonical(r)
	require.NoError(t, err)
	assert.Equal(t,
		"{\"author\":[{\"family\":\"Z\",\"given\":\"A\"}],\"empty\":null,\"id\":\"bibfile:x\",\"issued\":{\"date-parts\":[[2020,5]]},\"title\":\"Caf\u00e9 <b>&\"}",
		string(data))
}

func TestMarshalCanonical_LineSeparators(t *testing.T) {
	data, err := MarshalCanonical("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(data))

	literal, err := MarshalCanonical(`a\u2028b`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(literal))
}

func TestMarshalCanonical_RejectsUnsupported(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"x": struct{}{}})
	assert.Error(t, err)
}

func TestFingerprint_StableAcrossOrderAndComposition(t *testing.T) {
	a := Record{"title": "Caf\u00e9", "id": "x:1"}
	b := Record{"id": "x:1", "title": "Cafe\u0301"}

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)

	assert.Equal(t, fa, fb)
	assert.Len(t, fa, 64)
}
