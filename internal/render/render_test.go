package render

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/citechain/internal/citation"
)

type mapResolver map[string]citation.Record

func (m mapResolver) Resolve(prefix, key string) (citation.Record, string, error) {
	id := citation.CanonicalID(prefix, key)
	r, ok := m[id]
	if !ok {
		return nil, "", citation.NewKeyNotFoundError(prefix, key, "")
	}
	return r.Clone(), id, nil
}

func TestCitation_PreformattedShortCircuits(t *testing.T) {
	res := mapResolver{"manual:p1": {"id": "manual:p1", citation.FieldFormattedText: "p1"}}
	next := RendererFunc(func(context.Context, citation.Record, string, string) (string, error) {
		t.Fatal("renderer must not be called for preformatted text")
		return "", nil
	})

	out, err := Citation(context.Background(), res, Preformatted{Next: next}, "manual", "p1", "")
	require.NoError(t, err)
	assert.Equal(t, "p1", out)
}

func TestCitation_PassesDefaultStyle(t *testing.T) {
	res := mapResolver{"doi:x": {"id": "doi:x", "title": "T"}}
	var gotStyle, gotID string
	r := RendererFunc(func(_ context.Context, _ citation.Record, id, style string) (string, error) {
		gotID, gotStyle = id, style
		return "ok", nil
	})

	_, err := Citation(context.Background(), res, r, "doi", "x", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultStyle, gotStyle)
	assert.Equal(t, "doi:x", gotID)
}

// TestCitation_WrapsRendererFailure tests that renderer errors surface as
// *Error while resolution errors pass through.
func TestCitation_WrapsRendererFailure(t *testing.T) {
	res := mapResolver{"doi:x": {"id": "doi:x"}}
	cause := errors.New("style not found")
	r := RendererFunc(func(context.Context, citation.Record, string, string) (string, error) {
		return "", cause
	})

	_, err := Citation(context.Background(), res, r, "doi", "x", "apa")
	require.Error(t, err)
	assert.True(t, IsRenderError(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), `"apa"`)

	_, err = Citation(context.Background(), res, r, "doi", "missing", "apa")
	assert.True(t, citation.IsKeyNotFound(err))
	assert.False(t, IsRenderError(err))
}

func TestPreformatted_NoNext(t *testing.T) {
	_, err := Preformatted{}.Render(context.Background(), citation.Record{"title": "T"}, "doi:x", "harvard1")
	assert.True(t, IsRenderError(err))
}

func TestPlain(t *testing.T) {
	rec := citation.Record{
		"title":  "On Computable Numbers",
		"author": []any{map[string]any{"family": "Turing", "given": "Alan"}},
		"issued": map[string]any{"date-parts": []any{[]any{float64(1936)}}},
	}
	out, err := Plain{}.Render(context.Background(), rec, "doi:x", "")
	require.NoError(t, err)
	assert.Equal(t, "Turing (1936) On Computable Numbers.", out)

	_, err = Plain{}.Render(context.Background(), citation.Record{}, "doi:x", "")
	assert.Error(t, err)
}
