package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/citechain/internal/citation"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Success(map[string]string{"result": "success"}, nil)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("ignored", func(w io.Writer) error {
		_, err := fmt.Fprintln(w, "custom text")
		return err
	}))
	assert.Equal(t, "custom text\n", buf.String())

	buf.Reset()
	require.NoError(t, formatter.Success("plain value", nil))
	assert.Equal(t, "plain value\n", buf.String())
}

// TestOutputFormatter_JSONCitationError tests that citation errors report
// their code and details.
func TestOutputFormatter_JSONCitationError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	cycle := citation.NewChainCycleError([]citation.Key{{Prefix: "a", Key: "1"}, {Prefix: "b", Key: "2"}, {Prefix: "a", Key: "1"}})
	require.NoError(t, formatter.Error(WrapExitError(ExitFailure, "resolution failed", cycle)))

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "CHAIN_CYCLE", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "resolution failed")
	assert.Equal(t, "a:1,b:2,a:1", resp.Error.Details["path"])
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Error(errors.New("boom")))
	assert.Equal(t, "Error [ERROR]: boom\n", buf.String())
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"exit error", NewExitError(ExitCommandError, "bad flag"), ExitCommandError},
		{"wrapped exit error", fmt.Errorf("outer: %w", WrapExitError(ExitFailure, "x", nil)), ExitFailure},
		{"citation error", citation.NewKeyNotFoundError("doi", "x", "doi.org"), ExitFailure},
		{"other error", errors.New("unknown flag"), ExitCommandError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitError_Unwrap(t *testing.T) {
	cause := citation.NewUnknownPrefixError("nope", "argument 1")
	err := WrapExitError(ExitFailure, "invalid citation", cause)

	assert.True(t, errors.Is(err, citation.ErrUnknownPrefix))
	assert.Equal(t, "invalid citation: "+cause.Error(), err.Error())
}
