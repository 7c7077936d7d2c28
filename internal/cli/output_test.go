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

	"github.com/roach88/privlog/internal/engine"
)

func TestOutput_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	out := &Output{Format: "json", Writer: buf}

	err := out.Success(map[string]string{"result": "success"}, func(w io.Writer) {
		t.Fatal("text callback must not run in JSON mode")
	})
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutput_JSONErrorCarriesEngineCode(t *testing.T) {
	buf := &bytes.Buffer{}
	out := &Output{Format: "json", Writer: buf}

	rejected := fmt.Errorf("create: %w", &engine.Error{Code: engine.ErrCodeApplicationRejected, Message: "an agent cannot befriend itself"})
	require.NoError(t, out.Error(rejected))

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "APPLICATION_REJECTED", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "befriend itself")
}

func TestOutput_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	out := &Output{Format: "text", Writer: buf}

	err := out.Success("ignored", func(w io.Writer) {
		fmt.Fprintln(w, "custom text")
	})
	require.NoError(t, err)
	assert.Equal(t, "custom text\n", buf.String())
}

func TestOutput_TextSuccessWithoutCallback(t *testing.T) {
	buf := &bytes.Buffer{}
	out := &Output{Format: "text", Writer: buf}

	require.NoError(t, out.Success(42, nil))
	assert.Equal(t, "42\n", buf.String())
}

func TestOutput_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	out := &Output{Format: "text", Writer: buf}

	require.NoError(t, out.Error(errors.New("boom")))
	assert.Equal(t, "Error [ERROR]: boom\n", buf.String())
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "ERROR", ErrorCode(errors.New("plain")))
	assert.Equal(t, "SIGNATURE_INVALID", ErrorCode(&engine.Error{Code: engine.ErrCodeSignatureInvalid}))
}
