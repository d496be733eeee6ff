package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, db string, args ...string) []byte {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetArgs(append([]string{"--db", db, "--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	require.NoError(t, RootCmd.Execute())
	return out.Bytes()
}

func TestPutGetSearch(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")

	var put struct {
		Success bool `json:"success"`
		Data    struct {
			ID int64 `json:"inserted_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(run(t, db, "put", "--tags", "ops, cli", "deploy", "window", "is", "friday"), &put))
	require.True(t, put.Success)
	require.NotZero(t, put.Data.ID)

	var got struct {
		Success bool `json:"success"`
		Data    struct {
			Rows []map[string]any `json:"rows"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(run(t, db, "get", "--include", "text,tags", itoa(put.Data.ID)), &got))
	require.True(t, got.Success)
	require.Len(t, got.Data.Rows, 1)
	assert.Equal(t, "deploy window is friday", got.Data.Rows[0]["text"])
	assert.Equal(t, []any{"ops", "cli"}, got.Data.Rows[0]["tags"])

	out := run(t, db, "search", "deploy")
	assert.Contains(t, string(out), "combined_score")
}

func TestExecFromStdin(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")
	RootCmd.SetIn(strings.NewReader(`{"stage":"ENC","op":"Encode","args":{"payload":{"text":"piped"}}}`))
	defer RootCmd.SetIn(nil)

	out := run(t, db, "exec")
	assert.Contains(t, string(out), `"success": true`)
}

func TestParseTags(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseTags(" a, ,b "))
	assert.Nil(t, parseTags(""))
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"3", "7"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 7}, []int64(ids))

	_, err = parseIDs([]string{"x"})
	assert.Error(t, err)
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
