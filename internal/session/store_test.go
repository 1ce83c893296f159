package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTokenStore_MissingFileReadsEmpty(t *testing.T) {
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "access_token.json"))

	tok, err := store.Read()
	require.NoError(t, err)
	assert.Empty(t, tok.Enctoken)
}

func TestFileTokenStore_CorruptFileTreatedAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access_token.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	tok, err := NewFileTokenStore(path).Read()
	require.NoError(t, err)
	assert.Empty(t, tok.Enctoken)
}

func TestFileTokenStore_WriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access_token.json")
	store := NewFileTokenStore(path)

	require.NoError(t, store.Write(Token{Enctoken: "abc123"}))

	tok, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, "abc123", tok.Enctoken)

	// A later login overwrites the record.
	require.NoError(t, store.Write(Token{Enctoken: "def456"}))
	tok, err = store.Read()
	require.NoError(t, err)
	assert.Equal(t, "def456", tok.Enctoken)

	// No temp file is left behind.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileTokenStore_FileIsSingleJSONObject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access_token.json")
	require.NoError(t, NewFileTokenStore(path).Write(Token{Enctoken: "tok"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"enctoken":"tok"}`, string(data))
}
