// Package session owns the authentication state machine: it turns the
// long-lived credentials into a short-lived enctoken, caches it on disk,
// and re-authenticates when the cached token stops working.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Token is the single record persisted between runs.
type Token struct {
	Enctoken string `json:"enctoken"`
}

// TokenStore is the durable cache for one Token.
//
// Implementations must be safe for concurrent use. A read that finds no
// usable token (missing file, malformed JSON, empty value) returns an
// empty Token and no error: a broken cache degrades to unauthenticated,
// never to a hard failure.
type TokenStore interface {
	Read() (Token, error)
	Write(Token) error
}

// FileTokenStore keeps the token in a single JSON file.
type FileTokenStore struct {
	mu   sync.Mutex
	path string
}

// Ensure FileTokenStore implements TokenStore.
var _ TokenStore = (*FileTokenStore)(nil)

// NewFileTokenStore creates a store backed by the given path. The file
// is created on first Write.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Read loads the cached token. Missing or unparsable files yield an
// empty token rather than an error.
func (s *FileTokenStore) Read() (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Token{}, nil
		}
		return Token{}, fmt.Errorf("reading token file: %w", err)
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		// Corrupt cache; treat as absent.
		return Token{}, nil
	}
	return tok, nil
}

// Write persists the token, replacing any previous record. The write
// goes through a temp file and an atomic rename.
func (s *FileTokenStore) Write(tok Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}

	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return os.Rename(tmpFile, s.path)
}
