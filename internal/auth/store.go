package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
)

// Credential is the persisted login.
type Credential struct {
	Token    string    `json:"token"`
	Username string    `json:"username,omitempty"`
	SavedAt  time.Time `json:"savedAt"`
}

// Store persists a Credential as JSON at a fixed path.
type Store struct {
	path string
}

// NewStore returns a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path is the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load reads the stored credential. A missing file yields an empty
// credential and no error; a corrupt one is an error.
func (s *Store) Load() (Credential, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credential{}, nil
	}
	if err != nil {
		return Credential{}, errors.Wrapf(err, "read %s", s.path)
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return Credential{}, errors.Wrapf(err, "parse %s", s.path)
	}
	return cred, nil
}

// Save writes cred, creating the directory if needed. The file is only
// readable by its owner.
func (s *Store) Save(cred Credential) error {
	if cred.SavedAt.IsZero() {
		cred.SavedAt = time.Now().UTC()
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errors.Wrap(err, "create credentials directory")
	}
	payload, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return errors.Wrap(err, "write credentials")
	}
	return os.Rename(tmp, s.path)
}

// Remove deletes the stored credential. Removing a missing file is a no-op.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove credentials")
	}
	return nil
}
