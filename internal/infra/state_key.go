package infra

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	stateKeyName = "state.key"
	stateKeySize = 32 // SQLCipher raw key
)

// ErrStateKeyMissing means state.db exists but the key that opens it is gone.
// A fresh key could never read the old database, so none is generated.
var ErrStateKeyMissing = errors.New("state key missing for existing state database")

// StateKeyFile is the SQLCipher key of one data directory. It is stored hex
// encoded in state.key beside state.db, readable by the owner only.
type StateKeyFile struct {
	path string
}

// NewStateKeyFile returns the key file for dataDir.
func NewStateKeyFile(dataDir string) *StateKeyFile {
	return &StateKeyFile{path: filepath.Join(dataDir, stateKeyName)}
}

// Path returns the key file path.
func (k *StateKeyFile) Path() string {
	return k.path
}

// Load reads the key. A missing file is reported with os.ErrNotExist.
func (k *StateKeyFile) Load() ([]byte, error) {
	raw, err := os.ReadFile(k.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state key: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode state key %s: %w", k.path, err)
	}
	if len(key) != stateKeySize {
		return nil, fmt.Errorf("state key %s has %d bytes, want %d", k.path, len(key), stateKeySize)
	}
	return key, nil
}

// Save writes key through a temp file and rename, so a crash never leaves a
// truncated key behind.
func (k *StateKeyFile) Save(key []byte) error {
	if len(key) != stateKeySize {
		return fmt.Errorf("state key has %d bytes, want %d", len(key), stateKeySize)
	}
	dir := filepath.Dir(k.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, stateKeyName+".*")
	if err != nil {
		return fmt.Errorf("failed to create state key: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict state key: %w", err)
	}
	if _, err := tmp.WriteString(hex.EncodeToString(key) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state key: %w", err)
	}
	if err := os.Rename(tmp.Name(), k.path); err != nil {
		return fmt.Errorf("failed to install state key: %w", err)
	}
	return nil
}

// generateStateKey returns a random SQLCipher key.
func generateStateKey() ([]byte, error) {
	key := make([]byte, stateKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate state key: %w", err)
	}
	return key, nil
}

// stateKeyFor returns the key for dataDir, creating one when the directory
// holds no state yet.
func stateKeyFor(dataDir string) ([]byte, error) {
	keyFile := NewStateKeyFile(dataDir)
	key, err := keyFile.Load()
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if _, statErr := os.Stat(filepath.Join(dataDir, stateDBName)); statErr == nil {
		return nil, fmt.Errorf("%w: %s", ErrStateKeyMissing, keyFile.Path())
	}

	key, err = generateStateKey()
	if err != nil {
		return nil, err
	}
	if err := keyFile.Save(key); err != nil {
		return nil, err
	}
	return key, nil
}

// OpenStateStore opens the encrypted state of dataDir with its key file,
// creating both on first use.
func OpenStateStore(dataDir string) (*EncryptedStateStore, error) {
	key, err := stateKeyFor(dataDir)
	if err != nil {
		return nil, err
	}
	return NewEncryptedStateStore(dataDir, key)
}
