package infra

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
)

func TestStateKeyFile_SaveLoad(t *testing.T) {
	keyFile := NewStateKeyFile(filepath.Join(t.TempDir(), "nested", "data"))

	_, err := keyFile.Load()
	assert.ErrorIs(t, err, os.ErrNotExist)

	key, err := generateStateKey()
	require.NoError(t, err)
	require.NoError(t, keyFile.Save(key))

	info, err := os.Stat(keyFile.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.Equal(t, stateKeyName, filepath.Base(keyFile.Path()))

	loaded, err := keyFile.Load()
	require.NoError(t, err)
	assert.Equal(t, key, loaded)

	// No temp files left beside the key
	entries, err := os.ReadDir(filepath.Dir(keyFile.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStateKeyFile_RejectsBadContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not hex", "zz-not-a-key"},
		{"short key", "abcd"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dataDir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dataDir, stateKeyName), []byte(tt.content), 0600))

			_, err := NewStateKeyFile(dataDir).Load()
			assert.Error(t, err)
		})
	}
}

func TestStateKeyFile_SaveRejectsWrongSize(t *testing.T) {
	keyFile := NewStateKeyFile(t.TempDir())
	assert.Error(t, keyFile.Save([]byte("short")))
	_, err := os.Stat(keyFile.Path())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// TestOpenStateStore_FirstRunUnderExecModeDir verifies a missing data
// directory is created with its key and database on first open.
func TestOpenStateStore_FirstRunUnderExecModeDir(t *testing.T) {
	home := t.TempDir()
	dataDir := execModeFor(false, home).ResolveDataDir("")
	require.Equal(t, filepath.Join(home, ".childmon"), dataDir)

	store, err := OpenStateStore(dataDir)
	require.NoError(t, err)
	linked, err := store.SaveLink(domain.EnforcementContext{ChildID: "child-1", FamilyID: "fam-1"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	assert.FileExists(t, filepath.Join(dataDir, stateKeyName))
	assert.FileExists(t, filepath.Join(dataDir, stateDBName))

	// Reopening reads the same key, so the link and device id survive
	reopened, err := OpenStateStore(dataDir)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadLink()
	require.NoError(t, err)
	assert.Equal(t, linked.DeviceID, loaded.DeviceID)
	assert.Equal(t, "child-1", loaded.Context.ChildID)
}

// TestOpenStateStore_MissingKeyForExistingState verifies a lost key is an
// error instead of a silently regenerated one.
func TestOpenStateStore_MissingKeyForExistingState(t *testing.T) {
	dataDir := t.TempDir()
	store, err := OpenStateStore(dataDir)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	require.NoError(t, os.Remove(filepath.Join(dataDir, stateKeyName)))

	_, err = OpenStateStore(dataDir)
	assert.ErrorIs(t, err, ErrStateKeyMissing)
	_, statErr := os.Stat(filepath.Join(dataDir, stateKeyName))
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

// TestOpenStateStore_ReplacedKey verifies state written under one key cannot
// be opened after the key file is swapped.
func TestOpenStateStore_ReplacedKey(t *testing.T) {
	dataDir := t.TempDir()
	store, err := OpenStateStore(dataDir)
	require.NoError(t, err)
	_, err = store.SaveLink(domain.EnforcementContext{ChildID: "child-1", FamilyID: "fam-1"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	other, err := generateStateKey()
	require.NoError(t, err)
	require.NoError(t, NewStateKeyFile(dataDir).Save(other))

	_, err = OpenStateStore(dataDir)
	assert.Error(t, err)
}

func TestOpenStateStore_CorruptKey(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, stateKeyName), []byte(strings.Repeat("g", 64)), 0600))

	_, err := OpenStateStore(dataDir)
	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dataDir, stateDBName))
	assert.ErrorIs(t, statErr, os.ErrNotExist, "no database is created without a usable key")
}
