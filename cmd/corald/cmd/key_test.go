package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateNodeKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "node_key.json")

	created, err := loadOrCreateNodeKey(path)
	require.NoError(t, err)
	require.Len(t, created, 64)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// A second load must return the persisted key, not mint a new one.
	loaded, err := loadOrCreateNodeKey(path)
	require.NoError(t, err)
	require.Equal(t, created, loaded)
}

func TestLoadOrCreateNodeKeyRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node_key.json")

	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))
	_, err := loadOrCreateNodeKey(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"privKey":"abcd"}`), 0o600))
	_, err = loadOrCreateNodeKey(path)
	require.ErrorContains(t, err, "not a hex ed25519 private key")
}
