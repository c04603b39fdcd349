package cmd

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// nodeKeyFile is the on-disk identity: a hex ed25519 private key. The same
// key signs mesh envelopes and settlement transactions.
type nodeKeyFile struct {
	PrivKey string `json:"privKey"`
}

// loadOrCreateNodeKey reads the node key at path, generating and persisting
// a fresh one on first start.
func loadOrCreateNodeKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var nk nodeKeyFile
		if err := json.Unmarshal(data, &nk); err != nil {
			return nil, fmt.Errorf("decode node key %s: %w", path, err)
		}
		priv, err := hex.DecodeString(nk.PrivKey)
		if err != nil || len(priv) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("node key %s is not a hex ed25519 private key", path)
		}
		return ed25519.PrivateKey(priv), nil

	case os.IsNotExist(err):
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate node key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir key dir: %w", err)
		}
		data, err := json.MarshalIndent(nodeKeyFile{PrivKey: hex.EncodeToString(priv)}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode node key: %w", err)
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return nil, fmt.Errorf("write node key: %w", err)
		}
		return priv, nil

	default:
		return nil, fmt.Errorf("read node key %s: %w", path, err)
	}
}
