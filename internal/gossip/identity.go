package gossip

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
)

const seedSize = ed25519.SeedSize // 32 bytes

// LoadOrCreateNodeKey reads the persistent Ed25519 seed at path. If the
// file is missing or the wrong size, a fresh seed is generated and written,
// matching the same load-or-create idiom internal/identity.LoadOrCreateSecret
// uses for the JWT secret.
func LoadOrCreateNodeKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil && len(data) == seedSize {
		return ed25519.NewKeyFromSeed(data), nil
	}

	seed := make([]byte, seedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("gossip: generating node seed: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("gossip: creating data dir: %w", err)
		}
	}
	if err := os.WriteFile(path, seed, 0o600); err != nil {
		return nil, fmt.Errorf("gossip: writing node seed: %w", err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// ToLibp2pKey converts the platform's Ed25519 private key into the
// go-libp2p-native key type used to build the host identity.
func ToLibp2pKey(priv ed25519.PrivateKey) (libp2pcrypto.PrivKey, error) {
	key, err := libp2pcrypto.UnmarshalEd25519PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("gossip: unmarshaling libp2p key: %w", err)
	}
	return key, nil
}
