// Package keys loads the validator's ed25519 signing keypair.
package keys

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/ed25519"
)

// Keypair is the validator's signing identity.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

type onDisk struct {
	Public string `json:"public"`
	Secret string `json:"secret"`
}

// Load reads a hex-encoded ed25519 keypair from path.
func Load(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keys file: %w", err)
	}
	var raw onDisk
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse keys file: %w", err)
	}
	seed, err := hex.DecodeString(raw.Secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("secret must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keypair{
		Public:  priv.Public().(ed25519.PublicKey),
		Private: priv,
	}, nil
}

// Sign signs msg with the keypair's private key.
func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.Private, msg)
}
