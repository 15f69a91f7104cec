package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/curve25519"
)

// WireGuard keys are base64-encoded 32-byte values: 44 characters with padding.
const encodedKeyLen = 44

var keyCharset = regexp.MustCompile(`^[A-Za-z0-9+/]+=*$`)

// KeyPair represents a WireGuard key pair (private and public keys).
type KeyPair struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
}

// GenerateKeyPair generates a new WireGuard key pair.
// The daemon never hands these out; tests use them to build client profiles.
func GenerateKeyPair() (*KeyPair, error) {
	privateKeyBytes := make([]byte, 32)
	if _, err := rand.Read(privateKeyBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes for private key: %w", err)
	}

	clampPrivateKey(privateKeyBytes)

	publicKeyBytes, err := curve25519.X25519(privateKeyBytes, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to generate public key: %w", err)
	}

	return &KeyPair{
		PrivateKey: base64.StdEncoding.EncodeToString(privateKeyBytes),
		PublicKey:  base64.StdEncoding.EncodeToString(publicKeyBytes),
	}, nil
}

// DerivePublicKey computes the public key for a base64 private key,
// producing the same output as `wg pubkey`.
func DerivePublicKey(privateKey string) (string, error) {
	privateKeyBytes, err := base64.StdEncoding.DecodeString(strings.TrimSpace(privateKey))
	if err != nil {
		return "", fmt.Errorf("private key is not valid base64: %w", err)
	}
	if len(privateKeyBytes) != 32 {
		return "", fmt.Errorf("private key has incorrect length: expected 32 bytes, got %d", len(privateKeyBytes))
	}

	clampPrivateKey(privateKeyBytes)

	publicKeyBytes, err := curve25519.X25519(privateKeyBytes, curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("failed to derive public key: %w", err)
	}

	return base64.StdEncoding.EncodeToString(publicKeyBytes), nil
}

func clampPrivateKey(key []byte) {
	key[0] &= 248
	key[31] &= 127
	key[31] |= 64
}

// IsValidWireGuardKey reports whether key looks like an encoded WireGuard key.
func IsValidWireGuardKey(key string) bool {
	if len(key) != encodedKeyLen {
		return false
	}
	if !keyCharset.MatchString(key) {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(key)
	return err == nil && len(raw) == 32
}

// Truncate shortens a key for display, keeping the first n characters.
func Truncate(key string, n int) string {
	if key == "" {
		return ""
	}
	if len(key) <= n {
		return key
	}
	return key[:n] + "..."
}
