package state

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

const (
	// EncryptionKeyEnvVar names the environment variable holding the
	// state encryption passphrase. Documents are sealed with AES-256-GCM
	// when it is set and stored as plain JSON otherwise.
	EncryptionKeyEnvVar = "LOOM_STATE_ENCRYPTION_KEY"

	// sealedPrefix marks a sealed document. Everything after it is the
	// base64 envelope of nonce plus ciphertext.
	sealedPrefix = "loom-sealed:v1:"
)

// sealer wraps the AEAD derived from the configured passphrase.
type sealer struct {
	aead cipher.AEAD
}

// newSealer derives an AES-256 key from the passphrase in the
// environment. A nil sealer means no key is configured.
func newSealer() (*sealer, error) {
	pass := os.Getenv(EncryptionKeyEnvVar)
	if pass == "" {
		return nil, nil
	}

	key := sha256.Sum256([]byte(pass))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &sealer{aead: aead}, nil
}

func (s *sealer) seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	envelope := s.aead.Seal(nonce, nonce, plain, nil)
	return []byte(sealedPrefix + base64.StdEncoding.EncodeToString(envelope) + "\n"), nil
}

func (s *sealer) open(sealed []byte) ([]byte, error) {
	encoded := strings.TrimSpace(strings.TrimPrefix(string(sealed), sealedPrefix))
	envelope, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed state: %w", err)
	}
	if len(envelope) < s.aead.NonceSize() {
		return nil, fmt.Errorf("sealed state is truncated")
	}
	nonce, ciphertext := envelope[:s.aead.NonceSize()], envelope[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state (wrong key?): %w", err)
	}
	return plain, nil
}

// Encrypt seals a state document when a key is configured and returns it
// untouched otherwise.
func Encrypt(content []byte) ([]byte, error) {
	s, err := newSealer()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return content, nil
	}
	return s.seal(content)
}

// Decrypt opens a sealed state document. Plain documents pass through;
// a sealed document without a configured key is an error.
func Decrypt(content []byte) ([]byte, error) {
	if !IsEncrypted(content) {
		return content, nil
	}
	s, err := newSealer()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("state is encrypted but %s is not set", EncryptionKeyEnvVar)
	}
	return s.open(content)
}

// IsEncrypted reports whether content is a sealed state document.
func IsEncrypted(content []byte) bool {
	return strings.HasPrefix(string(content), sealedPrefix)
}
