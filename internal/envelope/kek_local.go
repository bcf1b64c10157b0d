package envelope

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// LocalKEK wraps DEKs with a 32-byte symmetric key supplied via config
// (hex in an env var, or a file holding the hex). Suitable for single-host
// and dev deployments; hosted KMS adapters cover the rest.
type LocalKEK struct {
	aead cipher.AEAD
}

// NewLocalKEK builds a local KEK from hex-encoded 32-byte key material.
func NewLocalKEK(hexKey string) (*LocalKEK, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("local kek: key must be hex-encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("local kek: key must be 32 bytes (64 hex chars), got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &LocalKEK{aead: aead}, nil
}

// NewLocalKEKFromFile reads the hex key from a file.
func NewLocalKEKFromFile(path string) (*LocalKEK, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("local kek: read key file: %w", err)
	}
	return NewLocalKEK(string(raw))
}

func (k *LocalKEK) EncryptDEK(_ context.Context, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, k.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return k.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (k *LocalKEK) DecryptDEK(_ context.Context, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < k.aead.NonceSize() {
		return nil, ErrTampered
	}
	nonce, sealed := ciphertext[:k.aead.NonceSize()], ciphertext[k.aead.NonceSize():]
	plaintext, err := k.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrTampered
	}
	return plaintext, nil
}
