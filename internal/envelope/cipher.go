// Package envelope provides authenticated encryption of short strings under
// data-encryption keys (DEKs) that are themselves encrypted by a
// key-encryption key (KEK) held outside the process.
//
// A DEK is generated once, persisted as ciphertext (store.EncryptionKey), and
// decrypted on demand through the KEK. Plaintext DEKs are cached in-process
// for a short TTL to amortize KEK round-trips; correctness never depends on
// cache state.
package envelope

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ErrTampered is returned when AEAD authentication fails. Callers must treat
// this as alertable and never fall back to reading the ciphertext.
var ErrTampered = errors.New("envelope: ciphertext authentication failed")

// KEK encrypts and decrypts DEK material. Three adapters exist: LocalKEK,
// AWSKMSKEK, and GCPKMSKEK, all with this surface.
type KEK interface {
	EncryptDEK(ctx context.Context, plaintext []byte) ([]byte, error)
	DecryptDEK(ctx context.Context, ciphertext []byte) ([]byte, error)
}

const (
	dekSize  = 32 // 256-bit DEKs
	cacheTTL = 300 * time.Second
)

type cacheEntry struct {
	dek      []byte
	inserted time.Time
}

// Cipher performs AES-256-GCM encryption of short UTF-8 strings under DEKs
// reached through a KEK. Safe for concurrent use.
type Cipher struct {
	kek KEK

	mu    sync.Mutex
	cache map[string]cacheEntry // string(encryptedDEK) → plaintext DEK

	now func() time.Time
}

// NewCipher creates a cipher over the given KEK.
func NewCipher(kek KEK) *Cipher {
	return &Cipher{
		kek:   kek,
		cache: make(map[string]cacheEntry),
		now:   time.Now,
	}
}

// GenerateDEK produces a fresh 256-bit DEK, encrypts it under the KEK for
// persistence, and caches the plaintext for immediate reuse. The returned
// bytes are the DEK ciphertext.
func (c *Cipher) GenerateDEK(ctx context.Context) ([]byte, error) {
	dek := make([]byte, dekSize)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, fmt.Errorf("generate dek: %w", err)
	}
	encrypted, err := c.kek.EncryptDEK(ctx, dek)
	if err != nil {
		return nil, fmt.Errorf("encrypt dek under kek: %w", err)
	}
	c.cachePut(encrypted, dek)
	return encrypted, nil
}

// Encrypt AEAD-encrypts plaintext under the DEK identified by its ciphertext,
// with a fresh random nonce. Output is base64(nonce|ciphertext).
func (c *Cipher) Encrypt(ctx context.Context, plaintext string, encryptedDEK []byte) (string, error) {
	aead, err := c.aead(ctx, encryptedDEK)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. An authentication failure returns ErrTampered.
func (c *Cipher) Decrypt(ctx context.Context, ciphertext string, encryptedDEK []byte) (string, error) {
	aead, err := c.aead(ctx, encryptedDEK)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrTampered
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrTampered
	}
	return string(plaintext), nil
}

// aead returns a GCM instance for the DEK, decrypting through the KEK on a
// cache miss.
func (c *Cipher) aead(ctx context.Context, encryptedDEK []byte) (cipher.AEAD, error) {
	dek, ok := c.cacheGet(encryptedDEK)
	if !ok {
		var err error
		dek, err = c.kek.DecryptDEK(ctx, encryptedDEK)
		if err != nil {
			return nil, fmt.Errorf("decrypt dek under kek: %w", err)
		}
		if len(dek) != dekSize {
			return nil, fmt.Errorf("dek has %d bytes, want %d", len(dek), dekSize)
		}
		c.cachePut(encryptedDEK, dek)
	}
	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (c *Cipher) cacheGet(encryptedDEK []byte) ([]byte, bool) {
	key := string(encryptedDEK)
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(ent.inserted) > cacheTTL {
		delete(c.cache, key)
		return nil, false
	}
	return ent.dek, true
}

func (c *Cipher) cachePut(encryptedDEK, dek []byte) {
	cp := make([]byte, len(dek))
	copy(cp, dek)
	c.mu.Lock()
	c.cache[string(encryptedDEK)] = cacheEntry{dek: cp, inserted: c.now()}
	c.mu.Unlock()
}
