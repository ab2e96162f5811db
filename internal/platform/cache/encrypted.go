package cache

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// Encrypted seals values with AES-256-GCM before they reach the inner store.
// Cached results carry patient demographics, so a shared Redis should never
// see them in the clear.
type Encrypted struct {
	inner Store
	aead  cipher.AEAD
}

// NewEncrypted wraps inner with a 64 character hex encoded AES-256 key.
func NewEncrypted(inner Store, hexKey string) (*Encrypted, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("CACHE_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("CACHE_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cache encryptor: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cache encryptor: create GCM: %w", err)
	}
	return &Encrypted{inner: inner, aead: aead}, nil
}

// Get decrypts the stored value. An entry that no longer opens, for example
// one written under a rotated key, is dropped and reported as a miss.
func (e *Encrypted) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := e.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	plain, err := e.open(sealed)
	if err != nil {
		_ = e.inner.Delete(ctx, key)
		return nil, ErrMiss
	}
	return plain, nil
}

func (e *Encrypted) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("cache encrypt: generate nonce: %w", err)
	}
	// nonce + ciphertext
	return e.inner.Set(ctx, key, e.aead.Seal(nonce, nonce, value, nil), ttl)
}

func (e *Encrypted) open(data []byte) ([]byte, error) {
	n := e.aead.NonceSize()
	if len(data) < n {
		return nil, fmt.Errorf("cache decrypt: ciphertext too short")
	}
	plain, err := e.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("cache decrypt: %w", err)
	}
	return plain, nil
}

func (e *Encrypted) Delete(ctx context.Context, key string) error {
	return e.inner.Delete(ctx, key)
}

func (e *Encrypted) Ping(ctx context.Context) error {
	return e.inner.Ping(ctx)
}

func (e *Encrypted) Close() error {
	return e.inner.Close()
}
