package crypt

import (
	"crypto/cipher"
	"crypto/rand"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"

	"snipbin/metrics"
)

// KeySize is the required symmetric key length in bytes.
const KeySize = chacha20poly1305.KeySize

var (
	ErrInvalidKey      = errors.New("encryption key must be exactly 32 bytes")
	ErrKeyUnavailable  = errors.New("encryption key unavailable")
	ErrCiphertextShort = errors.New("ciphertext shorter than nonce")
	ErrDecryptFailed   = errors.New("decryption failed")
)

// Cipher encrypts and decrypts paste bodies with ChaCha20-Poly1305.
// The key is fixed at construction and never mutated afterwards, so a
// single Cipher is safe for concurrent use. A nil *Cipher is the
// "key never loaded" state: every operation fails with
// ErrKeyUnavailable instead of silently passing plaintext through.
type Cipher struct {
	aead cipher.AEAD
}

func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, errors.Wrapf(ErrInvalidKey, "got %d bytes", len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(err, "init aead")
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random 96-bit nonce. The result
// is nonce || ciphertext || tag as one opaque blob; the nonce length is
// fixed by the cipher, so no length prefix is stored.
func (c *Cipher) Encrypt(plaintext string) ([]byte, error) {
	if c == nil {
		return nil, ErrKeyUnavailable
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "generate nonce")
	}
	blob := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	metrics.EncryptionOps.WithLabelValues("encrypt").Inc()
	return blob, nil
}

// Decrypt splits the nonce off the blob and opens the remainder. A tag
// mismatch (wrong key, tampered or truncated data) is ErrDecryptFailed;
// the distinction from ErrCiphertextShort matters for log noise, but
// callers must treat both as "content cannot be trusted".
func (c *Cipher) Decrypt(blob []byte) (string, error) {
	if c == nil {
		return "", ErrKeyUnavailable
	}
	nonceSize := c.aead.NonceSize()
	if len(blob) < nonceSize {
		return "", ErrCiphertextShort
	}
	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		metrics.DecryptFailures.Inc()
		return "", errors.Wrap(ErrDecryptFailed, err.Error())
	}
	metrics.EncryptionOps.WithLabelValues("decrypt").Inc()
	return string(plaintext), nil
}
