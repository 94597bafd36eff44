package apikeys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// kdfSalt is fixed: the derived key only needs to be stable per
// SECRET_KEY, and rotating SECRET_KEY intentionally invalidates all
// stored ciphertexts.
var kdfSalt = []byte("bookmind-apikey-v1")

const kdfIterations = 100_000

// keyCipher is AES-256-GCM with a key derived from the process secret.
type keyCipher struct {
	aead cipher.AEAD
}

func newKeyCipher(secretKey string) *keyCipher {
	derived := pbkdf2.Key([]byte(secretKey), kdfSalt, kdfIterations, 32, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		// 32-byte key; cannot fail.
		panic(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		panic(err)
	}
	return &keyCipher{aead: aead}
}

// encrypt prepends the random nonce to the sealed ciphertext.
func (c *keyCipher) encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *keyCipher) decrypt(data []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(data) < ns {
		return nil, fmt.Errorf("ciphertext too short")
	}
	return c.aead.Open(nil, data[:ns], data[ns:], nil)
}

// hashKey produces the stable non-reversible fingerprint stored next to
// the ciphertext for equality checks.
func hashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
