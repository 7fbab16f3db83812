package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher encrypts OAuth tokens before they reach the database. Ciphertext is
// tagged with the id of the key that produced it ("<key-id>.<base64 payload>")
// so keys can be rotated by adding a new key and switching the active id;
// old rows stay readable until rewritten.
type Cipher struct {
	keys   map[string][]byte
	active string
}

// NewCipher builds a Cipher from a keyring and the id used for new writes.
// Every key must be exactly 32 bytes.
func NewCipher(keys map[string][]byte, activeID string) (*Cipher, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("secrets: no encryption keys configured")
	}
	for id, key := range keys {
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("secrets: key %q must be %d bytes, got %d", id, chacha20poly1305.KeySize, len(key))
		}
		if strings.Contains(id, ".") {
			return nil, fmt.Errorf("secrets: key id %q must not contain '.'", id)
		}
	}
	if _, ok := keys[activeID]; !ok {
		return nil, fmt.Errorf("secrets: active key %q not present in keyring", activeID)
	}
	return &Cipher{keys: keys, active: activeID}, nil
}

// Encrypt seals plaintext with the active key. The nonce is prepended to the
// sealed payload before encoding.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.keys[c.active])
	if err != nil {
		return "", fmt.Errorf("secrets: creating cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: generating nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return c.active + "." + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens ciphertext produced by Encrypt, selecting the key by its tag.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	keyID, encoded, ok := strings.Cut(ciphertext, ".")
	if !ok {
		return "", fmt.Errorf("secrets: ciphertext missing key id tag")
	}

	key, ok := c.keys[keyID]
	if !ok {
		return "", fmt.Errorf("secrets: unknown encryption key %q", keyID)
	}

	sealed, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("secrets: decoding ciphertext: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("secrets: creating cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return "", fmt.Errorf("secrets: ciphertext too short")
	}

	nonce, payload := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, payload, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypting: %w", err)
	}
	return string(plaintext), nil
}

// ActiveKeyID returns the key id used for new writes.
func (c *Cipher) ActiveKeyID() string {
	return c.active
}
