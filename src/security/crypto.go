package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// keyFromConfig decodes the configured base64 secretbox key.
func keyFromConfig() (*[32]byte, error) {
	encoded := GetConfig().CredentialsKey
	if encoded == "" {
		return nil, fmt.Errorf("EXCHANGE_CREDENTIALS_KEY is not set")
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid credentials key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("credentials key must be 32 bytes, got %d", len(raw))
	}

	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// GenerateKey returns a fresh base64-encoded secretbox key.
func GenerateKey() (string, error) {
	var key [32]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key[:]), nil
}

// EncryptString seals a credential with the configured key. The random nonce
// is prepended to the ciphertext and the whole blob base64-encoded.
func EncryptString(plain string) (string, error) {
	key, err := keyFromConfig()
	if err != nil {
		return "", err
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString.
func DecryptString(encoded string) (string, error) {
	key, err := keyFromConfig()
	if err != nil {
		return "", err
	}

	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid encrypted credential: %w", err)
	}
	if len(blob) < nonceSize {
		return "", fmt.Errorf("encrypted credential too short")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], blob[:nonceSize])

	plain, ok := secretbox.Open(nil, blob[nonceSize:], &nonce, key)
	if !ok {
		return "", fmt.Errorf("credential decryption failed")
	}
	return string(plain), nil
}
