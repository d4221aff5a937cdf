package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/techbridge/techbridge/pkg/types"
)

// keyLength is the AES-256 key size.
const keyLength = 32

func newGCM(key string) (cipher.AEAD, error) {
	if key == "" {
		return nil, errors.New("no encryption key configured")
	}
	if len(key) != keyLength {
		return nil, fmt.Errorf("invalid encryption key length %d (must be %d bytes)", len(key), keyLength)
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return gcm, nil
}

// encryptSession seals the JSON session with a random nonce prefixed to the
// ciphertext.
func encryptSession(key string, s types.Session) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptSession(key string, encrypted []byte) (types.Session, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return types.Session{}, err
	}
	if len(encrypted) < gcm.NonceSize() {
		return types.Session{}, errors.New("malformed encrypted session")
	}
	nonce, ciphertext := encrypted[:gcm.NonceSize()], encrypted[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return types.Session{}, fmt.Errorf("failed to decrypt session: %w", err)
	}
	var s types.Session
	if err := json.Unmarshal(plaintext, &s); err != nil {
		return types.Session{}, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return s, nil
}
