package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const sealedPrefix = "v1:"

var (
	ErrEmptyKey           = errors.New("encryption key must not be empty")
	ErrMalformedSealed    = errors.New("sealed value is malformed")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// FieldCipher seals short text fields with AES-256-GCM.
// Sealed values look like "v1:" + base64(nonce|ciphertext|tag).
type FieldCipher struct {
	aead cipher.AEAD
}

// NewFieldCipher derives a 32 byte key from secret with HKDF-SHA256.
func NewFieldCipher(secret string) (*FieldCipher, error) {
	if secret == "" {
		return nil, ErrEmptyKey
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("payment-detail-account-number"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &FieldCipher{aead: gcm}, nil
}

func (f *FieldCipher) Seal(plainText string) (string, error) {
	nonce := make([]byte, f.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := f.aead.Seal(nonce, nonce, []byte(plainText), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values without the version tag predate encryption and
// are returned unchanged; tagged values that fail authentication are errors.
func (f *FieldCipher) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", ErrMalformedSealed
	}

	nonceSize := f.aead.NonceSize()
	if len(data) < nonceSize+f.aead.Overhead() {
		return "", ErrCiphertextTooShort
	}

	nonce, cipherBytes := data[:nonceSize], data[nonceSize:]
	plainText, err := f.aead.Open(nil, nonce, cipherBytes, nil)
	if err != nil {
		return "", err
	}
	return string(plainText), nil
}

func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}
