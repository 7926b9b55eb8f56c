package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	nonceLen = 12 // AES-GCM standard nonce
	tagLen   = 16
)

var (
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or key")
	ErrCiphertextShort  = fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
)

func newGCM(secret *SharedSecret) (cipher.AEAD, error) {
	block, err := aes.NewCipher(secret[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext with AES-256-GCM under a random nonce.
// Returns: base64(nonce (12 bytes) || ciphertext || tag (16 bytes))
func Encrypt(secret *SharedSecret, plaintext []byte) (string, error) {
	aead, err := newGCM(secret)
	if err != nil {
		return "", err
	}

	sealed := make([]byte, nonceLen, nonceLen+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(sealed); err != nil {
		return "", err
	}
	sealed = aead.Seal(sealed, sealed[:nonceLen], plaintext, nil)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Bad encoding, truncation, tag
// mismatch and wrong key all surface as ErrDecryptionFailed (or
// ErrCiphertextShort, which wraps it).
func Decrypt(secret *SharedSecret, blob string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(sealed) < nonceLen+tagLen {
		return nil, ErrCiphertextShort
	}

	aead, err := newGCM(secret)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, sealed[:nonceLen], sealed[nonceLen:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
