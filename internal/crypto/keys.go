// Package crypto provides the key agreement and message encryption
// primitives for a call's secure messaging channel.
package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyLen is the size of the derived symmetric key (AES-256).
const KeyLen = 32

// hkdfInfo binds derived keys to this protocol version and cipher.
const hkdfInfo = "peercall v1 aes-256-gcm"

// KDF selects how the raw ECDH output becomes the message key.
type KDF string

const (
	// KDFRaw uses the ECDH X coordinate directly, which is what WebCrypto's
	// deriveKey({name: "ECDH"}, ..., {name: "AES-GCM", length: 256}) does.
	KDFRaw KDF = "raw"
	// KDFHKDF runs the ECDH output through HKDF-SHA256.
	KDFHKDF KDF = "hkdf"
)

var (
	ErrKeyGeneration    = errors.New("key pair generation failed")
	ErrUnsupportedKDF   = errors.New("unsupported key derivation")
	ErrKeyAgreement     = errors.New("key agreement failed")
	ErrInvalidKeyFormat = errors.New("invalid public key format")
)

// SharedSecret is the symmetric key both peers derive.
type SharedSecret [KeyLen]byte

// KeyPair is a P-256 key pair used once per call.
type KeyPair struct {
	private *ecdh.PrivateKey
}

// GenerateKeyPair creates a fresh P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	return generateKeyPair(rand.Reader)
}

func generateKeyPair(r io.Reader) (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return &KeyPair{private: priv}, nil
}

// Public returns the public half.
func (kp *KeyPair) Public() *ecdh.PublicKey {
	return kp.private.PublicKey()
}

// DeriveSharedSecret performs ECDH between the local private key and the
// peer's public key. The result is the same on both ends.
func DeriveSharedSecret(kp *KeyPair, peer *ecdh.PublicKey, kdf KDF) (SharedSecret, error) {
	var secret SharedSecret

	raw, err := kp.private.ECDH(peer)
	if err != nil {
		return secret, fmt.Errorf("%w: %v", ErrKeyAgreement, err)
	}

	switch kdf {
	case KDFRaw, "":
		copy(secret[:], raw)
	case KDFHKDF:
		r := hkdf.New(sha256.New, raw, nil, []byte(hkdfInfo))
		if _, err := io.ReadFull(r, secret[:]); err != nil {
			return secret, fmt.Errorf("%w: %v", ErrKeyAgreement, err)
		}
	default:
		return secret, fmt.Errorf("%w: %q", ErrUnsupportedKDF, kdf)
	}
	return secret, nil
}

// ParseKDF validates a configured derivation mode.
func ParseKDF(s string) (KDF, error) {
	switch KDF(s) {
	case KDFRaw, "":
		return KDFRaw, nil
	case KDFHKDF:
		return KDFHKDF, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKDF, s)
	}
}
