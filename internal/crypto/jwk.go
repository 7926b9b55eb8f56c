package crypto

import (
	"crypto/ecdh"
	"encoding/base64"
	"fmt"
)

// coordLen is the byte length of a P-256 affine coordinate.
const coordLen = 32

// JWK is the JSON Web Key form of a public key as exchanged on the wire.
// The field set matches what browsers export for an ECDH P-256 key.
type JWK struct {
	Kty    string   `json:"kty"`
	Crv    string   `json:"crv"`
	X      string   `json:"x"`
	Y      string   `json:"y"`
	Ext    bool     `json:"ext,omitempty"`
	KeyOps []string `json:"key_ops"`
}

// ExportPublicKey serializes the public half of kp as a JWK.
func ExportPublicKey(kp *KeyPair) JWK {
	// Uncompressed point: 0x04 || X || Y
	raw := kp.Public().Bytes()
	return JWK{
		Kty:    "EC",
		Crv:    "P-256",
		X:      base64.RawURLEncoding.EncodeToString(raw[1 : 1+coordLen]),
		Y:      base64.RawURLEncoding.EncodeToString(raw[1+coordLen:]),
		Ext:    true,
		KeyOps: []string{},
	}
}

// ImportPublicKey parses a peer's JWK. Anything other than a well-formed
// P-256 point yields ErrInvalidKeyFormat.
func ImportPublicKey(jwk JWK) (*ecdh.PublicKey, error) {
	if jwk.Kty != "EC" {
		return nil, fmt.Errorf("%w: kty %q", ErrInvalidKeyFormat, jwk.Kty)
	}
	if jwk.Crv != "P-256" {
		return nil, fmt.Errorf("%w: curve %q", ErrInvalidKeyFormat, jwk.Crv)
	}

	x, err := decodeCoord(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("%w: x: %v", ErrInvalidKeyFormat, err)
	}
	y, err := decodeCoord(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("%w: y: %v", ErrInvalidKeyFormat, err)
	}

	point := make([]byte, 0, 1+2*coordLen)
	point = append(point, 0x04)
	point = append(point, x...)
	point = append(point, y...)

	pub, err := ecdh.P256().NewPublicKey(point)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	return pub, nil
}

func decodeCoord(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != coordLen {
		return nil, fmt.Errorf("coordinate length %d", len(b))
	}
	return b, nil
}
