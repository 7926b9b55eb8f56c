package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pion/webrtc/v4"
)

// CompactVersion is the current compact code format version
const CompactVersion byte = 0x01

// Link fragment prefixes
const (
	FragmentCompact = "c="    // base64url(version || zstd(blob))
	FragmentLegacy  = "code=" // base64(blob), URL-escaped
)

// MaxBlobSize bounds a decoded description blob. Real offers and answers
// are a few KiB.
const MaxBlobSize = 256 * 1024

var (
	ErrInvalidCode = errors.New("invalid connection code")
	ErrInvalidLink = errors.New("invalid connection link")
)

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
	}
	decoder, err = zstd.NewReader(nil,
		zstd.WithDecoderMaxMemory(MaxBlobSize),
		zstd.WithDecodeAllCapLimit(true))
	if err != nil {
		panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
	}
}

// EncodeDescription serializes a session description to the transmissible
// blob: {"type":"offer","sdp":"..."}.
func EncodeDescription(desc webrtc.SessionDescription) (string, error) {
	data, err := json.Marshal(desc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeDescription parses a blob produced by EncodeDescription.
func DecodeDescription(blob string) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(strings.TrimSpace(blob)), &desc); err != nil {
		return desc, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	switch desc.Type {
	case webrtc.SDPTypeOffer, webrtc.SDPTypeAnswer:
	default:
		return desc, fmt.Errorf("%w: unexpected description type %q", ErrInvalidCode, desc.Type)
	}
	if !strings.HasPrefix(desc.SDP, "v=0") {
		return desc, fmt.Errorf("%w: missing SDP body", ErrInvalidCode)
	}
	return desc, nil
}

// CompactCode compresses a blob into a URL-safe code.
// Format: base64url(version[1] + zstd(blob))
func CompactCode(blob string) string {
	compressed := encoder.EncodeAll([]byte(blob), nil)

	data := make([]byte, 1+len(compressed))
	data[0] = CompactVersion
	copy(data[1:], compressed)

	return base64.RawURLEncoding.EncodeToString(data)
}

// ExpandCode reverses CompactCode.
func ExpandCode(code string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(code))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrInvalidLink, err)
	}
	if len(data) < 2 {
		return "", fmt.Errorf("%w: data too short", ErrInvalidLink)
	}
	if data[0] != CompactVersion {
		return "", fmt.Errorf("%w: unsupported version: %d", ErrInvalidLink, data[0])
	}

	blob, err := decoder.DecodeAll(data[1:], make([]byte, 0, MaxBlobSize))
	if err != nil {
		return "", fmt.Errorf("%w: failed to decompress: %v", ErrInvalidLink, err)
	}
	if len(blob) > MaxBlobSize {
		return "", fmt.Errorf("%w: decoded size exceeds %d bytes", ErrInvalidLink, MaxBlobSize)
	}
	return string(blob), nil
}

// ShareLink embeds the compact code of blob in the fragment of base.
func ShareLink(base, blob string) string {
	base = strings.TrimSuffix(base, "#")
	if i := strings.IndexByte(base, '#'); i >= 0 {
		base = base[:i]
	}
	return base + "#" + FragmentCompact + CompactCode(blob)
}

// BlobFromFragment extracts a description blob from a link fragment in
// either the compact or the legacy form. A fragment that is absent or does
// not decode yields ok == false.
func BlobFromFragment(fragment string) (blob string, ok bool) {
	fragment = strings.TrimPrefix(fragment, "#")

	switch {
	case strings.HasPrefix(fragment, FragmentCompact):
		blob, err := ExpandCode(strings.TrimPrefix(fragment, FragmentCompact))
		if err != nil || blob == "" {
			return "", false
		}
		return blob, true
	case strings.HasPrefix(fragment, FragmentLegacy):
		escaped := strings.TrimPrefix(fragment, FragmentLegacy)
		unescaped, err := url.PathUnescape(escaped)
		if err != nil {
			return "", false
		}
		raw, err := base64.StdEncoding.DecodeString(unescaped)
		if err != nil || len(raw) == 0 || len(raw) > MaxBlobSize {
			return "", false
		}
		return string(raw), true
	}
	return "", false
}

// ParseCode accepts anything a user might paste: the raw JSON blob, a share
// link, a bare fragment, or a bare compact code.
func ParseCode(input string) (webrtc.SessionDescription, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: empty", ErrInvalidCode)
	}

	if strings.HasPrefix(input, "{") {
		return DecodeDescription(input)
	}

	if i := strings.IndexByte(input, '#'); i >= 0 {
		input = input[i+1:]
	}
	if blob, ok := BlobFromFragment(input); ok {
		return DecodeDescription(blob)
	}
	if blob, err := ExpandCode(input); err == nil {
		return DecodeDescription(blob)
	}
	return webrtc.SessionDescription{}, fmt.Errorf("%w: unrecognised format", ErrInvalidCode)
}
