package protocol

import (
	"encoding/json"
	"fmt"
)

// ContentType is the kind of application message.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentFile  ContentType = "file"
)

// EnvelopeVersion tags envelopes produced by this package.
const EnvelopeVersion = 1

// Envelope is the plaintext application message carried inside the
// encrypted payload.
type Envelope struct {
	Content  string      `json:"content"`
	Type     ContentType `json:"type"`
	FileName string      `json:"fileName,omitempty"`
}

type envelopeWire struct {
	Version  int         `json:"v,omitempty"`
	Content  string      `json:"content"`
	Type     ContentType `json:"type"`
	FileName string      `json:"fileName,omitempty"`
}

// Valid reports whether the content type is one of the known kinds.
func (t ContentType) Valid() bool {
	switch t {
	case ContentText, ContentImage, ContentFile:
		return true
	}
	return false
}

// EncodeEnvelope serializes an envelope with the version tag.
func EncodeEnvelope(e Envelope) ([]byte, error) {
	if e.Type == "" {
		e.Type = ContentText
	}
	if !e.Type.Valid() {
		return nil, fmt.Errorf("%w: content type %q", ErrInvalidMessage, e.Type)
	}
	return json.Marshal(envelopeWire{
		Version:  EnvelopeVersion,
		Content:  e.Content,
		Type:     e.Type,
		FileName: e.FileName,
	})
}

// DecodeEnvelope interprets a decrypted payload.
//
// Tagged payloads must be well formed. Untagged payloads come from peers
// that predate the tag: a JSON object with non-empty content and type is
// taken as structured, anything else is plain text. A plain text message
// that happens to look like such an object is misread; that ambiguity is
// inherent to the untagged format.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var w envelopeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return legacyText(data), nil
	}

	if w.Version != 0 {
		if w.Version != EnvelopeVersion {
			return Envelope{}, fmt.Errorf("%w: envelope version %d", ErrInvalidMessage, w.Version)
		}
		if !w.Type.Valid() {
			return Envelope{}, fmt.Errorf("%w: content type %q", ErrInvalidMessage, w.Type)
		}
		return Envelope{Content: w.Content, Type: w.Type, FileName: w.FileName}, nil
	}

	if w.Content != "" && w.Type != "" {
		return Envelope{Content: w.Content, Type: w.Type, FileName: w.FileName}, nil
	}
	return legacyText(data), nil
}

func legacyText(data []byte) Envelope {
	return Envelope{Content: string(data), Type: ContentText}
}
