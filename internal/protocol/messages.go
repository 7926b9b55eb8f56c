// Package protocol defines the control messages exchanged over a call's
// data channel, the application message envelope, chunking of oversized
// payloads and the shareable connection-code format.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/artpar/peercall/internal/crypto"
)

// MsgType discriminates control messages on the data channel.
type MsgType string

const (
	MsgKeyExchange MsgType = "key_exchange" // Exported public key
	MsgChat        MsgType = "chat"         // Single-frame ciphertext
	MsgChatChunk   MsgType = "chat_chunk"   // One fragment of a chunked ciphertext
)

var (
	ErrInvalidMessage = errors.New("invalid control message")
	ErrUnknownType    = errors.New("unknown message type")
)

// Message is a decoded control message. Exactly one of the payload fields
// is set, according to Type.
type Message struct {
	Type MsgType

	Key   *crypto.JWK   // key_exchange
	Chat  string        // chat: base64 ciphertext
	Chunk *ChunkMessage // chat_chunk
}

// ChunkMessage carries one fragment of a chunked ciphertext.
type ChunkMessage struct {
	MessageID   string `json:"messageId"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
	Payload     string `json:"payload"`
}

type keyExchangeWire struct {
	Type    MsgType    `json:"type"`
	Payload crypto.JWK `json:"payload"`
}

type chatWire struct {
	Type    MsgType `json:"type"`
	Payload string  `json:"payload"`
}

type chunkWire struct {
	Type MsgType `json:"type"`
	ChunkMessage
}

// NewKeyExchangeMessage creates a key_exchange message.
func NewKeyExchangeMessage(key crypto.JWK) *Message {
	return &Message{Type: MsgKeyExchange, Key: &key}
}

// NewChatMessage creates a single-frame chat message.
func NewChatMessage(ciphertext string) *Message {
	return &Message{Type: MsgChat, Chat: ciphertext}
}

// NewChunkMessage creates a chat_chunk message.
func NewChunkMessage(c ChunkMessage) *Message {
	return &Message{Type: MsgChatChunk, Chunk: &c}
}

// Encode serializes a message to its JSON wire form.
func (m *Message) Encode() ([]byte, error) {
	switch m.Type {
	case MsgKeyExchange:
		if m.Key == nil {
			return nil, fmt.Errorf("%w: key_exchange without key", ErrInvalidMessage)
		}
		return json.Marshal(keyExchangeWire{Type: m.Type, Payload: *m.Key})
	case MsgChat:
		return json.Marshal(chatWire{Type: m.Type, Payload: m.Chat})
	case MsgChatChunk:
		if m.Chunk == nil {
			return nil, fmt.Errorf("%w: chat_chunk without chunk", ErrInvalidMessage)
		}
		return json.Marshal(chunkWire{Type: m.Type, ChunkMessage: *m.Chunk})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
}

// DecodeMessage parses a JSON wire message.
func DecodeMessage(data []byte) (*Message, error) {
	var head struct {
		Type MsgType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch head.Type {
	case MsgKeyExchange:
		var w keyExchangeWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return NewKeyExchangeMessage(w.Payload), nil
	case MsgChat:
		var w chatWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return NewChatMessage(w.Payload), nil
	case MsgChatChunk:
		var w chunkWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return NewChunkMessage(w.ChunkMessage), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
}
