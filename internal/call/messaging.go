package call

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/artpar/peercall/internal/crypto"
	"github.com/artpar/peercall/internal/protocol"
)

// Sender identifies who wrote a chat message
type Sender string

const (
	SenderMe   Sender = "me"
	SenderPeer Sender = "peer"
)

// Message is one chat history entry
type Message struct {
	From     Sender
	Content  string
	Type     protocol.ContentType
	FileName string
	Time     time.Time
}

// Envelope returns the message as it travels on the wire
func (m Message) Envelope() protocol.Envelope {
	return protocol.Envelope{Content: m.Content, Type: m.Type, FileName: m.FileName}
}

// History returns the chat messages of the current call
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history...)
}

// Send encrypts env and writes it to the channel, chunked when it exceeds
// the frame budget.
func (s *Session) Send(ctx context.Context, env protocol.Envelope) error {
	s.mu.Lock()
	defer s.unlock()

	if s.secret == nil || s.channel == nil || !s.channel.Ready() {
		return ErrNotReady
	}

	plaintext, err := protocol.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	blob, err := crypto.Encrypt(s.secret, plaintext)
	if err != nil {
		return err
	}
	frames, err := protocol.Split(blob, s.opts.FrameBudget, nil)
	if err != nil {
		return err
	}

	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.sendFrame(frame); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
	}

	s.log.Debug("message sent",
		zap.String("type", string(env.Type)),
		zap.Int("bytes", len(blob)),
		zap.Int("frames", len(frames)))
	s.record(SenderMe, env)
	s.metrics.messagesSent.Inc()
	return nil
}

// sendFrame writes one control message. Caller holds s.mu.
func (s *Session) sendFrame(msg *protocol.Message) error {
	if s.channel == nil || !s.channel.Ready() {
		return ErrNotReady
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return s.channel.Send(data)
}

// onFrame dispatches one inbound control message. Caller holds s.mu.
func (s *Session) onFrame(data []byte) {
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		s.log.Warn("dropping malformed frame", zap.Error(err))
		s.metrics.framesDropped.Inc()
		return
	}

	switch msg.Type {
	case protocol.MsgKeyExchange:
		s.onKeyExchange(msg.Key)
	case protocol.MsgChat:
		s.onCiphertext(msg.Chat)
	case protocol.MsgChatChunk:
		if s.secret == nil {
			s.log.Warn("dropping chunk received before key exchange")
			s.metrics.framesDropped.Inc()
			return
		}
		blob, complete, err := s.assembler.Add(*msg.Chunk)
		if err != nil {
			s.log.Warn("dropping invalid chunk", zap.Error(err))
			s.metrics.framesDropped.Inc()
			return
		}
		if complete {
			s.onCiphertext(blob)
		}
	}
}

func (s *Session) onCiphertext(blob string) {
	if s.secret == nil {
		s.log.Warn("dropping message received before key exchange")
		s.metrics.framesDropped.Inc()
		return
	}

	plaintext, err := crypto.Decrypt(s.secret, blob)
	if err != nil {
		s.log.Warn("dropping undecryptable message", zap.Error(err))
		s.metrics.decryptFailures.Inc()
		s.reportError(err)
		return
	}
	env, err := protocol.DecodeEnvelope(plaintext)
	if err != nil {
		s.log.Warn("dropping malformed envelope", zap.Error(err))
		return
	}

	msg := s.record(SenderPeer, env)
	s.metrics.messagesReceived.Inc()
	s.later(s.notifier.MessageReceived)
	if cb := s.callbacks.OnMessage; cb != nil {
		s.later(func() { cb(msg) })
	}
}

func (s *Session) record(from Sender, env protocol.Envelope) Message {
	if env.Type == "" {
		env.Type = protocol.ContentText
	}
	msg := Message{
		From:     from,
		Content:  env.Content,
		Type:     env.Type,
		FileName: env.FileName,
		Time:     time.Now(),
	}
	s.history = append(s.history, msg)
	return msg
}
