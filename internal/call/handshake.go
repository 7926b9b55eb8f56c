package call

import (
	"go.uber.org/zap"

	"github.com/artpar/peercall/internal/crypto"
	"github.com/artpar/peercall/internal/protocol"
)

// onChannelOpen starts the key exchange. Caller holds s.mu.
func (s *Session) onChannelOpen() {
	s.log.Info("data channel open")
	if !s.state.KeySent {
		s.sendKey()
	}
}

func (s *Session) sendKey() {
	if s.keys == nil {
		s.log.Error("no key pair for key exchange")
		return
	}
	msg := protocol.NewKeyExchangeMessage(crypto.ExportPublicKey(s.keys))
	if err := s.sendFrame(msg); err != nil {
		s.log.Warn("failed to send public key", zap.Error(err))
		return
	}
	s.state.KeySent = true
	s.log.Debug("public key sent")
}

// onKeyExchange derives the shared secret from the peer's key and answers
// with ours if we have not sent it yet. One round per session.
func (s *Session) onKeyExchange(key *crypto.JWK) {
	if s.secret != nil {
		s.log.Warn("ignoring repeated key exchange")
		return
	}
	if s.keys == nil {
		s.log.Error("key exchange received without a key pair")
		return
	}

	peer, err := crypto.ImportPublicKey(*key)
	if err != nil {
		s.log.Warn("rejected peer public key", zap.Error(err))
		s.reportError(err)
		return
	}
	secret, err := crypto.DeriveSharedSecret(s.keys, peer, s.opts.KDF)
	if err != nil {
		s.log.Warn("key agreement failed", zap.Error(err))
		s.reportError(err)
		return
	}

	s.secret = &secret
	s.state.SecretEstablished = true
	s.log.Info("shared secret established", zap.String("kdf", string(s.opts.KDF)))

	if !s.state.KeySent {
		s.sendKey()
	}
	if cb := s.callbacks.OnSecured; cb != nil {
		s.later(cb)
	}
}
