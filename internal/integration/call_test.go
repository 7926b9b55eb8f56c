// Package integration runs two complete call sessions against each other
// over real loopback WebRTC connections.
package integration

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/peercall/internal/call"
	"github.com/artpar/peercall/internal/media"
	"github.com/artpar/peercall/internal/protocol"
	rtc "github.com/artpar/peercall/internal/webrtc"
)

type inbox struct {
	mu       sync.Mutex
	messages []call.Message
	phases   []call.Phase
}

func (in *inbox) callbacks() call.Callbacks {
	return call.Callbacks{
		OnMessage: func(m call.Message) {
			in.mu.Lock()
			in.messages = append(in.messages, m)
			in.mu.Unlock()
		},
		OnPhaseChange: func(p call.Phase) {
			in.mu.Lock()
			in.phases = append(in.phases, p)
			in.mu.Unlock()
		},
	}
}

func (in *inbox) Messages() []call.Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]call.Message(nil), in.messages...)
}

func (in *inbox) Saw(p call.Phase) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, seen := range in.phases {
		if seen == p {
			return true
		}
	}
	return false
}

type party struct {
	*call.Session
	inbox *inbox
}

func newParty(t *testing.T, opts call.Options) *party {
	t.Helper()

	s := call.New(opts, call.PionLinks(rtc.ConfigWithoutSTUN(), nil), media.SilentSource{})
	p := &party{Session: s, inbox: &inbox{}}
	s.SetCallbacks(p.inbox.callbacks())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p
}

func testOptions() call.Options {
	opts := call.DefaultOptions()
	opts.ReconnectInterval = 200 * time.Millisecond
	opts.MaxReconnectAttempts = 2
	opts.TeardownGrace = 100 * time.Millisecond
	opts.QualityInterval = 500 * time.Millisecond
	return opts
}

// dial runs the out-of-band exchange the way two people would: the offer
// travels as a shareable link and the answer as a compact code.
func dial(t *testing.T, a, b *party) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, a.Start(ctx, media.Preset480p))
	require.NoError(t, b.Start(ctx, media.Preset480p))

	offer, err := a.CreateOffer(ctx)
	require.NoError(t, err)
	link := protocol.ShareLink("https://call.example/", offer)

	answer, err := b.ReceiveOffer(ctx, link)
	require.NoError(t, err)
	require.NoError(t, a.ReceiveAnswer(protocol.CompactCode(answer)))

	require.Eventually(t, func() bool {
		sa, sb := a.State(), b.State()
		return sa.Phase == call.PhaseConnected && sb.Phase == call.PhaseConnected &&
			sa.SecretEstablished && sb.SecretEstablished
	}, 20*time.Second, 20*time.Millisecond, "call did not connect: a=%s b=%s", a.State().Phase, b.State().Phase)
}

func TestCallOverLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping WebRTC integration test in short mode")
	}

	a := newParty(t, testOptions())
	b := newParty(t, testOptions())
	dial(t, a, b)

	ctx := context.Background()
	require.NoError(t, a.Send(ctx, protocol.Envelope{Content: "hello from a", Type: protocol.ContentText}))
	require.NoError(t, b.Send(ctx, protocol.Envelope{Content: "hello from b", Type: protocol.ContentText}))

	require.Eventually(t, func() bool {
		return len(a.inbox.Messages()) == 1 && len(b.inbox.Messages()) == 1
	}, 10*time.Second, 10*time.Millisecond)
	assert.Equal(t, "hello from b", a.inbox.Messages()[0].Content)
	assert.Equal(t, "hello from a", b.inbox.Messages()[0].Content)

	// Both sides keep sent and received messages in order
	history := a.History()
	require.Len(t, history, 2)
	assert.Equal(t, call.SenderMe, history[0].From)
	assert.Equal(t, call.SenderPeer, history[1].From)
}

func TestLargeFileOverLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping WebRTC integration test in short mode")
	}

	a := newParty(t, testOptions())
	b := newParty(t, testOptions())
	dial(t, a, b)

	// Several frames' worth of ciphertext
	content := "data:application/octet-stream;base64," + strings.Repeat("QUJD", 20000)
	env := protocol.Envelope{Content: content, Type: protocol.ContentFile, FileName: "blob.bin"}
	require.NoError(t, a.Send(context.Background(), env))

	require.Eventually(t, func() bool { return len(b.inbox.Messages()) == 1 }, 10*time.Second, 10*time.Millisecond)
	got := b.inbox.Messages()[0]
	assert.Equal(t, env, got.Envelope())
}

func TestHangupReachesPeer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping WebRTC integration test in short mode")
	}

	a := newParty(t, testOptions())
	b := newParty(t, testOptions())
	dial(t, a, b)

	a.Cleanup()
	assert.Equal(t, call.PhaseIdle, a.State().Phase)

	// The peer notices the closed connection, gives up, and resets
	require.Eventually(t, func() bool {
		return b.inbox.Saw(call.PhaseDisconnected) && b.State().Phase == call.PhaseIdle
	}, 40*time.Second, 50*time.Millisecond, "peer stuck in %s", b.State().Phase)
	assert.Empty(t, b.History())
}
