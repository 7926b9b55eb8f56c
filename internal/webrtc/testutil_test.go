package webrtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
)

// testPeerPair represents a connected pair of peers for testing
type testPeerPair struct {
	Offerer       *Peer
	Answerer      *Peer
	OfferChannel  *Channel
	AnswerChannel *Channel
}

// newTestPeerPair creates a fully connected peer pair over loopback
func newTestPeerPair() (*testPeerPair, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	offerer, err := NewPeer(ConfigWithoutSTUN())
	if err != nil {
		return nil, err
	}

	answerer, err := NewPeer(ConfigWithoutSTUN())
	if err != nil {
		offerer.Close()
		return nil, err
	}

	fail := func(err error) (*testPeerPair, error) {
		offerer.Close()
		answerer.Close()
		return nil, err
	}

	offerCh, err := offerer.OpenChannel("chat")
	if err != nil {
		return fail(err)
	}

	answerChCh := make(chan *Channel, 1)
	answerer.OnChannel(func(ch *Channel) {
		answerChCh <- ch
	})

	offer, err := offerer.CreateOffer(ctx)
	if err != nil {
		return fail(err)
	}
	if err := answerer.SetRemoteDescription(offer); err != nil {
		return fail(err)
	}
	answer, err := answerer.CreateAnswer(ctx)
	if err != nil {
		return fail(err)
	}
	if err := offerer.SetRemoteDescription(answer); err != nil {
		return fail(err)
	}

	var answerCh *Channel
	select {
	case answerCh = <-answerChCh:
	case <-ctx.Done():
		return fail(fmt.Errorf("timeout waiting for data channel"))
	}

	offerOpen := make(chan struct{})
	answerOpen := make(chan struct{})
	offerCh.OnOpen(func() { close(offerOpen) })
	answerCh.OnOpen(func() { close(answerOpen) })

	for _, open := range []chan struct{}{offerOpen, answerOpen} {
		select {
		case <-open:
		case <-ctx.Done():
			return fail(fmt.Errorf("timeout waiting for data channel to open"))
		}
	}

	return &testPeerPair{
		Offerer:       offerer,
		Answerer:      answerer,
		OfferChannel:  offerCh,
		AnswerChannel: answerCh,
	}, nil
}

// Close closes both peers
func (p *testPeerPair) Close() {
	p.Offerer.Close()
	p.Answerer.Close()
}

// stateObserver tracks connection state transitions
type stateObserver struct {
	states      []webrtc.PeerConnectionState
	mu          sync.Mutex
	stateChange chan webrtc.PeerConnectionState
}

func newStateObserver() *stateObserver {
	return &stateObserver{
		stateChange: make(chan webrtc.PeerConnectionState, 100),
	}
}

// OnStateChange records state changes
func (o *stateObserver) OnStateChange(state webrtc.PeerConnectionState) {
	o.mu.Lock()
	o.states = append(o.states, state)
	o.mu.Unlock()

	select {
	case o.stateChange <- state:
	default:
	}
}

// WaitForState waits for a specific state with timeout
func (o *stateObserver) WaitForState(target webrtc.PeerConnectionState, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case state := <-o.stateChange:
			if state == target {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

// HasState checks if a state was ever reached
func (o *stateObserver) HasState(target webrtc.PeerConnectionState) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.states {
		if s == target {
			return true
		}
	}
	return false
}

// messageCounter counts received frames with thread-safety
type messageCounter struct {
	count    atomic.Int32
	mu       sync.Mutex
	messages []string
}

func (c *messageCounter) Add(data []byte) {
	c.mu.Lock()
	c.messages = append(c.messages, string(data))
	c.mu.Unlock()
	c.count.Add(1)
}

func (c *messageCounter) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

// WaitForCount waits for count to reach target
func (c *messageCounter) WaitForCount(target int32, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for c.count.Load() < target && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	return c.count.Load() >= target
}
