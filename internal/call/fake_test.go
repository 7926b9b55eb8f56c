package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/artpar/peercall/internal/media"
	"github.com/artpar/peercall/internal/protocol"
)

// fakeNet connects fake links in memory. Descriptions carry the link id so
// that applying a remote description finds the peer.
type fakeNet struct {
	mu    sync.Mutex
	links map[string]*fakeLink
	next  int

	// gatherErr, when set, fails CreateOffer/CreateAnswer
	gatherErr error
	// manualConnect stops links from connecting on their own
	manualConnect bool
}

func newFakeNet() *fakeNet {
	return &fakeNet{links: make(map[string]*fakeLink)}
}

func (n *fakeNet) factory() LinkFactory {
	return func() (Link, error) {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.next++
		l := &fakeLink{net: n, id: fmt.Sprintf("link%d", n.next)}
		n.links[l.id] = l
		return l, nil
	}
}

func (n *fakeNet) lookup(sdp string) *fakeLink {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, line := range strings.Split(sdp, "\r\n") {
		if id, ok := strings.CutPrefix(line, "a=fake:"); ok {
			return n.links[id]
		}
	}
	return nil
}

type fakeLink struct {
	net *fakeNet
	id  string

	mu             sync.Mutex
	state          LinkState
	onState        func(LinkState)
	onChannel      func(Channel)
	channel        *fakeChannel
	remote         *fakeLink
	tracks         int
	awaitingAnswer bool
	stats          LinkStats
	closed         bool
}

func (l *fakeLink) sdp() string {
	return "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\na=fake:" + l.id + "\r\n"
}

func (l *fakeLink) AddTrack(webrtc.TrackLocal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracks++
	return nil
}

func (l *fakeLink) OpenChannel(string) (Channel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.channel = &fakeChannel{}
	return l.channel, nil
}

func (l *fakeLink) OnChannel(h func(Channel)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChannel = h
}

func (l *fakeLink) OnStateChange(h func(LinkState)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onState = h
}

func (l *fakeLink) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if l.net.gatherErr != nil {
		return webrtc.SessionDescription{}, l.net.gatherErr
	}
	l.mu.Lock()
	l.awaitingAnswer = true
	l.mu.Unlock()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: l.sdp()}, ctx.Err()
}

func (l *fakeLink) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	if l.net.gatherErr != nil {
		return webrtc.SessionDescription{}, l.net.gatherErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: l.sdp()}, ctx.Err()
}

func (l *fakeLink) SetRemoteDescription(desc webrtc.SessionDescription) error {
	peer := l.net.lookup(desc.SDP)
	if peer == nil {
		return errors.New("unknown remote")
	}

	l.mu.Lock()
	l.remote = peer
	isAnswer := desc.Type == webrtc.SDPTypeAnswer
	if isAnswer {
		if !l.awaitingAnswer {
			l.mu.Unlock()
			return errors.New("no local offer")
		}
		l.awaitingAnswer = false
	}
	l.mu.Unlock()

	if isAnswer {
		peer.mu.Lock()
		peer.remote = l
		peer.mu.Unlock()
		if !l.net.manualConnect {
			go l.connect(peer)
		}
	}
	return nil
}

// connect pairs the offerer's channel with a new channel on the answerer,
// opens both, and reports both links connected.
func (l *fakeLink) connect(answerer *fakeLink) {
	l.mu.Lock()
	offerCh := l.channel
	l.mu.Unlock()

	answerCh := &fakeChannel{}
	if offerCh != nil {
		offerCh.remote = answerCh
		answerCh.remote = offerCh

		answerer.mu.Lock()
		answerer.channel = answerCh
		deliver := answerer.onChannel
		answerer.mu.Unlock()
		if deliver != nil {
			deliver(answerCh)
		}
	}

	l.SetState(LinkConnecting)
	answerer.SetState(LinkConnecting)
	if offerCh != nil {
		offerCh.open()
		answerCh.open()
	}
	l.SetState(LinkConnected)
	answerer.SetState(LinkConnected)
}

func (l *fakeLink) AwaitingAnswer() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.awaitingAnswer
}

func (l *fakeLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *fakeLink) Stats() LinkStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *fakeLink) SetStats(st LinkStats) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats = st
}

// SetState changes the link state and reports it like pion would
func (l *fakeLink) SetState(st LinkState) {
	l.mu.Lock()
	l.state = st
	h := l.onState
	l.mu.Unlock()
	if h != nil {
		h(st)
	}
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	already := l.closed
	l.closed = true
	l.mu.Unlock()
	if !already {
		l.SetState(LinkClosed)
	}
	return nil
}

func (l *fakeLink) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type fakeChannel struct {
	mu        sync.Mutex
	remote    *fakeChannel
	isOpen    bool
	openFired bool
	onOpen    func()
	onMessage func([]byte)
	onClose   func()
	sent      [][]byte
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	if !c.isOpen {
		c.mu.Unlock()
		return errors.New("channel not open")
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	remote := c.remote
	c.mu.Unlock()

	if remote != nil {
		remote.deliver(append([]byte(nil), data...))
	}
	return nil
}

func (c *fakeChannel) deliver(data []byte) {
	c.mu.Lock()
	h := c.onMessage
	c.mu.Unlock()
	if h != nil {
		h(data)
	}
}

func (c *fakeChannel) open() {
	c.mu.Lock()
	c.isOpen = true
	c.mu.Unlock()
	c.fireOpen()
}

func (c *fakeChannel) fireOpen() {
	c.mu.Lock()
	if c.openFired || c.onOpen == nil || !c.isOpen {
		c.mu.Unlock()
		return
	}
	c.openFired = true
	h := c.onOpen
	c.mu.Unlock()
	h()
}

func (c *fakeChannel) OnOpen(h func()) {
	c.mu.Lock()
	c.onOpen = h
	c.mu.Unlock()
	c.fireOpen()
}

func (c *fakeChannel) OnMessage(h func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = h
}

func (c *fakeChannel) OnClose(h func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = h
}

func (c *fakeChannel) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOpen
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	was := c.isOpen
	c.isOpen = false
	h := c.onClose
	c.mu.Unlock()
	if was && h != nil {
		h()
	}
	return nil
}

// Sent returns the decoded frames written to the channel
func (c *fakeChannel) Sent(t *testing.T) []*protocol.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*protocol.Message
	for _, data := range c.sent {
		msg, err := protocol.DecodeMessage(data)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

// countingNotifier records cue invocations
type countingNotifier struct {
	connected    atomic.Int32
	disconnected atomic.Int32
	messages     atomic.Int32
}

func (n *countingNotifier) Connected()       { n.connected.Add(1) }
func (n *countingNotifier) Disconnected()    { n.disconnected.Add(1) }
func (n *countingNotifier) MessageReceived() { n.messages.Add(1) }

type failingSource struct{}

func (failingSource) Acquire(context.Context, media.Preset) (*media.Stream, error) {
	return nil, fmt.Errorf("%w: no camera", media.ErrUnavailable)
}

// blockingSource blocks until released
type blockingSource struct {
	release chan struct{}
}

func (b blockingSource) Acquire(ctx context.Context, preset media.Preset) (*media.Stream, error) {
	<-b.release
	return media.SilentSource{}.Acquire(ctx, preset)
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.ReconnectInterval = 10 * time.Millisecond
	opts.TeardownGrace = 50 * time.Millisecond
	opts.QualityInterval = 10 * time.Millisecond
	return opts
}

type testPeer struct {
	*Session
	notifier *countingNotifier
	recorder *recorder
}

// recorder captures callbacks
type recorder struct {
	mu       sync.Mutex
	phases   []Phase
	messages []Message
	quality  []Quality
	errors   []error
	secured  int
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnPhaseChange: func(p Phase) {
			r.mu.Lock()
			r.phases = append(r.phases, p)
			r.mu.Unlock()
		},
		OnMessage: func(m Message) {
			r.mu.Lock()
			r.messages = append(r.messages, m)
			r.mu.Unlock()
		},
		OnQualityChange: func(q Quality) {
			r.mu.Lock()
			r.quality = append(r.quality, q)
			r.mu.Unlock()
		},
		OnSecured: func() {
			r.mu.Lock()
			r.secured++
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errors = append(r.errors, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

func (r *recorder) Secured() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.secured
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errors...)
}

func (r *recorder) Quality() []Quality {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Quality(nil), r.quality...)
}

func (r *recorder) count(p Phase) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, seen := range r.phases {
		if seen == p {
			n++
		}
	}
	return n
}

func newTestPeer(t *testing.T, n *fakeNet, opts Options, source media.Source) *testPeer {
	t.Helper()

	s := New(opts, n.factory(), source)
	p := &testPeer{Session: s, notifier: &countingNotifier{}, recorder: &recorder{}}
	s.SetNotifier(p.notifier)
	s.SetCallbacks(p.recorder.callbacks())

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

func (p *testPeer) waitPhase(t *testing.T, want Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return p.State().Phase == want },
		5*time.Second, 5*time.Millisecond, "phase never reached %s (at %s)", want, p.State().Phase)
}

func (p *testPeer) link() *fakeLink {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, _ := p.Session.link.(*fakeLink)
	return l
}

func (p *testPeer) fakeChannel() *fakeChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, _ := p.Session.channel.(*fakeChannel)
	return ch
}

// connectPair runs the full offer/answer exchange and waits until both
// sides hold the shared secret.
func connectPair(t *testing.T, n *fakeNet, opts Options) (a, b *testPeer) {
	t.Helper()
	ctx := context.Background()

	a = newTestPeer(t, n, opts, media.SilentSource{})
	b = newTestPeer(t, n, opts, media.SilentSource{})
	require.NoError(t, a.Start(ctx, media.Preset480p))
	require.NoError(t, b.Start(ctx, media.Preset480p))

	offer, err := a.CreateOffer(ctx)
	require.NoError(t, err)
	answer, err := b.ReceiveOffer(ctx, offer)
	require.NoError(t, err)
	require.NoError(t, a.ReceiveAnswer(answer))

	a.waitPhase(t, PhaseConnected)
	b.waitPhase(t, PhaseConnected)
	require.Eventually(t, func() bool {
		return a.State().SecretEstablished && b.State().SecretEstablished
	}, 5*time.Second, 5*time.Millisecond, "handshake did not complete")
	return a, b
}
