// Package call drives one peer-to-peer call: media acquisition, offer and
// answer exchange, the encrypted chat channel, and recovery supervision.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/artpar/peercall/internal/crypto"
	"github.com/artpar/peercall/internal/logging"
	"github.com/artpar/peercall/internal/media"
	"github.com/artpar/peercall/internal/protocol"
)

var (
	ErrInvalidCode       = errors.New("invalid code")
	ErrAnswerNotExpected = errors.New("no offer is waiting for an answer")
	ErrInvalidPhase      = errors.New("operation not valid in current phase")
	ErrNotReady          = errors.New("secure channel not ready")
	ErrMediaUnavailable  = errors.New("local media unavailable")
	ErrKeyGeneration     = errors.New("key generation failed")

	errSessionReset = fmt.Errorf("%w: session was reset", ErrInvalidPhase)
)

// DefaultChannelLabel is the label of the chat data channel
const DefaultChannelLabel = "chat"

// Options tunes session timing and framing
type Options struct {
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	TeardownGrace        time.Duration
	QualityInterval      time.Duration
	FrameBudget          int
	PendingTTL           time.Duration
	KDF                  crypto.KDF
	ChannelLabel         string
}

// DefaultOptions returns the reference timings
func DefaultOptions() Options {
	return Options{
		ReconnectInterval:    2 * time.Second,
		MaxReconnectAttempts: 5,
		TeardownGrace:        3 * time.Second,
		QualityInterval:      3 * time.Second,
		FrameBudget:          protocol.DefaultFrameBudget,
		PendingTTL:           2 * time.Minute,
		KDF:                  crypto.KDFRaw,
		ChannelLabel:         DefaultChannelLabel,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = def.ReconnectInterval
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if o.TeardownGrace <= 0 {
		o.TeardownGrace = def.TeardownGrace
	}
	if o.QualityInterval <= 0 {
		o.QualityInterval = def.QualityInterval
	}
	if o.FrameBudget <= 0 {
		o.FrameBudget = def.FrameBudget
	}
	if o.KDF == "" {
		o.KDF = def.KDF
	}
	if o.ChannelLabel == "" {
		o.ChannelLabel = def.ChannelLabel
	}
	return o
}

// Notifier plays the audible cues of a call
type Notifier interface {
	Connected()
	Disconnected()
	MessageReceived()
}

type nopNotifier struct{}

func (nopNotifier) Connected()       {}
func (nopNotifier) Disconnected()    {}
func (nopNotifier) MessageReceived() {}

// Callbacks for the application layer. They run outside the session lock
// and may call back into the session.
type Callbacks struct {
	OnPhaseChange   func(Phase)
	OnMessage       func(Message)
	OnQualityChange func(Quality)
	OnSecured       func()
	OnError         func(error)
}

// Session is one call. All mutable state lives here and is reset as a
// whole by teardown.
type Session struct {
	opts      Options
	links     LinkFactory
	source    media.Source
	notifier  Notifier
	callbacks Callbacks
	log       *zap.Logger

	events  chan Event
	stopped chan struct{}
	runOnce sync.Once

	mu         sync.Mutex
	outbox     []func()
	state      State
	gen        uint64
	timerGen   uint64
	timers     map[TimerKind]*timer
	supervisor *Supervisor
	link       Link
	channel    Channel
	stream     *media.Stream
	keys       *crypto.KeyPair
	secret     *crypto.SharedSecret
	assembler  *protocol.Assembler
	history    []Message
	metrics    *metrics
}

// New creates an idle session. Run must be started for link, channel and
// timer events to be processed.
func New(opts Options, links LinkFactory, source media.Source) *Session {
	opts = opts.withDefaults()
	s := &Session{
		opts:       opts,
		links:      links,
		source:     source,
		notifier:   nopNotifier{},
		log:        logging.WithComponent("call"),
		events:     make(chan Event, 256),
		stopped:    make(chan struct{}),
		timers:     make(map[TimerKind]*timer),
		supervisor: NewSupervisor(opts.MaxReconnectAttempts),
		assembler:  protocol.NewAssembler(opts.PendingTTL),
	}
	s.metrics = newMetrics(s)
	return s
}

// SetNotifier sets the audible cue sink
func (s *Session) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// SetCallbacks sets the application callbacks
func (s *Session) SetCallbacks(cb Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = cb
}

// Run processes events until ctx is done, then cleans up.
func (s *Session) Run(ctx context.Context) error {
	started := false
	s.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("session already running")
	}

	for {
		select {
		case <-ctx.Done():
			close(s.stopped)
			s.Cleanup()
			return ctx.Err()
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Session) post(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.stopped:
		return false
	}
}

func (s *Session) postCtx(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.stopped:
		return false
	case <-ctx.Done():
		return false
	}
}

// later queues f to run once the lock is released. Caller holds s.mu.
func (s *Session) later(f func()) {
	s.outbox = append(s.outbox, f)
}

// unlock releases s.mu and runs queued work
func (s *Session) unlock() {
	out := s.outbox
	s.outbox = nil
	s.mu.Unlock()
	for _, f := range out {
		f()
	}
}

// handle applies one event. It is the only place link, channel and timer
// input mutates the session.
func (s *Session) handle(ev Event) {
	s.mu.Lock()
	defer s.unlock()

	if ev.Gen != s.gen {
		s.log.Debug("dropping stale event", zap.Stringer("kind", ev.Kind))
		return
	}

	switch ev.Kind {
	case EventLinkState:
		s.onLinkState(ev.LinkState)
	case EventChannel:
		s.onChannel(ev.Channel)
	case EventChannelOpen:
		s.onChannelOpen()
	case EventChannelClose:
		s.log.Info("data channel closed")
	case EventChannelMessage:
		s.onFrame(ev.Data)
	case EventTimer:
		if s.timerLive(ev) {
			s.onTimer(ev.Timer)
		}
	}
}

func (s *Session) onLinkState(st LinkState) {
	s.log.Debug("link state", zap.Stringer("state", st), zap.Stringer("phase", s.state.Phase))

	switch st {
	case LinkConnected:
		if s.state.Phase.canConnect() {
			s.enterConnected()
		}
	case LinkDisconnected:
		if s.state.Phase == PhaseConnected {
			s.enterReconnecting()
		}
	case LinkFailed, LinkClosed:
		if s.state.Phase.hasLink() {
			s.enterDisconnected("link " + st.String())
		}
	}
}

func (s *Session) onTimer(kind TimerKind) {
	switch kind {
	case TimerSupervisor:
		connected := s.link != nil && s.link.State() == LinkConnected
		verdict := s.supervisor.Tick(connected)
		s.state.ReconnectAttempts = s.supervisor.Attempts()

		switch verdict {
		case VerdictContinue:
			s.log.Info("waiting for link to recover",
				zap.Int("attempt", s.supervisor.Attempts()),
				zap.Int("max", s.opts.MaxReconnectAttempts))
		case VerdictRecovered:
			// The link's own connected report moves the phase
			s.stopTimer(TimerSupervisor)
		case VerdictExhausted:
			s.stopTimer(TimerSupervisor)
			s.enterDisconnected("reconnect attempts exhausted")
		default:
			s.stopTimer(TimerSupervisor)
		}
	case TimerQuality:
		s.sampleQuality()
	case TimerTeardown:
		s.stopTimer(TimerTeardown)
		if s.state.Phase == PhaseDisconnected {
			s.teardown()
		}
	}
}

func (s *Session) setPhase(p Phase) {
	if s.state.Phase == p {
		return
	}
	s.log.Info("phase change", zap.Stringer("from", s.state.Phase), zap.Stringer("to", p))
	s.state.Phase = p
	if cb := s.callbacks.OnPhaseChange; cb != nil {
		s.later(func() { cb(p) })
	}
}

func (s *Session) enterConnected() {
	s.setPhase(PhaseConnected)
	s.stopTimer(TimerSupervisor)
	s.supervisor.Reset()
	s.state.ReconnectAttempts = 0
	s.startTimer(TimerQuality, s.opts.QualityInterval, true)
	s.later(s.notifier.Connected)
}

func (s *Session) enterReconnecting() {
	s.metrics.reconnects.Inc()
	s.setPhase(PhaseReconnecting)
	s.stopTimer(TimerQuality)
	s.setQuality(QualityUnknown)
	if s.supervisor.Start() {
		s.startTimer(TimerSupervisor, s.opts.ReconnectInterval, true)
	}
}

func (s *Session) enterDisconnected(reason string) {
	if s.state.Phase == PhaseDisconnected {
		return
	}
	s.log.Warn("call disconnected", zap.String("reason", reason))
	s.setPhase(PhaseDisconnected)
	s.stopTimers()
	s.supervisor.Reset()
	s.setQuality(QualityUnknown)
	s.later(s.notifier.Disconnected)
	s.startTimer(TimerTeardown, s.opts.TeardownGrace, false)
}

// dropLink abandons the current link and everything bound to it. Caller
// holds s.mu.
func (s *Session) dropLink() {
	s.gen++
	s.stopTimers()
	s.supervisor.Reset()

	link, ch := s.link, s.channel
	s.link, s.channel = nil, nil
	s.keys, s.secret = nil, nil
	s.assembler.Reset()

	s.state.LocalDescription = ""
	s.state.RemoteDescription = ""
	s.state.SecretEstablished = false
	s.state.KeySent = false
	s.state.ReconnectAttempts = 0
	s.setQuality(QualityUnknown)

	s.later(func() {
		if ch != nil {
			ch.Close()
		}
		if link != nil {
			link.Close()
		}
	})
}

// teardown resets the session to idle. Caller holds s.mu.
func (s *Session) teardown() {
	s.dropLink()

	if stream := s.stream; stream != nil {
		s.stream = nil
		s.later(stream.Close)
	}
	s.history = nil
	s.setPhase(PhaseIdle)
}

// Cleanup tears the session down from any phase
func (s *Session) Cleanup() {
	s.mu.Lock()
	defer s.unlock()
	s.teardown()
}

// State returns a snapshot of the session
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	if s.stream != nil {
		st.AudioEnabled = s.stream.AudioEnabled()
		st.VideoEnabled = s.stream.VideoEnabled()
	}
	return st
}

// Start acquires local media: idle -> starting_media -> setup_ready
func (s *Session) Start(ctx context.Context, preset media.Preset) error {
	s.mu.Lock()
	if s.state.Phase != PhaseIdle {
		phase := s.state.Phase
		s.unlock()
		return fmt.Errorf("%w: start in %s", ErrInvalidPhase, phase)
	}
	s.setPhase(PhaseStartingMedia)
	gen := s.gen
	s.unlock()

	stream, err := s.source.Acquire(ctx, preset)

	s.mu.Lock()
	defer s.unlock()

	if gen != s.gen || s.state.Phase != PhaseStartingMedia {
		if stream != nil {
			s.later(stream.Close)
		}
		return errSessionReset
	}
	if err != nil {
		s.log.Error("failed to acquire media", zap.Error(err))
		s.setPhase(PhaseIdle)
		return fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}

	s.stream = stream
	s.setPhase(PhaseSetupReady)
	return nil
}

// generateKeys creates the session key pair. Caller holds s.mu.
func (s *Session) generateKeys() error {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	s.keys = kp
	return nil
}

// allocateLink creates the session's link and attaches local media.
// Caller holds s.mu.
func (s *Session) allocateLink() (Link, error) {
	link, err := s.links()
	if err != nil {
		return nil, fmt.Errorf("failed to create link: %w", err)
	}

	gen := s.gen
	link.OnStateChange(func(st LinkState) {
		s.post(Event{Kind: EventLinkState, Gen: gen, LinkState: st})
	})

	if s.stream != nil {
		for _, track := range s.stream.Tracks() {
			if err := link.AddTrack(track); err != nil {
				link.Close()
				return nil, err
			}
		}
	}

	s.link = link
	return link, nil
}

func (s *Session) watchChannel(ch Channel, gen uint64) {
	ch.OnMessage(func(data []byte) {
		s.post(Event{Kind: EventChannelMessage, Gen: gen, Data: data})
	})
	ch.OnClose(func() {
		s.post(Event{Kind: EventChannelClose, Gen: gen})
	})
	ch.OnOpen(func() {
		s.post(Event{Kind: EventChannelOpen, Gen: gen})
	})
}

func (s *Session) onChannel(ch Channel) {
	if s.channel != nil && s.channel != ch {
		s.log.Warn("ignoring additional data channel")
		s.later(func() { ch.Close() })
		return
	}
	s.channel = ch
}

// abortSetup returns a failed offer/answer attempt to setup_ready
func (s *Session) abortSetup(err error) error {
	s.log.Error("call setup failed", zap.Error(err))
	s.dropLink()
	s.setPhase(PhaseSetupReady)
	return err
}

// CreateOffer starts a call as the initiating side and returns the offer
// blob once candidate gathering is complete.
func (s *Session) CreateOffer(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.state.Phase != PhaseSetupReady {
		phase := s.state.Phase
		s.unlock()
		return "", fmt.Errorf("%w: create offer in %s", ErrInvalidPhase, phase)
	}
	s.setPhase(PhaseCreatingOffer)

	if err := s.generateKeys(); err != nil {
		err = s.abortSetup(err)
		s.unlock()
		return "", err
	}
	link, err := s.allocateLink()
	if err != nil {
		err = s.abortSetup(err)
		s.unlock()
		return "", err
	}
	ch, err := link.OpenChannel(s.opts.ChannelLabel)
	if err != nil {
		err = s.abortSetup(err)
		s.unlock()
		return "", err
	}
	s.channel = ch
	gen := s.gen
	s.watchChannel(ch, gen)
	s.unlock()

	desc, err := link.CreateOffer(ctx)

	s.mu.Lock()
	defer s.unlock()
	if gen != s.gen {
		return "", errSessionReset
	}
	if err != nil {
		return "", s.abortSetup(err)
	}
	return s.publishLocal(desc)
}

// ReceiveOffer answers a peer's offer and returns the answer blob once
// candidate gathering is complete.
func (s *Session) ReceiveOffer(ctx context.Context, code string) (string, error) {
	s.mu.Lock()
	if s.state.Phase != PhaseSetupReady {
		phase := s.state.Phase
		s.unlock()
		return "", fmt.Errorf("%w: receive offer in %s", ErrInvalidPhase, phase)
	}

	offer, err := parseCode(code, webrtc.SDPTypeOffer)
	if err != nil {
		s.log.Warn("rejected offer", zap.Error(err))
		s.unlock()
		return "", err
	}

	s.setPhase(PhaseCreatingAnswer)
	if err := s.generateKeys(); err != nil {
		err = s.abortSetup(err)
		s.unlock()
		return "", err
	}
	link, err := s.allocateLink()
	if err != nil {
		err = s.abortSetup(err)
		s.unlock()
		return "", err
	}

	gen := s.gen
	link.OnChannel(func(ch Channel) {
		s.post(Event{Kind: EventChannel, Gen: gen, Channel: ch})
		s.watchChannel(ch, gen)
	})

	if err := link.SetRemoteDescription(offer); err != nil {
		err = s.abortSetup(fmt.Errorf("%w: %v", ErrInvalidCode, err))
		s.unlock()
		return "", err
	}
	s.state.RemoteDescription = canonicalBlob(offer, code)
	s.unlock()

	desc, err := link.CreateAnswer(ctx)

	s.mu.Lock()
	defer s.unlock()
	if gen != s.gen {
		return "", errSessionReset
	}
	if err != nil {
		return "", s.abortSetup(err)
	}
	return s.publishLocal(desc)
}

// publishLocal records and returns the local description blob. Caller holds s.mu.
func (s *Session) publishLocal(desc webrtc.SessionDescription) (string, error) {
	blob, err := protocol.EncodeDescription(desc)
	if err != nil {
		return "", s.abortSetup(err)
	}
	s.state.LocalDescription = blob
	s.log.Info("local description ready", zap.String("type", desc.Type.String()), zap.Int("bytes", len(blob)))
	return blob, nil
}

// ReceiveAnswer applies the peer's answer to a pending offer
func (s *Session) ReceiveAnswer(code string) error {
	s.mu.Lock()
	defer s.unlock()

	answer, err := parseCode(code, webrtc.SDPTypeAnswer)
	if err != nil {
		s.log.Warn("rejected answer", zap.Error(err))
		return err
	}
	if s.link == nil || !s.link.AwaitingAnswer() {
		s.log.Warn("answer received with no pending offer", zap.Stringer("phase", s.state.Phase))
		return ErrAnswerNotExpected
	}
	if err := s.link.SetRemoteDescription(answer); err != nil {
		s.log.Warn("failed to apply answer", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}

	s.state.RemoteDescription = canonicalBlob(answer, code)
	if s.state.Phase == PhaseCreatingOffer {
		s.setPhase(PhaseConnecting)
	}
	return nil
}

func parseCode(code string, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	desc, err := protocol.ParseCode(code)
	if err != nil {
		return desc, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	if desc.Type != want {
		return desc, fmt.Errorf("%w: expected %s, got %s", ErrInvalidCode, want, desc.Type)
	}
	return desc, nil
}

func canonicalBlob(desc webrtc.SessionDescription, fallback string) string {
	if blob, err := protocol.EncodeDescription(desc); err == nil {
		return blob
	}
	return fallback
}

// SetAudioEnabled mutes or unmutes the microphone
func (s *Session) SetAudioEnabled(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return fmt.Errorf("%w: no local media", ErrInvalidPhase)
	}
	s.stream.SetAudioEnabled(on)
	return nil
}

// SetVideoEnabled turns the camera on or off
func (s *Session) SetVideoEnabled(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return fmt.Errorf("%w: no local media", ErrInvalidPhase)
	}
	s.stream.SetVideoEnabled(on)
	return nil
}

func (s *Session) reportError(err error) {
	if cb := s.callbacks.OnError; cb != nil {
		s.later(func() { cb(err) })
	}
}
