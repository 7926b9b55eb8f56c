// Package webrtc provides WebRTC peer connection management
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/artpar/peercall/internal/logging"
)

// Default STUN servers for ICE candidate gathering
var defaultICEServers = []webrtc.ICEServer{
	{URLs: []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
		"stun:stun2.l.google.com:19302",
		"stun:stun3.l.google.com:19302",
		"stun:stun4.l.google.com:19302",
	}},
}

// DefaultGatherTimeout bounds the wait for ICE gathering.
const DefaultGatherTimeout = 30 * time.Second

var ErrGatheringTimedOut = errors.New("ICE gathering timed out")

// Config holds peer connection configuration
type Config struct {
	ICEServers    []webrtc.ICEServer
	GatherTimeout time.Duration

	// HostOnly skips STUN entirely; only local candidates are gathered.
	HostOnly bool
	// IncludeLoopback gathers loopback candidates, so two peers in one
	// process can connect without any network interface.
	IncludeLoopback bool
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		ICEServers:    defaultICEServers,
		GatherTimeout: DefaultGatherTimeout,
	}
}

// ConfigWithoutSTUN returns a configuration for same-host or LAN peers.
func ConfigWithoutSTUN() Config {
	return Config{
		GatherTimeout:   DefaultGatherTimeout,
		HostOnly:        true,
		IncludeLoopback: true,
	}
}

// Stats are cumulative inbound media counters read from the connection.
type Stats struct {
	PacketsLost     uint64
	PacketsReceived uint64
	ICEConnected    bool
}

// Peer wraps a WebRTC peer connection with helpers for a two-party call
type Peer struct {
	pc     *webrtc.PeerConnection
	config Config
	log    *zap.Logger

	mu            sync.Mutex
	channel       *Channel
	onRemoteTrack func(*webrtc.TrackRemote)
}

// NewPeer creates a new WebRTC peer connection
func NewPeer(config Config) (*Peer, error) {
	if len(config.ICEServers) == 0 && !config.HostOnly {
		config.ICEServers = defaultICEServers
	}
	if config.HostOnly {
		config.ICEServers = nil
	}
	if config.GatherTimeout <= 0 {
		config.GatherTimeout = DefaultGatherTimeout
	}

	media := &webrtc.MediaEngine{}
	if err := media.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(media, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	settings := webrtc.SettingEngine{}
	if config.IncludeLoopback {
		settings.SetIncludeLoopbackCandidate(true)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(media),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settings),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: config.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	peer := &Peer{
		pc:     pc,
		config: config,
		log:    logging.WithComponent("webrtc"),
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		peer.mu.Lock()
		handler := peer.onRemoteTrack
		peer.mu.Unlock()

		peer.log.Debug("remote track",
			zap.String("kind", track.Kind().String()),
			zap.String("codec", track.Codec().MimeType))

		if handler != nil {
			handler(track)
			return
		}
		// Nobody renders it; keep reading so the stats interceptors see packets.
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	})

	return peer, nil
}

// AddTrack attaches a local media track
func (p *Peer) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to add track: %w", err)
	}

	// Drain RTCP so interceptors (NACK, reports) keep working
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// OpenChannel creates the ordered, reliable data channel (offering side)
func (p *Peer) OpenChannel(label string) (*Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ordered := true
	dc, err := p.pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	p.channel = newChannel(dc)
	return p.channel, nil
}

// OnChannel sets the callback for when a data channel is received (answering side)
func (p *Peer) OnChannel(handler func(*Channel)) {
	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		ch := newChannel(dc)
		p.mu.Lock()
		p.channel = ch
		p.mu.Unlock()
		if handler != nil {
			handler(ch)
		}
	})
}

// OnRemoteTrack sets the callback for remote media tracks. The handler owns
// the track and must keep reading it.
func (p *Peer) OnRemoteTrack(handler func(*webrtc.TrackRemote)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRemoteTrack = handler
}

// CreateOffer creates an SDP offer and waits for ICE gathering to complete
func (p *Peer) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	return p.setLocalAndGather(ctx, offer)
}

// CreateAnswer creates an SDP answer after receiving an offer
func (p *Peer) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	return p.setLocalAndGather(ctx, answer)
}

func (p *Peer) setLocalAndGather(ctx context.Context, desc webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)

	if err := p.pc.SetLocalDescription(desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}

	timer := time.NewTimer(p.config.GatherTimeout)
	defer timer.Stop()

	select {
	case <-gatherComplete:
	case <-timer.C:
		return webrtc.SessionDescription{}, ErrGatheringTimedOut
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}

	local := p.pc.LocalDescription()
	if local == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("local description missing after gathering")
	}
	return *local, nil
}

// SetRemoteDescription sets the remote SDP (offer or answer)
func (p *Peer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// InboundStats sums the inbound video RTP counters
func (p *Peer) InboundStats() Stats {
	var st Stats
	for _, s := range p.pc.GetStats() {
		var in webrtc.InboundRTPStreamStats
		switch v := s.(type) {
		case webrtc.InboundRTPStreamStats:
			in = v
		case *webrtc.InboundRTPStreamStats:
			in = *v
		default:
			continue
		}
		if in.Kind != "video" {
			continue
		}
		if in.PacketsLost > 0 {
			st.PacketsLost += uint64(in.PacketsLost)
		}
		st.PacketsReceived += uint64(in.PacketsReceived)
	}

	switch p.pc.ICEConnectionState() {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		st.ICEConnected = true
	}
	return st
}

// OnConnectionStateChange sets a callback for connection state changes
func (p *Peer) OnConnectionStateChange(handler func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(handler)
}

// OnICEConnectionStateChange sets a callback for ICE connection state changes
func (p *Peer) OnICEConnectionStateChange(handler func(webrtc.ICEConnectionState)) {
	p.pc.OnICEConnectionStateChange(handler)
}

// Close closes the peer connection
func (p *Peer) Close() error {
	return p.pc.Close()
}

// ConnectionState returns the current connection state
func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	return p.pc.ConnectionState()
}

// SignalingState returns the current signaling state
func (p *Peer) SignalingState() webrtc.SignalingState {
	return p.pc.SignalingState()
}

// Channel returns the current data channel
func (p *Peer) Channel() *Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel
}
