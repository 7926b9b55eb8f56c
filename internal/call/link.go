package call

import (
	"context"

	"github.com/pion/webrtc/v4"

	rtc "github.com/artpar/peercall/internal/webrtc"
)

// LinkState is the connection state reported by a Link
type LinkState int

const (
	LinkNew LinkState = iota
	LinkConnecting
	LinkConnected
	LinkDisconnected
	LinkFailed
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkDisconnected:
		return "disconnected"
	case LinkFailed:
		return "failed"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// LinkStats are cumulative inbound video counters
type LinkStats struct {
	PacketsLost     uint64
	PacketsReceived uint64
	ICEConnected    bool
}

// Channel is the ordered, reliable data channel of a link
type Channel interface {
	Send(data []byte) error
	OnOpen(func())
	OnMessage(func([]byte))
	OnClose(func())
	Ready() bool
	Close() error
}

// Link is one peer connection. Handlers may be invoked from any goroutine.
type Link interface {
	AddTrack(track webrtc.TrackLocal) error
	OpenChannel(label string) (Channel, error)
	OnChannel(func(Channel))
	OnStateChange(func(LinkState))
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	// AwaitingAnswer reports whether a local offer is waiting for its answer
	AwaitingAnswer() bool
	State() LinkState
	Stats() LinkStats
	Close() error
}

// LinkFactory allocates a fresh link for each call attempt
type LinkFactory func() (Link, error)

// PionLinks returns a factory of pion-backed links. onTrack, when set,
// receives remote media tracks; otherwise they are drained.
func PionLinks(cfg rtc.Config, onTrack func(*webrtc.TrackRemote)) LinkFactory {
	return func() (Link, error) {
		peer, err := rtc.NewPeer(cfg)
		if err != nil {
			return nil, err
		}
		if onTrack != nil {
			peer.OnRemoteTrack(onTrack)
		}
		return &pionLink{peer: peer}, nil
	}
}

type pionLink struct {
	peer *rtc.Peer
}

func (l *pionLink) AddTrack(track webrtc.TrackLocal) error {
	return l.peer.AddTrack(track)
}

func (l *pionLink) OpenChannel(label string) (Channel, error) {
	ch, err := l.peer.OpenChannel(label)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (l *pionLink) OnChannel(handler func(Channel)) {
	l.peer.OnChannel(func(ch *rtc.Channel) {
		handler(ch)
	})
}

func (l *pionLink) OnStateChange(handler func(LinkState)) {
	l.peer.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		handler(linkState(state))
	})
}

func (l *pionLink) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	return l.peer.CreateOffer(ctx)
}

func (l *pionLink) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	return l.peer.CreateAnswer(ctx)
}

func (l *pionLink) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return l.peer.SetRemoteDescription(desc)
}

func (l *pionLink) AwaitingAnswer() bool {
	return l.peer.SignalingState() == webrtc.SignalingStateHaveLocalOffer
}

func (l *pionLink) State() LinkState {
	return linkState(l.peer.ConnectionState())
}

func (l *pionLink) Stats() LinkStats {
	st := l.peer.InboundStats()
	return LinkStats{
		PacketsLost:     st.PacketsLost,
		PacketsReceived: st.PacketsReceived,
		ICEConnected:    st.ICEConnected,
	}
}

func (l *pionLink) Close() error {
	return l.peer.Close()
}

func linkState(state webrtc.PeerConnectionState) LinkState {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return LinkConnecting
	case webrtc.PeerConnectionStateConnected:
		return LinkConnected
	case webrtc.PeerConnectionStateDisconnected:
		return LinkDisconnected
	case webrtc.PeerConnectionStateFailed:
		return LinkFailed
	case webrtc.PeerConnectionStateClosed:
		return LinkClosed
	default:
		return LinkNew
	}
}
