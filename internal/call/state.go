package call

// Phase is the lifecycle position of a session
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStartingMedia
	PhaseSetupReady
	PhaseCreatingOffer
	PhaseCreatingAnswer
	PhaseConnecting
	PhaseConnected
	PhaseReconnecting
	PhaseDisconnected
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStartingMedia:
		return "starting_media"
	case PhaseSetupReady:
		return "setup_ready"
	case PhaseCreatingOffer:
		return "creating_offer"
	case PhaseCreatingAnswer:
		return "creating_answer"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// canConnect reports whether a link "connected" report moves p to connected
func (p Phase) canConnect() bool {
	switch p {
	case PhaseCreatingOffer, PhaseCreatingAnswer, PhaseConnecting, PhaseReconnecting:
		return true
	}
	return false
}

// hasLink reports whether a link may exist in phase p
func (p Phase) hasLink() bool {
	switch p {
	case PhaseIdle, PhaseStartingMedia, PhaseSetupReady:
		return false
	}
	return true
}

// Quality is the latest link quality classification
type Quality int

const (
	QualityUnknown Quality = iota
	QualityExcellent
	QualityGood
	QualityFair
	QualityPoor
)

func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	case QualityPoor:
		return "poor"
	default:
		return "unknown"
	}
}

// State is a snapshot of session progress
type State struct {
	Phase             Phase
	LocalDescription  string
	RemoteDescription string
	SecretEstablished bool
	KeySent           bool
	ReconnectAttempts int
	Quality           Quality
	AudioEnabled      bool
	VideoEnabled      bool
}
