package call

import "go.uber.org/zap"

// Classify maps cumulative inbound counters to a quality bucket
func Classify(lost, received uint64, iceConnected bool) Quality {
	if received == 0 {
		if iceConnected {
			return QualityGood
		}
		return QualityUnknown
	}

	rate := float64(lost) / float64(lost+received)
	switch {
	case rate < 0.01:
		return QualityExcellent
	case rate < 0.05:
		return QualityGood
	case rate < 0.10:
		return QualityFair
	default:
		return QualityPoor
	}
}

// sampleQuality runs on each quality tick. Caller holds s.mu.
func (s *Session) sampleQuality() {
	if s.state.Phase != PhaseConnected || s.link == nil {
		s.stopTimer(TimerQuality)
		return
	}

	stats := s.link.Stats()
	s.setQuality(Classify(stats.PacketsLost, stats.PacketsReceived, stats.ICEConnected))
	s.log.Debug("quality sample",
		zap.Uint64("lost", stats.PacketsLost),
		zap.Uint64("received", stats.PacketsReceived),
		zap.Stringer("quality", s.state.Quality))
}

func (s *Session) setQuality(q Quality) {
	if s.state.Quality == q {
		return
	}
	s.state.Quality = q
	if cb := s.callbacks.OnQualityChange; cb != nil {
		s.later(func() { cb(q) })
	}
}
