package call

import (
	"context"
	"time"
)

// EventKind enumerates what can drive a state transition
type EventKind int

const (
	EventLinkState EventKind = iota
	EventChannel
	EventChannelOpen
	EventChannelClose
	EventChannelMessage
	EventTimer
)

func (k EventKind) String() string {
	switch k {
	case EventLinkState:
		return "link_state"
	case EventChannel:
		return "channel"
	case EventChannelOpen:
		return "channel_open"
	case EventChannelClose:
		return "channel_close"
	case EventChannelMessage:
		return "channel_message"
	case EventTimer:
		return "timer"
	default:
		return "unknown"
	}
}

// Event is one input to the session state machine. Gen identifies the link
// that produced it; events from an abandoned link are discarded.
type Event struct {
	Kind      EventKind
	Gen       uint64
	LinkState LinkState
	Channel   Channel
	Data      []byte
	Timer     TimerKind
	TimerGen  uint64
}

// TimerKind names the session's scoped timers
type TimerKind int

const (
	TimerSupervisor TimerKind = iota
	TimerQuality
	TimerTeardown
)

func (k TimerKind) String() string {
	switch k {
	case TimerSupervisor:
		return "supervisor"
	case TimerQuality:
		return "quality"
	case TimerTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

type timer struct {
	gen    uint64
	cancel context.CancelFunc
}

// startTimer (re)arms a timer. Caller holds s.mu.
func (s *Session) startTimer(kind TimerKind, interval time.Duration, repeat bool) {
	s.stopTimer(kind)

	s.timerGen++
	ctx, cancel := context.WithCancel(context.Background())
	t := &timer{gen: s.timerGen, cancel: cancel}
	s.timers[kind] = t

	ev := Event{Kind: EventTimer, Gen: s.gen, Timer: kind, TimerGen: t.gen}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if !s.postCtx(ctx, ev) || !repeat {
				return
			}
		}
	}()
}

// stopTimer cancels a timer if armed. Caller holds s.mu.
func (s *Session) stopTimer(kind TimerKind) {
	if t, ok := s.timers[kind]; ok {
		t.cancel()
		delete(s.timers, kind)
	}
}

func (s *Session) stopTimers() {
	for kind := range s.timers {
		s.stopTimer(kind)
	}
}

// timerLive reports whether a tick belongs to the currently armed timer
func (s *Session) timerLive(ev Event) bool {
	t, ok := s.timers[ev.Timer]
	return ok && t.gen == ev.TimerGen
}
