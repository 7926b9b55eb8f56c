package main

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/artpar/peercall/internal/call"
	"github.com/artpar/peercall/internal/logging"
	"github.com/artpar/peercall/internal/protocol"
	"github.com/artpar/peercall/internal/recording"
)

// terminal prints call events and keeps the transcript
type terminal struct {
	mu  sync.Mutex
	out io.Writer
	rec *recording.Recorder
	log *zap.Logger

	// received counts messages from the peer; files are saved by number
	received []call.Message
	// started is set once the call connects or fails; idle after that ends the REPL
	started  bool
	ended    chan struct{}
	endOnce  sync.Once
}

func newTerminal(out io.Writer, rec *recording.Recorder) *terminal {
	return &terminal{
		out:   out,
		rec:   rec,
		log:   logging.WithComponent("cli"),
		ended: make(chan struct{}),
	}
}

func (t *terminal) printf(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) callbacks() call.Callbacks {
	return call.Callbacks{
		OnPhaseChange:   t.onPhase,
		OnMessage:       t.onMessage,
		OnQualityChange: t.onQuality,
		OnSecured: func() {
			t.printf("-- chat is end-to-end encrypted\n")
		},
		OnError: func(err error) {
			t.printf("-- %v\n", err)
		},
	}
}

func (t *terminal) onPhase(p call.Phase) {
	t.record(func(r *recording.Recorder) error { return r.WritePhase(p) })

	switch p {
	case call.PhaseConnected:
		t.mu.Lock()
		t.started = true
		t.mu.Unlock()
		t.printf("-- connected\n")
	case call.PhaseReconnecting:
		t.printf("-- connection lost, waiting for it to recover...\n")
	case call.PhaseDisconnected:
		t.mu.Lock()
		t.started = true
		t.mu.Unlock()
		t.printf("-- call ended\n")
	case call.PhaseIdle:
		t.mu.Lock()
		started := t.started
		t.mu.Unlock()
		if started {
			t.endOnce.Do(func() { close(t.ended) })
		}
	}
}

func (t *terminal) onMessage(m call.Message) {
	t.record(func(r *recording.Recorder) error { return r.WriteMessage(m) })

	t.mu.Lock()
	t.received = append(t.received, m)
	n := len(t.received)
	t.mu.Unlock()

	switch m.Type {
	case protocol.ContentText:
		t.printf("peer: %s\n", m.Content)
	default:
		size := -1
		if data, _, err := decodeDataURL(m.Content); err == nil {
			size = len(data)
		}
		t.printf("peer sent %s %q (%s) -- /save %d to keep it\n", m.Type, m.FileName, formatSize(size), n)
	}
}

func (t *terminal) onQuality(q call.Quality) {
	t.record(func(r *recording.Recorder) error { return r.WriteQuality(q) })
	if q != call.QualityUnknown {
		t.printf("-- quality %s\n", q)
	}
}

// sent records an outgoing message
func (t *terminal) sent(env protocol.Envelope) {
	m := call.Message{From: call.SenderMe, Content: env.Content, Type: env.Type, FileName: env.FileName}
	t.record(func(r *recording.Recorder) error { return r.WriteMessage(m) })
}

// receivedAt returns the n-th message from the peer, counting from 1
func (t *terminal) receivedAt(n int) (call.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 1 || n > len(t.received) {
		return call.Message{}, false
	}
	return t.received[n-1], true
}

func (t *terminal) record(write func(*recording.Recorder) error) {
	if t.rec == nil {
		return
	}
	if err := write(t.rec); err != nil {
		t.log.Warn("failed to write transcript", zap.Error(err))
	}
}

func formatSize(n int) string {
	switch {
	case n < 0:
		return "unknown size"
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}
