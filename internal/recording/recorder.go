package recording

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/artpar/peercall/internal/call"
	"github.com/artpar/peercall/internal/protocol"
)

var ErrClosed = errors.New("recorder is closed")

// Recorder appends call events to a transcript file
type Recorder struct {
	w         io.WriteCloser
	path      string
	startTime time.Time
	mu        sync.Mutex
	closed    bool
}

// NewRecorder creates the transcript at path and writes its header
func NewRecorder(path, role, preset string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}

	// Transcripts hold decrypted chat; keep them private
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}

	r, err := newRecorder(file, role, preset)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.path = path
	return r, nil
}

func newRecorder(w io.WriteCloser, role, preset string) (*Recorder, error) {
	r := &Recorder{w: w, startTime: time.Now()}

	data, err := json.Marshal(newHeader(role, preset, "peercall "+role))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	return r, nil
}

func (r *Recorder) write(kind, data, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	event := Event{
		Time: time.Since(r.startTime).Seconds(),
		Kind: kind,
		Data: data,
		Name: name,
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := r.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// WriteMessage records a chat message in either direction. Files and
// images are recorded by name only.
func (r *Recorder) WriteMessage(m call.Message) error {
	kind := KindReceived
	if m.From == call.SenderMe {
		kind = KindSent
	}
	if m.Type != protocol.ContentText {
		name := m.FileName
		if name == "" {
			name = string(m.Type)
		}
		return r.write(kind, "", name)
	}
	return r.write(kind, m.Content, "")
}

// WritePhase records a lifecycle transition
func (r *Recorder) WritePhase(p call.Phase) error {
	return r.write(KindPhase, p.String(), "")
}

// WriteQuality records a quality classification change
func (r *Recorder) WriteQuality(q call.Quality) error {
	return r.write(KindQuality, q.String(), "")
}

// Close flushes and closes the transcript
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if f, ok := r.w.(*os.File); ok {
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("failed to sync file: %w", err)
		}
	}
	return r.w.Close()
}

func (r *Recorder) Path() string {
	return r.path
}

// GetRecordingsDir returns the default transcript directory
func GetRecordingsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".peercall", "recordings")
	}
	return filepath.Join(home, ".peercall", "recordings")
}

// GenerateRecordingPath returns a timestamped transcript path for a role
func GenerateRecordingPath(role string) string {
	name := fmt.Sprintf("%s_%s.jsonl", time.Now().Format("2006-01-02_15-04-05"), role)
	return filepath.Join(GetRecordingsDir(), name)
}
