package recording

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// maxDelay caps the pause between two replayed events
const maxDelay = 2 * time.Second

// Player replays a transcript as text
type Player struct {
	recording *Recording
	speed     float64
	output    io.Writer
	// showState includes phase and quality events
	showState bool
}

func NewPlayer(rec *Recording, output io.Writer) *Player {
	return &Player{
		recording: rec,
		speed:     1.0,
		output:    output,
	}
}

// LoadRecording reads a transcript file
func LoadRecording(path string) (*Recording, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	defer file.Close()
	return ReadRecording(file)
}

// ReadRecording parses a transcript. Malformed event lines are skipped.
func ReadRecording(r io.Reader) (*Recording, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	rec := &Recording{}
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read recording: %w", err)
		}
		return nil, fmt.Errorf("empty recording file")
	}
	if err := json.Unmarshal(scanner.Bytes(), &rec.Header); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	if rec.Header.Version != formatVersion {
		return nil, fmt.Errorf("unsupported recording version %d", rec.Header.Version)
	}

	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		rec.Events = append(rec.Events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}
	return rec, nil
}

// SetSpeed sets the playback speed. Zero or negative replays instantly.
func (p *Player) SetSpeed(speed float64) {
	p.speed = speed
}

func (p *Player) ShowState(show bool) {
	p.showState = show
}

// Play writes every event, pacing by the recorded timestamps
func (p *Player) Play(ctx context.Context) error {
	var last float64
	for _, event := range p.recording.Events {
		if !p.visible(event) {
			continue
		}

		if p.speed > 0 {
			delay := time.Duration(float64(time.Second) * (event.Time - last) / p.speed)
			if delay > maxDelay {
				delay = maxDelay
			}
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		last = event.Time

		if _, err := fmt.Fprintln(p.output, Format(event)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Player) visible(e Event) bool {
	switch e.Kind {
	case KindSent, KindReceived:
		return true
	case KindPhase, KindQuality:
		return p.showState
	}
	return false
}

// Format renders one event as a single line
func Format(e Event) string {
	stamp := fmt.Sprintf("[%7.2fs]", e.Time)
	switch e.Kind {
	case KindPhase:
		return fmt.Sprintf("%s -- %s", stamp, e.Data)
	case KindQuality:
		return fmt.Sprintf("%s -- quality %s", stamp, e.Data)
	}
	if e.Name != "" {
		return fmt.Sprintf("%s %s: <%s>", stamp, e.Kind, e.Name)
	}
	return fmt.Sprintf("%s %s: %s", stamp, e.Kind, e.Data)
}
