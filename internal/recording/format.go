// Package recording writes call transcripts and plays them back.
//
// A transcript is newline-delimited JSON: a header object followed by one
// event per line, each event being the array [time, kind, data, name].
package recording

import (
	"encoding/json"
	"fmt"
	"time"
)

const formatVersion = 1

// Header opens every transcript
type Header struct {
	Version   int    `json:"version"`
	Timestamp int64  `json:"timestamp"`
	Role      string `json:"role,omitempty"`
	Preset    string `json:"preset,omitempty"`
	Title     string `json:"title,omitempty"`
}

// Event kinds
const (
	KindSent     = "me"
	KindReceived = "peer"
	KindPhase    = "phase"
	KindQuality  = "quality"
)

// Event is a single transcript line
type Event struct {
	Time float64 // seconds since start
	Kind string
	Data string
	// Name is the file name of a file or image message, whose content is
	// not recorded
	Name string
}

// MarshalJSON writes the compact array form
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Name == "" {
		return json.Marshal([]interface{}{e.Time, e.Kind, e.Data})
	}
	return json.Marshal([]interface{}{e.Time, e.Kind, e.Data, e.Name})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var arr []interface{}
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 && len(arr) != 4 {
		return fmt.Errorf("invalid event format: expected 3 or 4 elements, got %d", len(arr))
	}

	t, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid time type: %T", arr[0])
	}
	e.Time = t

	if e.Kind, ok = arr[1].(string); !ok {
		return fmt.Errorf("invalid kind: expected string, got %T", arr[1])
	}
	if e.Data, ok = arr[2].(string); !ok {
		return fmt.Errorf("invalid data: expected string, got %T", arr[2])
	}
	if len(arr) == 4 {
		if e.Name, ok = arr[3].(string); !ok {
			return fmt.Errorf("invalid name: expected string, got %T", arr[3])
		}
	}
	return nil
}

// Recording is a loaded transcript
type Recording struct {
	Header Header
	Events []Event
}

// Duration returns the time of the last event
func (r *Recording) Duration() time.Duration {
	if len(r.Events) == 0 {
		return 0
	}
	last := r.Events[len(r.Events)-1]
	return time.Duration(last.Time * float64(time.Second))
}

func (r *Recording) EventCount() int {
	return len(r.Events)
}

// Messages returns only the chat events
func (r *Recording) Messages() []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Kind == KindSent || e.Kind == KindReceived {
			out = append(out, e)
		}
	}
	return out
}

func newHeader(role, preset, title string) Header {
	return Header{
		Version:   formatVersion,
		Timestamp: time.Now().Unix(),
		Role:      role,
		Preset:    preset,
		Title:     title,
	}
}
