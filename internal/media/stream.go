package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
)

var ErrUnavailable = errors.New("media unavailable")

// Source acquires local media for one call
type Source interface {
	Acquire(ctx context.Context, preset Preset) (*Stream, error)
}

// Stream is an acquired pair of local tracks. Disabled tracks stay
// negotiated but stop carrying samples.
type Stream struct {
	preset Preset
	audio  *webrtc.TrackLocalStaticSample
	video  *webrtc.TrackLocalStaticSample

	audioOn atomic.Bool
	videoOn atomic.Bool

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newStream(preset Preset) (*Stream, error) {
	streamID := "peercall-" + uuid.NewString()

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	s := &Stream{
		preset: preset,
		audio:  audio,
		video:  video,
		cancel: func() {},
	}
	s.audioOn.Store(true)
	s.videoOn.Store(true)
	return s, nil
}

// Tracks returns the tracks to attach to the connection, audio first
func (s *Stream) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.audio, s.video}
}

// Preset returns the resolution the stream was acquired with
func (s *Stream) Preset() Preset {
	return s.preset
}

func (s *Stream) SetAudioEnabled(on bool) { s.audioOn.Store(on) }
func (s *Stream) SetVideoEnabled(on bool) { s.videoOn.Store(on) }
func (s *Stream) AudioEnabled() bool      { return s.audioOn.Load() }
func (s *Stream) VideoEnabled() bool      { return s.videoOn.Load() }

func (s *Stream) writeAudio(sample pmedia.Sample) error {
	if !s.audioOn.Load() {
		return nil
	}
	return s.audio.WriteSample(sample)
}

func (s *Stream) writeVideo(sample pmedia.Sample) error {
	if !s.videoOn.Load() {
		return nil
	}
	return s.video.WriteSample(sample)
}

// Close stops any playback. Safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}

// SilentSource produces negotiated tracks that never carry samples, for
// participants without capture devices.
type SilentSource struct{}

func (SilentSource) Acquire(ctx context.Context, preset Preset) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newStream(preset)
}
