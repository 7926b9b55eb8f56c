package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	pmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"go.uber.org/zap"

	"github.com/artpar/peercall/internal/logging"
)

const (
	oggPageDuration   = 20 * time.Millisecond
	defaultFrameDelay = 33 * time.Millisecond
	opusSampleRate    = 48000
)

// FileSource plays a VP8 IVF file and an Opus Ogg file as the local camera
// and microphone. Either path may be empty.
type FileSource struct {
	VideoPath string
	AudioPath string
	Loop      bool
}

func (f FileSource) Acquire(ctx context.Context, preset Preset) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := logging.WithComponent("media")

	// Validate up front so a bad file fails acquisition rather than the call
	if f.VideoPath != "" {
		header, err := probeIVF(f.VideoPath)
		if err != nil {
			return nil, err
		}
		want := preset.Resolution()
		if int(header.Width) != want.Width || int(header.Height) != want.Height {
			log.Warn("video file does not match preset",
				zap.String("preset", string(preset)),
				zap.String("file", Resolution{Width: int(header.Width), Height: int(header.Height)}.String()))
		}
	}
	if f.AudioPath != "" {
		if err := probeOgg(f.AudioPath); err != nil {
			return nil, err
		}
	}

	stream, err := newStream(preset)
	if err != nil {
		return nil, err
	}

	playCtx, cancel := context.WithCancel(context.Background())
	stream.cancel = cancel

	if f.VideoPath != "" {
		stream.wg.Add(1)
		go func() {
			defer stream.wg.Done()
			f.repeat(playCtx, log, f.VideoPath, func() error {
				return playIVF(playCtx, f.VideoPath, stream.writeVideo)
			})
		}()
	}
	if f.AudioPath != "" {
		stream.wg.Add(1)
		go func() {
			defer stream.wg.Done()
			f.repeat(playCtx, log, f.AudioPath, func() error {
				return playOgg(playCtx, f.AudioPath, stream.writeAudio)
			})
		}()
	}

	log.Info("media acquired",
		zap.String("preset", string(preset)),
		zap.String("video", f.VideoPath),
		zap.String("audio", f.AudioPath))
	return stream, nil
}

func (f FileSource) repeat(ctx context.Context, log *zap.Logger, path string, play func() error) {
	for {
		err := play()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn("playback stopped", zap.String("file", path), zap.Error(err))
			return
		}
		if !f.Loop {
			return
		}
	}
}

func probeIVF(path string) (*ivfreader.IVFFileHeader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer file.Close()

	_, header, err := ivfreader.NewWith(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	if header.FourCC != "VP80" {
		return nil, fmt.Errorf("%w: %s: codec %q is not VP8", ErrUnavailable, path, header.FourCC)
	}
	return header, nil
}

func probeOgg(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer file.Close()

	if _, _, err := oggreader.NewWith(file); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

// playIVF writes one frame per timebase tick until EOF or cancellation
func playIVF(ctx context.Context, path string, write func(pmedia.Sample) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	ivf, header, err := ivfreader.NewWith(file)
	if err != nil {
		return err
	}

	delay := defaultFrameDelay
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		delay = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}

	ticker := time.NewTicker(delay)
	defer ticker.Stop()

	for {
		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := write(pmedia.Sample{Data: frame, Duration: delay}); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// playOgg writes one Opus page per 20ms tick until EOF or cancellation
func playOgg(ctx context.Context, path string, write func(pmedia.Sample) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	ogg, _, err := oggreader.NewWith(file)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		page, pageHeader, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		// Granule position counts samples at 48kHz
		samples := pageHeader.GranulePosition - lastGranule
		lastGranule = pageHeader.GranulePosition
		duration := time.Duration(float64(samples) / opusSampleRate * float64(time.Second))

		if err := write(pmedia.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
