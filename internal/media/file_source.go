package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const oggPageDuration = 20 * time.Millisecond

// FileSource plays media files as device tracks: IVF (VP8) for video and
// screen, Ogg (Opus) for audio. Files loop until the track is stopped. A kind
// without a configured file is reported as unavailable.
type FileSource struct {
	VideoFile  string
	AudioFile  string
	ScreenFile string

	Logger *slog.Logger
}

var _ Source = FileSource{}

func (s FileSource) path(kind Kind) string {
	switch kind {
	case KindVideo:
		return s.VideoFile
	case KindAudio:
		return s.AudioFile
	case KindScreen:
		return s.ScreenFile
	}
	return ""
}

func (s FileSource) Open(ctx context.Context, kind Kind) (Track, error) {
	path := s.path(kind)
	if path == "" {
		return nil, fmt.Errorf("%w: no %s source configured", ErrDeviceUnavailable, kind)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		return nil, err
	}

	track, err := NewStaticTrack(kind, "local")
	if err != nil {
		f.Close()
		return nil, err
	}
	track.SetEnabled(true)

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("kind", kind, "file", path)

	switch kind {
	case KindAudio:
		ogg, _, err := oggreader.NewWith(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, path, err)
		}
		go func() {
			defer f.Close()
			if err := playOgg(track, f, ogg); err != nil {
				logger.Warn("audio file playback stopped", "err", err)
			}
		}()
	default:
		ivf, header, err := ivfreader.NewWith(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, path, err)
		}
		go func() {
			defer f.Close()
			if err := playIVF(track, f, ivf, header); err != nil {
				logger.Warn("video file playback stopped", "err", err)
			}
		}()
	}
	return track, nil
}

func playIVF(track *StaticTrack, f io.ReadSeeker, ivf *ivfreader.IVFReader, header *ivfreader.IVFFileHeader) error {
	frameDuration := time.Second / 30
	if header.TimebaseDenominator != 0 && header.TimebaseNumerator != 0 {
		frameDuration = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-track.Done():
			return nil
		case <-ticker.C:
		}
		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return err
			}
			if ivf, _, err = ivfreader.NewWith(f); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if err := track.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return err
		}
	}
}

func playOgg(track *StaticTrack, f io.ReadSeeker, ogg *oggreader.OggReader) error {
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-track.Done():
			return nil
		case <-ticker.C:
		}
		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return err
			}
			if ogg, _, err = oggreader.NewWith(f); err != nil {
				return err
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			return err
		}
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples) / 48000 * float64(time.Second))
		if err := track.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}
	}
}
