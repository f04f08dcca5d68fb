package pion

import (
	"fmt"
	"sync"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// Stream is a local capture source backed by sample tracks. A capture
// pipeline pushes encoded frames in through WriteVideo/WriteAudio; the
// transport attaches the tracks to calls.
type Stream struct {
	id   string
	kind domain.StreamKind

	video *webrtc.TrackLocalStaticSample
	audio *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	onEnded func()
	stopped bool
}

var _ ports.LocalStream = (*Stream)(nil)

// NewCameraStream creates a camera source with VP8 video and Opus audio.
func NewCameraStream(id string) (*Stream, error) {
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	return &Stream{id: id, kind: domain.StreamCamera, video: video, audio: audio}, nil
}

// NewScreenStream creates a screen-share source, video only.
func NewScreenStream(id string) (*Stream, error) {
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	return &Stream{id: id, kind: domain.StreamScreen, video: video}, nil
}

func (s *Stream) ID() string              { return s.id }
func (s *Stream) Kind() domain.StreamKind { return s.kind }

func (s *Stream) OnEnded(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = fn
}

func (s *Stream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
}

// End marks the capture as ended by the source itself, firing OnEnded. Stop
// does not fire it; the distinction mirrors user-stop versus source-gone.
func (s *Stream) End() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	fn := s.onEnded
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *Stream) WriteVideo(sample media.Sample) error {
	if s.halted() {
		return domain.ErrStreamInactive
	}
	return s.video.WriteSample(sample)
}

func (s *Stream) WriteAudio(sample media.Sample) error {
	if s.audio == nil {
		return fmt.Errorf("stream %s has no audio track", s.id)
	}
	if s.halted() {
		return domain.ErrStreamInactive
	}
	return s.audio.WriteSample(sample)
}

func (s *Stream) halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Stream) tracks() []webrtc.TrackLocal {
	out := []webrtc.TrackLocal{s.video}
	if s.audio != nil {
		out = append(out, s.audio)
	}
	return out
}
