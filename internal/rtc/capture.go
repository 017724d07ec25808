package rtc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/vaishnavt2002/meetcore/internal/domain"
)

var ErrNoSuchTrack = errors.New("rtc: meeting mode has no such track")

// opusSilence is a single silent Opus frame, emitted while audio is muted so
// the receiver keeps a continuous stream.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const (
	audioFrameInterval = 20 * time.Millisecond
	videoFrameInterval = 33 * time.Millisecond
)

// TrackSet owns the local capture tracks for one meeting. The controller is
// the only mutator (mute flips), the negotiation side only attaches the
// tracks to a peer connection; attaching lends the tracks, it never
// transfers ownership.
type TrackSet struct {
	audio *localTrack
	video *localTrack

	closeOnce sync.Once
}

type localTrack struct {
	track   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	stop    chan struct{}
}

// NewTrackSet builds the capture tracks the meeting mode asks for. This is a
// headless client: the tracks carry synthesized samples (silence, blank
// frames), standing in for device capture.
func NewTrackSet(mode domain.MediaMode) (*TrackSet, error) {
	ts := &TrackSet{}
	if mode.Audio() {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", "meetcore",
		)
		if err != nil {
			return nil, fmt.Errorf("create audio track: %w", err)
		}
		ts.audio = newLocalTrack(track)
		go ts.audio.pump(audioFrameInterval, opusSilence, opusSilence)
	}
	if mode.Video() {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", "meetcore",
		)
		if err != nil {
			ts.Close()
			return nil, fmt.Errorf("create video track: %w", err)
		}
		ts.video = newLocalTrack(track)
		// Muted video sends nothing at all; there is no video analogue of
		// comfort noise.
		go ts.video.pump(videoFrameInterval, blankVP8Frame(), nil)
	}
	return ts, nil
}

func newLocalTrack(track *webrtc.TrackLocalStaticSample) *localTrack {
	lt := &localTrack{track: track, stop: make(chan struct{})}
	lt.enabled.Store(true)
	return lt
}

// pump writes live while enabled and mutedPayload (if any) while muted.
func (lt *localTrack) pump(interval time.Duration, live, mutedPayload []byte) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-lt.stop:
			return
		case <-ticker.C:
			payload := live
			if !lt.enabled.Load() {
				payload = mutedPayload
			}
			if payload == nil {
				continue
			}
			if err := lt.track.WriteSample(media.Sample{Data: payload, Duration: interval}); err != nil {
				log.Debug().Err(err).Str("module", "rtc.capture").Str("track", lt.track.ID()).Msg("write sample")
			}
		}
	}
}

// blankVP8Frame is a minimal VP8 keyframe header for a 2x2 black frame,
// enough for receivers to keep the decode pipeline alive.
func blankVP8Frame() []byte {
	return []byte{
		0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a,
		0x02, 0x00, 0x02, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
}

// AttachTo adds the set's tracks to the peer connection.
func (ts *TrackSet) AttachTo(pc *webrtc.PeerConnection) error {
	if ts.audio != nil {
		if _, err := pc.AddTrack(ts.audio.track); err != nil {
			return fmt.Errorf("attach audio: %w", err)
		}
	}
	if ts.video != nil {
		if _, err := pc.AddTrack(ts.video.track); err != nil {
			return fmt.Errorf("attach video: %w", err)
		}
	}
	return nil
}

// ToggleAudio flips the audio mute flag and returns the new enabled state.
func (ts *TrackSet) ToggleAudio() (bool, error) {
	if ts.audio == nil {
		return false, ErrNoSuchTrack
	}
	next := !ts.audio.enabled.Load()
	ts.audio.enabled.Store(next)
	return next, nil
}

func (ts *TrackSet) ToggleVideo() (bool, error) {
	if ts.video == nil {
		return false, ErrNoSuchTrack
	}
	next := !ts.video.enabled.Load()
	ts.video.enabled.Store(next)
	return next, nil
}

func (ts *TrackSet) AudioEnabled() bool { return ts.audio != nil && ts.audio.enabled.Load() }
func (ts *TrackSet) VideoEnabled() bool { return ts.video != nil && ts.video.enabled.Load() }

func (ts *TrackSet) Close() {
	ts.closeOnce.Do(func() {
		if ts.audio != nil {
			close(ts.audio.stop)
		}
		if ts.video != nil {
			close(ts.video.stop)
		}
	})
}
