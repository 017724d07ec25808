package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrMeetingIDEmpty    = errors.New("meeting id empty")
	ErrBadMeetingAddress = errors.New("bad meeting address")
	ErrUnknownMediaMode  = errors.New("unknown media mode")
)

type MeetingID string

// MediaMode selects which local capture tracks a meeting uses.
type MediaMode string

const (
	ModeAudioOnly     MediaMode = "AUDIO_ONLY"
	ModeVideoOnly     MediaMode = "VIDEO_ONLY"
	ModeAudioAndVideo MediaMode = "AUDIO_AND_VIDEO"
)

func (m MediaMode) Audio() bool { return m == ModeAudioOnly || m == ModeAudioAndVideo }
func (m MediaMode) Video() bool { return m == ModeVideoOnly || m == ModeAudioAndVideo }

func ParseMediaMode(s string) (MediaMode, error) {
	switch MediaMode(s) {
	case ModeAudioOnly, ModeVideoOnly, ModeAudioAndVideo:
		return MediaMode(s), nil
	case "":
		return ModeAudioAndVideo, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMediaMode, s)
}

// Meeting is the address the UI hands us: /meet/{meetingId}?type={mode}.
type Meeting struct {
	ID   MeetingID
	Mode MediaMode
}

func ParseMeetingAddress(addr string) (Meeting, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return Meeting{}, fmt.Errorf("%w: %v", ErrBadMeetingAddress, err)
	}
	rest, ok := strings.CutPrefix(u.Path, "/meet/")
	if !ok {
		return Meeting{}, fmt.Errorf("%w: path %q", ErrBadMeetingAddress, u.Path)
	}
	id := strings.Trim(rest, "/")
	if id == "" || strings.Contains(id, "/") {
		return Meeting{}, ErrMeetingIDEmpty
	}
	mode, err := ParseMediaMode(u.Query().Get("type"))
	if err != nil {
		return Meeting{}, err
	}
	return Meeting{ID: MeetingID(id), Mode: mode}, nil
}
