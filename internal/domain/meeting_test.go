package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMeetingAddress(t *testing.T) {
	cases := []struct {
		name    string
		addr    string
		want    Meeting
		wantErr error
	}{
		{"full", "/meet/abc123?type=AUDIO_ONLY", Meeting{ID: "abc123", Mode: ModeAudioOnly}, nil},
		{"mode defaults", "/meet/abc123", Meeting{ID: "abc123", Mode: ModeAudioAndVideo}, nil},
		{"trailing slash", "/meet/abc123/?type=VIDEO_ONLY", Meeting{ID: "abc123", Mode: ModeVideoOnly}, nil},
		{"wrong prefix", "/join/abc123", Meeting{}, ErrBadMeetingAddress},
		{"empty id", "/meet/", Meeting{}, ErrMeetingIDEmpty},
		{"nested path", "/meet/a/b", Meeting{}, ErrMeetingIDEmpty},
		{"bad mode", "/meet/abc123?type=SCREEN_SHARE", Meeting{}, ErrUnknownMediaMode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseMeetingAddress(tc.addr)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestMediaModeTracks(t *testing.T) {
	require.True(t, ModeAudioOnly.Audio())
	require.False(t, ModeAudioOnly.Video())
	require.False(t, ModeVideoOnly.Audio())
	require.True(t, ModeVideoOnly.Video())
	require.True(t, ModeAudioAndVideo.Audio())
	require.True(t, ModeAudioAndVideo.Video())
}

func TestNewParticipant(t *testing.T) {
	p, err := NewParticipant("u-1", "Alice", KindRecruiter)
	require.NoError(t, err)
	require.Equal(t, ParticipantID("u-1"), p.ID)
	require.Equal(t, RoleInitiator, RoleFor(p.Kind))

	_, err = NewParticipant("", "Alice", KindRecruiter)
	require.ErrorIs(t, err, ErrParticipantIDEmpty)

	_, err = NewParticipant(ParticipantID(strings.Repeat("x", MaxParticipantIDLen+1)), "Alice", KindRecruiter)
	require.ErrorIs(t, err, ErrParticipantIDTooLong)

	_, err = NewParticipant("u-1", "", KindRecruiter)
	require.ErrorIs(t, err, ErrDisplayNameEmpty)

	_, err = NewParticipant("u-1", strings.Repeat("x", MaxDisplayNameLen+1), KindCandidate)
	require.ErrorIs(t, err, ErrDisplayNameTooLong)

	_, err = NewParticipant("u-1", "Alice", "OBSERVER")
	require.ErrorIs(t, err, ErrUnknownKind)

	require.Equal(t, RoleResponder, RoleFor(KindCandidate))
}
