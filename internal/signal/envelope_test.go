package signal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseOffer(t *testing.T) {
	raw := []byte(`{
		"type": "offer",
		"meetingId": "M1",
		"userId": "alice",
		"userName": "Alice",
		"targetUserId": "bob",
		"offer": {"type": "offer", "sdp": "v=0..."}
	}`)

	env, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, TypeOffer, env.Type)
	require.Equal(t, "M1", env.MeetingID)
	require.Equal(t, "bob", env.TargetUserID)

	ev, err := env.Event()
	require.NoError(t, err)
	offer, ok := ev.(Offer)
	require.True(t, ok)
	require.Equal(t, "alice", offer.SenderID)
	require.Equal(t, "v=0...", offer.SDP.SDP)
	require.False(t, offer.Restart)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
		want error
	}{
		{"missing meeting", Envelope{Type: TypeUserLeft, UserID: "u"}, ErrMissingField},
		{"unknown type", Envelope{Type: "bogus", MeetingID: "M1"}, ErrUnknownType},
		{"offer without sdp", Envelope{Type: TypeOffer, MeetingID: "M1", UserID: "a", TargetUserID: "b"}, ErrMissingField},
		{"offer with answer sdp", Envelope{
			Type: TypeOffer, MeetingID: "M1", UserID: "a", TargetUserID: "b",
			Offer: &SDP{Type: "answer", SDP: "x"},
		}, ErrBadSDPType},
		{"candidate without payload", Envelope{Type: TypeICECandidate, MeetingID: "M1", UserID: "a"}, ErrMissingField},
		{"error without message", Envelope{Type: TypeError, MeetingID: "M1"}, ErrMissingField},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.env.Validate()
			require.Error(t, err)
			require.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestAcceptFor(t *testing.T) {
	env := Envelope{
		Type:      TypeICECandidate,
		MeetingID: "M1",
		UserID:    "bob",
		Candidate: &Candidate{Candidate: "candidate:1"},
	}

	require.True(t, env.AcceptFor("M1", "alice"), "untargeted envelope for our meeting")

	env.TargetUserID = "alice"
	require.True(t, env.AcceptFor("M1", "alice"), "targeted at self")

	env.TargetUserID = "someone-else"
	require.False(t, env.AcceptFor("M1", "alice"), "targeted at a third party")

	env.TargetUserID = "alice"
	require.False(t, env.AcceptFor("M2", "alice"), "wrong meeting")
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse([]byte(`{not json`))
	require.ErrorIs(t, err, ErrNotAnEnvelope)

	_, err = Parse([]byte(`{"type":"user_left","meetingId":"M1"}`))
	require.ErrorIs(t, err, ErrMissingField)
}

func TestEventRoundTripCandidate(t *testing.T) {
	mid := "0"
	env := Envelope{
		Type:      TypeICECandidate,
		MeetingID: "M1",
		UserID:    "bob",
		Candidate: &Candidate{Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 54400 typ host", SDPMid: &mid},
	}
	require.NoError(t, env.Validate())

	frame, err := env.Encode()
	require.NoError(t, err)
	back, err := Parse(frame)
	require.NoError(t, err)

	ev, err := back.Event()
	require.NoError(t, err)
	cand, ok := ev.(IceCandidate)
	require.True(t, ok)
	require.Equal(t, env.Candidate.Candidate, cand.Candidate.Candidate)
	require.NotNil(t, cand.Candidate.SDPMid)
	require.Equal(t, "0", *cand.Candidate.SDPMid)

	pion := cand.Candidate.ToPion()
	require.Equal(t, env.Candidate.Candidate, pion.Candidate)
	require.Equal(t, cand.Candidate, CandidateFromPion(pion))
}

func TestJoinRoomIsOutboundOnly(t *testing.T) {
	env := Envelope{Type: TypeJoinRoom, MeetingID: "M1", UserID: "a", UserName: "A", UserType: "CANDIDATE"}
	require.NoError(t, env.Validate())
	_, err := env.Event()
	require.ErrorIs(t, err, ErrUnknownType)
}
