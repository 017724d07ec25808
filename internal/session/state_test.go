package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vaishnavt2002/meetcore/internal/domain"
	"github.com/vaishnavt2002/meetcore/internal/signal"
)

func newState(t *testing.T) *State {
	t.Helper()
	local, err := domain.NewParticipant("alice", "Alice", domain.KindRecruiter)
	require.NoError(t, err)
	return New("M1", local)
}

func TestRoleFollowsParticipantKind(t *testing.T) {
	s := newState(t)
	require.Equal(t, domain.RoleInitiator, s.Role(), "recruiters initiate")

	candidate, err := domain.NewParticipant("bob", "Bob", domain.KindCandidate)
	require.NoError(t, err)
	require.Equal(t, domain.RoleResponder, New("M1", candidate).Role())
}

func TestAdvanceLegalPath(t *testing.T) {
	s := newState(t)
	require.Equal(t, StatusNew, s.Status())

	require.True(t, s.Advance(StatusNegotiating))
	require.True(t, s.Advance(StatusConnected))
	require.True(t, s.Advance(StatusReconnecting))
	require.True(t, s.Advance(StatusConnected), "reconnect oscillation is allowed")
	require.True(t, s.Advance(StatusReconnecting))
	require.True(t, s.Advance(StatusNew), "peer departure resets to NEW")
	require.True(t, s.Advance(StatusClosed))
}

func TestAdvanceRejectsIllegalMoves(t *testing.T) {
	s := newState(t)

	require.False(t, s.Advance(StatusNew), "self transition")
	require.False(t, s.Advance(StatusConnected), "NEW cannot skip to CONNECTED")
	require.False(t, s.Advance(StatusReconnecting))
	require.Equal(t, StatusNew, s.Status())

	require.True(t, s.Advance(StatusClosed))
	require.False(t, s.Advance(StatusNegotiating), "CLOSED is terminal")
	require.False(t, s.Advance(StatusNew))
	require.Equal(t, StatusClosed, s.Status())
}

func TestPeerLifecycle(t *testing.T) {
	s := newState(t)
	_, ok := s.Peer()
	require.False(t, ok)

	peer, err := domain.NewParticipant("bob", "Bob", domain.KindCandidate)
	require.NoError(t, err)
	s.SetPeer(peer)
	got, ok := s.Peer()
	require.True(t, ok)
	require.Equal(t, peer, got)

	s.AddPending(signal.Candidate{Candidate: "candidate:1"})
	s.ClearPeer()
	_, ok = s.Peer()
	require.False(t, ok)
	require.Equal(t, 0, s.PendingCount(), "clearing the peer drops its queued candidates")
}

func TestTakePendingIsAtomic(t *testing.T) {
	s := newState(t)
	s.AddPending(signal.Candidate{Candidate: "candidate:1"})
	s.AddPending(signal.Candidate{Candidate: "candidate:2"})
	require.Equal(t, 2, s.PendingCount())

	first := s.TakePending()
	require.Len(t, first, 2)
	require.Equal(t, "candidate:1", first[0].Candidate)
	require.Equal(t, "candidate:2", first[1].Candidate)

	require.Empty(t, s.TakePending(), "a second take yields nothing")
	require.Equal(t, 0, s.PendingCount())
}
