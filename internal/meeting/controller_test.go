package meeting

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/vaishnavt2002/meetcore/internal/chat"
	"github.com/vaishnavt2002/meetcore/internal/config"
	"github.com/vaishnavt2002/meetcore/internal/domain"
	"github.com/vaishnavt2002/meetcore/internal/relay"
	"github.com/vaishnavt2002/meetcore/internal/rtc"
	"github.com/vaishnavt2002/meetcore/internal/signal"
)

type recEvents struct {
	mu     sync.Mutex
	states []State
	peers  chan *domain.Participant
}

func newRecEvents() *recEvents {
	return &recEvents{peers: make(chan *domain.Participant, 8)}
}

func (r *recEvents) OnState(s State, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recEvents) OnPeer(p *domain.Participant) { r.peers <- p }
func (r *recEvents) OnChat(chat.Message)          {}

func testConfig() *config.Config {
	return &config.Config{
		Mode:        "release",
		STUNServers: nil,
		DialTimeout: 2 * time.Second,
		BackoffBase: 10 * time.Millisecond,
		BackoffCap:  2,
		MaxAttempts: 3,
		QueueBytes:  64 * 1024,
		SettleDelay: 10 * time.Millisecond,
		RetryDelay:  20 * time.Millisecond,
		ChatLabel:   "meet-chat",
		Secret:      "test-secret",
	}
}

func candidateToken(t *testing.T) string {
	t.Helper()
	return signToken(t, identityClaims{
		Name:             "Bob",
		UserType:         "CANDIDATE",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "bob"},
	})
}

func TestJoinValidatesInput(t *testing.T) {
	cfg := testConfig()
	ctl := NewController(cfg, NewProfileClient("http://auth.test", candidateToken(t)), nil)

	err := ctl.Join(context.Background(), "/join/abc123")
	require.ErrorIs(t, err, domain.ErrBadMeetingAddress)
	require.Equal(t, StateIdle, ctl.State())

	bad := NewController(cfg, NewProfileClient("http://auth.test", "not-a-jwt"), nil)
	require.ErrorIs(t, bad.Join(context.Background(), "/meet/abc123"), ErrBadToken)
}

func TestOperationsRequireJoin(t *testing.T) {
	ctl := NewController(testConfig(), NewProfileClient("http://auth.test", candidateToken(t)), nil)

	_, err := ctl.ToggleAudio()
	require.ErrorIs(t, err, ErrNotJoined)
	_, err = ctl.ToggleVideo()
	require.ErrorIs(t, err, ErrNotJoined)
	require.ErrorIs(t, ctl.SendChat("hi"), ErrNotJoined)
	require.ErrorIs(t, ctl.Retry(), ErrNotJoined)
}

func waitCtlState(t *testing.T, ctl *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if ctl.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for controller state %s, at %s", want, ctl.State())
}

// The full client-side stack against the dev relay: auth precheck, join
// announcement, peer presence, departure and teardown. Media negotiation
// itself is exercised at the engine level.
func TestJoinAgainstDevRelay(t *testing.T) {
	cfg := testConfig()
	srv := httptest.NewServer(relay.SetupRouter(context.Background(), cfg, relay.NewController()))
	defer srv.Close()
	cfg.RelayURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signal"
	cfg.AuthURL = srv.URL

	ev := newRecEvents()
	ctl := NewController(cfg, NewProfileClient(cfg.AuthURL, candidateToken(t)), ev)
	defer ctl.End()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, ctl.Join(ctx, "/meet/abc123?type=AUDIO_ONLY"))
	require.Equal(t, StateJoining, ctl.State())
	require.ErrorIs(t, ctl.Join(ctx, "/meet/abc123"), ErrAlreadyJoined)

	// Interview metadata comes from the relay's dev stub.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && ctl.JobTitle() == "" {
		time.Sleep(5 * time.Millisecond)
	}
	require.Contains(t, ctl.JobTitle(), "Software Engineer")

	// Local capture follows the requested mode.
	on, err := ctl.ToggleAudio()
	require.NoError(t, err)
	require.False(t, on)
	_, err = ctl.ToggleVideo()
	require.ErrorIs(t, err, rtc.ErrNoSuchTrack)

	// A recruiter arriving in the room surfaces as our peer.
	alice, resp, err := websocket.DefaultDialer.Dial(cfg.RelayURL, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer alice.Close()
	join, err := (signal.Envelope{
		Type: signal.TypeJoinRoom, MeetingID: "abc123",
		UserID: "alice", UserName: "Alice", UserType: "RECRUITER",
	}).Encode()
	require.NoError(t, err)
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, join))

	waitCtlState(t, ctl, StateNegotiating)
	select {
	case p := <-ev.peers:
		require.NotNil(t, p)
		require.Equal(t, domain.ParticipantID("alice"), p.ID)
		require.Equal(t, domain.KindRecruiter, p.Kind)
	case <-time.After(3 * time.Second):
		t.Fatal("peer never surfaced")
	}

	// Departure resets us to waiting.
	left, err := (signal.Envelope{Type: signal.TypeUserLeft, MeetingID: "abc123", UserID: "alice"}).Encode()
	require.NoError(t, err)
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, left))

	waitCtlState(t, ctl, StateWaiting)
	select {
	case p := <-ev.peers:
		require.Nil(t, p)
	case <-time.After(3 * time.Second):
		t.Fatal("peer departure never surfaced")
	}

	ctl.End()
	require.Equal(t, StateEnded, ctl.State())
	require.ErrorIs(t, ctl.SendChat("late"), ErrNotJoined)
}
