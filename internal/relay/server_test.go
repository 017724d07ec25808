package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/vaishnavt2002/meetcore/internal/config"
	"github.com/vaishnavt2002/meetcore/internal/signal"
)

func startRelay(t *testing.T) string {
	t.Helper()
	cfg := &config.Config{Mode: "release", Secret: "test-secret"}
	r := SetupRouter(context.Background(), cfg, NewController())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
}

func dialRelay(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws/signal"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEnv(t *testing.T, conn *websocket.Conn, env signal.Envelope) {
	t.Helper()
	frame, err := env.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readEnv(t *testing.T, conn *websocket.Conn) signal.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := signal.Parse(data)
	require.NoError(t, err)
	return env
}

func joinEnv(user, kind string) signal.Envelope {
	return signal.Envelope{
		Type: signal.TypeJoinRoom, MeetingID: "M1",
		UserID: user, UserName: strings.ToUpper(user[:1]) + user[1:], UserType: kind,
	}
}

func TestRelaySignalingFlow(t *testing.T) {
	base := startRelay(t)

	alice := dialRelay(t, base)
	sendEnv(t, alice, joinEnv("alice", "RECRUITER"))

	bob := dialRelay(t, base)
	sendEnv(t, bob, joinEnv("bob", "CANDIDATE"))

	// The joiner learns who is present; the room learns about the joiner.
	fromRelay := readEnv(t, bob)
	require.Equal(t, signal.TypeUserJoined, fromRelay.Type)
	require.Equal(t, "alice", fromRelay.UserID)
	require.Equal(t, "RECRUITER", fromRelay.UserType)

	joined := readEnv(t, alice)
	require.Equal(t, signal.TypeUserJoined, joined.Type)
	require.Equal(t, "bob", joined.UserID)

	// Targeted descriptions reach only the addressee.
	sendEnv(t, alice, signal.Envelope{
		Type: signal.TypeOffer, MeetingID: "M1",
		UserID: "alice", UserName: "Alice", TargetUserID: "bob",
		Offer: &signal.SDP{Type: "offer", SDP: "v=0 alice"},
	})
	offer := readEnv(t, bob)
	require.Equal(t, signal.TypeOffer, offer.Type)
	require.Equal(t, "alice", offer.UserID)
	require.Equal(t, "v=0 alice", offer.Offer.SDP)

	sendEnv(t, bob, signal.Envelope{
		Type: signal.TypeAnswer, MeetingID: "M1",
		UserID: "bob", TargetUserID: "alice",
		Answer: &signal.SDP{Type: "answer", SDP: "v=0 bob"},
	})
	answer := readEnv(t, alice)
	require.Equal(t, signal.TypeAnswer, answer.Type)
	require.Equal(t, "bob", answer.UserID)

	// Untargeted candidates broadcast to everyone else in the room.
	sendEnv(t, bob, signal.Envelope{
		Type: signal.TypeICECandidate, MeetingID: "M1",
		UserID: "bob", Candidate: &signal.Candidate{Candidate: "candidate:1"},
	})
	cand := readEnv(t, alice)
	require.Equal(t, signal.TypeICECandidate, cand.Type)
	require.Equal(t, "candidate:1", cand.Candidate.Candidate)

	// Leaving is announced to the rest of the room.
	sendEnv(t, bob, signal.Envelope{Type: signal.TypeUserLeft, MeetingID: "M1", UserID: "bob"})
	left := readEnv(t, alice)
	require.Equal(t, signal.TypeUserLeft, left.Type)
	require.Equal(t, "bob", left.UserID)
}

func TestRelayRejectsForwardBeforeJoin(t *testing.T) {
	base := startRelay(t)
	conn := dialRelay(t, base)

	sendEnv(t, conn, signal.Envelope{
		Type: signal.TypeOffer, MeetingID: "M1",
		UserID: "alice", UserName: "Alice", TargetUserID: "bob",
		Offer: &signal.SDP{Type: "offer", SDP: "v=0"},
	})
	env := readEnv(t, conn)
	require.Equal(t, signal.TypeError, env.Type)
	require.Contains(t, env.Message, "not joined")
}

func TestRelayReportsMalformedFrames(t *testing.T) {
	base := startRelay(t)
	conn := dialRelay(t, base)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{broken`)))
	env := readEnv(t, conn)
	require.Equal(t, signal.TypeError, env.Type)
}

func TestRelayHealthAndDevStubs(t *testing.T) {
	base := startRelay(t)

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(base + "/api/users/me")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp2.StatusCode, "precheck stub rejects missing tokens")

	req, err := http.NewRequest(http.MethodGet, base+"/api/users/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer anything")
	resp3, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp3.Body.Close()
	require.Equal(t, http.StatusOK, resp3.StatusCode)
}
