// Package relay is the in-memory dev signaling relay: enough of the wire
// contract to run and test the meeting client locally. It is not the
// production relay.
package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/vaishnavt2002/meetcore/internal/signal"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	hub *Hub
}

func NewController() *Controller {
	return &Controller{hub: NewHub()}
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}

	conn := &wsClient{
		conn: ws,
		send: make(chan []byte, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *wsClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, c *wsClient) {
	var roomID string
	defer func() {
		if roomID != "" && c.userID != "" {
			ctl.leave(roomID, c)
		}
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "relay").Str("user", c.userID).Msg("readPump closing")
				return
			}
			roomID = ctl.dispatch(roomID, c, data)
		}
	}
}

// dispatch handles one inbound frame and returns the room the connection is
// registered in (set by join_room).
func (ctl *Controller) dispatch(roomID string, c *wsClient, data []byte) string {
	env, err := signal.Parse(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "relay").Msg("bad envelope")
		ctl.sendError(c, env.MeetingID, "malformed envelope")
		return roomID
	}

	switch env.Type {
	case signal.TypeJoinRoom:
		return ctl.handleJoin(c, env)
	case signal.TypeOffer, signal.TypeAnswer, signal.TypeICECandidate:
		ctl.forward(roomID, c, env, data)
	case signal.TypeUserLeft:
		if roomID != "" {
			ctl.leave(roomID, c)
			return ""
		}
	default:
		log.Warn().Str("module", "relay").Str("type", string(env.Type)).Msg("unexpected client message")
		ctl.sendError(c, env.MeetingID, "unexpected message type")
	}
	return roomID
}

func (ctl *Controller) handleJoin(c *wsClient, env signal.Envelope) string {
	c.userID = env.UserID
	c.userName = env.UserName
	c.userType = env.UserType

	r := ctl.hub.getOrCreate(env.MeetingID)
	if prev := r.add(c); prev != nil && prev != c {
		// Same user reconnected; drop the stale socket.
		prev.Close()
	}
	log.Info().Str("module", "relay").Str("room", env.MeetingID).Str("user", c.userID).Msg("join")

	// Tell the joiner who is already here, then announce the joiner.
	joined := signal.Envelope{
		Type:      signal.TypeUserJoined,
		MeetingID: env.MeetingID,
		UserID:    c.userID,
		UserName:  c.userName,
		UserType:  c.userType,
	}
	frame, err := joined.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("encode user_joined")
		return env.MeetingID
	}
	for _, other := range r.others(c.userID) {
		present := signal.Envelope{
			Type:      signal.TypeUserJoined,
			MeetingID: env.MeetingID,
			UserID:    other.userID,
			UserName:  other.userName,
			UserType:  other.userType,
		}
		if pf, err := present.Encode(); err == nil {
			_ = c.TrySend(pf)
		}
		_ = other.TrySend(frame)
	}
	return env.MeetingID
}

func (ctl *Controller) forward(roomID string, c *wsClient, env signal.Envelope, raw []byte) {
	if roomID == "" {
		ctl.sendError(c, env.MeetingID, "not joined")
		return
	}
	r, ok := ctl.hub.lookup(roomID)
	if !ok {
		return
	}
	if env.TargetUserID != "" {
		if target, ok := r.get(env.TargetUserID); ok {
			_ = target.TrySend(raw)
		}
		return
	}
	for _, other := range r.others(c.userID) {
		_ = other.TrySend(raw)
	}
}

func (ctl *Controller) leave(roomID string, c *wsClient) {
	r, ok := ctl.hub.lookup(roomID)
	if !ok {
		return
	}
	left := signal.Envelope{
		Type:      signal.TypeUserLeft,
		MeetingID: roomID,
		UserID:    c.userID,
	}
	if frame, err := left.Encode(); err == nil {
		for _, other := range r.others(c.userID) {
			_ = other.TrySend(frame)
		}
	}
	ctl.hub.removeClient(roomID, c.userID)
	log.Info().Str("module", "relay").Str("room", roomID).Str("user", c.userID).Msg("leave")
}

func (ctl *Controller) sendError(c *wsClient, meetingID, msg string) {
	if meetingID == "" {
		meetingID = "-"
	}
	env := signal.Envelope{Type: signal.TypeError, MeetingID: meetingID, Message: msg}
	if frame, err := env.Encode(); err == nil {
		_ = c.TrySend(frame)
	}
}
