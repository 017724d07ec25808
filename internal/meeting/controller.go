// Package meeting is the top-level coordinator the UI talks to: it owns the
// local capture lifecycle, wires transport, engine and session together, and
// exposes intent-level operations.
package meeting

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vaishnavt2002/meetcore/internal/chat"
	"github.com/vaishnavt2002/meetcore/internal/config"
	"github.com/vaishnavt2002/meetcore/internal/domain"
	"github.com/vaishnavt2002/meetcore/internal/engine"
	"github.com/vaishnavt2002/meetcore/internal/rtc"
	"github.com/vaishnavt2002/meetcore/internal/session"
	"github.com/vaishnavt2002/meetcore/internal/signal"
)

var (
	ErrNotJoined     = errors.New("meeting: not joined")
	ErrAlreadyJoined = errors.New("meeting: already in a meeting")
	ErrMediaFailed   = errors.New("meeting: failed to access camera/microphone")
)

// State is what the UI renders. "reconnecting" recovers on its own;
// "error" waits for an explicit Retry or navigation away.
type State string

const (
	StateIdle         State = "idle"
	StateJoining      State = "joining"
	StateWaiting      State = "waiting"
	StateNegotiating  State = "negotiating"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
	StateEnded        State = "ended"
)

type Handler interface {
	OnState(s State, detail string)
	// OnPeer reports the remote participant; nil means the peer left.
	OnPeer(p *domain.Participant)
	OnChat(m chat.Message)
}

type NopHandler struct{}

func (NopHandler) OnState(State, string)      {}
func (NopHandler) OnPeer(*domain.Participant) {}
func (NopHandler) OnChat(chat.Message)        {}

// Controller orchestrates one meeting at a time. Exactly one session is live
// per controller; Join while joined fails.
type Controller struct {
	cfg     *config.Config
	profile *ProfileClient
	h       Handler
	log     zerolog.Logger

	mu        sync.Mutex
	state     State
	meeting   domain.Meeting
	sess      *session.State
	tracks    *rtc.TrackSet
	transport *signal.Transport
	eng       *engine.Engine
	jobTitle  string
	ctx       context.Context
}

func NewController(cfg *config.Config, profile *ProfileClient, h Handler) *Controller {
	if h == nil {
		h = NopHandler{}
	}
	return &Controller{
		cfg:     cfg,
		profile: profile,
		h:       h,
		log:     log.With().Str("module", "meeting").Logger(),
		state:   StateIdle,
	}
}

// Join parses the meeting address, acquires local capture, and starts
// signaling. The media session comes up asynchronously; progress is
// reported through the handler.
func (c *Controller) Join(ctx context.Context, addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle && c.state != StateEnded {
		return ErrAlreadyJoined
	}

	m, err := domain.ParseMeetingAddress(addr)
	if err != nil {
		return err
	}
	local, err := c.profile.Participant()
	if err != nil {
		return err
	}

	tracks, err := rtc.NewTrackSet(m.Mode)
	if err != nil {
		// Media acquisition failure is terminal until the user acts.
		c.setStateLocked(StateError, ErrMediaFailed.Error())
		return errors.Join(ErrMediaFailed, err)
	}

	sess := session.New(m.ID, local)
	transport := signal.NewTransport(signal.Options{
		URL:          c.cfg.RelayURL,
		Precheck:     c.profile.Verify,
		BackoffBase:  c.cfg.BackoffBase,
		BackoffCap:   c.cfg.BackoffCap,
		MaxAttempts:  c.cfg.MaxAttempts,
		DialTimeout:  c.cfg.DialTimeout,
		WriteTimeout: c.cfg.WriteTimeout,
		QueueBytes:   c.cfg.QueueBytes,
	})

	// The engine borrows the track set; the controller keeps ownership and
	// is the only side that mutates it.
	factory := func(epoch int, initiator bool, ev engine.LinkEvents) (engine.PeerLink, error) {
		return rtc.NewLink(rtc.LinkConfig{
			STUNServers: c.cfg.STUNServers,
			ChatLabel:   c.cfg.ChatLabel,
			Initiator:   initiator,
			Epoch:       epoch,
		}, tracks, rtc.LinkCallbacks{
			OnLocalCandidate: ev.OnLocalCandidate,
			OnConnectivity:   ev.OnConnectivity,
			OnDataChannel:    ev.OnDataChannel,
		})
	}

	eng := engine.New(engine.Config{
		SettleDelay: c.cfg.SettleDelay,
		RetryDelay:  c.cfg.RetryDelay,
	}, sess, senderAdapter{t: transport, ctx: ctx}, factory, &engineEvents{c: c})
	transport.SetHandler(eng)

	c.meeting = m
	c.sess = sess
	c.tracks = tracks
	c.transport = transport
	c.eng = eng
	c.ctx = ctx
	c.setStateLocked(StateJoining, "joining "+string(m.ID))

	eng.Start()
	transport.Connect(ctx)

	go c.fetchJobTitle(ctx, m.ID)
	return nil
}

func (c *Controller) fetchJobTitle(ctx context.Context, id domain.MeetingID) {
	title, err := c.profile.JobTitle(ctx, id)
	if err != nil {
		c.log.Debug().Err(err).Msg("interview metadata lookup failed")
		return
	}
	c.mu.Lock()
	c.jobTitle = title
	c.mu.Unlock()
}

func (c *Controller) JobTitle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobTitle
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ToggleAudio flips the local audio mute and returns the new enabled state.
func (c *Controller) ToggleAudio() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracks == nil {
		return false, ErrNotJoined
	}
	return c.tracks.ToggleAudio()
}

func (c *Controller) ToggleVideo() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracks == nil {
		return false, ErrNotJoined
	}
	return c.tracks.ToggleVideo()
}

// Retry is the explicit user recovery action: it resets an exhausted
// transport and re-runs the role-specific reconnection path.
func (c *Controller) Retry() error {
	c.mu.Lock()
	eng, transport, ctx := c.eng, c.transport, c.ctx
	c.mu.Unlock()
	if eng == nil {
		return ErrNotJoined
	}
	if transport.Status() == signal.StatusDisconnected {
		transport.Connect(ctx)
	}
	eng.Retry()
	return nil
}

func (c *Controller) SendChat(content string) error {
	c.mu.Lock()
	eng := c.eng
	c.mu.Unlock()
	if eng == nil {
		return ErrNotJoined
	}
	return eng.SendChat(content)
}

// End stops local capture, tears down the link, announces user_left
// best-effort and disconnects the transport.
func (c *Controller) End() {
	c.mu.Lock()
	eng, transport, tracks := c.eng, c.transport, c.tracks
	c.eng = nil
	c.transport = nil
	c.tracks = nil
	c.sess = nil
	c.mu.Unlock()

	if eng != nil {
		eng.End()
		eng.Stop()
	}
	if transport != nil {
		transport.Disconnect()
	}
	if tracks != nil {
		tracks.Close()
	}
	c.mu.Lock()
	c.setStateLocked(StateEnded, "meeting ended")
	c.mu.Unlock()
}

func (c *Controller) setStateLocked(s State, detail string) {
	if c.state == s {
		return
	}
	c.state = s
	c.log.Info().Str("state", string(s)).Str("detail", detail).Msg("controller state")
	c.h.OnState(s, detail)
}

// senderAdapter gives the engine the slice of the transport it needs.
type senderAdapter struct {
	t   *signal.Transport
	ctx context.Context
}

func (s senderAdapter) Send(env signal.Envelope) bool { return s.t.Send(env) }
func (s senderAdapter) Reconnect()                    { s.t.Connect(s.ctx) }

// engineEvents maps engine callbacks onto controller state for the UI.
type engineEvents struct {
	c *Controller
}

func (e *engineEvents) OnStateChange(s engine.State, detail string) {
	c := e.c
	c.mu.Lock()
	defer c.mu.Unlock()
	switch s {
	case engine.StateIdle:
		c.setStateLocked(StateWaiting, detail)
	case engine.StateNegotiating:
		c.setStateLocked(StateNegotiating, detail)
	case engine.StateConnected:
		c.setStateLocked(StateConnected, detail)
	case engine.StateReconnecting:
		c.setStateLocked(StateReconnecting, detail)
	case engine.StateEnded:
		c.setStateLocked(StateEnded, detail)
	}
}

func (e *engineEvents) OnPeerJoined(p domain.Participant) {
	e.c.h.OnPeer(&p)
}

func (e *engineEvents) OnPeerLeft(domain.ParticipantID) {
	e.c.h.OnPeer(nil)
}

func (e *engineEvents) OnChatMessage(m chat.Message) {
	e.c.h.OnChat(m)
}

func (e *engineEvents) OnNegotiationError(detail string) {
	c := e.c
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStateLocked(StateError, detail)
}
