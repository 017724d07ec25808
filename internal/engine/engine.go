// Package engine drives the offer/answer/ICE negotiation state machine for
// one meeting. Every transition runs on a single event loop, so no two
// negotiation steps interleave for the same session.
package engine

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vaishnavt2002/meetcore/internal/chat"
	"github.com/vaishnavt2002/meetcore/internal/domain"
	"github.com/vaishnavt2002/meetcore/internal/session"
	"github.com/vaishnavt2002/meetcore/internal/signal"
)

type State string

const (
	StateIdle         State = "IDLE"
	StateNegotiating  State = "NEGOTIATING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
	StateEnded        State = "ENDED"
)

var ErrEnded = errors.New("engine: ended")

// LinkEvents are the callbacks a peer link reports through. Every callback
// carries the epoch of the link that produced it; the engine discards
// anything from a stale epoch, so a torn-down link's in-flight completions
// can never mutate a newer one.
type LinkEvents struct {
	OnLocalCandidate func(epoch int, c signal.Candidate)
	OnConnectivity   func(epoch int, connected bool)
	OnDataChannel    func(epoch int, dc chat.DataChannel)
}

// PeerLink is the media-capable connection to the remote participant. The
// real implementation wraps pion (internal/rtc); tests substitute a fake.
type PeerLink interface {
	CreateOffer(restart bool) (signal.SDP, error)
	HandleOffer(s signal.SDP) (signal.SDP, error)
	// HandleAnswer reports applied=false for late or duplicate answers,
	// which the engine ignores.
	HandleAnswer(s signal.SDP) (applied bool, err error)
	AddCandidate(c signal.Candidate) error
	HasRemoteDescription() bool
	Close() error
}

type LinkFactory func(epoch int, initiator bool, ev LinkEvents) (PeerLink, error)

// Sender is the slice of the signaling transport the engine drives.
type Sender interface {
	Send(env signal.Envelope) bool
	Reconnect()
}

// Handler receives what the engine surfaces upward. NopHandler lets callers
// implement only what they care about.
type Handler interface {
	OnStateChange(s State, detail string)
	OnPeerJoined(p domain.Participant)
	OnPeerLeft(id domain.ParticipantID)
	OnChatMessage(m chat.Message)
	// OnNegotiationError reports description/candidate application and
	// link-creation failures. These are not retried automatically; the user
	// decides via Retry.
	OnNegotiationError(detail string)
}

type NopHandler struct{}

func (NopHandler) OnStateChange(State, string)     {}
func (NopHandler) OnPeerJoined(domain.Participant) {}
func (NopHandler) OnPeerLeft(domain.ParticipantID) {}
func (NopHandler) OnChatMessage(chat.Message)      {}
func (NopHandler) OnNegotiationError(string)       {}

type Config struct {
	// SettleDelay is how long the initiator waits after user_joined before
	// offering, so it does not race the responder's own link setup.
	SettleDelay time.Duration
	// RetryDelay is the pause before a reconnection attempt after
	// connectivity loss.
	RetryDelay time.Duration
}

type Engine struct {
	cfg     Config
	sess    *session.State
	sender  Sender
	newLink LinkFactory
	h       Handler
	log     zerolog.Logger

	events chan func()
	stop   chan struct{}
	done   chan struct{}

	// Everything below is owned by the event loop.
	state  State
	link   PeerLink
	epoch  int
	chatCh *chat.Channel
	settle *time.Timer
	retry  *time.Timer
}

func New(cfg Config, sess *session.State, sender Sender, newLink LinkFactory, h Handler) *Engine {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 3 * time.Second
	}
	if h == nil {
		h = NopHandler{}
	}
	return &Engine{
		cfg:     cfg,
		sess:    sess,
		sender:  sender,
		newLink: newLink,
		h:       h,
		log: log.With().
			Str("module", "engine").
			Str("meeting", string(sess.MeetingID())).
			Str("role", string(sess.Role())).Logger(),
		events: make(chan func(), 128),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		state:  StateIdle,
	}
}

func (e *Engine) Start() {
	go e.run()
}

// Stop halts the event loop. Pending events are drained first so an End
// posted just before Stop still lands.
func (e *Engine) Stop() {
	select {
	case <-e.stop:
		return
	default:
	}
	close(e.stop)
	<-e.done
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case fn := <-e.events:
			fn()
		case <-e.stop:
			for {
				select {
				case fn := <-e.events:
					fn()
				default:
					e.cleanupLink()
					return
				}
			}
		}
	}
}

func (e *Engine) post(fn func()) bool {
	select {
	case <-e.stop:
		return false
	case e.events <- fn:
		return true
	}
}

// State is safe to call from any goroutine.
func (e *Engine) State() State {
	res := make(chan State, 1)
	if !e.post(func() { res <- e.state }) {
		return StateEnded
	}
	select {
	case s := <-res:
		return s
	case <-e.done:
		return StateEnded
	}
}

// --- signal.Handler: transport events enter the loop here ---

func (e *Engine) OnTransportOpen() {
	e.post(func() { e.handleTransportOpen() })
}

func (e *Engine) OnEnvelope(env signal.Envelope) {
	e.post(func() { e.handleEnvelope(env) })
}

func (e *Engine) OnTransportDown(permanent bool) {
	e.post(func() { e.handleTransportDown(permanent) })
}

// --- user intents ---

// Retry re-runs the role-specific reconnection path immediately.
func (e *Engine) Retry() {
	e.post(func() { e.restart() })
}

// End drives the session to ENDED: best-effort user_left, link teardown,
// timers stopped. It blocks until the loop has processed it.
func (e *Engine) End() {
	ack := make(chan struct{})
	if !e.post(func() { e.handleEnd(); close(ack) }) {
		return
	}
	select {
	case <-ack:
	case <-e.done:
	}
}

func (e *Engine) SendChat(content string) error {
	res := make(chan error, 1)
	ok := e.post(func() {
		if e.chatCh == nil {
			res <- chat.ErrNotOpen
			return
		}
		res <- e.chatCh.Send(content)
	})
	if !ok {
		return ErrEnded
	}
	select {
	case err := <-res:
		return err
	case <-e.done:
		return ErrEnded
	}
}

// --- loop-side handlers ---

func (e *Engine) handleTransportOpen() {
	if e.state == StateEnded {
		return
	}
	e.announce()
}

func (e *Engine) announce() {
	local := e.sess.Local()
	e.sender.Send(signal.Envelope{
		Type:      signal.TypeJoinRoom,
		MeetingID: string(e.sess.MeetingID()),
		UserID:    string(local.ID),
		UserName:  local.DisplayName,
		UserType:  string(local.Kind),
	})
}

func (e *Engine) handleEnvelope(env signal.Envelope) {
	if e.state == StateEnded {
		return
	}
	if !env.AcceptFor(string(e.sess.MeetingID()), string(e.sess.Local().ID)) {
		e.log.Debug().Str("type", string(env.Type)).Str("env_meeting", env.MeetingID).
			Str("target", env.TargetUserID).Msg("dropping misdirected envelope")
		return
	}
	ev, err := env.Event()
	if err != nil {
		e.log.Debug().Err(err).Msg("dropping unconvertible envelope")
		return
	}
	switch ev := ev.(type) {
	case signal.UserJoined:
		e.handleUserJoined(ev)
	case signal.UserLeft:
		e.handleUserLeft(ev)
	case signal.Offer:
		e.handleOffer(ev)
	case signal.Answer:
		e.handleAnswer(ev)
	case signal.IceCandidate:
		e.handleCandidate(ev)
	case signal.ErrorSignal:
		e.log.Warn().Str("message", ev.Message).Msg("relay error")
	}
}

func (e *Engine) handleUserJoined(ev signal.UserJoined) {
	selfID := string(e.sess.Local().ID)
	if ev.UserID == selfID {
		return
	}
	if peer, ok := e.sess.Peer(); ok {
		if string(peer.ID) == ev.UserID {
			// Duplicate presence for a known peer is a no-op.
			return
		}
		e.log.Warn().Str("user", ev.UserID).Msg("second peer in a two-party meeting, ignoring")
		return
	}

	peer := e.peerFrom(ev.UserID, ev.UserName, ev.UserType)
	e.sess.SetPeer(peer)
	e.h.OnPeerJoined(peer)
	e.log.Info().Str("peer", ev.UserID).Msg("peer joined")

	if e.state == StateIdle {
		e.setState(StateNegotiating, "peer joined")
	}
	e.sess.Advance(session.StatusNegotiating)

	if e.sess.Role() != domain.RoleInitiator {
		// The responder waits for the initiator's offer.
		return
	}
	if !e.rebuildLink() {
		return
	}
	epoch := e.epoch
	e.settle = time.AfterFunc(e.cfg.SettleDelay, func() {
		e.post(func() { e.settleFired(epoch) })
	})
}

func (e *Engine) settleFired(epoch int) {
	if epoch != e.epoch || e.link == nil || e.state == StateEnded {
		return
	}
	sdp, err := e.link.CreateOffer(false)
	if err != nil {
		e.negotiationFault("create offer", err)
		return
	}
	e.sendDescription(signal.TypeOffer, sdp, false)
}

func (e *Engine) handleOffer(ev signal.Offer) {
	if peer, ok := e.sess.Peer(); !ok || string(peer.ID) != ev.SenderID {
		// An offer can arrive before user_joined; it names the sender, so
		// adopt it as the peer.
		peer := e.peerFrom(ev.SenderID, ev.SenderName, "")
		e.sess.SetPeer(peer)
		e.h.OnPeerJoined(peer)
	}
	if e.state == StateIdle {
		e.setState(StateNegotiating, "offer received")
	}
	e.sess.Advance(session.StatusNegotiating)

	// Any offer, first or repeated, gets a full teardown and rebuild. SDP
	// state is not safely diffable without a renegotiation protocol, so the
	// stale link goes away wholesale.
	e.cleanupLink()
	if !e.rebuildLink() {
		return
	}
	answer, err := e.link.HandleOffer(ev.SDP)
	if err != nil {
		e.negotiationFault("apply offer", err)
		return
	}
	e.flushPending()
	e.sendDescription(signal.TypeAnswer, answer, false)
}

func (e *Engine) handleAnswer(ev signal.Answer) {
	if e.sess.Role() != domain.RoleInitiator || e.link == nil {
		e.log.Debug().Str("sender", ev.SenderID).Msg("dropping unexpected answer")
		return
	}
	applied, err := e.link.HandleAnswer(ev.SDP)
	if err != nil {
		e.negotiationFault("apply answer", err)
		return
	}
	if !applied {
		e.log.Debug().Str("sender", ev.SenderID).Msg("dropping late answer")
		return
	}
	e.flushPending()
}

func (e *Engine) handleCandidate(ev signal.IceCandidate) {
	if e.link != nil && e.link.HasRemoteDescription() {
		if err := e.link.AddCandidate(ev.Candidate); err != nil {
			e.log.Warn().Err(err).Msg("add ice candidate")
		}
		return
	}
	// No remote description yet: park it. It gets applied exactly once,
	// right after the description lands.
	e.sess.AddPending(ev.Candidate)
}

func (e *Engine) flushPending() {
	for _, c := range e.sess.TakePending() {
		if err := e.link.AddCandidate(c); err != nil {
			e.log.Warn().Err(err).Msg("flush pending candidate")
		}
	}
}

func (e *Engine) handleUserLeft(ev signal.UserLeft) {
	peer, ok := e.sess.Peer()
	if !ok || string(peer.ID) != ev.UserID {
		return
	}
	e.log.Info().Str("peer", ev.UserID).Msg("peer left")
	e.cleanupLink()
	e.sess.ClearPeer()
	e.sess.Advance(session.StatusNew)
	e.setState(StateIdle, "peer left")
	e.h.OnPeerLeft(domain.ParticipantID(ev.UserID))
}

func (e *Engine) handleConnectivity(epoch int, connected bool) {
	if epoch != e.epoch || e.state == StateEnded {
		return
	}
	if connected {
		if e.retry != nil {
			e.retry.Stop()
			e.retry = nil
		}
		e.sess.Advance(session.StatusConnected)
		e.setState(StateConnected, "media connected")
		return
	}
	if e.state != StateConnected {
		return
	}
	e.sess.Advance(session.StatusReconnecting)
	e.setState(StateReconnecting, "media connectivity lost")
	e.scheduleRestart()
}

func (e *Engine) handleTransportDown(permanent bool) {
	if e.state == StateEnded {
		return
	}
	if permanent {
		// The transport gave up on its own; only an explicit Retry (or a
		// fresh Send) will redial.
		e.h.OnStateChange(e.state, "signaling disconnected")
		return
	}
	if e.state == StateConnected {
		e.sess.Advance(session.StatusReconnecting)
		e.setState(StateReconnecting, "signaling lost")
		e.scheduleRestart()
	}
}

func (e *Engine) scheduleRestart() {
	if e.retry != nil {
		e.retry.Stop()
	}
	e.retry = time.AfterFunc(e.cfg.RetryDelay, func() {
		e.post(func() { e.restart() })
	})
}

// restart is the role-specific recovery path. The initiator renegotiates in
// place with an ICE restart; the responder brings the signaling transport
// back and re-announces, relying on the initiator to re-offer.
func (e *Engine) restart() {
	if e.state == StateEnded {
		return
	}
	if e.sess.Role() == domain.RoleInitiator {
		if e.link == nil {
			if _, ok := e.sess.Peer(); !ok {
				return
			}
			if !e.rebuildLink() {
				return
			}
		}
		sdp, err := e.link.CreateOffer(true)
		if err != nil {
			e.negotiationFault("create restart offer", err)
			return
		}
		e.sendDescription(signal.TypeOffer, sdp, true)
		return
	}
	e.sender.Reconnect()
	e.announce()
}

func (e *Engine) handleDataChannel(epoch int, dc chat.DataChannel) {
	if epoch != e.epoch {
		_ = dc.Close()
		return
	}
	e.chatCh = chat.NewChannel(dc, string(e.sess.Local().ID), func(m chat.Message) {
		e.post(func() { e.h.OnChatMessage(m) })
	})
}

func (e *Engine) handleEnd() {
	if e.state == StateEnded {
		return
	}
	if _, ok := e.sess.Peer(); ok {
		e.sender.Send(signal.Envelope{
			Type:      signal.TypeUserLeft,
			MeetingID: string(e.sess.MeetingID()),
			UserID:    string(e.sess.Local().ID),
		})
	}
	e.cleanupLink()
	e.sess.ClearPeer()
	e.sess.Advance(session.StatusClosed)
	e.setState(StateEnded, "meeting ended")
}

// --- helpers (loop-side) ---

// cleanupLink is safe to call any number of times; every call bumps the
// epoch so in-flight callbacks from the old link are discarded.
func (e *Engine) cleanupLink() {
	e.epoch++
	if e.settle != nil {
		e.settle.Stop()
		e.settle = nil
	}
	if e.retry != nil {
		e.retry.Stop()
		e.retry = nil
	}
	if e.chatCh != nil {
		e.chatCh.Close()
		e.chatCh = nil
	}
	if e.link != nil {
		_ = e.link.Close()
		e.link = nil
	}
}

func (e *Engine) rebuildLink() bool {
	e.epoch++
	ev := LinkEvents{
		OnLocalCandidate: func(ep int, c signal.Candidate) {
			e.post(func() { e.localCandidate(ep, c) })
		},
		OnConnectivity: func(ep int, connected bool) {
			e.post(func() { e.handleConnectivity(ep, connected) })
		},
		OnDataChannel: func(ep int, dc chat.DataChannel) {
			e.post(func() { e.handleDataChannel(ep, dc) })
		},
	}
	link, err := e.newLink(e.epoch, e.sess.Role() == domain.RoleInitiator, ev)
	if err != nil {
		e.negotiationFault("create peer link", err)
		return false
	}
	e.link = link
	return true
}

func (e *Engine) localCandidate(epoch int, c signal.Candidate) {
	if epoch != e.epoch {
		return
	}
	peer, ok := e.sess.Peer()
	if !ok {
		return
	}
	local := e.sess.Local()
	e.sender.Send(signal.Envelope{
		Type:         signal.TypeICECandidate,
		MeetingID:    string(e.sess.MeetingID()),
		UserID:       string(local.ID),
		TargetUserID: string(peer.ID),
		Candidate:    &c,
	})
}

func (e *Engine) sendDescription(t signal.Type, sdp signal.SDP, restart bool) {
	peer, ok := e.sess.Peer()
	if !ok {
		return
	}
	local := e.sess.Local()
	env := signal.Envelope{
		Type:         t,
		MeetingID:    string(e.sess.MeetingID()),
		UserID:       string(local.ID),
		UserName:     local.DisplayName,
		TargetUserID: string(peer.ID),
		Restart:      restart,
	}
	if t == signal.TypeOffer {
		env.Offer = &sdp
	} else {
		env.Answer = &sdp
	}
	e.sender.Send(env)
}

func (e *Engine) peerFrom(id, name, kind string) domain.Participant {
	k := domain.ParticipantKind(kind)
	if k != domain.KindCandidate && k != domain.KindRecruiter {
		// Two-party meeting: the peer is whatever we are not.
		if e.sess.Local().Kind == domain.KindCandidate {
			k = domain.KindRecruiter
		} else {
			k = domain.KindCandidate
		}
	}
	return domain.Participant{ID: domain.ParticipantID(id), DisplayName: name, Kind: k}
}

func (e *Engine) negotiationFault(op string, err error) {
	e.log.Error().Err(err).Str("op", op).Msg("negotiation fault")
	e.h.OnNegotiationError(op + ": " + err.Error())
}

func (e *Engine) setState(s State, detail string) {
	if e.state == s || e.state == StateEnded {
		return
	}
	e.state = s
	e.log.Info().Str("state", string(s)).Str("detail", detail).Msg("state change")
	e.h.OnStateChange(s, detail)
}
