// Package rtc wraps pion: the peer link a meeting negotiates over, the
// local capture tracks, and the log plumbing.
package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vaishnavt2002/meetcore/internal/chat"
	"github.com/vaishnavt2002/meetcore/internal/signal"
)

type LinkConfig struct {
	STUNServers []string
	ChatLabel   string
	Initiator   bool
	// Epoch tags every callback so the negotiation engine can discard
	// completions that belong to an already-torn-down link.
	Epoch int
}

type LinkCallbacks struct {
	OnLocalCandidate func(epoch int, c signal.Candidate)
	OnConnectivity   func(epoch int, connected bool)
	OnDataChannel    func(epoch int, dc chat.DataChannel)
}

// Link is one media-capable peer connection. The engine drives it from a
// single event loop; the link itself only translates between pion and the
// wire types and reports back through epoch-tagged callbacks.
type Link struct {
	pc    *webrtc.PeerConnection
	epoch int
	log   zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

func NewLink(cfg LinkConfig, tracks *TrackSet, cb LinkCallbacks) (*Link, error) {
	se := webrtc.SettingEngine{}
	se.LoggerFactory = LoggerFactory{Base: log.Logger}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	servers := make([]webrtc.ICEServer, 0, len(cfg.STUNServers))
	for _, u := range cfg.STUNServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	l := &Link{
		pc:    pc,
		epoch: cfg.Epoch,
		log:   log.With().Str("module", "rtc.link").Int("epoch", cfg.Epoch).Logger(),
	}

	if tracks != nil {
		if err := tracks.AttachTo(pc); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}

	epoch := cfg.Epoch
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || cb.OnLocalCandidate == nil {
			return
		}
		cb.OnLocalCandidate(epoch, signal.CandidateFromPion(c.ToJSON()))
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		l.log.Info().Str("ice_state", s.String()).Msg("ICE state")
		if cb.OnConnectivity == nil {
			return
		}
		switch s {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			cb.OnConnectivity(epoch, true)
		case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed:
			cb.OnConnectivity(epoch, false)
		}
	})

	if cfg.Initiator {
		// The initiator opens the chat channel at link creation; the
		// responder receives it through OnDataChannel.
		dc, err := pc.CreateDataChannel(cfg.ChatLabel, nil)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("create data channel: %w", err)
		}
		if cb.OnDataChannel != nil {
			cb.OnDataChannel(epoch, pionDataChannel{dc: dc})
		}
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if cb.OnDataChannel != nil {
				cb.OnDataChannel(epoch, pionDataChannel{dc: dc})
			}
		})
	}

	return l, nil
}

func (l *Link) Epoch() int { return l.epoch }

// CreateOffer produces an offer and installs it as the local description.
// With restart set the offer carries an ICE restart, re-running path
// negotiation on the existing session.
func (l *Link) CreateOffer(restart bool) (signal.SDP, error) {
	var opts *webrtc.OfferOptions
	if restart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := l.pc.CreateOffer(opts)
	if err != nil {
		return signal.SDP{}, fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return signal.SDP{}, fmt.Errorf("set local offer: %w", err)
	}
	return signal.SDPFromPion(offer), nil
}

// HandleOffer applies the remote offer and answers it.
func (l *Link) HandleOffer(s signal.SDP) (signal.SDP, error) {
	desc, err := s.ToPion()
	if err != nil {
		return signal.SDP{}, err
	}
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return signal.SDP{}, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return signal.SDP{}, fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return signal.SDP{}, fmt.Errorf("set local answer: %w", err)
	}
	return signal.SDPFromPion(answer), nil
}

// HandleAnswer applies a remote answer if the link is still waiting for one.
// applied=false (no error) means the answer was late or duplicated and was
// ignored.
func (l *Link) HandleAnswer(s signal.SDP) (applied bool, err error) {
	if l.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return false, nil
	}
	desc, err := s.ToPion()
	if err != nil {
		return false, err
	}
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return false, fmt.Errorf("set remote answer: %w", err)
	}
	return true, nil
}

func (l *Link) AddCandidate(c signal.Candidate) error {
	return l.pc.AddICECandidate(c.ToPion())
}

func (l *Link) HasRemoteDescription() bool {
	return l.pc.RemoteDescription() != nil
}

func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.pc.Close()
		if l.closeErr != nil {
			l.log.Error().Err(l.closeErr).Msg("close link")
		} else {
			l.log.Info().Msg("link closed")
		}
	})
	return l.closeErr
}
