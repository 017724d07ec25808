// Package chat is the low-latency text side-channel multiplexed over the
// peer link's data channel. It activates once negotiation completes and
// gives ordered, reliable delivery for free via SCTP.
package chat

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotOpen      = errors.New("chat: channel not open")
	ErrEmptyContent = errors.New("chat: empty content")
)

// DataChannel is the slice of a WebRTC data channel the side-channel needs.
// The rtc package adapts pion's channel to it; tests use an in-memory one.
type DataChannel interface {
	Label() string
	Send(data []byte) error
	OnOpen(f func())
	OnMessage(f func(data []byte))
	Close() error
}

type Message struct {
	Type      string `json:"type"`
	SenderID  string `json:"senderId"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Channel wraps one negotiated data channel. Outbound sends fail cleanly
// until the channel reports open; inbound frames that are not well-formed
// chat messages are dropped.
type Channel struct {
	dc     DataChannel
	selfID string
	open   atomic.Bool
	onMsg  func(Message)
	log    zerolog.Logger
}

func NewChannel(dc DataChannel, selfID string, onMsg func(Message)) *Channel {
	c := &Channel{
		dc:     dc,
		selfID: selfID,
		onMsg:  onMsg,
		log:    log.With().Str("module", "chat").Str("label", dc.Label()).Logger(),
	}
	dc.OnOpen(func() {
		c.open.Store(true)
		c.log.Info().Msg("chat channel open")
	})
	dc.OnMessage(c.handleFrame)
	return c
}

func (c *Channel) Open() bool {
	return c.open.Load()
}

func (c *Channel) Send(content string) error {
	if content == "" {
		return ErrEmptyContent
	}
	if !c.open.Load() {
		return ErrNotOpen
	}
	msg := Message{
		Type:      "chat",
		SenderID:  c.selfID,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.dc.Send(frame)
}

func (c *Channel) handleFrame(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Debug().Err(err).Msg("dropping malformed chat frame")
		return
	}
	if msg.Type != "chat" || msg.Content == "" {
		c.log.Debug().Str("type", msg.Type).Msg("dropping non-chat frame")
		return
	}
	if c.onMsg != nil {
		c.onMsg(msg)
	}
}

func (c *Channel) Close() {
	c.open.Store(false)
	_ = c.dc.Close()
}
