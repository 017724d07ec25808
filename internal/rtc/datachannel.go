package rtc

import (
	"github.com/pion/webrtc/v4"

	"github.com/vaishnavt2002/meetcore/internal/chat"
)

// pionDataChannel adapts *webrtc.DataChannel to chat.DataChannel.
type pionDataChannel struct {
	dc *webrtc.DataChannel
}

var _ chat.DataChannel = pionDataChannel{}

func (d pionDataChannel) Label() string { return d.dc.Label() }

func (d pionDataChannel) Send(data []byte) error {
	return d.dc.SendText(string(data))
}

func (d pionDataChannel) OnOpen(f func()) { d.dc.OnOpen(f) }

func (d pionDataChannel) OnMessage(f func(data []byte)) {
	d.dc.OnMessage(func(m webrtc.DataChannelMessage) {
		f(m.Data)
	})
}

func (d pionDataChannel) Close() error { return d.dc.Close() }
