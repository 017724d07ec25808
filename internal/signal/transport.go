package signal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Status string

const (
	StatusNew        Status = "new"
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	// StatusDisconnected means the retry budget is spent; only an explicit
	// Connect restarts the transport.
	StatusDisconnected Status = "disconnected"
	StatusClosed       Status = "closed"
)

var ErrBackpressure = errors.New("signal: write buffer full")

// Conn is the slice of *websocket.Conn the transport needs. Tests substitute
// an in-memory implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Dialer interface {
	DialContext(ctx context.Context, url string) (Conn, error)
}

type wsDialer struct {
	timeout time.Duration
}

func (d wsDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.timeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Precheck runs before each dial. It exists so the relay never sees a socket
// handshake it would reject: the auth/liveness probe against the profile
// service happens here, and a failure goes through the same retry path as a
// failed dial instead of surfacing to the caller.
type Precheck func(ctx context.Context) error

type Handler interface {
	OnTransportOpen()
	OnEnvelope(env Envelope)
	// OnTransportDown fires on abnormal closure; permanent means the retry
	// budget is exhausted and the transport will not redial on its own.
	OnTransportDown(permanent bool)
}

type nopHandler struct{}

func (nopHandler) OnTransportOpen()     {}
func (nopHandler) OnEnvelope(Envelope)  {}
func (nopHandler) OnTransportDown(bool) {}

type Options struct {
	URL      string
	Dialer   Dialer
	Precheck Precheck

	BackoffBase  time.Duration
	BackoffCap   int
	MaxAttempts  int
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	QueueBytes   int

	Logger *zerolog.Logger
}

// wsSession is one physical connection: conn, its write channel and a done
// latch shared by both pumps.
type wsSession struct {
	conn Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (s *wsSession) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Transport owns one logical control connection to the signaling relay. It
// reconnects with backoff after abnormal closure, queues outbound envelopes
// while down, and drains the queue in order once the socket reopens.
type Transport struct {
	opts Options
	h    Handler
	log  zerolog.Logger

	mu      sync.Mutex
	status  Status
	cur     *wsSession
	queue   *OutboundQueue
	gen     int
	attempt int
	retry   *time.Timer
	ctx     context.Context
}

func NewTransport(opts Options) *Transport {
	if opts.Dialer == nil {
		opts.Dialer = wsDialer{timeout: opts.DialTimeout}
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 5
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.QueueBytes <= 0 {
		opts.QueueBytes = 256 * 1024
	}
	logger := log.With().Str("module", "signal.transport").Logger()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("module", "signal.transport").Logger()
	}
	return &Transport{
		opts:   opts,
		h:      nopHandler{},
		log:    logger,
		status: StatusNew,
		queue:  NewOutboundQueue(opts.QueueBytes),
		ctx:    context.Background(),
	}
}

// SetHandler must be called before Connect.
func (t *Transport) SetHandler(h Handler) {
	if h == nil {
		h = nopHandler{}
	}
	t.mu.Lock()
	t.h = h
	t.mu.Unlock()
}

func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Connect starts (or restarts) the transport. It is a no-op while a
// connection attempt is in flight or the socket is open; from the permanent
// DISCONNECTED state it resets the attempt counter and retries.
func (t *Transport) Connect(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ctx != nil {
		t.ctx = ctx
	}
	switch t.status {
	case StatusConnecting, StatusOpen:
		return
	case StatusClosed:
		// Re-joining after a caller disconnect starts from scratch.
		t.queue = NewOutboundQueue(t.opts.QueueBytes)
	}
	t.attempt = 0
	t.startLocked()
}

func (t *Transport) startLocked() {
	t.status = StatusConnecting
	t.gen++
	go t.establish(t.ctx, t.gen)
}

// Send hands the envelope to the open socket, or queues it and kicks off a
// connection attempt. It never blocks; false means the envelope was dropped
// (closed transport, full write buffer, or queue over budget).
func (t *Transport) Send(env Envelope) bool {
	frame, err := env.Encode()
	if err != nil {
		t.log.Error().Err(err).Str("type", string(env.Type)).Msg("encode envelope")
		return false
	}

	t.mu.Lock()
	switch t.status {
	case StatusClosed:
		t.mu.Unlock()
		return false
	case StatusOpen:
		cur := t.cur
		t.mu.Unlock()
		select {
		case cur.send <- frame:
			return true
		default:
			t.log.Warn().Str("type", string(env.Type)).Msg("send dropped: backpressure")
			return false
		}
	default:
		ok := t.queue.Enqueue(frame)
		if t.status != StatusConnecting {
			t.attempt = 0
			t.startLocked()
		}
		t.mu.Unlock()
		if !ok {
			t.log.Warn().Str("type", string(env.Type)).Msg("send dropped: queue full")
		}
		return ok
	}
}

// Disconnect is the normal, caller-initiated closure. It never triggers the
// reconnect policy.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	if t.status == StatusClosed {
		t.mu.Unlock()
		return
	}
	t.status = StatusClosed
	t.gen++
	cur := t.cur
	t.cur = nil
	if t.retry != nil {
		t.retry.Stop()
		t.retry = nil
	}
	t.queue.Close()
	t.mu.Unlock()

	if cur != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = cur.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = cur.conn.WriteMessage(websocket.CloseMessage, msg)
		cur.close()
	}
	t.log.Info().Msg("transport closed")
}

func (t *Transport) establish(ctx context.Context, gen int) {
	// The dial context doubles as the CONNECTING watchdog: a handshake stuck
	// longer than DialTimeout is abandoned and goes through backoff.
	dctx, cancel := context.WithTimeout(ctx, t.opts.DialTimeout)
	defer cancel()

	if t.opts.Precheck != nil {
		if err := t.opts.Precheck(dctx); err != nil {
			t.log.Warn().Err(err).Msg("auth precheck failed")
			t.dialFailed(gen)
			return
		}
	}

	conn, err := t.opts.Dialer.DialContext(dctx, t.opts.URL)
	if err != nil {
		t.log.Warn().Err(err).Str("url", t.opts.URL).Msg("dial failed")
		t.dialFailed(gen)
		return
	}

	t.mu.Lock()
	if t.gen != gen || t.status != StatusConnecting {
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	cur := &wsSession{
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	t.cur = cur
	t.status = StatusOpen
	t.attempt = 0
	h := t.h
	t.mu.Unlock()

	// Drain queued envelopes before the write pump starts so FIFO order
	// holds across reconnects. Pop only after the write went through.
	for {
		frame, ok := t.queue.Peek()
		if !ok {
			break
		}
		_ = conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			t.log.Warn().Err(err).Msg("drain write failed")
			t.down(gen)
			return
		}
		t.queue.Pop()
	}

	go t.writePump(gen, cur)
	go t.readPump(gen, cur)

	t.log.Info().Int("gen", gen).Msg("transport open")
	h.OnTransportOpen()
}

func (t *Transport) dialFailed(gen int) {
	t.mu.Lock()
	if t.gen != gen || t.status != StatusConnecting {
		t.mu.Unlock()
		return
	}
	t.attempt++
	if t.attempt >= t.opts.MaxAttempts {
		t.status = StatusDisconnected
		h := t.h
		t.mu.Unlock()
		t.log.Error().Int("attempts", t.opts.MaxAttempts).Msg("retries exhausted, transport disconnected")
		h.OnTransportDown(true)
		return
	}
	steps := t.attempt
	if steps > t.opts.BackoffCap {
		steps = t.opts.BackoffCap
	}
	delay := t.opts.BackoffBase * time.Duration(steps)
	t.retry = time.AfterFunc(delay, func() { t.redial(gen) })
	t.mu.Unlock()
	t.log.Info().Int("attempt", t.attempt).Dur("delay", delay).Msg("backing off")
}

func (t *Transport) redial(gen int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen || t.status != StatusConnecting {
		return
	}
	t.gen++
	go t.establish(t.ctx, t.gen)
}

// down handles abnormal closure of an established connection. Stale
// generations (already replaced or caller-closed) are ignored.
func (t *Transport) down(gen int) {
	t.mu.Lock()
	if t.gen != gen || t.cur == nil {
		t.mu.Unlock()
		return
	}
	cur := t.cur
	t.cur = nil
	h := t.h
	t.attempt = 0
	t.startLocked()
	t.mu.Unlock()

	cur.close()
	t.log.Warn().Int("gen", gen).Msg("connection lost, reconnecting")
	h.OnTransportDown(false)
}

func (t *Transport) readPump(gen int, cur *wsSession) {
	for {
		_, data, err := cur.conn.ReadMessage()
		if err != nil {
			t.down(gen)
			return
		}
		env, err := Parse(data)
		if err != nil {
			// Protocol fault: drop silently, never surface.
			t.log.Debug().Err(err).Msg("dropping malformed envelope")
			continue
		}
		t.mu.Lock()
		h := t.h
		t.mu.Unlock()
		h.OnEnvelope(env)
	}
}

func (t *Transport) writePump(gen int, cur *wsSession) {
	for {
		select {
		case <-cur.done:
			return
		case frame := <-cur.send:
			_ = cur.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
			if err := cur.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				t.log.Warn().Err(err).Msg("write failed")
				t.down(gen)
				return
			}
		}
	}
}
