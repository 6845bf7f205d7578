package usecase

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"livescribe/internal/domain"
	"livescribe/internal/eventloop"
	"livescribe/internal/observability"
	"livescribe/internal/ports"
	"livescribe/internal/protocol"
)

const closeReasonPrefix = "Client stopping transcription"

// readyState follows the websocket readyState values.
type readyState int32

const (
	stateConnecting readyState = iota
	stateOpen
	stateClosing
	stateClosed
)

func (s readyState) String() string {
	switch s {
	case stateConnecting:
		return "CONNECTING"
	case stateOpen:
		return "OPEN"
	case stateClosing:
		return "CLOSING"
	case stateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

type channelListener interface {
	channelOpened(id domain.Identity)
	channelMessage(id domain.Identity, msg protocol.Message)
	channelProtocolError(id domain.Identity, err error)
	channelError(id domain.Identity, err error)
	channelClosed(id domain.Identity, code int)
	channelSendFailed(id domain.Identity, err error)
	channelCreateFailed(id domain.Identity, err error)
}

// socketHandlers receive a socket's events on the event loop. A nil handler
// discards the event.
type socketHandlers struct {
	open    func()
	message func(messageType ports.MessageType, payload []byte)
	error   func(err error)
	close   func(code int)
}

// socket is one connection attempt tagged with the identity that opened it.
type socket struct {
	id         domain.Identity
	cancelDial context.CancelFunc

	// conn is set on the loop before state becomes open.
	conn     ports.Conn
	state    atomic.Int32
	handlers socketHandlers
}

func (s *socket) readyState() readyState {
	return readyState(s.state.Load())
}

func (s *socket) setReadyState(state readyState) {
	s.state.Store(int32(state))
}

// channel owns at most one socket at a time. Everything except Open and
// SendFrame runs on the event loop.
type channel struct {
	transport  ports.Transport
	endpoint   string
	loop       *eventloop.Loop
	identities *Identities
	listener   channelListener
	logger     zerolog.Logger
	metrics    *observability.Metrics
	closeGrace time.Duration

	slot atomic.Pointer[socket]
	sent atomic.Uint64
}

func newChannel(
	transport ports.Transport,
	endpoint string,
	loop *eventloop.Loop,
	identities *Identities,
	logger zerolog.Logger,
	metrics *observability.Metrics,
	closeGrace time.Duration,
) *channel {
	return &channel{
		transport:  transport,
		endpoint:   endpoint,
		loop:       loop,
		identities: identities,
		logger:     logger,
		metrics:    metrics,
		closeGrace: closeGrace,
	}
}

func (c *channel) open(id domain.Identity) {
	if previous := c.slot.Load(); previous != nil {
		c.logger.Info().
			Uint64("identity", uint64(previous.id)).
			Str("ready_state", previous.readyState().String()).
			Msg("closing previous socket before opening a new one")
		c.closeSocket(previous, "(superseded)")
	}

	if _, err := url.Parse(c.endpoint); err != nil {
		c.listener.channelCreateFailed(id, err)
		return
	}

	dialCtx, cancel := context.WithCancel(context.Background())
	s := &socket{id: id, cancelDial: cancel}
	s.setReadyState(stateConnecting)
	s.handlers = c.sessionHandlers(s)
	c.slot.Store(s)
	c.sent.Store(0)

	c.logger.Info().Uint64("identity", uint64(id)).Str("endpoint", c.endpoint).Msg("connecting")
	go c.dial(dialCtx, s)
}

func (c *channel) dial(ctx context.Context, s *socket) {
	conn, err := c.transport.Dial(ctx, c.endpoint)
	if err != nil {
		c.loop.Post(func() { c.finish(s, err) })
		return
	}
	if !c.loop.Post(func() { c.connected(s, conn) }) {
		_ = conn.Close()
	}
}

func (c *channel) connected(s *socket, conn ports.Conn) {
	s.cancelDial()
	s.conn = conn
	if s.readyState() != stateConnecting {
		// Closed while the dial was in flight.
		go c.read(s, conn)
		_ = conn.Close()
		return
	}
	s.setReadyState(stateOpen)
	go c.read(s, conn)

	if !c.identities.IsCurrent(s.id) {
		c.logger.Warn().Uint64("identity", uint64(s.id)).Msg("socket opened for an obsolete session; closing")
		c.metrics.StaleEvent("channel_open")
		c.closeSocket(s, "(obsolete)")
		return
	}
	if s.handlers.open != nil {
		s.handlers.open()
	}
}

// read pumps incoming frames to the loop until the connection ends.
func (c *channel) read(s *socket, conn ports.Conn) {
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			c.loop.Post(func() { c.finish(s, err) })
			return
		}
		c.loop.Post(func() {
			if s.handlers.message != nil {
				s.handlers.message(messageType, payload)
			}
		})
	}
}

// finish delivers the terminal error and close events of a socket. A peer
// close frame yields only a close event; anything else is reported as an
// error followed by an abnormal close.
func (c *channel) finish(s *socket, err error) {
	if s.readyState() == stateClosed {
		return
	}
	s.setReadyState(stateClosed)
	s.cancelDial()

	code := domain.CloseAbnormal
	var closeErr *ports.CloseError
	if errors.As(err, &closeErr) {
		code = closeErr.Code
	} else if s.handlers.error != nil {
		s.handlers.error(err)
	}
	if s.handlers.close != nil {
		s.handlers.close(code)
	}
}

func (c *channel) sessionHandlers(s *socket) socketHandlers {
	return socketHandlers{
		open: func() {
			if !c.owns(s, "open") {
				return
			}
			c.logger.Info().Uint64("identity", uint64(s.id)).Msg("connection open")
			c.listener.channelOpened(s.id)
		},
		message: func(messageType ports.MessageType, payload []byte) {
			if !c.owns(s, "message") {
				return
			}
			msg, err := protocol.Decode(messageType == ports.TextMessage, payload)
			switch {
			case errors.Is(err, protocol.ErrNonText):
				c.logger.Warn().Int("bytes", len(payload)).Msg("dropping non-text server message")
			case errors.Is(err, protocol.ErrUnknownShape):
				c.logger.Warn().Str("payload", truncate(string(payload), 256)).Msg("dropping server message with unknown shape")
			case err != nil:
				c.logger.Error().Err(err).Msg("failed to parse server message")
				c.listener.channelProtocolError(s.id, err)
			default:
				c.listener.channelMessage(s.id, msg)
			}
		},
		error: func(err error) {
			if !c.owns(s, "error") {
				return
			}
			c.logger.Error().Err(err).Uint64("identity", uint64(s.id)).Msg("connection error")
			c.listener.channelError(s.id, err)
		},
		close: func(code int) {
			if current := c.slot.Load(); current != nil && current != s {
				c.logger.Warn().Uint64("identity", uint64(s.id)).Int("code", code).Msg("ignoring close of a replaced socket")
				c.metrics.StaleEvent("channel_close")
				return
			}
			c.slot.CompareAndSwap(s, nil)
			c.metrics.ChannelClosed(code)
			c.logger.Info().
				Uint64("identity", uint64(s.id)).
				Int("code", code).
				Uint64("frames_sent", c.sent.Load()).
				Msg("connection closed")
			if !c.identities.IsCurrent(s.id) {
				c.metrics.StaleEvent("channel_close")
				return
			}
			c.listener.channelClosed(s.id, code)
		},
	}
}

// owns reports whether s is still the slot's socket and its identity is
// current.
func (c *channel) owns(s *socket, event string) bool {
	if c.slot.Load() == s && c.identities.IsCurrent(s.id) {
		return true
	}
	c.logger.Debug().Uint64("identity", uint64(s.id)).Str("event", event).Msg("ignoring event from a stale socket")
	c.metrics.StaleEvent("channel_" + event)
	return false
}

// Open reports whether the current socket accepts frames. Safe from any
// goroutine.
func (c *channel) Open() bool {
	s := c.slot.Load()
	return s != nil && s.readyState() == stateOpen
}

// SendFrame encodes and writes one frame. It runs on the device thread; a
// write failure is handed to the loop, which stops the session.
func (c *channel) SendFrame(samples []float32) {
	s := c.slot.Load()
	if s == nil || s.readyState() != stateOpen {
		return
	}
	payload := protocol.EncodeFrame(samples)
	if err := s.conn.WriteMessage(ports.BinaryMessage, payload); err != nil {
		c.loop.Post(func() { c.sendFailed(s, err) })
		return
	}
	c.sent.Add(1)
	c.metrics.FrameSent(len(payload))
}

func (c *channel) sendFailed(s *socket, err error) {
	if !c.owns(s, "send") || s.readyState() != stateOpen {
		return
	}
	c.logger.Error().Err(err).Uint64("identity", uint64(s.id)).Msg("failed to send audio frame")
	c.listener.channelSendFailed(s.id, err)
}

// close shuts down the current socket on behalf of the session identified
// by id.
func (c *channel) close(id domain.Identity, suffix string) {
	s := c.slot.Load()
	if s == nil {
		c.logger.Debug().Uint64("identity", uint64(id)).Msg("no socket to close")
		return
	}
	c.closeSocket(s, suffix)
}

func (c *channel) closeSocket(s *socket, suffix string) {
	reason := strings.TrimSpace(closeReasonPrefix + " " + suffix)
	state := s.readyState()
	c.logger.Info().
		Uint64("identity", uint64(s.id)).
		Str("ready_state", state.String()).
		Str("reason", reason).
		Msg("closing socket")

	if state == stateClosing || state == stateClosed {
		c.slot.CompareAndSwap(s, nil)
		return
	}

	// The session handlers must not observe an explicit close.
	s.handlers = socketHandlers{
		close: func(code int) {
			c.logger.Debug().Uint64("identity", uint64(s.id)).Int("code", code).Msg("explicit close completed")
			c.slot.CompareAndSwap(s, nil)
		},
	}
	s.setReadyState(stateClosing)

	if state == stateConnecting {
		s.cancelDial()
		return
	}

	conn := s.conn
	grace := c.closeGrace
	go func() {
		if err := conn.WriteMessage(ports.TextMessage, protocol.StopCommand()); err != nil {
			c.logger.Warn().Err(err).Msg("failed to send stop command; closing immediately")
			grace = 0
		}
		time.AfterFunc(grace, func() {
			if err := conn.WriteClose(domain.CloseNormal, reason); err != nil {
				c.logger.Debug().Err(err).Msg("failed to write close frame")
			}
			if err := conn.Close(); err != nil {
				c.logger.Debug().Err(err).Msg("failed to close connection")
			}
		})
	}()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
