package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"livescribe/internal/domain"
	"livescribe/internal/eventloop"
	"livescribe/internal/observability"
	"livescribe/internal/ports"
	"livescribe/internal/protocol"
)

const (
	msgPermissionDenied = "Microphone access denied. Please grant permission in your system settings."
	msgDeviceNotFound   = "No microphone found. Please ensure a microphone is connected and enabled."
	msgSocketError      = "WebSocket connection error. Check the backend."
	msgSocketCreate     = "Could not create WebSocket connection."
	msgSendFailed       = "Connection lost while sending audio."
	msgBadResponse      = "Failed to process server response."
)

var ErrControllerClosed = errors.New("session controller is shut down")

// Config controls the session. Values are fixed at construction.
type Config struct {
	Endpoint     string
	SampleRate   int
	FrameSize    int
	CloseGrace   time.Duration
	CleanupGrace time.Duration
}

// SessionController wires the state machine, capture pipeline, channel and
// coordinator. Public methods may be called from any goroutine; they run on
// the event loop.
type SessionController struct {
	loop       *eventloop.Loop
	identities *Identities
	events     ports.EventSink
	logger     zerolog.Logger
	metrics    *observability.Metrics
	cfg        Config

	machine     *StateMachine
	transcript  *transcriptBuffer
	pipeline    *capturePipeline
	channel     *channel
	coordinator *coordinator

	sampleRate atomic.Int64

	errMu      sync.Mutex
	errMessage string

	// Owned by the event loop.
	sessionLog     zerolog.Logger
	recordingSince time.Time
}

func NewSessionController(
	loop *eventloop.Loop,
	identities *Identities,
	backend ports.CaptureBackend,
	transport ports.Transport,
	events ports.EventSink,
	logger zerolog.Logger,
	metrics *observability.Metrics,
	cfg Config,
) *SessionController {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 2048
	}
	if metrics == nil {
		metrics = observability.NewMetrics()
	}

	c := &SessionController{
		loop:       loop,
		identities: identities,
		events:     events,
		logger:     observability.Component(logger, "session"),
		metrics:    metrics,
		cfg:        cfg,
		transcript: newTranscriptBuffer(),
	}
	c.sessionLog = c.logger
	c.machine = NewStateMachine(observability.Component(logger, "state"), c.stateChanged)
	c.pipeline = newCapturePipeline(
		backend,
		loop,
		identities,
		observability.Component(logger, "capture"),
		metrics,
		cfg.SampleRate,
		cfg.FrameSize,
	)
	c.channel = newChannel(
		transport,
		cfg.Endpoint,
		loop,
		identities,
		observability.Component(logger, "channel"),
		metrics,
		cfg.CloseGrace,
	)
	c.coordinator = &coordinator{
		loop:       loop,
		identities: identities,
		pipeline:   c.pipeline,
		channel:    c.channel,
		logger:     observability.Component(logger, "coordinator"),
		metrics:    metrics,
		grace:      cfg.CleanupGrace,
		onComplete: c.teardownComplete,
	}
	c.pipeline.sink = c.channel
	c.pipeline.listener = c
	c.channel.listener = c
	c.sampleRate.Store(int64(cfg.SampleRate))
	return c
}

// Start begins a new session from Inactive, Error or Disconnected.
func (c *SessionController) Start() error {
	return c.call(c.start)
}

// Stop ends the current session.
func (c *SessionController) Stop() error {
	return c.call(c.stop)
}

// DismissError clears the shown error without touching session state.
func (c *SessionController) DismissError() error {
	return c.call(func() {
		if c.clearError() {
			c.events.ErrorCleared()
		}
	})
}

// Status returns a snapshot for UI collaborators.
func (c *SessionController) Status() domain.Status {
	state := c.machine.State()
	finalText, interimText := c.transcript.Snapshot()
	c.errMu.Lock()
	message := c.errMessage
	c.errMu.Unlock()

	return domain.Status{
		State:        state,
		StateName:    state.String(),
		Recording:    c.pipeline.isActive(),
		FinalText:    finalText,
		InterimText:  interimText,
		ErrorMessage: message,
		SampleRate:   int(c.sampleRate.Load()),
	}
}

func (c *SessionController) call(fn func()) error {
	if err := c.loop.Call(fn); err != nil {
		if errors.Is(err, eventloop.ErrClosed) {
			return ErrControllerClosed
		}
		return err
	}
	return nil
}

func (c *SessionController) start() {
	state := c.machine.State()
	if !state.CanStart() {
		c.logger.Warn().Str("state", state.String()).Msg("start ignored; session already active")
		return
	}
	if c.clearError() {
		c.events.ErrorCleared()
	}

	// A socket error leaves capture to the close event; release it here in
	// case the close never arrived.
	c.pipeline.teardown()

	id := c.identities.Mint()
	c.sessionLog = c.logger.With().
		Uint64("identity", uint64(id)).
		Str("session_id", observability.NewCorrelationID()).
		Logger()
	c.sessionLog.Info().Str("endpoint", c.cfg.Endpoint).Msg("starting session")

	c.transcript.Reset()
	c.emitTranscript()
	c.sampleRate.Store(int64(c.cfg.SampleRate))
	c.metrics.SessionStarted()

	c.machine.Fire(EventStart)
	c.channel.open(id)
}

func (c *SessionController) stop() {
	id := c.identities.Current()
	if c.machine.State() != domain.SessionStateRecording {
		c.sessionLog.Debug().Str("state", c.machine.State().String()).Msg("stop while not recording; tearing down anyway")
		c.coordinator.teardown(id, "(stop while not recording)")
		return
	}
	c.sessionLog.Info().Msg("stopping session")
	// Leaving Recording clears the active flag before any resource is
	// released.
	c.machine.Fire(EventStop)
	c.coordinator.teardown(id, "(user stop)")
}

func (c *SessionController) teardownComplete() {
	c.pipeline.setActive(false)
	if c.machine.State().Active() {
		c.machine.Fire(EventTeardownComplete)
	}
}

// fail shows message, moves to Error and tears the session down.
func (c *SessionController) fail(id domain.Identity, kind domain.ErrorKind, message string, reason string) {
	c.showError(kind, message)
	c.machine.Fire(EventFatal)
	c.coordinator.teardown(id, reason)
}

func (c *SessionController) stateChanged(from, to domain.SessionState) {
	c.pipeline.setActive(to == domain.SessionStateRecording)
	c.metrics.StateChanged(to.String())
	if from == domain.SessionStateRecording && !c.recordingSince.IsZero() {
		c.metrics.RecordingEnded(time.Since(c.recordingSince))
		c.recordingSince = time.Time{}
	}
	if to == domain.SessionStateRecording {
		c.recordingSince = time.Now()
	}
	c.events.SessionStateChanged(to, to == domain.SessionStateRecording)
}

func (c *SessionController) showError(kind domain.ErrorKind, message string) {
	c.errMu.Lock()
	c.errMessage = message
	c.errMu.Unlock()
	c.metrics.Error(string(kind))
	c.events.SessionError(kind, message)
}

func (c *SessionController) clearError() bool {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.errMessage == "" {
		return false
	}
	c.errMessage = ""
	return true
}

func (c *SessionController) errorShown() bool {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.errMessage != ""
}

func (c *SessionController) emitTranscript() {
	finalText, interimText := c.transcript.Snapshot()
	c.events.TranscriptChanged(finalText, interimText)
}

func (c *SessionController) channelOpened(id domain.Identity) {
	if c.machine.Fire(EventChannelOpened) != domain.SessionStateInitializing {
		return
	}
	c.pipeline.initialize(id)
}

func (c *SessionController) channelMessage(id domain.Identity, msg protocol.Message) {
	switch msg.Kind {
	case protocol.KindError:
		c.sessionLog.Error().Str("server_error", msg.Error).Msg("server reported an error")
		c.fail(id, domain.ErrorKindServer, "Server error: "+msg.Error, "(server error)")
	case protocol.KindTranscript:
		c.transcript.Apply(msg.Transcript, msg.IsFinal)
		c.emitTranscript()
	}
}

func (c *SessionController) channelProtocolError(_ domain.Identity, _ error) {
	c.showError(domain.ErrorKindProtocol, msgBadResponse)
}

func (c *SessionController) channelError(_ domain.Identity, _ error) {
	c.showError(domain.ErrorKindTransport, msgSocketError)
	c.machine.Fire(EventFatal)
	c.pipeline.setActive(false)
}

func (c *SessionController) channelClosed(id domain.Identity, code int) {
	wasRecording := c.pipeline.isActive()
	c.pipeline.setActive(false)
	c.pipeline.teardown()

	switch {
	case code == domain.CloseNormal:
		c.machine.Fire(EventChannelClosedNormal)
	case wasRecording:
		c.showError(domain.ErrorKindTransport, fmt.Sprintf("Connection lost unexpectedly (code %d).", code))
		c.machine.Fire(EventChannelLost)
	default:
		if !c.errorShown() {
			c.showError(domain.ErrorKindTransport, fmt.Sprintf("Connection closed (code %d).", code))
		}
		c.machine.Fire(EventChannelClosed)
	}
	c.sessionLog.Info().
		Uint64("closed_identity", uint64(id)).
		Int("code", code).
		Bool("was_recording", wasRecording).
		Str("state", c.machine.State().String()).
		Msg("session channel closed")
}

func (c *SessionController) channelSendFailed(id domain.Identity, _ error) {
	if c.machine.State() != domain.SessionStateRecording {
		return
	}
	c.fail(id, domain.ErrorKindTransport, msgSendFailed, "(send failed)")
}

func (c *SessionController) channelCreateFailed(_ domain.Identity, err error) {
	c.sessionLog.Error().Err(err).Msg("could not create websocket connection")
	c.showError(domain.ErrorKindTransport, msgSocketCreate)
	c.machine.Fire(EventFatal)
}

func (c *SessionController) captureReady(id domain.Identity, sampleRate int) {
	c.sampleRate.Store(int64(sampleRate))
	if c.machine.Fire(EventCaptureReady) != domain.SessionStateRecording {
		c.sessionLog.Warn().Str("state", c.machine.State().String()).Msg("capture became ready outside initialization; releasing")
		c.pipeline.teardown()
		return
	}
	c.sessionLog.Info().Int("sample_rate", sampleRate).Msg("recording")
}

func (c *SessionController) captureFailed(id domain.Identity, err error) {
	kind, message := captureErrorMessage(err, c.cfg.SampleRate)
	c.fail(id, kind, message, "(audio init failed)")
}

func captureErrorMessage(err error, sampleRate int) (domain.ErrorKind, string) {
	switch {
	case errors.Is(err, ports.ErrPermissionDenied):
		return domain.ErrorKindPermission, msgPermissionDenied
	case errors.Is(err, ports.ErrDeviceNotFound):
		return domain.ErrorKindDevice, msgDeviceNotFound
	case errors.Is(err, ports.ErrUnsupportedConfig):
		return domain.ErrorKindDevice, fmt.Sprintf("Audio configuration not supported (requested sample rate %d Hz).", sampleRate)
	default:
		return domain.ErrorKindDevice, fmt.Sprintf("Error initializing audio: %v.", err)
	}
}

// remount invalidates every callback of the previous mount. Resources still
// held by it are released first.
func (c *SessionController) remount() domain.Identity {
	if c.machine.State().Active() {
		c.coordinator.teardown(c.identities.Current(), "(remount)")
	}
	id := c.identities.Mint()
	c.logger.Debug().Uint64("identity", uint64(id)).Msg("mounted")
	return id
}

func (c *SessionController) teardownFinal() {
	c.coordinator.teardown(c.identities.Current(), "(final)")
}

func (c *SessionController) suspend() {
	if c.machine.State().Active() {
		c.coordinator.teardown(c.identities.Current(), "(suspend)")
	}
	c.machine.Fire(EventSuspend)
}

func (c *SessionController) resume() {
	if c.machine.Fire(EventResume) == domain.SessionStateInactive {
		c.identities.Mint()
	}
}

// Shutdown tears the session down and stops the event loop once the close
// grace has passed or ctx ends.
func (c *SessionController) Shutdown(ctx context.Context) error {
	if err := c.call(c.teardownFinal); err != nil {
		return err
	}
	wait := c.cfg.CloseGrace + c.cfg.CleanupGrace
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	c.loop.Close()
	return nil
}
