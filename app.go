package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"livescribe/internal/bootstrap"
	"livescribe/internal/config"
	"livescribe/internal/domain"
	"livescribe/internal/observability"
	"livescribe/internal/usecase"
)

const (
	eventState      = "livescribe:state"
	eventTranscript = "livescribe:transcript"
	eventError      = "livescribe:error"
)

// App is the Wails application root.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	controller *usecase.SessionController
	scope      *usecase.HostScope
	cfg        config.Config
	logger     zerolog.Logger
	bootErr    error
}

func NewApp() *App {
	return &App{logger: zerolog.Nop()}
}

func (a *App) startup(ctx context.Context) {
	a.ctx, a.cancel = context.WithCancel(ctx)

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorKindStartup, err.Error())
		return
	}

	a.cfg = services.Config
	a.controller = services.Controller
	a.scope = services.Scope
	a.logger = observability.Component(services.Logger, "app")

	if addr := a.cfg.Metrics.Addr; addr != "" {
		go func() {
			if err := observability.ServeMetrics(a.ctx, addr); err != nil {
				a.logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
			}
		}()
	}
}

// domReady mounts the session once the page is live.
func (a *App) domReady(_ context.Context) {
	if a.scope == nil {
		return
	}
	if _, err := a.scope.Mount(); err != nil {
		a.logger.Error().Err(err).Msg("failed to mount session")
		return
	}
	a.SessionStateChanged(domain.SessionStateInactive, false)
}

func (a *App) shutdown(ctx context.Context) {
	if a.scope != nil {
		if err := a.scope.Destroy(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("session shutdown incomplete")
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
}

// Start begins live transcription.
func (a *App) Start() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Start(); err != nil {
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// Stop ends live transcription.
func (a *App) Stop() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Stop(); err != nil {
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// DismissError clears the visible error message.
func (a *App) DismissError() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.controller.DismissError()
}

// SuspendSession releases the microphone and connection while the window
// is hidden.
func (a *App) SuspendSession() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.scope.Suspend()
}

// ResumeSession makes a suspended session startable again.
func (a *App) ResumeSession() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.scope.Resume()
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{
				State:        domain.SessionStateError,
				StateName:    domain.SessionStateError.String(),
				ErrorMessage: a.bootErr.Error(),
			}
		}
		return domain.Status{
			State:     domain.SessionStateInactive,
			StateName: domain.SessionStateInactive.String(),
		}
	}
	return a.controller.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"endpoint":       a.cfg.Transport.URL,
		"captureBackend": a.cfg.Audio.Backend,
		"sampleRate":     fmt.Sprintf("%d", a.cfg.Audio.SampleRate),
		"bufferSize":     fmt.Sprintf("%d", a.cfg.Audio.BufferSize),
		"audioInput":     a.cfg.Audio.InputDevice,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil || a.scope == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, recording bool) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventState, map[string]any{
		"state":     state.String(),
		"label":     stateLabel(state),
		"action":    actionLabel(state),
		"recording": recording,
	})
}

// TranscriptChanged emits the accumulated and interim transcript.
func (a *App) TranscriptChanged(finalText string, interimText string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTranscript, map[string]string{
		"final":   finalText,
		"interim": interimText,
	})
}

// SessionError emits the single visible error message.
func (a *App) SessionError(kind domain.ErrorKind, message string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"kind":    string(kind),
		"message": errorMessage(message),
	})
}

// ErrorCleared tells the frontend to hide the error message.
func (a *App) ErrorCleared() {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{"kind": "", "message": ""})
}

func stateLabel(state domain.SessionState) string {
	switch state {
	case domain.SessionStateInactive:
		return "Ready"
	case domain.SessionStateConnecting:
		return "Connecting..."
	case domain.SessionStateInitializing:
		return "Starting microphone..."
	case domain.SessionStateRecording:
		return "Recording"
	case domain.SessionStateStopping:
		return "Stopping..."
	case domain.SessionStateError:
		return "Error"
	case domain.SessionStateDisconnected:
		return "Disconnected"
	default:
		return ""
	}
}

// actionLabel names the single button the UI offers in each state.
func actionLabel(state domain.SessionState) string {
	switch {
	case state == domain.SessionStateRecording:
		return "Stop Transcription"
	case state.CanStart():
		return "Start Transcription"
	default:
		return ""
	}
}

func errorMessage(message string) string {
	if message == "" {
		return "Unknown error"
	}
	return message
}
