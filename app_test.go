package main

import (
	"errors"
	"testing"

	"livescribe/internal/domain"
)

func TestStateLabel(t *testing.T) {
	t.Parallel()

	cases := map[domain.SessionState]string{
		domain.SessionStateInactive:     "Ready",
		domain.SessionStateConnecting:   "Connecting...",
		domain.SessionStateInitializing: "Starting microphone...",
		domain.SessionStateRecording:    "Recording",
		domain.SessionStateStopping:     "Stopping...",
		domain.SessionStateError:        "Error",
		domain.SessionStateDisconnected: "Disconnected",
	}

	for state, want := range cases {
		state := state
		want := want
		t.Run(state.String(), func(t *testing.T) {
			t.Parallel()
			if got := stateLabel(state); got != want {
				t.Fatalf("unexpected label: %q", got)
			}
		})
	}

	if got := stateLabel(domain.SessionState(42)); got != "" {
		t.Fatalf("expected empty label for unknown state, got %q", got)
	}
}

func TestActionLabel(t *testing.T) {
	t.Parallel()

	if got := actionLabel(domain.SessionStateRecording); got != "Stop Transcription" {
		t.Fatalf("unexpected recording action: %q", got)
	}
	for _, state := range []domain.SessionState{
		domain.SessionStateInactive,
		domain.SessionStateError,
		domain.SessionStateDisconnected,
	} {
		if got := actionLabel(state); got != "Start Transcription" {
			t.Fatalf("unexpected action for %s: %q", state, got)
		}
	}
	for _, state := range []domain.SessionState{
		domain.SessionStateConnecting,
		domain.SessionStateInitializing,
		domain.SessionStateStopping,
	} {
		if got := actionLabel(state); got != "" {
			t.Fatalf("expected no action for %s, got %q", state, got)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	if got := errorMessage("WebSocket connection error. Check the backend."); got != "WebSocket connection error. Check the backend." {
		t.Fatalf("unexpected message: %q", got)
	}
	if got := errorMessage(""); got != "Unknown error" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := &App{}
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
}

func TestGetStatusWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := &App{}
	status := app.GetStatus()
	if status.State != domain.SessionStateInactive || status.Recording {
		t.Fatalf("unexpected status: %+v", status)
	}

	app.bootErr = errors.New("boot")
	status = app.GetStatus()
	if status.State != domain.SessionStateError || status.ErrorMessage != "boot" {
		t.Fatalf("unexpected boot status: %+v", status)
	}
}

func TestBindingsRequireReady(t *testing.T) {
	t.Parallel()

	app := &App{bootErr: errors.New("boot")}
	if _, err := app.Start(); err == nil {
		t.Fatalf("expected start to fail before boot")
	}
	if _, err := app.Stop(); err == nil {
		t.Fatalf("expected stop to fail before boot")
	}
	if err := app.DismissError(); err == nil {
		t.Fatalf("expected dismiss to fail before boot")
	}
	if err := app.SuspendSession(); err == nil {
		t.Fatalf("expected suspend to fail before boot")
	}
	if err := app.ResumeSession(); err == nil {
		t.Fatalf("expected resume to fail before boot")
	}
	if info := app.GetRuntimeInfo(); info["error"] != "boot" {
		t.Fatalf("unexpected runtime info: %+v", info)
	}
}
