package usecase

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"livescribe/internal/domain"
)

// Event drives the session state machine.
type Event int

const (
	EventStart Event = iota + 1
	EventChannelOpened
	EventCaptureReady
	EventStop
	EventFatal
	// EventChannelClosedNormal is a close with the intentional-stop code.
	EventChannelClosedNormal
	// EventChannelLost is a non-normal close while recording.
	EventChannelLost
	// EventChannelClosed is any other close.
	EventChannelClosed
	EventTeardownComplete
	EventSuspend
	EventResume
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventChannelOpened:
		return "channel_opened"
	case EventCaptureReady:
		return "capture_ready"
	case EventStop:
		return "stop"
	case EventFatal:
		return "fatal"
	case EventChannelClosedNormal:
		return "channel_closed_normal"
	case EventChannelLost:
		return "channel_lost"
	case EventChannelClosed:
		return "channel_closed"
	case EventTeardownComplete:
		return "teardown_complete"
	case EventSuspend:
		return "suspend"
	case EventResume:
		return "resume"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// StateMachine holds the authoritative session state. Fire must only be
// called from the event loop; State may be read from any goroutine.
type StateMachine struct {
	state    atomic.Int32
	logger   zerolog.Logger
	onChange func(from, to domain.SessionState)
}

func NewStateMachine(logger zerolog.Logger, onChange func(from, to domain.SessionState)) *StateMachine {
	m := &StateMachine{logger: logger, onChange: onChange}
	m.state.Store(int32(domain.SessionStateInactive))
	return m
}

func (m *StateMachine) State() domain.SessionState {
	return domain.SessionState(m.state.Load())
}

// Fire applies event and returns the resulting state. Events that are not
// valid from the current state leave it unchanged.
func (m *StateMachine) Fire(event Event) domain.SessionState {
	from := m.State()
	to, ok := nextState(from, event)
	if !ok {
		m.logger.Warn().
			Str("state", from.String()).
			Str("event", event.String()).
			Msg("ignoring invalid state transition")
		return from
	}
	if to == from {
		return from
	}

	m.state.Store(int32(to))
	m.logger.Debug().
		Str("from", from.String()).
		Str("to", to.String()).
		Str("event", event.String()).
		Msg("session state changed")
	if m.onChange != nil {
		m.onChange(from, to)
	}
	return to
}

func nextState(from domain.SessionState, event Event) (domain.SessionState, bool) {
	switch event {
	case EventStart:
		if from.CanStart() {
			return domain.SessionStateConnecting, true
		}
	case EventChannelOpened:
		if from == domain.SessionStateConnecting {
			return domain.SessionStateInitializing, true
		}
	case EventCaptureReady:
		if from == domain.SessionStateInitializing {
			return domain.SessionStateRecording, true
		}
	case EventStop:
		if from == domain.SessionStateRecording {
			return domain.SessionStateStopping, true
		}
	case EventFatal:
		if from != domain.SessionStateInactive {
			return domain.SessionStateError, true
		}
	case EventChannelClosedNormal:
		return domain.SessionStateInactive, true
	case EventChannelLost:
		return domain.SessionStateError, true
	case EventChannelClosed:
		if from == domain.SessionStateError {
			return from, true
		}
		return domain.SessionStateInactive, true
	case EventTeardownComplete:
		if from.Active() {
			return domain.SessionStateInactive, true
		}
	case EventSuspend:
		if from == domain.SessionStateInactive {
			return domain.SessionStateDisconnected, true
		}
	case EventResume:
		if from == domain.SessionStateDisconnected {
			return domain.SessionStateInactive, true
		}
	}
	return from, false
}
