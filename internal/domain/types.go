package domain

import "fmt"

// SessionState models the recording session lifecycle.
type SessionState int

const (
	SessionStateInactive SessionState = iota
	SessionStateConnecting
	SessionStateInitializing
	SessionStateRecording
	SessionStateStopping
	SessionStateError
	SessionStateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case SessionStateInactive:
		return "inactive"
	case SessionStateConnecting:
		return "connecting"
	case SessionStateInitializing:
		return "initializing"
	case SessionStateRecording:
		return "recording"
	case SessionStateStopping:
		return "stopping"
	case SessionStateError:
		return "error"
	case SessionStateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// CanStart reports whether a new session may begin from this state.
func (s SessionState) CanStart() bool {
	switch s {
	case SessionStateInactive, SessionStateError, SessionStateDisconnected:
		return true
	default:
		return false
	}
}

// Active reports whether the state holds (or is acquiring) a connection.
func (s SessionState) Active() bool {
	switch s {
	case SessionStateConnecting, SessionStateInitializing, SessionStateRecording, SessionStateStopping:
		return true
	default:
		return false
	}
}

// Identity distinguishes one session (re)initialization from every other.
// Zero is never minted.
type Identity uint64

// ErrorKind classifies user-visible failures.
type ErrorKind string

const (
	ErrorKindPermission ErrorKind = "permission"
	ErrorKindDevice     ErrorKind = "device"
	ErrorKindTransport  ErrorKind = "transport"
	ErrorKindProtocol   ErrorKind = "protocol"
	ErrorKindServer     ErrorKind = "server"
	ErrorKindStartup    ErrorKind = "startup"
)

// Close codes used on the streaming channel.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// Status summarizes the session for UI collaborators.
type Status struct {
	State        SessionState `json:"-"`
	StateName    string       `json:"state"`
	Recording    bool         `json:"recording"`
	FinalText    string       `json:"finalText"`
	InterimText  string       `json:"interimText"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	SampleRate   int          `json:"sampleRate,omitempty"`
}
