package ports

import (
	"context"
	"errors"
	"fmt"

	"livescribe/internal/domain"
)

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceNotFound    = errors.New("no capture device found")
	ErrUnsupportedConfig = errors.New("unsupported capture configuration")
)

// FrameHandler receives one fixed-size buffer of mono PCM samples. It is
// invoked on the device thread.
type FrameHandler func(samples []float32)

// CaptureBackend creates capture contexts at a requested sample rate.
type CaptureBackend interface {
	NewContext(ctx context.Context, sampleRate int) (CaptureContext, error)
}

// CaptureContext is the processing graph for one capture episode.
type CaptureContext interface {
	SampleRate() int
	Suspended() bool
	Resume(ctx context.Context) error
	OpenMicrophone(ctx context.Context) (DeviceStream, error)
	CreateSource(stream DeviceStream) (SourceNode, error)
	CreateFrameTap(frameSize int) (FrameTap, error)
	Closed() bool
	Close() error
}

// DeviceStream is a granted microphone stream.
type DeviceStream interface {
	StopTracks() error
}

// SourceNode feeds device audio into a frame tap.
type SourceNode interface {
	Connect(tap FrameTap) error
	Disconnect() error
}

// FrameTap delivers fixed-size frames to a single handler.
type FrameTap interface {
	SetHandler(handler FrameHandler)
	Disconnect() error
}

// MessageType mirrors websocket frame types.
type MessageType int

const (
	TextMessage   MessageType = 1
	BinaryMessage MessageType = 2
)

// CloseError carries the close code received from the peer.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed (code %d): %s", e.Code, e.Text)
}

// Conn is an established streaming connection.
type Conn interface {
	ReadMessage() (MessageType, []byte, error)
	WriteMessage(messageType MessageType, payload []byte) error
	WriteClose(code int, reason string) error
	Close() error
}

// Transport dials streaming connections.
type Transport interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// EventSink emits session state and transcript updates to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, recording bool)
	TranscriptChanged(finalText string, interimText string)
	SessionError(kind domain.ErrorKind, message string)
	ErrorCleared()
}
