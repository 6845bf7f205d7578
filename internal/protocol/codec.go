// Package protocol encodes and decodes the streaming transcription wire format.
//
// Client frames are little-endian float32 mono PCM. The only client control
// message is the stop command. Server frames are JSON text carrying either a
// transcript segment or an error.
package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

const bytesPerSample = 4

var (
	ErrNonText      = errors.New("non-text server message")
	ErrMalformed    = errors.New("malformed server message")
	ErrUnknownShape = errors.New("unknown server message shape")
	ErrOddFrame     = errors.New("frame length is not a multiple of the sample size")
)

// Kind identifies a decoded server message.
type Kind int

const (
	KindTranscript Kind = iota + 1
	KindError
)

// Message is a decoded server message.
type Message struct {
	Kind       Kind
	Transcript string
	IsFinal    bool
	Error      string
}

type stopCommand struct {
	Command string `json:"command"`
}

var stopCommandPayload = mustMarshal(stopCommand{Command: "stopStreaming"})

// EncodeFrame serializes samples as raw little-endian float32.
func EncodeFrame(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*bytesPerSample:], math.Float32bits(s))
	}
	return out
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(payload []byte) ([]float32, error) {
	if len(payload)%bytesPerSample != 0 {
		return nil, ErrOddFrame
	}
	return DecodeFrameInto(make([]float32, len(payload)/bytesPerSample), payload), nil
}

// DecodeFrameInto fills dst from payload and returns the filled prefix.
func DecodeFrameInto(dst []float32, payload []byte) []float32 {
	n := len(payload) / bytesPerSample
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*bytesPerSample:]))
	}
	return dst[:n]
}

// StopCommand returns the control message sent before an intentional close.
func StopCommand() []byte {
	return append([]byte(nil), stopCommandPayload...)
}

// Decode parses one server frame. Binary frames yield ErrNonText, invalid
// JSON yields ErrMalformed and any object that is neither a transcript nor an
// error yields ErrUnknownShape.
func Decode(text bool, payload []byte) (Message, error) {
	if !text {
		return Message{}, ErrNonText
	}

	trimmed := bytes.TrimSpace(payload)
	if !json.Valid(trimmed) {
		return Message{}, ErrMalformed
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, fmt.Errorf("%w: not an object", ErrUnknownShape)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if raw, ok := fields["error"]; ok {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return Message{}, fmt.Errorf("%w: error field is not a string", ErrMalformed)
		}
		return Message{Kind: KindError, Error: text}, nil
	}

	if raw, ok := fields["transcript"]; ok {
		msg := Message{Kind: KindTranscript}
		if err := json.Unmarshal(raw, &msg.Transcript); err != nil {
			return Message{}, fmt.Errorf("%w: transcript field is not a string", ErrMalformed)
		}
		if rawFinal, ok := fields["isFinal"]; ok {
			if err := json.Unmarshal(rawFinal, &msg.IsFinal); err != nil {
				return Message{}, fmt.Errorf("%w: isFinal field is not a boolean", ErrMalformed)
			}
		}
		return msg, nil
	}

	return Message{}, ErrUnknownShape
}

func mustMarshal(v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return payload
}
