package protocol

import (
	"errors"
	"testing"
)

func TestEncodeFrameLittleEndianFloat32(t *testing.T) {
	t.Parallel()

	got := EncodeFrame([]float32{1.0, -0.5})
	want := []byte{0x00, 0x00, 0x80, 0x3f, 0x00, 0x00, 0x00, 0xbf}
	if string(got) != string(want) {
		t.Fatalf("unexpected encoding: % x", got)
	}

	samples, err := DecodeFrame(got)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(samples) != 2 || samples[0] != 1.0 || samples[1] != -0.5 {
		t.Fatalf("unexpected samples: %v", samples)
	}
}

func TestDecodeFrameRejectsPartialSample(t *testing.T) {
	t.Parallel()

	if _, err := DecodeFrame([]byte{1, 2, 3}); !errors.Is(err, ErrOddFrame) {
		t.Fatalf("expected ErrOddFrame, got %v", err)
	}
}

func TestStopCommand(t *testing.T) {
	t.Parallel()

	if got := string(StopCommand()); got != `{"command":"stopStreaming"}` {
		t.Fatalf("unexpected stop command: %s", got)
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		text    bool
		payload string
		want    Message
		wantErr error
	}{
		{name: "interim", text: true, payload: `{"transcript":"hi","isFinal":false}`, want: Message{Kind: KindTranscript, Transcript: "hi"}},
		{name: "final", text: true, payload: `{"transcript":"hi there","isFinal":true}`, want: Message{Kind: KindTranscript, Transcript: "hi there", IsFinal: true}},
		{name: "missing isFinal", text: true, payload: `{"transcript":"x"}`, want: Message{Kind: KindTranscript, Transcript: "x"}},
		{name: "error", text: true, payload: `{"error":"quota exceeded"}`, want: Message{Kind: KindError, Error: "quota exceeded"}},
		{name: "error wins over transcript", text: true, payload: `{"error":"e","transcript":"t"}`, want: Message{Kind: KindError, Error: "e"}},
		{name: "binary", text: false, payload: `{"transcript":"x"}`, wantErr: ErrNonText},
		{name: "invalid json", text: true, payload: `{"transcript":`, wantErr: ErrMalformed},
		{name: "wrong field type", text: true, payload: `{"transcript":5}`, wantErr: ErrMalformed},
		{name: "unknown object", text: true, payload: `{"status":"ok"}`, wantErr: ErrUnknownShape},
		{name: "array", text: true, payload: `[1,2]`, wantErr: ErrUnknownShape},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Decode(tc.text, []byte(tc.payload))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected message: %+v", got)
			}
		})
	}
}
