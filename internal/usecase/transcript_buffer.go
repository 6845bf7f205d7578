package usecase

import (
	"strings"
	"sync"
)

// transcriptBuffer accumulates confirmed segments and tracks the latest
// interim segment. Writes happen on the event loop; reads may come from any
// goroutine.
type transcriptBuffer struct {
	mu      sync.Mutex
	final   strings.Builder
	interim string
}

func newTranscriptBuffer() *transcriptBuffer {
	return &transcriptBuffer{}
}

// Apply records one server segment. Final segments are appended verbatim
// followed by a single space and clear the interim text.
func (b *transcriptBuffer) Apply(text string, isFinal bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if isFinal {
		b.final.WriteString(text)
		b.final.WriteByte(' ')
		b.interim = ""
		return
	}
	b.interim = text
}

func (b *transcriptBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.final.Reset()
	b.interim = ""
}

func (b *transcriptBuffer) Snapshot() (string, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.final.String(), b.interim
}
