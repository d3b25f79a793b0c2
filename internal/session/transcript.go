package session

import (
	"fmt"
	"strings"
	"sync"

	"github.com/foxseedlab/kikitori/internal/transcriber"
)

// Transcript is the space-joined concatenation of final fragments.
type Transcript struct {
	mu sync.Mutex
	b  strings.Builder
}

// Append adds text and returns the resulting transcript.
func (t *Transcript) Append(text string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.b.Len() > 0 {
		t.b.WriteByte(' ')
	}
	t.b.WriteString(text)
	return t.b.String()
}

func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.b.Reset()
}

func (t *Transcript) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.b.String()
}

// formatFragment prefixes the fragment with its speaker label, if any.
func formatFragment(f transcriber.Fragment) string {
	if f.Speaker == nil {
		return f.Text
	}
	return fmt.Sprintf(speakerLabelFmt, *f.Speaker) + f.Text
}
