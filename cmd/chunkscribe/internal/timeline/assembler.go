// Package timeline orders global transcript segments and groups them into
// fixed five-minute windows, then writes the transcript artefacts.
package timeline

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/whisper"
)

// WindowSeconds is the width of one transcript window.
const WindowSeconds = 300

// WindowKey identifies the window [StartMinute, EndMinute).
type WindowKey struct {
	StartMinute int
	EndMinute   int
}

// WindowFor returns the window containing start. Segments are assigned by
// start time only and never split across windows.
func WindowFor(start float64) WindowKey {
	idx := int(math.Floor(start / WindowSeconds))
	return WindowKey{StartMinute: idx * 5, EndMinute: idx*5 + 5}
}

// Key is the file-name form, e.g. "05_10".
func (k WindowKey) Key() string { return fmt.Sprintf("%02d_%02d", k.StartMinute, k.EndMinute) }

// Label is the human form, e.g. "05-10".
func (k WindowKey) Label() string { return fmt.Sprintf("%02d-%02d", k.StartMinute, k.EndMinute) }

// Window holds the segments whose start falls inside it, in timeline order.
type Window struct {
	Key      WindowKey
	Segments []whisper.TranscriptionSegment
}

// Text joins the segment texts with newlines.
func (w Window) Text() string {
	texts := make([]string, len(w.Segments))
	for i, s := range w.Segments {
		texts[i] = s.Text
	}
	return strings.Join(texts, "\n")
}

// Timeline is the globally ordered transcript.
type Timeline struct {
	Segments []whisper.TranscriptionSegment
	Windows  []Window // ascending by start minute, only non-empty windows
}

// Assemble stable-sorts segs by start and buckets them. The input is not modified.
func Assemble(segs []whisper.TranscriptionSegment) Timeline {
	sorted := slices.Clone(segs)
	slices.SortStableFunc(sorted, func(a, b whisper.TranscriptionSegment) int {
		return cmp.Compare(a.Start, b.Start)
	})

	var windows []Window
	for _, s := range sorted {
		key := WindowFor(s.Start)
		if n := len(windows); n > 0 && windows[n-1].Key == key {
			windows[n-1].Segments = append(windows[n-1].Segments, s)
			continue
		}
		windows = append(windows, Window{Key: key, Segments: []whisper.TranscriptionSegment{s}})
	}

	return Timeline{Segments: sorted, Windows: windows}
}

// WindowKeys returns the keys in ascending order.
func (t Timeline) WindowKeys() []string {
	keys := make([]string, len(t.Windows))
	for i, w := range t.Windows {
		keys[i] = w.Key.Key()
	}
	return keys
}

// FullTranscript renders every window as "\n--- MM-MM minutes ---\n<text>\n".
func (t Timeline) FullTranscript() string {
	var b strings.Builder
	for _, w := range t.Windows {
		fmt.Fprintf(&b, "\n--- %s minutes ---\n%s\n", w.Key.Label(), w.Text())
	}
	return b.String()
}

// WindowFileContent renders one window file body.
func WindowFileContent(w Window) string {
	return fmt.Sprintf("Transcript %s minutes:\n%s", w.Key.Label(), w.Text())
}
