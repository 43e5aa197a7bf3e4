// Package transcript keeps the session transcript and folds it into a report.
package transcript

import (
	"strings"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/satriahrh/parley/domain/entities"
)

// Aggregator is an append-only transcript. Streaming fragments from the same
// speaker build up a pending entry that is appended once the turn closes or
// another speaker takes over. Committed entries never change.
type Aggregator struct {
	clock clock.Clock

	mu      sync.RWMutex
	entries []entities.TranscriptEntry
	pending *entities.TranscriptEntry
}

func NewAggregator(clk clock.Clock) *Aggregator {
	if clk == nil {
		clk = clock.New()
	}
	return &Aggregator{clock: clk}
}

func (a *Aggregator) AppendUser(text string) {
	a.append(entities.SpeakerUser, text)
}

func (a *Aggregator) AppendAgent(text string) {
	a.append(entities.SpeakerAgent, text)
}

func (a *Aggregator) AppendFeedback(text string) {
	a.append(entities.SpeakerFeedback, text)
}

func (a *Aggregator) append(speaker entities.Speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commitLocked()
	a.entries = append(a.entries, entities.TranscriptEntry{
		Speaker:   speaker,
		Text:      text,
		Timestamp: a.clock.Now(),
	})
}

// AppendFragment adds streamed transcription text, extending the pending
// entry when it is from the same speaker.
func (a *Aggregator) AppendFragment(speaker entities.Speaker, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pending != nil && a.pending.Speaker == speaker {
		a.pending.Text = joinFragment(a.pending.Text, text)
		return
	}
	a.commitLocked()
	a.pending = &entities.TranscriptEntry{
		Speaker:   speaker,
		Text:      strings.TrimSpace(text),
		Timestamp: a.clock.Now(),
	}
}

// CloseTurn commits the pending fragment; the next fragment starts a new entry
func (a *Aggregator) CloseTurn() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commitLocked()
}

func (a *Aggregator) commitLocked() {
	if a.pending == nil {
		return
	}
	a.entries = append(a.entries, *a.pending)
	a.pending = nil
}

func joinFragment(prev, next string) string {
	if strings.HasPrefix(next, " ") || strings.HasSuffix(prev, " ") {
		return strings.TrimSpace(prev + next)
	}
	return prev + " " + strings.TrimSpace(next)
}

// Transcript returns a copy with any pending fragment as the last entry;
// callers may keep or modify it freely
func (a *Aggregator) Transcript() []entities.TranscriptEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]entities.TranscriptEntry, len(a.entries), len(a.entries)+1)
	copy(out, a.entries)
	if a.pending != nil {
		out = append(out, *a.pending)
	}
	return out
}

// Committed returns only the entries whose turn has closed
func (a *Aggregator) Committed() []entities.TranscriptEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]entities.TranscriptEntry(nil), a.entries...)
}

func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.pending != nil {
		return len(a.entries) + 1
	}
	return len(a.entries)
}

// CountBy returns how many entries the speaker has, the pending one included
func (a *Aggregator) CountBy(speaker entities.Speaker) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := 0
	for _, e := range a.entries {
		if e.Speaker == speaker {
			n++
		}
	}
	if a.pending != nil && a.pending.Speaker == speaker {
		n++
	}
	return n
}

func (a *Aggregator) BuildReport() entities.StructuredReport {
	return BuildReport(a.Transcript())
}
