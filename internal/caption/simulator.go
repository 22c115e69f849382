// Package caption emits placeholder caption strings on a fixed cadence
// while a recording is active. The output is a cosmetic progress indicator
// only: it is unrelated to the eventual transcript and must never feed any
// persisted field.
package caption

import (
	"context"
	"time"

	"github.com/linkup-app/linkup/pkg/models"
)

var introPhrases = []string{
	"Hi, nice to meet you...",
	"I'm from XYZ company...",
	"What brings you to this event?",
	"That sounds interesting...",
}

var conversationPhrases = []string{
	"Let me tell you about our project...",
	"We're working on innovative solutions...",
	"I'd love to hear your thoughts on...",
	"Have you experienced similar challenges?",
	"This could be a great collaboration...",
	"Let's exchange contact information...",
}

// Cadence returns the emission interval for a mode, in tick units.
func Cadence(mode models.RecordingMode) int {
	if mode == models.ModeExtended {
		return 5
	}
	return 3
}

// Simulator streams placeholder captions for one recording session.
type Simulator struct {
	tickUnit time.Duration
}

// New creates a simulator whose tick unit matches the recorder's.
func New(tickUnit time.Duration) *Simulator {
	return &Simulator{tickUnit: tickUnit}
}

// Run emits the mode's phrase list on its cadence until the phrases run out
// or ctx is cancelled. The returned channel closes when emission ends.
func (s *Simulator) Run(ctx context.Context, mode models.RecordingMode) <-chan string {
	phrases := introPhrases
	if mode == models.ModeExtended {
		phrases = conversationPhrases
	}

	out := make(chan string, len(phrases))
	interval := time.Duration(Cadence(mode)) * s.tickUnit

	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for _, phrase := range phrases {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case out <- phrase:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
