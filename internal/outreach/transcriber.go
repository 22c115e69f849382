// Package outreach wraps the remote transcription and message-drafting
// services. Both wrappers absorb every remote failure into deterministic
// fallback content so the session pipeline never stalls; neither ever
// returns an error past this boundary.
package outreach

import (
	"context"
	"fmt"

	"github.com/linkup-app/linkup/internal/metrics"
	"github.com/linkup-app/linkup/pkg/models"
	"github.com/rs/zerolog/log"
)

// TranscribeFunc is the remote transcription call. Satisfied by
// (*remote.Client).Transcribe.
type TranscribeFunc func(ctx context.Context, blob []byte, filename string) (string, error)

// Transcriber converts finalized audio blobs into transcripts.
type Transcriber struct {
	transcribe TranscribeFunc
	metrics    *metrics.Engine
}

// NewTranscriber creates a transcriber over the given remote call. metrics
// may be nil.
func NewTranscriber(transcribe TranscribeFunc, m *metrics.Engine) *Transcriber {
	return &Transcriber{transcribe: transcribe, metrics: m}
}

// FallbackTranscript is the deterministic text substituted when the remote
// service fails, derived from the recording mode and the event name.
func FallbackTranscript(mode models.RecordingMode, event *models.EventContext) string {
	if mode == models.ModeExtended {
		return fmt.Sprintf("Great conversation at %s. Let's stay in touch!", event.DisplayName())
	}
	return fmt.Sprintf("Hi, nice meeting you at %s!", event.DisplayName())
}

// Transcribe sends the blob to the remote service. On any failure (network,
// service, timeout, empty result) it substitutes the fallback transcript;
// the result always has non-empty text.
func (t *Transcriber) Transcribe(ctx context.Context, blob []byte, mode models.RecordingMode, event *models.EventContext) models.TranscriptResult {
	text, err := t.transcribe(ctx, blob, "recording.wav")
	if err == nil && text != "" {
		return models.TranscriptResult{Text: text, Source: models.ProvenanceRemote}
	}

	if err != nil {
		log.Warn().Err(err).Msg("Transcription failed, using fallback transcript")
	} else {
		log.Warn().Msg("Transcription returned empty text, using fallback transcript")
	}
	if t.metrics != nil {
		t.metrics.Fallback(ctx, "transcribe")
	}
	return models.TranscriptResult{
		Text:   FallbackTranscript(mode, event),
		Source: models.ProvenanceFallback,
	}
}
