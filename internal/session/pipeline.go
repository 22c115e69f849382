package session

import (
	"context"

	"github.com/linkup-app/linkup/internal/outreach"
	"github.com/linkup-app/linkup/pkg/models"
	"github.com/rs/zerolog/log"
)

// pipelineResult is what the async transcribe/draft/commit run hands back
// to the engine, stamped with the epoch it was started under.
type pipelineResult struct {
	epoch      uint64
	transcript models.TranscriptResult
	draft      models.DraftedMessage
	record     models.ConnectionRecord
	commitErr  error
}

// onRecordingFinalized is the recorder completion callback. The microphone
// is already released when it fires. It marks the recording step as
// processing and launches the pipeline with a snapshot of the session data
// it needs, so a concurrent Reset cannot pull state out from under it.
func (e *Engine) onRecordingFinalized(blob []byte, mode models.RecordingMode, elapsed int) {
	e.stopCaptions()

	e.mu.Lock()
	if e.step.Kind != StepRecording || e.step.Counterpart == nil {
		// Reset won the race; the blob is discarded.
		e.mu.Unlock()
		log.Debug().Int("elapsedTicks", elapsed).Msg("Stale recording finalization discarded")
		return
	}

	next := e.step.clone()
	next.Processing = true
	e.setStep(next)

	counterpart := *e.step.Counterpart
	event := e.event
	var userID string
	if e.user != nil {
		userID = e.user.ID
	}
	epoch := e.epoch
	e.mu.Unlock()

	go e.runPipeline(e.ctx, epoch, blob, mode, counterpart, event, userID)
}

// runPipeline executes transcription, drafting, and persistence off the
// engine lock. It runs on the engine's own context rather than any request
// context, so a disconnecting caller cannot abort a pipeline that already
// has the user's audio. The result is applied only if the session epoch is
// unchanged.
func (e *Engine) runPipeline(ctx context.Context, epoch uint64, blob []byte,
	mode models.RecordingMode, counterpart models.CounterpartProfile,
	event *models.EventContext, userID string) {

	transcript := e.deps.Transcriber.Transcribe(ctx, blob, mode, event)

	eventName := event.DisplayName()
	dc := models.DraftContext{
		ContactName:     counterpart.Name,
		ContactTitle:    counterpart.Title,
		ContactCompany:  counterpart.Company,
		EventName:       eventName,
		PersonCategory:  mode.PersonCategory(),
		VoiceTranscript: transcript.Text,
	}
	draft := e.deps.Drafter.Draft(ctx, dc)

	record := models.ConnectionRecord{
		UserID:          userID,
		ContactName:     counterpart.Name,
		ContactLinkedIn: counterpart.LinkedInURL,
		ContactEmail:    counterpart.Email,
		ContactTitle:    counterpart.Title,
		ContactCompany:  counterpart.Company,
		EventName:       eventName,
		PersonCategory:  mode.PersonCategory(),
		VoiceTranscript: transcript.Text,
		AIMessage:       draft.Text,
		RecordingMode:   mode,
	}
	if event != nil {
		record.Location = event.Location
	}

	stored, err := e.deps.Gateway.Commit(ctx, record)
	res := pipelineResult{epoch: epoch, transcript: transcript, draft: draft}
	if err != nil {
		res.record = record
		res.commitErr = err
	} else {
		res.record = stored
	}
	e.applyPipelineResult(ctx, res)
}

// applyPipelineResult moves the session to message-ready, unless the
// session was reset while the pipeline ran, in which case the result is
// discarded.
func (e *Engine) applyPipelineResult(ctx context.Context, res pipelineResult) {
	e.mu.Lock()

	if res.epoch != e.epoch {
		e.mu.Unlock()
		log.Debug().Uint64("resultEpoch", res.epoch).Uint64("epoch", e.epoch).
			Msg("Stale pipeline result discarded")
		return
	}

	rec := res.record
	next := Step{
		Kind:        StepMessageReady,
		Counterpart: e.step.Counterpart,
		Mode:        res.record.RecordingMode,
		Transcript:  &res.transcript,
		Draft:       &res.draft,
		Record:      &rec,
	}
	if res.commitErr != nil {
		next.PersistenceError = res.commitErr.Error()
	}
	e.setStep(next)
	e.mu.Unlock()

	if res.commitErr == nil {
		// The replication channel also delivers this record back to the
		// store; the merge is idempotent per identifier.
		e.deps.Connections.Merge(rec)
		if e.deps.Metrics != nil {
			e.deps.Metrics.SessionCompleted(ctx)
		}
	}
}

// RetryCommit re-attempts the persistence write of a message-ready step
// whose commit failed. The transcript and draft already on the step are
// reused, never recomputed.
func (e *Engine) RetryCommit(ctx context.Context) error {
	e.mu.Lock()
	if e.step.Kind != StepMessageReady || e.step.PersistenceError == "" || e.step.Record == nil {
		e.mu.Unlock()
		return ErrInvalidTransition
	}
	record := *e.step.Record
	epoch := e.epoch
	e.mu.Unlock()

	stored, err := e.deps.Gateway.Commit(ctx, record)

	e.mu.Lock()
	if epoch != e.epoch || e.step.Kind != StepMessageReady {
		e.mu.Unlock()
		return nil
	}
	next := e.step.clone()
	if err != nil {
		next.PersistenceError = err.Error()
		e.setStep(next)
		e.mu.Unlock()
		return err
	}
	next.PersistenceError = ""
	next.Record = &stored
	e.setStep(next)
	e.mu.Unlock()

	e.deps.Connections.Merge(stored)
	if e.deps.Metrics != nil {
		e.deps.Metrics.SessionCompleted(ctx)
	}
	return nil
}

// FallbackPreview returns the deterministic content the pipeline would
// substitute if the remote services were unreachable right now. Used by the
// daemon API to render offline previews.
func (e *Engine) FallbackPreview(mode models.RecordingMode, contactName string) (transcript, message string) {
	e.mu.Lock()
	event := e.event
	e.mu.Unlock()
	return outreach.FallbackTranscript(mode, event), outreach.FallbackMessage(contactName, event.DisplayName())
}
