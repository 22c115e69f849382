// Package session is the top-level coordinator of one networking exchange:
// it owns the current step, drives the capture, recording, transcription,
// drafting, and persistence components, and guarantees that device
// resources are released on every exit path.
package session

import "github.com/linkup-app/linkup/pkg/models"

// StepKind names the externally visible steps of the exchange.
type StepKind string

const (
	StepHome            StepKind = "home"
	StepProfileSetup    StepKind = "profile-setup"
	StepEventSetup      StepKind = "event-setup"
	StepScanning        StepKind = "scanning"
	StepModeSelection   StepKind = "mode-selection"
	StepRecording       StepKind = "recording"
	StepMessageReady    StepKind = "message-ready"
	StepConnectionsList StepKind = "connections-list"
)

// Step is a tagged value carrying exactly the data valid for its kind.
// Transition functions take the current step plus an event and produce the
// next step; nothing here captures mutable session state.
type Step struct {
	Kind StepKind `json:"kind"`

	// Counterpart is set from mode-selection onwards.
	Counterpart *models.CounterpartProfile `json:"counterpart,omitempty"`

	// Mode is set from the mode choice onwards.
	Mode models.RecordingMode `json:"mode,omitempty"`

	// Processing marks a recording step whose capture has finalized and
	// whose transcription/drafting pipeline is still in flight.
	Processing bool `json:"processing,omitempty"`

	// Transcript and Draft are set at message-ready.
	Transcript *models.TranscriptResult `json:"transcript,omitempty"`
	Draft      *models.DraftedMessage   `json:"draft,omitempty"`

	// Record is the committed connection, set at message-ready when the
	// persistence write succeeded.
	Record *models.ConnectionRecord `json:"record,omitempty"`

	// PersistenceError surfaces a failed connection write at
	// message-ready. Transcript and Draft remain populated so nothing the
	// user produced is lost.
	PersistenceError string `json:"persistence_error,omitempty"`
}

func home() Step { return Step{Kind: StepHome} }

// clone returns a detached copy safe to hand to listeners.
func (s Step) clone() Step {
	out := s
	if s.Counterpart != nil {
		cp := *s.Counterpart
		out.Counterpart = &cp
	}
	if s.Transcript != nil {
		tr := *s.Transcript
		out.Transcript = &tr
	}
	if s.Draft != nil {
		dr := *s.Draft
		out.Draft = &dr
	}
	if s.Record != nil {
		rec := *s.Record
		out.Record = &rec
	}
	return out
}
