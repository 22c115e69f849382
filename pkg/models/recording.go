package models

// RecordingMode selects the deadline for a timed audio capture.
type RecordingMode string

const (
	// ModeShort is a brief introduction capture, 30 ticks.
	ModeShort RecordingMode = "introduction"
	// ModeExtended is a full conversation capture, 120 ticks.
	ModeExtended RecordingMode = "conversation"
)

// DeadlineTicks returns the configured deadline for the mode, in ticks.
func (m RecordingMode) DeadlineTicks() int {
	if m == ModeExtended {
		return 120
	}
	return 30
}

// PersonCategory returns the mode-derived categorical tag attached to the
// connection.
func (m RecordingMode) PersonCategory() string {
	if m == ModeExtended {
		return "Potential Collaborator"
	}
	return "New Connection"
}

// Valid reports whether m is a known recording mode.
func (m RecordingMode) Valid() bool {
	return m == ModeShort || m == ModeExtended
}

// Provenance distinguishes remote-service-derived content from deterministic
// local fallback content.
type Provenance string

const (
	ProvenanceRemote   Provenance = "remote"
	ProvenanceFallback Provenance = "fallback"
)

// TranscriptResult is the outcome of transcribing one recording session.
// Immutable once created.
type TranscriptResult struct {
	Text   string     `json:"text"`
	Source Provenance `json:"source"`
}

// DraftedMessage is the outcome of drafting an outreach message from a
// transcript. Immutable once created.
type DraftedMessage struct {
	Text   string     `json:"text"`
	Source Provenance `json:"source"`
}
