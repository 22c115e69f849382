package models

import "time"

// ConnectionRecord is the durable record of one completed exchange. It is
// written to the backend and the replication channel once and never mutated
// by the engine afterwards.
type ConnectionRecord struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	ContactName     string        `json:"contact_name"`
	ContactLinkedIn string        `json:"contact_linkedin,omitempty"`
	ContactEmail    string        `json:"contact_email,omitempty"`
	ContactTitle    string        `json:"contact_title,omitempty"`
	ContactCompany  string        `json:"contact_company,omitempty"`
	EventName       string        `json:"event_name"`
	EventType       string        `json:"event_type"`
	PersonCategory  string        `json:"person_category"`
	VoiceTranscript string        `json:"voice_transcript,omitempty"`
	Notes           string        `json:"notes,omitempty"`
	AIMessage       string        `json:"ai_message,omitempty"`
	RecordingMode   RecordingMode `json:"recording_mode,omitempty"`
	Location        *GeoPoint     `json:"location,omitempty"`
	ConnectionSent  bool          `json:"connection_sent"`
	CreatedAt       time.Time     `json:"created_at"`
}

// DraftContext aggregates everything the drafting service needs to produce
// an outreach message for one exchange.
type DraftContext struct {
	ContactName     string `json:"contact_name"`
	ContactTitle    string `json:"contact_title"`
	ContactCompany  string `json:"contact_company"`
	EventName       string `json:"event_name"`
	EventType       string `json:"event_type"`
	PersonCategory  string `json:"person_category"`
	VoiceTranscript string `json:"voice_transcript"`
	Notes           string `json:"notes,omitempty"`
}
