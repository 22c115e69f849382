package models

import "time"

// GeoPoint is an optional device geolocation captured when an event is set.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// EventContext describes where and when an exchange takes place. It is set
// by explicit user action (or defaulted), cached on the device, and
// replicated under the events namespace keyed by name.
type EventContext struct {
	Name      string    `json:"name"`
	Location  *GeoPoint `json:"location,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultEventName is used when no event has been set for the session.
const DefaultEventName = "the event"

// DisplayName returns the event name, or the default when the context is
// nil or unnamed.
func (e *EventContext) DisplayName() string {
	if e == nil || e.Name == "" {
		return DefaultEventName
	}
	return e.Name
}
