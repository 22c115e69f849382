// Package codec serializes profiles into identity code payloads and parses
// scanned payloads back into counterpart profiles. Pure and synchronous; the
// visual rendering and detection of the code itself live elsewhere.
package codec

import (
	"errors"

	"github.com/goccy/go-json"
	"github.com/linkup-app/linkup/pkg/models"
)

// ErrInvalidPayload indicates a scanned payload that is not a well-formed
// identity code. Scan loops treat it as a skip, not a terminal error.
var ErrInvalidPayload = errors.New("codec: invalid identity code payload")

// Payload is the flat wire structure embedded in a scannable code. No
// identifier is required for round-trip decoding; the id is carried when the
// encoding profile has one.
type Payload struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
	Email       string `json:"email,omitempty"`
	Title       string `json:"title,omitempty"`
	Company     string `json:"company,omitempty"`
}

// Encode serializes a profile into an identity code payload.
func Encode(p models.UserProfile) ([]byte, error) {
	if p.Name == "" {
		return nil, ErrInvalidPayload
	}
	return json.Marshal(Payload{
		ID:          p.ID,
		Name:        p.Name,
		LinkedInURL: p.LinkedInURL,
		Email:       p.Email,
		Title:       p.Title,
		Company:     p.Company,
	})
}

// Decode parses a scanned payload into a counterpart profile. Malformed
// structure or a missing name yields ErrInvalidPayload.
func Decode(data []byte) (models.CounterpartProfile, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return models.CounterpartProfile{}, ErrInvalidPayload
	}
	if p.Name == "" {
		return models.CounterpartProfile{}, ErrInvalidPayload
	}
	return models.CounterpartProfile{
		ID:          p.ID,
		Name:        p.Name,
		LinkedInURL: p.LinkedInURL,
		Email:       p.Email,
		Title:       p.Title,
		Company:     p.Company,
	}, nil
}
