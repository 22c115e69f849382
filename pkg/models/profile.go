// Package models contains domain models for linkup.
package models

import "time"

// UserProfile is the local participant's identity as stored by the backend
// and cached on the device.
type UserProfile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	LinkedInURL string    `json:"linkedin_url,omitempty"`
	Email       string    `json:"email,omitempty"`
	Title       string    `json:"title,omitempty"`
	Company     string    `json:"company,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CounterpartProfile is the profile decoded from a scanned identity code.
// It has the same contact shape as UserProfile but carries no identifier
// guarantee; it lives for a single session and is discarded on reset.
type CounterpartProfile struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
	Email       string `json:"email,omitempty"`
	Title       string `json:"title,omitempty"`
	Company     string `json:"company,omitempty"`
}

// CreateUserProfile is the request body for profile creation.
type CreateUserProfile struct {
	Name        string `json:"name"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
	Email       string `json:"email,omitempty"`
	Title       string `json:"title,omitempty"`
	Company     string `json:"company,omitempty"`
}
