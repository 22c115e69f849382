package outreach

import (
	"context"
	"fmt"

	"github.com/linkup-app/linkup/internal/metrics"
	"github.com/linkup-app/linkup/pkg/models"
	"github.com/rs/zerolog/log"
)

// DraftFunc is the remote drafting call. Satisfied by
// (*remote.Client).GenerateMessage.
type DraftFunc func(ctx context.Context, dc models.DraftContext) (string, error)

// Drafter produces the outreach message for a completed exchange.
type Drafter struct {
	draft   DraftFunc
	metrics *metrics.Engine
}

// NewDrafter creates a drafter over the given remote call. metrics may be
// nil.
func NewDrafter(draft DraftFunc, m *metrics.Engine) *Drafter {
	return &Drafter{draft: draft, metrics: m}
}

// FallbackMessage is the deterministic message substituted when the remote
// service fails, addressed to the counterpart by name and event name.
func FallbackMessage(contactName, eventName string) string {
	return fmt.Sprintf("Hi %s, great meeting you at %s! Let's stay connected.", contactName, eventName)
}

// Draft asks the remote service for an outreach message. On any failure it
// substitutes the deterministic templated fallback.
func (d *Drafter) Draft(ctx context.Context, dc models.DraftContext) models.DraftedMessage {
	text, err := d.draft(ctx, dc)
	if err == nil && text != "" {
		return models.DraftedMessage{Text: text, Source: models.ProvenanceRemote}
	}

	if err != nil {
		log.Warn().Err(err).Msg("Message drafting failed, using fallback message")
	} else {
		log.Warn().Msg("Message drafting returned empty text, using fallback message")
	}
	if d.metrics != nil {
		d.metrics.Fallback(ctx, "draft")
	}
	return models.DraftedMessage{
		Text:   FallbackMessage(dc.ContactName, dc.EventName),
		Source: models.ProvenanceFallback,
	}
}
