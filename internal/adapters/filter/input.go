package filter

import (
	"strings"
	"time"

	"github.com/mikey/llm-phish-scanner/internal/core"
	"github.com/mikey/llm-phish-scanner/internal/identity"
)

// LayerToggles lets a caller switch layers on or off for one scan.
// Omitted toggles keep the configured default.
type LayerToggles struct {
	Identity   *bool `json:"identity,omitempty"`
	Reputation *bool `json:"reputation,omitempty"`
	Intent     *bool `json:"intent,omitempty"`
}

// Apply overlays the toggles on defaults
func (t *LayerToggles) Apply(defaults core.LayerConfig) core.LayerConfig {
	if t == nil {
		return defaults
	}
	if t.Identity != nil {
		defaults.Identity = *t.Identity
	}
	if t.Reputation != nil {
		defaults.Reputation = *t.Reputation
	}
	if t.Intent != nil {
		defaults.Intent = *t.Intent
	}
	return defaults
}

// ScanInput is the JSON shape the HTTP API and the queue worker accept: either a raw
// RFC 5322 message or its already extracted fields
type ScanInput struct {
	ID           string        `json:"id" validate:"max=256"`
	Raw          string        `json:"raw"`
	Subject      string        `json:"subject" validate:"max=2000"`
	Sender       string        `json:"sender" validate:"max=320"`
	SenderDomain string        `json:"senderDomain" validate:"max=253"`
	Body         string        `json:"body"`
	BodyHTML     string        `json:"bodyHtml"`
	URLs         []string      `json:"urls" validate:"max=200,dive,required,max=2048"`
	ObservedAt   *time.Time    `json:"observedAt,omitempty"`
	Layers       *LayerToggles `json:"layers,omitempty"`
}

// Message builds the scan input, preferring the raw message when one is given.
// Explicit URLs are added to the ones found in the content.
func (in *ScanInput) Message() (*core.Message, error) {
	if strings.TrimSpace(in.Raw) != "" {
		msg, err := ParseRawMessage([]byte(in.Raw), in.Sender)
		if err != nil {
			return nil, err
		}
		if in.ID != "" {
			msg.ID = in.ID
		}
		msg.URLs = append(msg.URLs, in.URLs...)
		return msg, nil
	}

	body := strings.TrimSpace(in.Body)
	if body == "" && in.BodyHTML != "" {
		body = HTMLToText(in.BodyHTML)
	}

	urls := append([]string(nil), in.URLs...)
	urls = append(urls, ExtractURLs(in.Body, in.BodyHTML)...)

	domain := in.SenderDomain
	if domain == "" {
		domain = identity.DomainFromAddress(in.Sender)
	}

	observed := time.Now()
	if in.ObservedAt != nil {
		observed = *in.ObservedAt
	}

	return &core.Message{
		ID:            in.ID,
		Subject:       in.Subject,
		SenderAddress: in.Sender,
		SenderDomain:  domain,
		BodyText:      body,
		URLs:          urls,
		ObservedAt:    observed,
		Headers:       map[string][]string{},
	}, nil
}
