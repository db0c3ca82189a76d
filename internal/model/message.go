package model

import (
	"encoding/json"
	"time"
)

type Channel string

const (
	ChannelPush     Channel = "push"
	ChannelWhatsApp Channel = "whatsapp"
)

func (c Channel) Valid() bool {
	return c == ChannelPush || c == ChannelWhatsApp
}

type Status string

const (
	Pending Status = "pending"
	// Claimed rows belong to a running worker until LeaseExpiresAt.
	Claimed Status = "claimed"
	Sent    Status = "sent"
	Failed  Status = "failed"
)

func (s Status) Terminal() bool {
	return s == Sent || s == Failed
}

func (s Status) Valid() bool {
	switch s {
	case Pending, Claimed, Sent, Failed:
		return true
	}
	return false
}

type OutboxMessage struct {
	ID       string
	TenantID string
	Channel  Channel
	MemberID string
	DeviceID *string
	Phone    string
	Payload  json.RawMessage
	Status   Status

	Error          *string
	ClaimedBy      *string
	LeaseExpiresAt *time.Time
	CreatedAt      time.Time
	SentAt         *time.Time
}

// PushPayload is the payload shape of push channel messages.
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// WhatsAppPayload carries either a free-form Body or a provider template
// reference with its variables.
type WhatsAppPayload struct {
	Body       string            `json:"body,omitempty"`
	TemplateID string            `json:"template_id,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
}

func (p WhatsAppPayload) IsTemplate() bool {
	return p.TemplateID != ""
}
