package model

import (
	"encoding/json"
	"time"
)

// SourceKind says how a lead signal reached the system.
type SourceKind string

const (
	SourceWebhook SourceKind = "webhook"
	SourceManual  SourceKind = "manual"
	SourceImport  SourceKind = "import"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceWebhook, SourceManual, SourceImport:
		return true
	}
	return false
}

// LeadEvent is one inbound signal. Events are append-only; archival is the
// only change ever made to a stored event.
type LeadEvent struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	ContactID  string          `json:"contact_id"`
	DealID     *string         `json:"deal_id,omitempty"`
	Source     SourceKind      `json:"source"`
	SourceID   string          `json:"source_id,omitempty"`
	SourceName string          `json:"source_name,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
	ReceivedAt time.Time       `json:"received_at"`
	Archived   bool            `json:"archived"`
}
