// Package publish announces completed ingestions to downstream consumers.
package publish

import (
	"context"
	"time"
)

// LeadIngested is emitted once per completed ingestion.
type LeadIngested struct {
	TenantID       string    `json:"tenant_id"`
	ContactID      string    `json:"contact_id"`
	LeadEventID    string    `json:"lead_event_id"`
	DealID         string    `json:"deal_id,omitempty"`
	Source         string    `json:"source"`
	SourceID       string    `json:"source_id,omitempty"`
	ContactCreated bool      `json:"contact_created"`
	DealCreated    bool      `json:"deal_created"`
	ReceivedAt     time.Time `json:"received_at"`
}

// Publisher delivers LeadIngested events.
type Publisher interface {
	Publish(ctx context.Context, ev LeadIngested) error
	Close()
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, LeadIngested) error { return nil }

// Close implements Publisher.
func (Nop) Close() {}
