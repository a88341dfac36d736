// Package leadevent appends the immutable record of every inbound signal.
package leadevent

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-intake/internal/model"
)

// EventStore is the persistence the recorder needs.
type EventStore interface {
	InsertLeadEvent(ctx context.Context, ev *model.LeadEvent) error
	AttachLeadEventDeal(ctx context.Context, tenantID, eventID, dealID string) error
}

// Clock supplies received_at timestamps.
type Clock interface {
	Now() time.Time
}

// RecordInput describes one inbound signal.
type RecordInput struct {
	TenantID   string
	ContactID  string
	Source     model.SourceKind
	SourceID   string
	SourceName string
	Payload    json.RawMessage
	// OccurredAt is when the signal happened upstream. Zero means unknown,
	// in which case the receive time is used.
	OccurredAt time.Time
}

// Recorder writes one lead event per call. Identical payloads are recorded
// as many times as they arrive.
type Recorder struct {
	store EventStore
	clock Clock

	mu      sync.Mutex
	entropy io.Reader
}

// NewRecorder creates a Recorder.
func NewRecorder(s EventStore, clk Clock) *Recorder {
	return &Recorder{
		store:   s,
		clock:   clk,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Record stores the event and returns it with its id and receive time set.
func (r *Recorder) Record(ctx context.Context, in RecordInput) (*model.LeadEvent, error) {
	if in.TenantID == "" || in.ContactID == "" {
		return nil, eris.New("leadevent: tenant and contact are required")
	}
	if !in.Source.Valid() {
		return nil, eris.Errorf("leadevent: unknown source kind %q", in.Source)
	}
	payload := in.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if !json.Valid(payload) {
		return nil, eris.New("leadevent: payload is not valid json")
	}

	id, received, err := r.next()
	if err != nil {
		return nil, err
	}
	occurred := in.OccurredAt.UTC()
	if in.OccurredAt.IsZero() {
		occurred = received
	}

	ev := &model.LeadEvent{
		ID:         id,
		TenantID:   in.TenantID,
		ContactID:  in.ContactID,
		Source:     in.Source,
		SourceID:   in.SourceID,
		SourceName: in.SourceName,
		Payload:    payload,
		OccurredAt: occurred,
		ReceivedAt: received,
	}
	if err := r.store.InsertLeadEvent(ctx, ev); err != nil {
		return nil, eris.Wrap(err, "leadevent: record")
	}
	return ev, nil
}

// AttachDeal links a recorded event to the deal it produced.
func (r *Recorder) AttachDeal(ctx context.Context, ev *model.LeadEvent, dealID string) error {
	if err := r.store.AttachLeadEventDeal(ctx, ev.TenantID, ev.ID, dealID); err != nil {
		return eris.Wrap(err, "leadevent: attach deal")
	}
	ev.DealID = &dealID
	return nil
}

// next returns an id and receive time. Both are taken under one lock so ids
// sort in receive order.
func (r *Recorder) next() (string, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	id, err := ulid.New(ulid.Timestamp(now), r.entropy)
	if err != nil {
		return "", time.Time{}, eris.Wrap(err, "leadevent: new id")
	}
	return id.String(), now, nil
}
