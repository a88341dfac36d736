package model

import "time"

// DealStatus is the commercial state of a deal.
type DealStatus string

const (
	DealStatusOpen               DealStatus = "open"
	DealStatusWon                DealStatus = "won"
	DealStatusLost               DealStatus = "lost"
	DealStatusClosed             DealStatus = "closed"
	DealStatusReopenedForSupport DealStatus = "reopened_for_support"
)

// OpenStatuses returns the statuses that make a deal count as the contact's
// open deal.
func OpenStatuses(reopenedCountsAsOpen bool) []DealStatus {
	if reopenedCountsAsOpen {
		return []DealStatus{DealStatusOpen, DealStatusReopenedForSupport}
	}
	return []DealStatus{DealStatusOpen}
}

// Deal is a commercial opportunity for a contact.
type Deal struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	ContactID  string     `json:"contact_id"`
	Stage      string     `json:"stage"`
	Status     DealStatus `json:"status"`
	ValueCents int64      `json:"value_cents"`
	Currency   string     `json:"currency"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
