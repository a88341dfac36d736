// Package model defines the CRM records the ingestion pipeline reads and writes.
package model

import "time"

// ContactStatus is the lifecycle position of a contact.
type ContactStatus string

const (
	ContactStatusNew         ContactStatus = "new"
	ContactStatusActive      ContactStatus = "active"
	ContactStatusQualified   ContactStatus = "qualified"
	ContactStatusUnqualified ContactStatus = "unqualified"
	ContactStatusArchived    ContactStatus = "archived"
)

// Profile holds the descriptive fields a lead signal may carry about a person.
type Profile struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	Email     string `json:"email,omitempty"`
}

// IsZero reports whether no field is set.
func (p Profile) IsZero() bool {
	return p == Profile{}
}

// Contact is one real-world person within a tenant. Contacts are archived,
// never deleted.
type Contact struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Profile
	Status    ContactStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ContactPhone is one phone number attached to a contact. At most one active
// row per (tenant, normalized) exists at any time.
type ContactPhone struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	ContactID      string     `json:"contact_id"`
	Raw            string     `json:"raw"`
	Normalized     string     `json:"normalized"`
	CountryCode    string     `json:"country_code"`
	AssumedCountry bool       `json:"assumed_country"`
	IsPrimary      bool       `json:"is_primary"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	DeactivatedAt  *time.Time `json:"deactivated_at,omitempty"`
}
