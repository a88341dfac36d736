package model

import "time"

// Tenant carries the per-tenant settings the pipeline reads.
type Tenant struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	DefaultCountry string `json:"default_country"`
	// AutoCreateDeals turns on deal upsert for inbound signals.
	AutoCreateDeals bool `json:"auto_create_deals"`
	// ReopenedCountsAsOpen makes reopened_for_support deals satisfy the
	// one-open-deal rule instead of prompting a new deal.
	ReopenedCountsAsOpen bool      `json:"reopened_counts_as_open"`
	CreatedAt            time.Time `json:"created_at"`
}

// Source is a configured webhook endpoint owned by a tenant.
type Source struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Name       string     `json:"name"`
	Kind       SourceKind `json:"kind"`
	APIKeyHash string     `json:"-"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
}

// PipelineStage is one column of a tenant's sales pipeline.
type PipelineStage struct {
	TenantID string `json:"tenant_id"`
	Key      string `json:"key"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}
