package api

import "github.com/warboard/warboard/pkg/types"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State         string `json:"state"` // "ok" | "unknown" | "unavailable"
	StoreOK       bool   `json:"store_ok"`
	RankedCount   int    `json:"ranked_count"`
	RankUpdatedAt string `json:"rank_updated_at,omitempty"` // RFC3339
	Error         string `json:"error,omitempty"`
}

// RankingsResponse is the payload for GET /api/v1/rankings.
type RankingsResponse struct {
	UpdatedAt string            `json:"updated_at,omitempty"` // RFC3339
	Count     int               `json:"count"`
	Rows      []types.RankedRow `json:"rows"`
}

// RecruitsResponse is the payload for GET /api/v1/recruits.
type RecruitsResponse struct {
	Benchmark  float64           `json:"benchmark"`
	Count      int               `json:"count"`
	Candidates []types.Candidate `json:"candidates"`
}

// BlacklistEntryResponse is one exclusion list entry.
type BlacklistEntryResponse struct {
	Tag     string `json:"tag"`
	Score   int    `json:"score"`
	Expiry  string `json:"expiry"` // RFC3339
	Expired bool   `json:"expired"`
}

type errorResponse struct {
	Error string `json:"error"`
}
