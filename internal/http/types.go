package http

import (
	"time"

	"github.com/fyrsmithlabs/lorekeeper/internal/moderation"
	"github.com/fyrsmithlabs/lorekeeper/internal/prompt"
	"github.com/fyrsmithlabs/lorekeeper/internal/records"
	"github.com/fyrsmithlabs/lorekeeper/internal/retrieval"
	"github.com/fyrsmithlabs/lorekeeper/internal/vectorstore"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	Services map[string]string `json:"services,omitempty"`
}

// ErrorResponse is the body of every non-2xx response except violations.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ViolationResponse is returned with 422 when moderation blocks a turn.
type ViolationResponse struct {
	Error   string             `json:"error"`
	Message string             `json:"message"`
	Verdict moderation.Verdict `json:"verdict"`
}

// ChatRequest is the body for POST /api/v1/tenants/:tenant/chat.
type ChatRequest struct {
	Message string        `json:"message"`
	History []prompt.Turn `json:"history,omitempty"`
}

// ChatResponse is the body of a successful chat turn. Timings are in
// milliseconds. Prompt is only set when ?debug=true.
type ChatResponse struct {
	TurnID    string                     `json:"turn_id"`
	Reply     string                     `json:"reply"`
	Knowledge []retrieval.KnowledgeMatch `json:"knowledge"`
	TimingsMS map[string]float64         `json:"timings_ms"`
	Verdict   moderation.Verdict         `json:"verdict"`
	Prompt    *prompt.Prompt             `json:"prompt,omitempty"`
}

// SearchRequest is the body for POST /api/v1/namespaces/:namespace/search.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
	// Threshold is nil when omitted; 0 returns every neighbour.
	Threshold *float64 `json:"threshold,omitempty"`
}

// SearchResponse lists matches by descending relevance.
type SearchResponse struct {
	Matches []retrieval.KnowledgeMatch `json:"matches"`
}

// RecordRequest is the body for PUT /api/v1/namespaces/:namespace/records/:id.
// A request carrying a vector identity is treated as an update.
type RecordRequest struct {
	Name           string              `json:"name"`
	Kind           vectorstore.Kind    `json:"kind"`
	Type           string              `json:"type,omitempty"`
	Description    string              `json:"description,omitempty"`
	Attributes     []records.Attribute `json:"attributes,omitempty"`
	Content        string              `json:"content,omitempty"`
	VectorIdentity string              `json:"vector_identity,omitempty"`
	CreatedAt      time.Time           `json:"created_at,omitempty"`
	UpdatedAt      time.Time           `json:"updated_at,omitempty"`
}

// RecordResponse reports the vector identity to persist on the record.
type RecordResponse struct {
	VectorIdentity string `json:"vector_identity"`
	State          string `json:"state"`
	Degraded       bool   `json:"degraded"`
	Reason         string `json:"reason,omitempty"`
}

// CollectionResponse describes a tenant collection.
type CollectionResponse struct {
	Name        string `json:"name"`
	VectorSize  int    `json:"vector_size"`
	Metric      string `json:"metric"`
	PointsCount uint64 `json:"points_count"`
	Valid       bool   `json:"valid"`
}
