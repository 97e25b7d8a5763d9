// Package collab defines the narrow contracts for the external subsystems
// the diagnosis pipeline consumes: evidence retrieval, entity extraction,
// service topology lookup, and an optional text generation backend.
package collab

import (
	"context"
	"time"
)

// Evidence is a single retrieval result used as supporting material.
type Evidence struct {
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	SourceType string            `json:"source_type"`
	Score      float64           `json:"score"`
	Timestamp  time.Time         `json:"timestamp,omitzero"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SearchFilters narrows a retrieval query. Zero-valued fields are ignored.
type SearchFilters struct {
	Source      string    `json:"source,omitempty"`
	Category    string    `json:"category,omitempty"`
	ServiceName string    `json:"service_name,omitempty"`
	LogLevel    string    `json:"log_level,omitempty"`
	Since       time.Time `json:"since,omitzero"`
	Until       time.Time `json:"until,omitzero"`
}

// SearchResult is the retrieval layer's response envelope.
type SearchResult struct {
	Results []Evidence `json:"results"`
	Total   int        `json:"total"`
	TookMs  float64    `json:"took_ms"`
}

// Retrieval is the fused vector/full-text search capability.
type Retrieval interface {
	Search(ctx context.Context, query string, filters SearchFilters, limit int) (*SearchResult, error)
}

// Entity is one span recognized by the extractor.
type Entity struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
}

// EntityExtractor recognizes services, hosts and error classes in free text.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) ([]Entity, error)
}

// ServiceNode is a vertex in the service dependency graph.
type ServiceNode struct {
	Name   string `json:"name"`
	Kind   string `json:"kind,omitempty"`
	Status string `json:"status,omitempty"`
}

// Relationship is a directed dependency edge.
type Relationship struct {
	From         string `json:"from"`
	To           string `json:"to"`
	RelationType string `json:"relation_type"`
}

// TopologyResult holds the structurally related neighborhood of the
// requested services.
type TopologyResult struct {
	Services      []ServiceNode  `json:"services"`
	Relationships []Relationship `json:"relationships"`
}

// Topology answers service dependency queries.
type Topology interface {
	Lookup(ctx context.Context, serviceNames []string) (*TopologyResult, error)
}

// GenParams tunes a completion request.
type GenParams struct {
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Generation is the optional language backend. Agents degrade to
// template-based output when it is absent.
type Generation interface {
	Complete(ctx context.Context, prompt string, params GenParams) (string, error)
}
