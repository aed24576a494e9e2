// Package search answers semantic queries over the indexed corpus.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

// ErrInvalidQuery rejects blank or unusable queries.
var ErrInvalidQuery = errors.New("invalid query")

// maxLimit caps how many results a single request may ask for.
const maxLimit = 100

// QueryEmbedder is the slice of the embeddings API the engine needs.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Config holds search defaults, applied when a request leaves the
// corresponding field unset.
type Config struct {
	MaxResults     int
	ScoreThreshold float32
	SnippetLength  int
}

// Request is one search. Tenant is required; queries without a tenant
// scope fail closed.
type Request struct {
	Query   string
	Tenant  string
	Filters map[string]string
	// Limit overrides the configured default when positive.
	Limit int
	// ScoreFloor overrides the configured threshold when non-nil.
	ScoreFloor *float32
}

// Match is one search hit.
type Match struct {
	ID       string            `json:"id"`
	Path     string            `json:"path"`
	Ordinal  int               `json:"ordinal"`
	Score    float32           `json:"score"`
	Snippet  string            `json:"snippet"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Engine embeds queries and searches through managed store handles.
type Engine struct {
	cfg      Config
	embedder QueryEmbedder
	manager  *vectorstore.Manager
	logger   *zap.Logger
}

// New wires a search engine.
func New(cfg Config, embedder QueryEmbedder, manager *vectorstore.Manager, logger *zap.Logger) *Engine {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if cfg.SnippetLength <= 0 {
		cfg.SnippetLength = 240
	}
	return &Engine{
		cfg:      cfg,
		embedder: embedder,
		manager:  manager,
		logger:   logger.Named("search"),
	}
}

// Search validates the request, merges the tenant scope into the
// filter, embeds the query and returns matches ordered by descending
// similarity. An empty result is not an error.
func (e *Engine) Search(ctx context.Context, req Request) ([]Match, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is blank", ErrInvalidQuery)
	}

	tenant := &vectorstore.TenantInfo{TenantID: req.Tenant}
	if err := tenant.Validate(); err != nil {
		return nil, err
	}

	// Tenant scope is merged here, inside the engine, so no caller can
	// assemble a filter that reaches the store unscoped.
	filter, err := vectorstore.ApplyTenantFilters(req.Filters, tenant.Filter())
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.MaxResults
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	floor := e.cfg.ScoreThreshold
	if req.ScoreFloor != nil {
		floor = *req.ScoreFloor
	}

	start := time.Now()
	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	handle, err := e.manager.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring store: %w", err)
	}
	defer handle.Release()

	hits, err := handle.Query(ctx, vector, filter, limit, floor)
	if err != nil {
		return nil, err
	}

	// Backends return matches ordered, but ordering is part of this
	// API's contract, so it is enforced here rather than assumed.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	matches := make([]Match, 0, len(hits))
	for _, hit := range hits {
		ordinal, _ := strconv.Atoi(hit.Metadata[vectorstore.MetaOrdinal])
		matches = append(matches, Match{
			ID:       hit.ID,
			Path:     hit.Metadata[vectorstore.MetaPath],
			Ordinal:  ordinal,
			Score:    hit.Score,
			Snippet:  Snippet(hit.Text, query, e.cfg.SnippetLength),
			Text:     hit.Text,
			Metadata: hit.Metadata,
		})
	}

	e.logger.Debug("search completed",
		zap.String("tenant", req.Tenant),
		zap.Int("matches", len(matches)),
		zap.Duration("took", time.Since(start)))
	return matches, nil
}
