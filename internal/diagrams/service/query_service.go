package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowsmith/bpmn-backend/internal/cache"
	"github.com/flowsmith/bpmn-backend/internal/diagrams/domain"
	"github.com/flowsmith/bpmn-backend/internal/diagrams/repository"
	"github.com/flowsmith/bpmn-backend/internal/platform/logger"
	"github.com/flowsmith/bpmn-backend/internal/storage/blob"
)

// QueryService owns the read path. It only ever reads and repopulates the
// cache, never invalidates; invalidation belongs to the write path alone.
type QueryService struct {
	store ContentStore
	cache DiagramCache
	blobs blob.Store
	log   *logger.Logger
}

func NewQueryService(store ContentStore, c DiagramCache, blobs blob.Store, log *logger.Logger) *QueryService {
	return &QueryService{
		store: store,
		cache: c,
		blobs: blobs,
		log:   log.With("service", "diagram-query"),
	}
}

// DiagramWithContent is the full read projection: the head row plus the
// materialized serialized content regardless of where it is stored.
type DiagramWithContent struct {
	domain.Diagram
	ContentText string `json:"content_text"`
}

// ListSummaries serves a tenant's listing page, cache first, keyed by the
// full filter tuple under the tenant's current generation.
func (s *QueryService) ListSummaries(ctx context.Context, tenantID string, f repository.SummaryFilter) (*repository.SummaryPage, error) {
	filterKey := cache.FilterKey(f.ProjectID, f.SearchText, f.Cursor, f.Limit)

	// The generation seen at miss time travels to the repopulate below. A
	// write that bumps the tenant while the store read is in flight moves the
	// live keyspace forward, and this page must not land there.
	generation := ""
	if data, ok, gen, err := s.cache.GetSummaryPage(ctx, tenantID, filterKey); err == nil {
		generation = gen
		if ok {
			var page repository.SummaryPage
			if err := json.Unmarshal(data, &page); err == nil {
				return &page, nil
			}
		}
	} else {
		s.log.Warn("summary cache read failed", "tenant_id", tenantID, "error", err)
	}

	page, err := s.store.ListSummaries(ctx, tenantID, f)
	if err != nil {
		return nil, err
	}

	if generation != "" {
		if data, err := json.Marshal(page); err == nil {
			if err := s.cache.SetSummaryPage(ctx, tenantID, generation, filterKey, data); err != nil {
				s.log.Warn("summary cache write failed", "tenant_id", tenantID, "error", err)
			}
		}
	}

	return page, nil
}

// GetDiagram serves the full diagram, cache first. Blob-backed content is
// content-addressed and immutable, so resolving it after a cache hit cannot
// serve stale bytes.
func (s *QueryService) GetDiagram(ctx context.Context, tenantID, id string) (*DiagramWithContent, error) {
	if d, ok, err := s.cache.GetDiagram(ctx, tenantID, id); err == nil && ok {
		return s.resolve(ctx, d)
	} else if err != nil {
		s.log.Warn("diagram cache read failed", "diagram_id", id, "error", err)
	}

	d, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetDiagram(ctx, d); err != nil {
		s.log.Warn("diagram cache write failed", "diagram_id", id, "error", err)
	}

	return s.resolve(ctx, d)
}

// ListVersions exposes a diagram's history, including history of
// soft-deleted diagrams.
func (s *QueryService) ListVersions(ctx context.Context, tenantID, id string, limit int) ([]domain.DiagramVersion, error) {
	return s.store.ListVersions(ctx, tenantID, id, limit)
}

// GetVersion returns one history snapshot with materialized content.
func (s *QueryService) GetVersion(ctx context.Context, tenantID, id string, version int64) (*domain.DiagramVersion, string, error) {
	v, err := s.store.GetVersion(ctx, tenantID, id, version)
	if err != nil {
		return nil, "", err
	}
	text, err := s.materialize(ctx, v.Content)
	if err != nil {
		return nil, "", err
	}
	return v, text, nil
}

func (s *QueryService) resolve(ctx context.Context, d *domain.Diagram) (*DiagramWithContent, error) {
	text, err := s.materialize(ctx, d.Content)
	if err != nil {
		return nil, err
	}
	return &DiagramWithContent{Diagram: *d, ContentText: text}, nil
}

func (s *QueryService) materialize(ctx context.Context, c domain.Content) (string, error) {
	switch c.Kind {
	case domain.ContentInline:
		return c.Inline, nil
	case domain.ContentBlob:
		data, err := s.blobs.Get(ctx, c.BlobKey)
		if err != nil {
			return "", fmt.Errorf("fetch blob content: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unknown content kind %q", c.Kind)
	}
}
