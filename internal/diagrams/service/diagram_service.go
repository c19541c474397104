package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/flowsmith/bpmn-backend/internal/billing"
	"github.com/flowsmith/bpmn-backend/internal/diagrams/domain"
	"github.com/flowsmith/bpmn-backend/internal/diagrams/repository"
	"github.com/flowsmith/bpmn-backend/internal/platform/logger"
	"github.com/flowsmith/bpmn-backend/internal/storage/blob"
)

// ContentStore is the transactional persistence boundary for diagrams. The
// optimistic version check lives behind it and never touches the cache.
type ContentStore interface {
	Create(ctx context.Context, tenantID string, in domain.CreateInput, maxActive int) (*domain.Diagram, error)
	Save(ctx context.Context, tenantID, id string, in domain.SaveInput) (*domain.Diagram, error)
	SoftDelete(ctx context.Context, tenantID, id string, expectedVersion int64, authorID string) (*domain.Diagram, error)
	Get(ctx context.Context, tenantID, id string) (*domain.Diagram, error)
	ListSummaries(ctx context.Context, tenantID string, f repository.SummaryFilter) (*repository.SummaryPage, error)
	ListVersions(ctx context.Context, tenantID, id string, limit int) ([]domain.DiagramVersion, error)
	GetVersion(ctx context.Context, tenantID, id string, version int64) (*domain.DiagramVersion, error)
}

// DiagramCache is the advisory cache surface the services invalidate and
// repopulate. Only the write path may invalidate.
type DiagramCache interface {
	GetDiagram(ctx context.Context, tenantID, id string) (*domain.Diagram, bool, error)
	SetDiagram(ctx context.Context, d *domain.Diagram) error
	InvalidateDiagram(ctx context.Context, tenantID, id string, committedVersion int64) error
	BumpTenant(ctx context.Context, tenantID string) error
	GetSummaryPage(ctx context.Context, tenantID, filterKey string) ([]byte, bool, string, error)
	SetSummaryPage(ctx context.Context, tenantID, generation, filterKey string, payload []byte) error
}

// DiagramService owns the write path: validation, quota, large-content
// placement, the transactional save, and post-commit cache invalidation.
type DiagramService struct {
	store           ContentStore
	cache           DiagramCache
	blobs           blob.Store
	quota           billing.QuotaProvider
	log             *logger.Logger
	inlineThreshold int
}

func NewDiagramService(store ContentStore, cache DiagramCache, blobs blob.Store, quota billing.QuotaProvider, log *logger.Logger, inlineThreshold int) *DiagramService {
	return &DiagramService{
		store:           store,
		cache:           cache,
		blobs:           blobs,
		quota:           quota,
		log:             log.With("service", "diagrams"),
		inlineThreshold: inlineThreshold,
	}
}

// CreateRequest carries the editor's fields for a first write.
type CreateRequest struct {
	ProjectID string
	Title     string
	Content   string
	Metadata  map[string]string
	Message   string
}

// SaveRequest carries the editor's fields for an update against a known version.
type SaveRequest struct {
	Title           string
	Content         string
	Metadata        map[string]string
	Message         string
	ExpectedVersion int64
}

// Create validates input, checks the tenant quota, and writes version 1
// atomically with its snapshot and outbox row.
func (s *DiagramService) Create(ctx context.Context, tenantID, authorID string, req CreateRequest) (*domain.Diagram, error) {
	if err := domain.ValidateTitle(req.Title); err != nil {
		return nil, err
	}
	if req.Content == "" {
		return nil, fmt.Errorf("%w: content required", domain.ErrValidationFailed)
	}

	maxActive, err := s.quota.MaxActiveDiagrams(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("quota lookup: %w", err)
	}

	content, err := s.placeContent(ctx, tenantID, req.Content)
	if err != nil {
		return nil, err
	}

	d, err := s.store.Create(ctx, tenantID, domain.CreateInput{
		ProjectID:   req.ProjectID,
		AuthorID:    authorID,
		Title:       req.Title,
		Content:     content,
		ContentSize: len(req.Content),
		Metadata:    req.Metadata,
		Message:     req.Message,
	}, maxActive)
	if err != nil {
		return nil, err
	}

	s.invalidateAfterCommit(ctx, d)
	s.log.Info("diagram created", "tenant_id", tenantID, "diagram_id", d.ID)
	return d, nil
}

// Save applies one optimistic-concurrency write. A version mismatch surfaces
// as a ConflictError carrying reconciliation data; it is never retried here,
// since a silent retry would overwrite the caller's intended base version.
func (s *DiagramService) Save(ctx context.Context, tenantID, id, authorID string, req SaveRequest) (*domain.Diagram, error) {
	if req.ExpectedVersion < 1 {
		return nil, fmt.Errorf("%w: expected_version required", domain.ErrValidationFailed)
	}
	if req.Title != "" {
		if err := domain.ValidateTitle(req.Title); err != nil {
			return nil, err
		}
	}
	if req.Content == "" {
		return nil, fmt.Errorf("%w: content required", domain.ErrValidationFailed)
	}

	// Blob placement happens before the transaction so no external call runs
	// inside it. An aborted write leaves an unreferenced object, nothing more.
	content, err := s.placeContent(ctx, tenantID, req.Content)
	if err != nil {
		return nil, err
	}

	d, err := s.store.Save(ctx, tenantID, id, domain.SaveInput{
		AuthorID:        authorID,
		Title:           req.Title,
		Content:         content,
		ContentSize:     len(req.Content),
		Metadata:        req.Metadata,
		Message:         req.Message,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		return nil, err
	}

	s.invalidateAfterCommit(ctx, d)
	s.log.Info("diagram saved", "tenant_id", tenantID, "diagram_id", d.ID, "version", d.Version)
	return d, nil
}

// SoftDelete marks the diagram invisible while keeping its history. The
// delete transition bumps the version like any other write.
func (s *DiagramService) SoftDelete(ctx context.Context, tenantID, id, authorID string, expectedVersion int64) error {
	if expectedVersion < 1 {
		return fmt.Errorf("%w: expected_version required", domain.ErrValidationFailed)
	}

	d, err := s.store.SoftDelete(ctx, tenantID, id, expectedVersion, authorID)
	if err != nil {
		return err
	}

	s.invalidateAfterCommit(ctx, d)
	s.log.Info("diagram deleted", "tenant_id", tenantID, "diagram_id", id, "version", d.Version)
	return nil
}

// placeContent decides inline vs blob. Blob keys are content-addressed, so a
// retried or conflicting write that uploads the same body is a no-op.
func (s *DiagramService) placeContent(ctx context.Context, tenantID, raw string) (domain.Content, error) {
	if len(raw) <= s.inlineThreshold {
		return domain.InlineContent(raw), nil
	}
	sum := sha256.Sum256([]byte(raw))
	key := fmt.Sprintf("content/%s/%s.bpmn", tenantID, hex.EncodeToString(sum[:]))
	if err := s.blobs.Put(ctx, key, []byte(raw), "application/xml"); err != nil {
		return domain.Content{}, fmt.Errorf("store blob content: %w", err)
	}
	return domain.BlobContent(key), nil
}

// invalidateAfterCommit runs strictly after the transaction committed. Cache
// errors are logged, not returned: the write is durable at this point and a
// stale entry is bounded by its TTL.
func (s *DiagramService) invalidateAfterCommit(ctx context.Context, d *domain.Diagram) {
	if err := s.cache.InvalidateDiagram(ctx, d.TenantID, d.ID, d.Version); err != nil {
		s.log.Warn("cache invalidation failed", "diagram_id", d.ID, "error", err)
	}
	if err := s.cache.BumpTenant(ctx, d.TenantID); err != nil {
		s.log.Warn("summary cache bump failed", "tenant_id", d.TenantID, "error", err)
	}
}
