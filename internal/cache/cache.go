package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowsmith/bpmn-backend/internal/diagrams/domain"
)

const (
	diagramKeyPrefix = "dg:full:"  // Full-content cache: dg:full:{tenant}:{diagram_id}
	floorKeyPrefix   = "dg:floor:" // Minimum acceptable cached version: dg:floor:{tenant}:{diagram_id}
	tenantGenPrefix  = "dg:gen:"   // Summary generation counter: dg:gen:{tenant}
	summaryKeyPrefix = "dg:sum:"   // Summary page: dg:sum:{tenant}:{generation}:{filter_hash}

	genTTL = 7 * 24 * time.Hour
)

// Cache is the advisory read cache for diagram content and summary pages.
// It is never authoritative: every miss falls through to the content store,
// and the optimistic version check never consults it.
type Cache struct {
	client     *redis.Client
	diagramTTL time.Duration
	summaryTTL time.Duration
}

func New(client *redis.Client, diagramTTL, summaryTTL time.Duration) *Cache {
	return &Cache{
		client:     client,
		diagramTTL: diagramTTL,
		summaryTTL: summaryTTL,
	}
}

// diagramEntry tags the cached body with the version it was read at, so a
// repopulate that raced an invalidation is detectable.
type diagramEntry struct {
	Version int64          `json:"version"`
	Diagram domain.Diagram `json:"diagram"`
}

// GetDiagram returns the cached full diagram, or ok=false on miss. An entry
// whose version is below the invalidation floor counts as a miss: it was
// written by a reader that raced a newer committed write.
func (c *Cache) GetDiagram(ctx context.Context, tenantID, id string) (*domain.Diagram, bool, error) {
	pipe := c.client.Pipeline()
	entryCmd := pipe.Get(ctx, c.diagramKey(tenantID, id))
	floorCmd := pipe.Get(ctx, c.floorKey(tenantID, id))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	data, err := entryCmd.Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var entry diagramEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, false, nil // treat undecodable entries as a miss
	}

	if floorRaw, err := floorCmd.Result(); err == nil {
		if floor, perr := strconv.ParseInt(floorRaw, 10, 64); perr == nil && entry.Version < floor {
			c.client.Del(ctx, c.diagramKey(tenantID, id))
			return nil, false, nil
		}
	}

	return &entry.Diagram, true, nil
}

// SetDiagram repopulates the full-content cache. Callers pass the diagram as
// read from the store; its version rides along for staleness detection.
func (c *Cache) SetDiagram(ctx context.Context, d *domain.Diagram) error {
	entry := diagramEntry{Version: d.Version, Diagram: *d}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	return c.client.Set(ctx, c.diagramKey(d.TenantID, d.ID), data, c.diagramTTL).Err()
}

// InvalidateDiagram drops the cached entry and records the just-committed
// version as a floor. A stale repopulate written after this call is ignored
// on the next read instead of being served.
func (c *Cache) InvalidateDiagram(ctx context.Context, tenantID, id string, committedVersion int64) error {
	pipe := c.client.Pipeline()
	pipe.Del(ctx, c.diagramKey(tenantID, id))
	pipe.Set(ctx, c.floorKey(tenantID, id), strconv.FormatInt(committedVersion, 10), c.diagramTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// BumpTenant advances the tenant's summary generation, orphaning every cached
// summary page for that tenant at once. Orphaned pages age out by TTL.
func (c *Cache) BumpTenant(ctx context.Context, tenantID string) error {
	key := tenantGenPrefix + tenantID
	pipe := c.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, genTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("cache bump tenant: %w", err)
	}
	return nil
}

// GetSummaryPage returns the cached listing page for the filter fingerprint,
// plus the generation the lookup resolved. Callers hand that generation back
// to SetSummaryPage, so a repopulate that raced a BumpTenant lands on the
// orphaned old generation instead of the live one.
func (c *Cache) GetSummaryPage(ctx context.Context, tenantID, filterKey string) ([]byte, bool, string, error) {
	gen, err := c.generation(ctx, tenantID)
	if err != nil {
		return nil, false, "", err
	}
	data, err := c.client.Get(ctx, c.summaryKey(tenantID, gen, filterKey)).Bytes()
	if err == redis.Nil {
		return nil, false, gen, nil
	}
	if err != nil {
		return nil, false, gen, fmt.Errorf("cache get summary: %w", err)
	}
	return data, true, gen, nil
}

// SetSummaryPage stores a listing page under the generation captured by the
// GetSummaryPage miss that preceded the store read. The generation is never
// re-resolved here: by set time a writer may have bumped the tenant, and this
// page would then be stale for the new generation.
func (c *Cache) SetSummaryPage(ctx context.Context, tenantID, generation, filterKey string, payload []byte) error {
	return c.client.Set(ctx, c.summaryKey(tenantID, generation, filterKey), payload, c.summaryTTL).Err()
}

// FilterKey fingerprints the full filter tuple of a listing request.
func FilterKey(projectID, searchText, cursor string, limit int) string {
	raw := fmt.Sprintf("%s|%s|%s|%d", projectID, searchText, cursor, limit)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:16]
}

func (c *Cache) diagramKey(tenantID, id string) string {
	return fmt.Sprintf("%s%s:%s", diagramKeyPrefix, tenantID, id)
}

func (c *Cache) floorKey(tenantID, id string) string {
	return fmt.Sprintf("%s%s:%s", floorKeyPrefix, tenantID, id)
}

func (c *Cache) summaryKey(tenantID, generation, filterKey string) string {
	return fmt.Sprintf("%s%s:%s:%s", summaryKeyPrefix, tenantID, generation, filterKey)
}

func (c *Cache) generation(ctx context.Context, tenantID string) (string, error) {
	gen, err := c.client.Get(ctx, tenantGenPrefix+tenantID).Result()
	if err == redis.Nil {
		return "0", nil
	}
	if err != nil {
		return "", fmt.Errorf("cache generation: %w", err)
	}
	return gen, nil
}
