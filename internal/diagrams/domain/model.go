package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"path"
	"strings"
	"time"
)

// ContentKind discriminates where a diagram's serialized content lives.
type ContentKind string

const (
	// ContentInline means the serialized diagram XML is stored in the row itself.
	ContentInline ContentKind = "inline"
	// ContentBlob means the row stores only an object-store key.
	ContentBlob ContentKind = "blob"
)

// Content is a tagged variant: exactly one of Inline / BlobKey is meaningful,
// selected by Kind. Modeled explicitly so "both set" and "neither set" are
// unrepresentable states.
type Content struct {
	Kind    ContentKind `json:"kind"`
	Inline  string      `json:"inline,omitempty"`
	BlobKey string      `json:"blob_key,omitempty"`
}

func InlineContent(text string) Content {
	return Content{Kind: ContentInline, Inline: text}
}

func BlobContent(key string) Content {
	return Content{Kind: ContentBlob, BlobKey: key}
}

func (c Content) Valid() bool {
	switch c.Kind {
	case ContentInline:
		return c.Inline != "" && c.BlobKey == ""
	case ContentBlob:
		return c.BlobKey != "" && c.Inline == ""
	default:
		return false
	}
}

// Diagram is the mutable head record for a BPMN diagram. ContentSize is the
// byte length of the serialized content body; for blob-backed rows the row
// itself only holds the object key, so the size is recorded at write time.
type Diagram struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	ProjectID   string            `json:"project_id,omitempty"`
	Title       string            `json:"title"`
	Content     Content           `json:"content"`
	ContentSize int               `json:"content_size"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Version     int64             `json:"version"`
	CreatedBy   string            `json:"created_by"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	DeletedAt   *time.Time        `json:"deleted_at,omitempty"`
}

// DiagramVersion is an immutable snapshot, one per accepted write.
type DiagramVersion struct {
	DiagramID string            `json:"diagram_id"`
	Version   int64             `json:"version"`
	Content   Content           `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	AuthorID  string            `json:"author_id"`
	Message   string            `json:"message,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Summary is the listing projection. It never carries diagram content.
type Summary struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	ProjectID   string    `json:"project_id,omitempty"`
	Title       string    `json:"title"`
	Version     int64     `json:"version"`
	ContentSize int       `json:"content_size"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ContentSummary is the reconciliation payload returned with a version conflict.
type ContentSummary struct {
	Title       string `json:"title"`
	ContentSize int    `json:"content_size"`
	ContentHash string `json:"content_hash"`
}

// Summarize builds the conflict reconciliation summary for a head row.
func Summarize(d *Diagram) ContentSummary {
	return ContentSummary{
		Title:       d.Title,
		ContentSize: d.ContentSize,
		ContentHash: d.Content.Fingerprint(),
	}
}

// Fingerprint returns a short hex digest of the content body. Blob keys are
// content-addressed (content/<tenant>/<sha256>.bpmn), so for blob rows the
// digest is read off the key instead of fetching the object.
func (c Content) Fingerprint() string {
	if c.Kind == ContentBlob {
		base := path.Base(c.BlobKey)
		if hexPart := strings.TrimSuffix(base, path.Ext(base)); len(hexPart) >= 12 {
			return hexPart[:12]
		}
	}
	sum := sha256.Sum256([]byte(c.Inline))
	return hex.EncodeToString(sum[:])[:12]
}

// CreateInput carries the fields for a first write (version 1).
type CreateInput struct {
	ProjectID string
	AuthorID  string
	Title     string
	Content   Content
	// ContentSize is the byte length of the serialized body, measured before
	// blob placement replaced it with an object key.
	ContentSize int
	Metadata    map[string]string
	Message     string
}

// SaveInput carries the fields for an optimistic-concurrency update.
type SaveInput struct {
	AuthorID string
	// Title left empty keeps the stored title.
	Title       string
	Content     Content
	ContentSize int
	Metadata    map[string]string
	Message     string
	// ExpectedVersion is the version the caller last observed.
	ExpectedVersion int64
}

const (
	TitleMaxLen = 200

	EventDiagramCreated = "diagram.created"
	EventDiagramSaved   = "diagram.saved"
	EventDiagramDeleted = "diagram.deleted"
)

// EventPayload is the outbox payload shape shared by all diagram events.
type EventPayload struct {
	DiagramID string `json:"diagram_id"`
	TenantID  string `json:"tenant_id"`
	Version   int64  `json:"version"`
}

func (p EventPayload) Marshal() json.RawMessage {
	b, _ := json.Marshal(p)
	return b
}

// NewDiagramID generates a human-readable diagram ID, e.g. "bpmn-48213-7764".
func NewDiagramID() (string, error) {
	a, err := randInt(10000, 99999)
	if err != nil {
		return "", err
	}
	b, err := randInt(1000, 9999)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("bpmn-%05d-%04d", a, b), nil
}

func randInt(min, max int64) (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(max-min+1))
	if err != nil {
		return 0, err
	}
	return min + n.Int64(), nil
}
