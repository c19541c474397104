package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"image/png"
	"strings"

	"github.com/fogleman/gg"

	"github.com/flowsmith/bpmn-backend/internal/diagrams/domain"
	"github.com/flowsmith/bpmn-backend/internal/outbox"
	"github.com/flowsmith/bpmn-backend/internal/platform/logger"
	"github.com/flowsmith/bpmn-backend/internal/storage/blob"
)

// VersionReader loads one history snapshot with materialized content.
type VersionReader interface {
	GetVersion(ctx context.Context, tenantID, diagramID string, version int64) (*domain.DiagramVersion, string, error)
}

// ThumbnailHandler renders a small preview PNG for the saved version and
// uploads it under a per-version key. Rendering is deterministic and the key
// embeds the version, so re-running the handler writes identical bytes to the
// same object.
type ThumbnailHandler struct {
	versions VersionReader
	blobs    blob.Store
	log      *logger.Logger
}

func NewThumbnailHandler(versions VersionReader, blobs blob.Store, log *logger.Logger) *ThumbnailHandler {
	return &ThumbnailHandler{
		versions: versions,
		blobs:    blobs,
		log:      log.With("handler", "thumbnail"),
	}
}

// ThumbnailKey is where the preview for a given version lives.
func ThumbnailKey(diagramID string, version int64) string {
	return fmt.Sprintf("thumbs/%s/v%d.png", diagramID, version)
}

func (h *ThumbnailHandler) Handle(ctx context.Context, evt outbox.Event) error {
	var p domain.EventPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	_, text, err := h.versions.GetVersion(ctx, p.TenantID, p.DiagramID, p.Version)
	if err != nil {
		return fmt.Errorf("load version %s@%d: %w", p.DiagramID, p.Version, err)
	}

	img, err := renderThumbnail(countElements(text))
	if err != nil {
		return fmt.Errorf("render thumbnail: %w", err)
	}

	key := ThumbnailKey(p.DiagramID, p.Version)
	if err := h.blobs.Put(ctx, key, img, "image/png"); err != nil {
		return fmt.Errorf("upload thumbnail: %w", err)
	}

	h.log.Debug("thumbnail rendered", "diagram_id", p.DiagramID, "version", p.Version, "key", key)
	return nil
}

type elementCounts struct {
	Tasks    int
	Events   int
	Gateways int
	Flows    int
}

// countElements scans the serialized BPMN XML for the element families the
// preview cares about. Unparseable input degrades to an empty diagram rather
// than a handler failure, since retrying cannot fix malformed content.
func countElements(content string) elementCounts {
	var counts elementCounts
	dec := xml.NewDecoder(strings.NewReader(content))
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		name := strings.ToLower(start.Name.Local)
		switch {
		case strings.Contains(name, "task"), name == "subprocess", name == "callactivity":
			counts.Tasks++
		case strings.Contains(name, "event"):
			counts.Events++
		case strings.Contains(name, "gateway"):
			counts.Gateways++
		case name == "sequenceflow":
			counts.Flows++
		}
	}
	return counts
}

const (
	thumbWidth  = 320
	thumbHeight = 180
	maxShapes   = 8
)

// renderThumbnail draws a schematic strip of the diagram's shapes: circles
// for events, rounded rectangles for tasks, diamonds for gateways.
func renderThumbnail(counts elementCounts) ([]byte, error) {
	dc := gg.NewContext(thumbWidth, thumbHeight)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	type shape int
	const (
		circle shape = iota
		box
		diamond
	)

	shapes := make([]shape, 0, maxShapes)
	add := func(s shape, n int) {
		for i := 0; i < n && len(shapes) < maxShapes; i++ {
			shapes = append(shapes, s)
		}
	}
	add(circle, min(counts.Events, 2))
	add(box, counts.Tasks)
	add(diamond, counts.Gateways)

	if len(shapes) == 0 {
		// Empty diagram: a single dashed placeholder frame.
		dc.SetRGB(0.8, 0.8, 0.8)
		dc.SetLineWidth(2)
		dc.SetDash(6, 4)
		dc.DrawRoundedRectangle(40, 50, thumbWidth-80, thumbHeight-100, 8)
		dc.Stroke()
	} else {
		step := float64(thumbWidth-40) / float64(len(shapes)+1)
		cy := float64(thumbHeight) / 2
		dc.SetLineWidth(2)

		for i, s := range shapes {
			cx := 20 + step*float64(i+1)
			if i > 0 {
				dc.SetRGB(0.6, 0.6, 0.6)
				dc.DrawLine(cx-step+14, cy, cx-14, cy)
				dc.Stroke()
			}
			switch s {
			case circle:
				dc.SetRGB(0.30, 0.62, 0.40)
				dc.DrawCircle(cx, cy, 12)
			case box:
				dc.SetRGB(0.28, 0.46, 0.75)
				dc.DrawRoundedRectangle(cx-18, cy-13, 36, 26, 5)
			case diamond:
				dc.SetRGB(0.85, 0.65, 0.25)
				dc.MoveTo(cx, cy-15)
				dc.LineTo(cx+15, cy)
				dc.LineTo(cx, cy+15)
				dc.LineTo(cx-15, cy)
				dc.ClosePath()
			}
			dc.Stroke()
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
