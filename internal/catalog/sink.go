package catalog

import (
	"context"

	"github.com/camvault/recorder/internal/events"
	"github.com/camvault/recorder/internal/models"
)

// Handle catalogues closed segments; other events are ignored.
func (r *Repository) Handle(ctx context.Context, ev events.Event) error {
	if ev.Type != events.SegmentClosed || ev.Segment == nil {
		return nil
	}
	return r.Upsert(ctx, FromSegmentInfo(ev))
}

// FromSegmentInfo builds a catalog row from a segment_closed event.
func FromSegmentInfo(ev events.Event) *models.Segment {
	s := ev.Segment
	return &models.Segment{
		Channel:   s.Channel,
		Name:      s.Name,
		Path:      s.Path,
		StartedAt: s.Start,
		EndedAt:   s.End,
		Bytes:     s.Bytes,
	}
}
