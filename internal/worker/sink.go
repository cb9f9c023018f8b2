package worker

import (
	"context"

	"github.com/camvault/recorder/internal/events"
	"github.com/camvault/recorder/internal/segment"
	"github.com/camvault/recorder/pkg/queue"
)

// Enqueuer accepts archive jobs.
type Enqueuer interface {
	EnqueueSegmentArchive(ctx context.Context, payload queue.SegmentArchivePayload) error
}

// ArchiveSink turns segment_closed events into archive jobs.
type ArchiveSink struct {
	q Enqueuer
}

// NewArchiveSink creates an event sink that enqueues closed segments.
func NewArchiveSink(q Enqueuer) *ArchiveSink {
	return &ArchiveSink{q: q}
}

func (s *ArchiveSink) Handle(ctx context.Context, ev events.Event) error {
	if ev.Type != events.SegmentClosed || ev.Segment == nil {
		return nil
	}
	seg := ev.Segment
	return s.q.EnqueueSegmentArchive(ctx, queue.SegmentArchivePayload{
		Channel:   seg.Channel,
		Name:      seg.Name,
		Path:      seg.Path,
		Day:       seg.Start.Format(segment.DayLayout),
		StartedAt: seg.Start,
		EndedAt:   seg.End,
		Bytes:     seg.Bytes,
	})
}
