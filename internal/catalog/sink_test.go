package catalog

import (
	"testing"
	"time"

	"github.com/camvault/recorder/internal/events"
	"github.com/camvault/recorder/internal/supervisor"
)

func TestFromSegmentInfo(t *testing.T) {
	start := time.Date(2024, 3, 1, 23, 55, 0, 0, time.Local)
	info := supervisor.SegmentInfo{Channel: 3, Name: "n.mkv", Path: "v/n.mkv", Start: start, End: start.Add(10 * time.Minute), Bytes: 77}
	seg := FromSegmentInfo(events.Event{Type: events.SegmentClosed, Segment: &info})
	if seg.Channel != 3 || seg.Name != "n.mkv" || seg.Path != "v/n.mkv" || seg.Bytes != 77 {
		t.Fatalf("seg=%+v", seg)
	}
	if !seg.StartedAt.Equal(start) || !seg.EndedAt.Equal(info.End) {
		t.Fatalf("times=%v..%v", seg.StartedAt, seg.EndedAt)
	}
	if seg.Day != "" {
		t.Fatal("day is derived on upsert")
	}
}
