package queue

import (
	"encoding/json"
	"testing"
)

func TestNewJob_WrapsPayload(t *testing.T) {
	job, err := NewJob(JobTypeSegmentArchive, SegmentArchivePayload{Channel: 2, Name: "a.mkv"})
	if err != nil {
		t.Fatal(err)
	}
	if job.ID == "" || job.Type != JobTypeSegmentArchive || job.Attempt != 0 || job.CreatedAt.IsZero() {
		t.Fatalf("job=%+v", job)
	}
	var p SegmentArchivePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil || p.Channel != 2 || p.Name != "a.mkv" {
		t.Fatalf("payload=%+v err=%v", p, err)
	}

	other, _ := NewJob(JobTypeSegmentArchive, nil)
	if other.ID == job.ID {
		t.Fatal("job IDs collide")
	}
}
