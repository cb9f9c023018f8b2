package storage

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSegmentKey(t *testing.T) {
	got := SegmentKey(3, "20240301", "videos/20240301-101500_3.mkv")
	if got != "segments/3/20240301/20240301-101500_3.mkv" {
		t.Fatalf("SegmentKey=%q", got)
	}
}

func TestContentTypeForSegment(t *testing.T) {
	tests := map[string]string{
		"a.mkv":  "video/x-matroska",
		"a.MP4":  "video/mp4",
		"a.ts":   "video/mp2t",
		"a.webm": "application/octet-stream",
	}
	for name, want := range tests {
		if got := ContentTypeForSegment(name); got != want {
			t.Errorf("%s: got %q want %q", name, got, want)
		}
	}
}

func TestS3_PresignUsesBucketAndExpiry(t *testing.T) {
	s, err := NewS3(context.Background(), S3Config{
		Region:          "eu-west-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		SegmentsBucket:  "cam-archive",
	}, nil)
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}
	if s.PresignExpire() != 15*time.Minute {
		t.Fatalf("expire=%v", s.PresignExpire())
	}
	url, err := s.PresignDownload(context.Background(), SegmentKey(1, "20240301", "x.mkv"))
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(url, "cam-archive") || !strings.Contains(url, "segments/1/20240301/x.mkv") || !strings.Contains(url, "X-Amz-Expires=900") {
		t.Fatalf("url=%s", url)
	}

	if _, err := NewS3(context.Background(), S3Config{Region: "eu-west-1"}, nil); err == nil {
		t.Fatal("expected error without bucket")
	}
}
