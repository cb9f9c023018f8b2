package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RECORDER_SOURCE_URL", "rtsp://cam/1")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	r := cfg.Recorder
	if r.Folder != "videos" || r.Channel != 1 || r.SegmentDuration != 10*time.Minute {
		t.Fatalf("recorder defaults: %+v", r)
	}
	if r.MaxReconnect != 5 || r.QuotaBytes != 20480*1024*1024 || !r.RTSPTCP {
		t.Fatalf("recorder defaults: %+v", r)
	}
	if cfg.Redis.Enabled() || cfg.Database.Enabled() || cfg.AWS.Enabled() {
		t.Fatal("optional backends should default to disabled")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RECORDER_SOURCE_URL", "http://cam/stream")
	t.Setenv("RECORDER_SEGMENT_SECONDS", "30")
	t.Setenv("RECORDER_QUOTA_MB", "-1")
	t.Setenv("RECORDER_RECONNECT_DELAY", "3")
	t.Setenv("RECORDER_RTSP_TCP", "false")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("AWS_S3_SEGMENTS_BUCKET", "cams")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r := cfg.Recorder
	if r.SegmentDuration != 30*time.Second {
		t.Errorf("SegmentDuration=%v", r.SegmentDuration)
	}
	if r.QuotaBytes != -1 {
		t.Errorf("QuotaBytes=%d", r.QuotaBytes)
	}
	if r.ReconnectDelay != 3*time.Second {
		t.Errorf("ReconnectDelay=%v", r.ReconnectDelay)
	}
	if r.RTSPTCP {
		t.Error("RTSPTCP should be false")
	}
	if !cfg.Redis.Enabled() || !cfg.AWS.Enabled() {
		t.Error("redis and aws should be enabled")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"missing source", Config{Recorder: RecorderConfig{Folder: "v"}}, "RECORDER_SOURCE_URL"},
		{"half dimensions", Config{Recorder: RecorderConfig{SourceURL: "x", Folder: "v", Width: 640}}, "RECORDER_HEIGHT"},
		{"ok", Config{Recorder: RecorderConfig{SourceURL: "x", Folder: "v", Width: 640, Height: 480}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err=%v want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("D_GO", "1500ms")
	t.Setenv("D_SEC", "2")
	t.Setenv("D_BAD", "soon")
	if got := getEnvDuration("D_GO", 0); got != 1500*time.Millisecond {
		t.Errorf("D_GO=%v", got)
	}
	if got := getEnvDuration("D_SEC", 0); got != 2*time.Second {
		t.Errorf("D_SEC=%v", got)
	}
	if got := getEnvDuration("D_BAD", time.Minute); got != time.Minute {
		t.Errorf("D_BAD=%v", got)
	}
}
