package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/camvault/recorder/internal/auth"
	"github.com/camvault/recorder/internal/catalog"
	"github.com/camvault/recorder/internal/journal"
	"github.com/camvault/recorder/internal/live"
	"github.com/camvault/recorder/internal/models"
	"github.com/camvault/recorder/internal/source"
	"github.com/camvault/recorder/internal/supervisor"
)

type fakeRecorder struct {
	hub *live.Hub

	mu      sync.Mutex
	state   supervisor.State
	starts  int
	stops   int
	segment *supervisor.SegmentInfo
}

func newFakeRecorder() *fakeRecorder { return &fakeRecorder{hub: live.NewHub(nil)} }

func (f *fakeRecorder) RegisterViewer(c live.Conn)   { f.hub.Register(c) }
func (f *fakeRecorder) UnregisterViewer(c live.Conn) { f.hub.Unregister(c) }

func (f *fakeRecorder) Initialize() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.state = supervisor.StateConnecting
}

func (f *fakeRecorder) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.state = supervisor.StateIdle
}

func (f *fakeRecorder) State() supervisor.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeRecorder) RemainingReconnectAttempts() int { return 3 }

func (f *fakeRecorder) CurrentSegment() (supervisor.SegmentInfo, bool) {
	if f.segment == nil {
		return supervisor.SegmentInfo{}, false
	}
	return *f.segment, true
}

func (f *fakeRecorder) StreamDimensions() (source.Dimensions, bool) {
	return source.Dimensions{Width: 704, Height: 576}, true
}

func (f *fakeRecorder) ViewerCount() int { return f.hub.Count() }

func (f *fakeRecorder) Options() supervisor.Options {
	return supervisor.Options{Channel: 2, SegmentDuration: time.Minute}
}

type fakeCatalog struct {
	segments map[string]*models.Segment
}

func (f *fakeCatalog) ListByDay(_ context.Context, _ int, day string) ([]models.Segment, error) {
	list := []models.Segment{}
	for _, s := range f.segments {
		if s.Day == day {
			list = append(list, *s)
		}
	}
	return list, nil
}

func (f *fakeCatalog) GetByName(_ context.Context, _ int, name string) (*models.Segment, error) {
	s, ok := f.segments[name]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return s, nil
}

type fakePresigner struct{}

func (fakePresigner) PresignDownload(_ context.Context, key string) (string, error) {
	return "https://example.test/" + key, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newRouter(t *testing.T, h *Handler, jwtService *auth.JWTService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.Register(r, jwtService)
	return r
}

func do(t *testing.T, r http.Handler, method, path, token string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
	}
	return w.Code, env
}

func TestHandler_StatusAndControl(t *testing.T) {
	rec := newFakeRecorder()
	rec.segment = &supervisor.SegmentInfo{Channel: 2, Name: "2_20240101_000000.mkv"}
	h := NewHandler(rec, journal.NewStore(t.TempDir()), zaptest.NewLogger(t))
	r := newRouter(t, h, nil)

	code, env := do(t, r, http.MethodGet, "/status", "")
	if code != http.StatusOK {
		t.Fatalf("status code=%d", code)
	}
	var st Status
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatal(err)
	}
	if st.Channel != 2 || st.State != "idle" || st.RemainingAttempts != 3 {
		t.Fatalf("status=%+v", st)
	}
	if st.Segment == nil || st.Segment.Name != "2_20240101_000000.mkv" {
		t.Fatalf("segment=%+v", st.Segment)
	}
	if st.Dimensions == nil || st.Dimensions.Width != 704 {
		t.Fatalf("dimensions=%+v", st.Dimensions)
	}

	if code, _ := do(t, r, http.MethodPost, "/recorder/start", ""); code != http.StatusAccepted {
		t.Fatalf("start code=%d", code)
	}
	if code, _ := do(t, r, http.MethodPost, "/recorder/stop", ""); code != http.StatusOK {
		t.Fatalf("stop code=%d", code)
	}
	if rec.starts != 1 || rec.stops != 1 {
		t.Fatalf("starts=%d stops=%d", rec.starts, rec.stops)
	}
}

func TestHandler_ControlRequiresAdmin(t *testing.T) {
	rec := newFakeRecorder()
	svc := auth.NewJWTService("secret", 1)
	h := NewHandler(rec, journal.NewStore(t.TempDir()), nil)
	r := newRouter(t, h, svc)

	viewer, err := svc.Generate("v", auth.RoleViewer, 2)
	if err != nil {
		t.Fatal(err)
	}
	admin, err := svc.Generate("a", auth.RoleAdmin, 0)
	if err != nil {
		t.Fatal(err)
	}

	if code, _ := do(t, r, http.MethodPost, "/recorder/start", ""); code != http.StatusUnauthorized {
		t.Fatalf("anonymous start code=%d", code)
	}
	if code, _ := do(t, r, http.MethodPost, "/recorder/start", viewer); code != http.StatusForbidden {
		t.Fatalf("viewer start code=%d", code)
	}
	if code, _ := do(t, r, http.MethodGet, "/status", viewer); code != http.StatusOK {
		t.Fatalf("viewer status code=%d", code)
	}
	if code, _ := do(t, r, http.MethodPost, "/recorder/start", admin); code != http.StatusAccepted {
		t.Fatalf("admin start code=%d", code)
	}
	if rec.starts != 1 {
		t.Fatalf("starts=%d", rec.starts)
	}
	if code, _ := do(t, r, http.MethodGet, "/health", ""); code != http.StatusOK {
		t.Fatalf("health code=%d", code)
	}
}

func TestHandler_Journal(t *testing.T) {
	dir := t.TempDir()
	store := journal.NewStore(dir)
	begin := time.Date(2024, 3, 9, 10, 0, 0, 0, time.Local)
	if err := store.RecordSegmentOpened(2, "2_20240309_100000.mkv", begin); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordSegmentClosed(2, begin.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	r := newRouter(t, NewHandler(newFakeRecorder(), store, nil), nil)

	code, env := do(t, r, http.MethodGet, "/journal", "")
	var days []string
	if err := json.Unmarshal(env.Data, &days); err != nil || code != http.StatusOK {
		t.Fatalf("code=%d err=%v", code, err)
	}
	if len(days) != 1 || days[0] != "20240309" {
		t.Fatalf("days=%v", days)
	}

	code, env = do(t, r, http.MethodGet, "/journal/20240309", "")
	var record journal.Record
	if err := json.Unmarshal(env.Data, &record); err != nil || code != http.StatusOK {
		t.Fatalf("code=%d err=%v", code, err)
	}
	if len(record.Entries) != 1 || record.Entries[0].Name != "2_20240309_100000.mkv" {
		t.Fatalf("record=%+v", record)
	}

	if code, _ := do(t, r, http.MethodGet, "/journal/20240310", ""); code != http.StatusNotFound {
		t.Fatalf("missing day code=%d", code)
	}
	if code, _ := do(t, r, http.MethodGet, "/journal/yesterday", ""); code != http.StatusBadRequest {
		t.Fatalf("bad day code=%d", code)
	}
}

func TestHandler_Segments(t *testing.T) {
	cat := &fakeCatalog{segments: map[string]*models.Segment{
		"a.mkv": {Name: "a.mkv", Day: "20240309", ArchiveStatus: models.ArchiveStatusArchived, S3Key: "segments/2/20240309/a.mkv", Bytes: 10},
		"b.mkv": {Name: "b.mkv", Day: "20240309", ArchiveStatus: models.ArchiveStatusPending},
	}}
	h := NewHandler(newFakeRecorder(), journal.NewStore(t.TempDir()), nil)
	r := newRouter(t, h, nil)

	if code, _ := do(t, r, http.MethodGet, "/segments?day=20240309", ""); code != http.StatusServiceUnavailable {
		t.Fatalf("unconfigured catalog code=%d", code)
	}

	h.SetCatalog(cat)
	h.SetPresigner(fakePresigner{})

	code, env := do(t, r, http.MethodGet, "/segments?day=20240309", "")
	var list []models.Segment
	if err := json.Unmarshal(env.Data, &list); err != nil || code != http.StatusOK {
		t.Fatalf("code=%d err=%v", code, err)
	}
	if len(list) != 2 {
		t.Fatalf("list=%+v", list)
	}

	code, env = do(t, r, http.MethodGet, "/segments/a.mkv/download-url", "")
	var body struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(env.Data, &body); err != nil || code != http.StatusOK {
		t.Fatalf("code=%d err=%v", code, err)
	}
	if body.URL != "https://example.test/segments/2/20240309/a.mkv" {
		t.Fatalf("url=%q", body.URL)
	}

	if code, _ := do(t, r, http.MethodGet, "/segments/b.mkv/download-url", ""); code != http.StatusConflict {
		t.Fatalf("pending segment code=%d", code)
	}
	if code, _ := do(t, r, http.MethodGet, "/segments/zzz.mkv/download-url", ""); code != http.StatusNotFound {
		t.Fatalf("unknown segment code=%d", code)
	}
}
