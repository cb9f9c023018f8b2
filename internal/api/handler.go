// Package api exposes the recorder's control, journal and live endpoints over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/camvault/recorder/internal/auth"
	"github.com/camvault/recorder/internal/catalog"
	"github.com/camvault/recorder/internal/journal"
	"github.com/camvault/recorder/internal/live"
	"github.com/camvault/recorder/internal/middleware"
	"github.com/camvault/recorder/internal/models"
	"github.com/camvault/recorder/internal/segment"
	"github.com/camvault/recorder/internal/source"
	"github.com/camvault/recorder/internal/supervisor"
	"github.com/camvault/recorder/pkg/response"
)

// Recorder is the supervisor surface the API drives.
type Recorder interface {
	live.Registry
	Initialize()
	Stop()
	State() supervisor.State
	RemainingReconnectAttempts() int
	CurrentSegment() (supervisor.SegmentInfo, bool)
	StreamDimensions() (source.Dimensions, bool)
	ViewerCount() int
	Options() supervisor.Options
}

// JournalReader reads the per-day segment journal.
type JournalReader interface {
	Days(channel int) ([]string, error)
	Load(channel int, day string) (*journal.Record, error)
}

// SegmentCatalog lists catalogued segments. Optional.
type SegmentCatalog interface {
	ListByDay(ctx context.Context, channel int, day string) ([]models.Segment, error)
	GetByName(ctx context.Context, channel int, name string) (*models.Segment, error)
}

// Presigner creates download URLs for archived segments. Optional.
type Presigner interface {
	PresignDownload(ctx context.Context, key string) (string, error)
}

// Status is the GET /status payload.
type Status struct {
	Channel           int                     `json:"channel"`
	State             string                  `json:"state"`
	RemainingAttempts int                     `json:"remaining_attempts"`
	Segment           *supervisor.SegmentInfo `json:"segment,omitempty"`
	Dimensions        *source.Dimensions      `json:"dimensions,omitempty"`
	Viewers           int                     `json:"viewers"`
	SegmentDuration   string                  `json:"segment_duration"`
}

// Handler serves the recorder API.
type Handler struct {
	rec       Recorder
	journal   JournalReader
	catalog   SegmentCatalog
	presigner Presigner
	logger    *zap.Logger
}

// NewHandler creates an API handler.
func NewHandler(rec Recorder, j JournalReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{rec: rec, journal: j, logger: logger}
}

// SetCatalog enables GET /segments.
func (h *Handler) SetCatalog(c SegmentCatalog) { h.catalog = c }

// SetPresigner enables GET /segments/:name/download-url.
func (h *Handler) SetPresigner(p Presigner) { h.presigner = p }

// Register mounts every route on r. A nil jwtService leaves the API and the live
// endpoint unauthenticated.
func (h *Handler) Register(r gin.IRouter, jwtService *auth.JWTService) {
	r.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	var validate func(string) error
	if jwtService != nil {
		validate = jwtService.ViewerValidator(h.rec.Options().Channel)
	}
	r.GET("/ws", live.ServeWs(h.rec, h.logger, validate))

	api := r.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/status", h.Status)
		api.GET("/journal", h.ListDays)
		api.GET("/journal/:day", h.GetJournal)
		api.GET("/segments", h.ListSegments)
		api.GET("/segments/:name/download-url", h.DownloadURL)

		api.POST("/recorder/start", middleware.RequireRole(auth.RoleAdmin), h.Start)
		api.POST("/recorder/stop", middleware.RequireRole(auth.RoleAdmin), h.Stop)
	}
}

// Status handles GET /status.
func (h *Handler) Status(c *gin.Context) {
	response.OK(c, h.status())
}

func (h *Handler) status() Status {
	st := Status{
		Channel:           h.rec.Options().Channel,
		State:             h.rec.State().String(),
		RemainingAttempts: h.rec.RemainingReconnectAttempts(),
		Viewers:           h.rec.ViewerCount(),
		SegmentDuration:   h.rec.Options().SegmentDuration.String(),
	}
	if seg, ok := h.rec.CurrentSegment(); ok {
		st.Segment = &seg
	}
	if dims, ok := h.rec.StreamDimensions(); ok {
		st.Dimensions = &dims
	}
	return st
}

// Start handles POST /recorder/start. Connecting happens in the background.
func (h *Handler) Start(c *gin.Context) {
	h.rec.Initialize()
	h.logger.Info("recorder start requested", zap.String("by", c.GetString(middleware.ContextSubject)))
	response.Accepted(c, h.status())
}

// Stop handles POST /recorder/stop. It returns once the open segment is closed.
func (h *Handler) Stop(c *gin.Context) {
	h.rec.Stop()
	h.logger.Info("recorder stop requested", zap.String("by", c.GetString(middleware.ContextSubject)))
	response.OK(c, h.status())
}

// ListDays handles GET /journal.
func (h *Handler) ListDays(c *gin.Context) {
	days, err := h.journal.Days(h.rec.Options().Channel)
	if err != nil {
		h.logger.Error("list journal days failed", zap.Error(err))
		response.Internal(c, "failed to list journal days")
		return
	}
	if days == nil {
		days = []string{}
	}
	response.OK(c, days)
}

// GetJournal handles GET /journal/:day (YYYYMMDD).
func (h *Handler) GetJournal(c *gin.Context) {
	day := c.Param("day")
	if !validDay(day) {
		response.BadRequest(c, "day must be YYYYMMDD")
		return
	}
	rec, err := h.journal.Load(h.rec.Options().Channel, day)
	if err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			response.NotFound(c, "no journal for day")
			return
		}
		h.logger.Error("load journal failed", zap.String("day", day), zap.Error(err))
		response.Internal(c, "failed to load journal")
		return
	}
	response.OK(c, rec)
}

// ListSegments handles GET /segments?day=YYYYMMDD; day defaults to today.
func (h *Handler) ListSegments(c *gin.Context) {
	if h.catalog == nil {
		response.ServiceUnavailable(c, "segment catalog not configured")
		return
	}
	day := c.DefaultQuery("day", time.Now().Format(segment.DayLayout))
	if !validDay(day) {
		response.BadRequest(c, "day must be YYYYMMDD")
		return
	}
	list, err := h.catalog.ListByDay(c.Request.Context(), h.rec.Options().Channel, day)
	if err != nil {
		h.logger.Error("list segments failed", zap.String("day", day), zap.Error(err))
		response.Internal(c, "failed to list segments")
		return
	}
	response.OK(c, list)
}

// DownloadURL handles GET /segments/:name/download-url for archived segments.
func (h *Handler) DownloadURL(c *gin.Context) {
	if h.catalog == nil || h.presigner == nil {
		response.ServiceUnavailable(c, "segment archive not configured")
		return
	}
	name := c.Param("name")
	seg, err := h.catalog.GetByName(c.Request.Context(), h.rec.Options().Channel, name)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			response.NotFound(c, "segment not found")
			return
		}
		h.logger.Error("get segment failed", zap.String("name", name), zap.Error(err))
		response.Internal(c, "failed to load segment")
		return
	}
	if seg.ArchiveStatus != models.ArchiveStatusArchived || seg.S3Key == "" {
		response.Fail(c, http.StatusConflict, "segment not archived yet")
		return
	}
	url, err := h.presigner.PresignDownload(c.Request.Context(), seg.S3Key)
	if err != nil {
		h.logger.Error("presign failed", zap.String("key", seg.S3Key), zap.Error(err))
		response.Internal(c, "failed to generate download url")
		return
	}
	response.OK(c, gin.H{"url": url, "name": seg.Name, "bytes": seg.Bytes})
}

func validDay(day string) bool {
	_, err := time.Parse(segment.DayLayout, day)
	return err == nil
}
