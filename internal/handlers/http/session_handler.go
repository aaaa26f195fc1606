package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
	"overlaycast/internal/infrastructure/compositor"
	"overlaycast/internal/infrastructure/distributed"
	"overlaycast/pkg/errors"
	"overlaycast/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SnapshotSource encodes the most recent output frame.
type SnapshotSource interface {
	WritePNG(w io.Writer) (bool, error)
}

// OverlayAnnouncer shares locally applied overlays with other instances.
type OverlayAnnouncer interface {
	Announce(ctx context.Context, req domain.OverlayRequest) error
}

// InstanceLister lists the instances joined to a session.
type InstanceLister interface {
	Instances(ctx context.Context, sessionName string) ([]distributed.InstanceRecord, error)
}

type statsReporter interface {
	Stats() compositor.Stats
}

type SessionHandler struct {
	session   ports.SessionService
	snapshots SnapshotSource
	announcer OverlayAnnouncer
	instances InstanceLister
	logger    *zap.SugaredLogger
}

type SessionHandlerOption func(*SessionHandler)

func WithAnnouncer(announcer OverlayAnnouncer) SessionHandlerOption {
	return func(h *SessionHandler) { h.announcer = announcer }
}

func WithInstanceLister(instances InstanceLister) SessionHandlerOption {
	return func(h *SessionHandler) { h.instances = instances }
}

func NewSessionHandler(
	session ports.SessionService,
	snapshots SnapshotSource,
	logger *zap.SugaredLogger,
	opts ...SessionHandlerOption,
) *SessionHandler {
	h := &SessionHandler{
		session:   session,
		snapshots: snapshots,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetupRoutes registers the session API. guard, when non-empty, is applied
// to routes that change session or overlay state.
func (h *SessionHandler) SetupRoutes(router *gin.Engine, guard ...gin.HandlerFunc) {
	api := router.Group("/api/v1")
	{
		api.GET("/session", h.GetSession)
		api.GET("/snapshot.png", h.GetSnapshot)
		api.POST("/session/join", h.Join)

		protected := api.Group("", guard...)
		protected.POST("/session/leave", h.Leave)
		protected.POST("/session/video/toggle", h.ToggleVideo)
		protected.POST("/session/video", h.VideoStateChange)
		protected.POST("/overlay/text", h.PushTextOverlay)
		protected.POST("/overlay/card", h.PushCardOverlay)
	}
}

type JoinSessionRequest struct {
	SessionName string                `json:"session_name" binding:"required"`
	UserName    string                `json:"user_name"`
	Role        int                   `json:"role"`
	Token       string                `json:"token"`
	Overlay     domain.OverlayRequest `json:"overlay"`
}

type TextOverlayRequest struct {
	Text   string `json:"text"`
	Width  int    `json:"width" binding:"min=0"`
	Height int    `json:"height" binding:"min=0"`
}

type VideoStateRequest struct {
	Action domain.VideoAction `json:"action" binding:"required"`
	UserID domain.UserID      `json:"user_id" binding:"required"`
}

func (h *SessionHandler) Join(c *gin.Context) {
	var req JoinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	session, err := h.session.Join(c.Request.Context(), domain.JoinRequest{
		SessionName: strings.TrimSpace(req.SessionName),
		UserName:    strings.TrimSpace(req.UserName),
		Role:        req.Role,
		Token:       req.Token,
		Overlay:     req.Overlay,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "joined",
		"session": sessionView(session),
		"token":   session.Token,
	})
}

func (h *SessionHandler) Leave(c *gin.Context) {
	if err := h.session.Leave(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	resp := gin.H{"state": h.session.State()}

	session := h.session.Session()
	if session != nil {
		resp["session"] = sessionView(session)
	}
	if reporter, ok := h.session.Processor().(statsReporter); ok {
		resp["processor"] = reporter.Stats()
	}
	if h.instances != nil && session != nil {
		instances, err := h.instances.Instances(c.Request.Context(), session.Name)
		if err != nil {
			h.logger.Warnw("Failed to list session instances", "session", session.Name, "error", err)
		} else {
			resp["instances"] = instances
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *SessionHandler) ToggleVideo(c *gin.Context) {
	capturing, err := h.session.ToggleVideo(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"capturing": capturing})
}

func (h *SessionHandler) VideoStateChange(c *gin.Context) {
	var req VideoStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateUserID(string(req.UserID)); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	event := domain.VideoStateEvent{Action: req.Action, UserID: req.UserID}
	if err := h.session.HandleVideoStateChange(c.Request.Context(), event); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "applied"})
}

func (h *SessionHandler) PushTextOverlay(c *gin.Context) {
	var req TextOverlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	h.push(c, domain.OverlayRequest{
		Kind:   domain.OverlayText,
		Text:   req.Text,
		Width:  req.Width,
		Height: req.Height,
	})
}

func (h *SessionHandler) PushCardOverlay(c *gin.Context) {
	var opts domain.CardOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	h.push(c, domain.OverlayRequest{Kind: domain.OverlayCard, Card: &opts})
}

func (h *SessionHandler) push(c *gin.Context, req domain.OverlayRequest) {
	ctx := c.Request.Context()
	if err := h.session.PushOverlay(ctx, req); err != nil {
		c.Error(err)
		return
	}

	if h.announcer != nil {
		if err := h.announcer.Announce(ctx, req); err != nil {
			h.logger.Warnw("Failed to announce overlay", "kind", req.Kind, "error", err)
		}
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status": "queued",
		"kind":   req.Kind,
	})
}

func (h *SessionHandler) GetSnapshot(c *gin.Context) {
	var buf bytes.Buffer
	ok, err := h.snapshots.WritePNG(&buf)
	if err != nil {
		c.Error(errors.NewInternalError("failed to encode snapshot"))
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame captured yet"})
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func sessionView(s *domain.Session) gin.H {
	return gin.H{
		"id":        s.ID,
		"name":      s.Name,
		"user_name": s.UserName,
		"user_id":   s.UserID,
		"joined_at": s.JoinedAt,
	}
}
