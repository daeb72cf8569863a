package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/notes-mvi/internal/details"
	"github.com/MarcoPoloResearchLab/notes-mvi/internal/list"
	"github.com/MarcoPoloResearchLab/notes-mvi/internal/metrics"
	"github.com/MarcoPoloResearchLab/notes-mvi/internal/mvi"
	"github.com/MarcoPoloResearchLab/notes-mvi/internal/notes"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	sessionParam             = "session"
	eventHeartbeat           = "heartbeat"
	defaultHeartbeatInterval = 15 * time.Second
)

var (
	errMissingRepository = errors.New("notes repository dependency required")
	errMissingSessions   = errors.New("session registry dependency required")
)

type Dependencies struct {
	Repository        notes.Repository
	Sessions          *SessionRegistry
	PageSize          int
	Clock             func() time.Time
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Repository == nil {
		return nil, errMissingRepository
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = notes.DefaultPageSize
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(metrics.Middleware())
	router.Use(requestLogger(logger))

	handler := &httpHandler{
		repository: deps.Repository,
		sessions:   deps.Sessions,
		pageSize:   pageSize,
		clock:      deps.Clock,
		heartbeat:  heartbeat,
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/notes/starred", handler.handleStarredNotes)

	screens := router.Group("/screens")
	screens.POST("/list", handler.handleOpenList)
	screens.POST("/details", handler.handleOpenDetails)
	screens.GET("/:session/state", handler.handleState)
	screens.POST("/:session/intents", handler.handleIntent)
	screens.POST("/:session/confirm-delete", handler.handleConfirmDelete)
	screens.GET("/:session/effects", handler.handleEffects)
	screens.GET("/:session/states", handler.handleStates)
	screens.DELETE("/:session", handler.handleCloseSession)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	})
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

type httpHandler struct {
	repository notes.Repository
	sessions   *SessionRegistry
	pageSize   int
	clock      func() time.Time
	heartbeat  time.Duration
	logger     *zap.Logger
}

func (h *httpHandler) now() time.Time {
	if h.clock != nil {
		return h.clock().UTC()
	}
	return time.Now().UTC()
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": h.sessions.Count()})
}

func (h *httpHandler) handleStarredNotes(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	update, ok := <-h.repository.WatchStarredNotes(ctx)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request_cancelled"})
		return
	}
	if update.Err != nil {
		h.logger.Error("failed to load starred notes", zap.Error(update.Err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "starred_notes_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": newNotePayloads(update.Value)})
}

func (h *httpHandler) handleOpenList(c *gin.Context) {
	machine, err := list.NewMachine(list.Config{
		Repository: h.repository,
		PageSize:   h.pageSize,
		Logger:     h.logger,
	})
	if err != nil {
		h.logger.Error("failed to start list screen", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "screen_start_failed"})
		return
	}
	session := h.sessions.open(&listScreen{machine: machine, logger: h.logger.With(zap.String("screen", list.ScreenName))})
	for _, intent := range []list.Intent{list.LoadNotes{}, list.LoadCounts{}} {
		if err := machine.Dispatch(intent); err != nil {
			h.logger.Error("failed to dispatch initial intent", zap.String("session_id", session.id), zap.Error(err))
		}
		metrics.TrackIntent(list.ScreenName, mvi.Name(intent))
	}
	c.JSON(http.StatusCreated, sessionResponsePayload{SessionID: session.id, Screen: list.ScreenName})
}

func (h *httpHandler) handleOpenDetails(c *gin.Context) {
	var request openDetailsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	machine, err := details.NewMachine(details.Config{
		Repository: h.repository,
		Clock:      h.now,
		Logger:     h.logger,
	})
	if err != nil {
		h.logger.Error("failed to start details screen", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "screen_start_failed"})
		return
	}
	session := h.sessions.open(&detailsScreen{machine: machine, logger: h.logger.With(zap.String("screen", details.ScreenName))})

	var intent details.Intent = details.CreateNewNote{}
	if request.NoteID != "" {
		intent = details.LoadNote{ID: request.NoteID}
	}
	if err := machine.Dispatch(intent); err != nil {
		h.logger.Error("failed to dispatch initial intent", zap.String("session_id", session.id), zap.Error(err))
	}
	metrics.TrackIntent(details.ScreenName, mvi.Name(intent))
	c.JSON(http.StatusCreated, sessionResponsePayload{SessionID: session.id, Screen: details.ScreenName})
}

func (h *httpHandler) lookupSession(c *gin.Context) (*screenSession, bool) {
	session, ok := h.sessions.get(c.Param(sessionParam))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return nil, false
	}
	return session, true
}

func (h *httpHandler) handleState(c *gin.Context) {
	session, ok := h.lookupSession(c)
	if !ok {
		return
	}
	page := 0
	if raw := c.Query("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_page"})
			return
		}
		page = parsed
	}

	view, err := session.machine.view(c.Request.Context(), page)
	if err != nil {
		h.logger.Error("failed to render screen state", zap.String("session_id", session.id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "state_unavailable"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleIntent(c *gin.Context) {
	session, ok := h.lookupSession(c)
	if !ok {
		return
	}
	var request intentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	intentName, err := session.machine.dispatch(request)
	switch {
	case err == nil:
	case errors.Is(err, errUnknownIntent), errors.Is(err, errMissingIntentField):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_intent", "detail": err.Error()})
		return
	case errors.Is(err, mvi.ErrClosed):
		c.JSON(http.StatusGone, gin.H{"error": "session_closed"})
		return
	default:
		h.logger.Error("failed to dispatch intent", zap.String("session_id", session.id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch_failed"})
		return
	}
	metrics.TrackIntent(session.machine.screen(), intentName)
	c.JSON(http.StatusAccepted, intentResponsePayload{Intent: intentName})
}

func (h *httpHandler) handleConfirmDelete(c *gin.Context) {
	session, ok := h.lookupSession(c)
	if !ok {
		return
	}
	var request confirmDeleteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := session.machine.confirmDelete(request.NoteID)
	switch {
	case err == nil:
	case errors.Is(err, errUnsupportedOperation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_operation"})
		return
	case errors.Is(err, mvi.ErrClosed):
		c.JSON(http.StatusGone, gin.H{"error": "session_closed"})
		return
	default:
		h.logger.Error("failed to confirm delete", zap.String("session_id", session.id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch_failed"})
		return
	}
	c.Status(http.StatusAccepted)
}

// handleEffects makes this connection the session's effect observer and streams each
// effect as a server-sent event until the client leaves or the session closes.
func (h *httpHandler) handleEffects(c *gin.Context) {
	session, ok := h.lookupSession(c)
	if !ok {
		return
	}
	h.streamEvents(c, session, session.machine.effects(c.Request.Context()))
}

// handleStates streams every view state the session renders, starting with the current
// one. List states carry the first page.
func (h *httpHandler) handleStates(c *gin.Context) {
	session, ok := h.lookupSession(c)
	if !ok {
		return
	}
	h.streamEvents(c, session, session.machine.states(c.Request.Context()))
}

func (h *httpHandler) streamEvents(c *gin.Context, session *screenSession, events <-chan eventPayload) {
	detach := h.sessions.attachStream(session)
	defer detach()

	ctx := c.Request.Context()
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(event.Event, event.Data)
			return true
		case <-ticker.C:
			c.SSEvent(eventHeartbeat, gin.H{"timestamp_ms": h.now().UnixMilli()})
			return true
		}
	})
}

func (h *httpHandler) handleCloseSession(c *gin.Context) {
	if !h.sessions.Close(c.Param(sessionParam)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return
	}
	c.Status(http.StatusNoContent)
}
