package api

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/missioncontrol/core/internal/common/apperr"
	"github.com/missioncontrol/core/internal/common/logger"
	"github.com/missioncontrol/core/internal/ingest"
	"github.com/missioncontrol/core/internal/store"
)

// Handler implements the Query API plus the task/comment/event ingress
// handlers of the HTTP surface in section 6.
type Handler struct {
	store    store.Store
	ingestor *ingest.Ingestor
	log      *logger.Logger

	readyOnce sync.Once
}

func NewHandler(st store.Store, ig *ingest.Ingestor, log *logger.Logger) *Handler {
	return &Handler{store: st, ingestor: ig, log: log.WithFields(zap.String("component", "api"))}
}

// Health handles GET /health. The body is always {"ok":true} regardless of
// store state; the first call after startup additionally logs a structured
// readiness line, per SPEC_FULL.md supplement 2.
func (h *Handler) Health(c *gin.Context) {
	h.readyOnce.Do(func() {
		h.log.WithFields(zap.String("component", "health")).Debug("first health check served since startup")
	})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type createTaskRequest struct {
	Title    string   `json:"title" binding:"required"`
	Status   string   `json:"status"`
	Assignee *string  `json:"assignee"`
	Tags     []string `json:"tags"`
}

// CreateTask handles POST /v1/tasks.
func (h *Handler) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.ValidationErrors([]string{err.Error()}))
		return
	}

	status := store.StatusInbox
	if req.Status != "" {
		parsed, ok := store.ValidStatus(req.Status)
		if !ok {
			respondError(c, apperr.ValidationErrors([]string{"status must be one of: " + joinStatuses()}))
			return
		}
		status = parsed
	}

	task, err := h.store.InsertTask(c.Request.Context(), req.Title, status, req.Assignee, req.Tags)
	if err != nil {
		respondError(c, apperr.Internal("failed to create task", err))
		return
	}
	c.JSON(http.StatusOK, task)
}

func joinStatuses() string {
	out := ""
	for i, s := range store.BoardColumns {
		if i > 0 {
			out += ", "
		}
		out += string(s)
	}
	return out
}

// Board handles GET /v1/boards/default.
func (h *Handler) Board(c *gin.Context) {
	board, err := h.store.ListBoard(c.Request.Context())
	if err != nil {
		respondError(c, apperr.Internal("failed to list board", err))
		return
	}
	c.JSON(http.StatusOK, board)
}

type createCommentRequest struct {
	Author string `json:"author" binding:"required"`
	Body   string `json:"body" binding:"required"`
}

// CreateComment handles POST /v1/tasks/:task_id/comments.
func (h *Handler) CreateComment(c *gin.Context) {
	taskID, err := uuid.Parse(c.Param("task_id"))
	if err != nil {
		respondError(c, apperr.ValidationErrors([]string{"task_id must be a valid uuid"}))
		return
	}

	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.ValidationErrors([]string{err.Error()}))
		return
	}

	comment, err := h.ingestor.AddComment(c.Request.Context(), taskID, req.Author, req.Body)
	if err != nil {
		if err == store.ErrTaskNotFound {
			respondError(c, apperr.NotFound("task", taskID.String()))
			return
		}
		respondError(c, apperr.Internal("failed to create comment", err))
		return
	}
	c.JSON(http.StatusOK, comment)
}

// CreateEvent handles POST /v1/events.
func (h *Handler) CreateEvent(c *gin.Context) {
	var in ingest.EventIn
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, apperr.ValidationErrors([]string{err.Error()}))
		return
	}

	event, appErr := h.ingestor.Ingest(c.Request.Context(), in)
	if appErr != nil {
		respondError(c, appErr)
		return
	}
	c.JSON(http.StatusOK, event)
}

// Feed handles GET /v1/feed.
func (h *Handler) Feed(c *gin.Context) {
	limit := queryLimit(c, 200, 200)
	events, err := h.store.ListFeed(c.Request.Context(), limit)
	if err != nil {
		respondError(c, apperr.Internal("failed to list feed", err))
		return
	}
	c.JSON(http.StatusOK, events)
}

// FeedLite handles GET /v1/feed-lite.
func (h *Handler) FeedLite(c *gin.Context) {
	limit := queryLimit(c, 500, 500)
	events, err := h.store.ListFeedLite(c.Request.Context(), limit)
	if err != nil {
		respondError(c, apperr.Internal("failed to list feed-lite", err))
		return
	}
	c.JSON(http.StatusOK, events)
}

func queryLimit(c *gin.Context, def, max int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
