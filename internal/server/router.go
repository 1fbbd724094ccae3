package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/comments"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/docstore"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/realtime"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultHeartbeatInterval = 25 * time.Second

	paramKey       = "key"
	paramCommentID = "id"

	errorInvalidKey     = "invalid_key"
	errorInvalidRequest = "invalid_request"
	errorNotFound       = "not_found"
	errorStoreFailed    = "store_failed"
)

var (
	errMissingService    = errors.New("docstore service dependency required")
	errMissingDispatcher = errors.New("realtime dispatcher dependency required")
)

// Dependencies wires the HTTP handler to the document store and its change fan-out.
type Dependencies struct {
	Service           *docstore.Service
	Dispatcher        *realtime.Dispatcher
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
	AllowedOrigins    []string
}

// NewHTTPHandler builds the comments API: document operations under /resources/:key and an SSE change stream.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Service == nil {
		return nil, errMissingService
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "Last-Event-ID"},
		ExposeHeaders: []string{"Location"},
		MaxAge:        12 * time.Hour,
	}))

	handler := &httpHandler{
		service:    deps.Service,
		dispatcher: deps.Dispatcher,
		heartbeat:  heartbeat,
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealth)

	resources := router.Group("/resources/:" + paramKey)
	resources.Use(handler.validateKey)
	resources.GET("/comments", handler.handleListComments)
	resources.POST("/comments", handler.handleCreateComment)
	resources.PATCH("/comments/:"+paramCommentID, handler.handleUpdateComment)
	resources.DELETE("/comments/:"+paramCommentID, handler.handleDeleteComment)
	resources.GET("/stream", handler.handleStream)

	return router, nil
}

type httpHandler struct {
	service    *docstore.Service
	dispatcher *realtime.Dispatcher
	heartbeat  time.Duration
	logger     *zap.Logger
}

type createRequestPayload struct {
	Author       string `json:"author"`
	Body         string `json:"body"`
	OriginalPath string `json:"original_path"`
	ParentID     string `json:"parent_id"`
}

type createResponsePayload struct {
	ID string `json:"id"`
}

type updateRequestPayload struct {
	Body string `json:"body"`
}

type listResponsePayload struct {
	Comments comments.Collection `json:"comments"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	key := c.Param(paramKey)
	collection, err := h.service.Fetch(c.Request.Context(), key)
	if err != nil {
		h.respondError(c, "failed to fetch comments", err)
		return
	}
	c.JSON(http.StatusOK, listResponsePayload{Comments: collection})
}

func (h *httpHandler) handleCreateComment(c *gin.Context) {
	var request createRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Author) == "" || strings.TrimSpace(request.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidRequest})
		return
	}

	key := c.Param(paramKey)
	commentID, err := h.service.Push(c.Request.Context(), key, comments.Comment{
		Author:       request.Author,
		Body:         request.Body,
		CreatedAt:    comments.PendingTimestamp(),
		ParentID:     request.ParentID,
		OriginalPath: request.OriginalPath,
	})
	if err != nil {
		h.respondError(c, "failed to create comment", err)
		return
	}
	c.Header("Location", c.Request.URL.Path+"/"+commentID)
	c.JSON(http.StatusCreated, createResponsePayload{ID: commentID})
}

func (h *httpHandler) handleUpdateComment(c *gin.Context) {
	var request updateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidRequest})
		return
	}
	if err := h.service.Patch(c.Request.Context(), c.Param(paramKey), c.Param(paramCommentID), request.Body); err != nil {
		h.respondError(c, "failed to update comment", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeleteComment(c *gin.Context) {
	if err := h.service.Remove(c.Request.Context(), c.Param(paramKey), c.Param(paramCommentID)); err != nil {
		h.respondError(c, "failed to delete comment", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) validateKey(c *gin.Context) {
	if !comments.ValidKey(c.Param(paramKey)) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errorInvalidKey})
		return
	}
	c.Next()
}

func (h *httpHandler) respondError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, comments.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidRequest})
	case errors.Is(err, comments.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": errorNotFound})
	default:
		h.logger.Error(message, zap.String("resource_key", c.Param(paramKey)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorStoreFailed})
	}
}
