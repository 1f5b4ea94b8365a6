package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/auth"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/profiles"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/remotestore"
	"github.com/MarcoPoloResearchLab/vocabsync/internal/vocabulary"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey         = "vocabsync_user_id"
	defaultHeartbeatInterval = 25 * time.Second
	maxDocumentBytes         = 32 << 20
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingDocumentStore    = errors.New("document store dependency required")
)

// SessionValidator authenticates an incoming request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Sessions          SessionValidator
	Documents         remotestore.Store
	Realtime          *RealtimeDispatcher
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
}

// NewHTTPHandler builds the profile document API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Documents == nil {
		return nil, errMissingDocumentStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		sessions:  deps.Sessions,
		documents: deps.Documents,
		realtime:  realtime,
		logger:    logger,
		heartbeat: heartbeat,
	}

	router.GET("/healthz", handler.handleHealth)

	profileRoutes := router.Group("/profiles/:user_id")
	profileRoutes.Use(handler.authorizeRequest)
	profileRoutes.GET("/document", handler.handleGetDocument)
	profileRoutes.PUT("/document", handler.handlePutDocument)
	profileRoutes.GET("/events", handler.handleEvents)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: func(string) bool {
			return true
		},
		AllowMethods:     []string{http.MethodGet, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	sessions  SessionValidator
	documents remotestore.Store
	realtime  *RealtimeDispatcher
	logger    *zap.Logger
	heartbeat time.Duration
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleGetDocument(c *gin.Context) {
	userID := vocabulary.UserID(c.GetString(userIDContextKey))

	document, err := h.documents.Fetch(c.Request.Context(), userID)
	if err != nil {
		h.respondStoreError(c, "fetch", userID, err)
		return
	}
	c.JSON(http.StatusOK, document)
}

func (h *httpHandler) handlePutDocument(c *gin.Context) {
	userID := vocabulary.UserID(c.GetString(userIDContextKey))

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxDocumentBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "document_too_large"})
		return
	}
	incoming, err := vocabulary.DecodeDocument(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document"})
		return
	}
	for _, library := range incoming.Libraries {
		if err := library.Validate(); err != nil {
			h.logger.Info("rejected invalid library",
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_library", "library_id": library.ID})
			return
		}
	}

	stored, err := h.documents.Replace(c.Request.Context(), userID, incoming.Snapshot)
	if err != nil {
		h.respondStoreError(c, "replace", userID, err)
		return
	}

	h.realtime.Publish(RealtimeMessage{
		UserID:          userID.String(),
		EventType:       RealtimeEventDocumentChanged,
		ServerTimestamp: stored.ServerTimestamp,
		Timestamp:       time.Now().UTC(),
	})
	c.JSON(http.StatusOK, stored)
}

func (h *httpHandler) respondStoreError(c *gin.Context, operation string, userID vocabulary.UserID, err error) {
	switch {
	case errors.Is(err, remotestore.ErrDocumentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "document_not_found"})
	case errors.Is(err, profiles.ErrProfileDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": "profile_disabled"})
	default:
		h.logger.Error("document store failure",
			zap.String("operation", operation),
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": operation + "_failed"})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, err := vocabulary.NewUserID(c.Param("user_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}
	if claims.UserID != userID.String() {
		h.logger.Warn("profile access denied",
			zap.String("subject", claims.UserID),
			zap.String("user_id", userID.String()),
		)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Set(userIDContextKey, userID.String())
	c.Next()
}
