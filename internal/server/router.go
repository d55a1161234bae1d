package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aerochat/shopsync/internal/auth"
	"github.com/aerochat/shopsync/internal/content"
	"github.com/aerochat/shopsync/internal/shops"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	shopDomainContextKey     = "shopsync_shop_domain"
	defaultHeartbeatInterval = 25 * time.Second
	shopifyAdminOrigin       = "https://admin.shopify.com"
	shopifyStoreOriginSuffix = ".myshopify.com"
)

var (
	errMissingEngine        = errors.New("sync engine dependency required")
	errMissingSessions      = errors.New("session validator dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// SyncEngine is the subset of the content engine the HTTP surface drives.
type SyncEngine interface {
	Sync(ctx context.Context, shopDomain string, kind content.Kind) (content.SyncResult, error)
	InitialSync(ctx context.Context, shopDomain string) (content.InitialSyncResult, error)
	Status(ctx context.Context, shopDomain string) (content.ShopStatus, error)
	SetChunkIDs(ctx context.Context, shopDomain string, kind content.Kind, rawRecordID string, chunkIDs []string) error
}

// SessionValidator authenticates embedded-app requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type Dependencies struct {
	Engine            SyncEngine
	Sessions          SessionValidator
	Realtime          *RealtimeDispatcher
	IndexerAPIToken   string
	MetricsHandler    http.Handler
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Engine == nil {
		return nil, errMissingEngine
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

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		engine:       deps.Engine,
		sessions:     deps.Sessions,
		realtime:     deps.Realtime,
		indexerToken: strings.TrimSpace(deps.IndexerAPIToken),
		heartbeat:    heartbeat,
		logger:       logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	protected := router.Group("/api/sync")
	protected.Use(handler.authorizeRequest)
	protected.POST("/initial", handler.handleInitialSync)
	protected.POST("/:kind", handler.handleSync)
	protected.GET("/status", handler.handleStatus)
	if deps.Realtime != nil {
		protected.GET("/events", handler.handleEvents)
	}

	indexer := router.Group("/api/records")
	indexer.Use(handler.authorizeIndexer)
	indexer.PUT("/:kind/:id/chunks", handler.handleSetChunkIDs)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if origin == shopifyAdminOrigin {
				return true
			}
			return strings.HasPrefix(origin, "https://") && strings.HasSuffix(origin, shopifyStoreOriginSuffix)
		},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	engine       SyncEngine
	sessions     SessionValidator
	realtime     *RealtimeDispatcher
	indexerToken string
	heartbeat    time.Duration
	logger       *zap.Logger
}

type syncResultPayload struct {
	RunID        string   `json:"run_id"`
	ShopDomain   string   `json:"shop_domain"`
	Kind         string   `json:"kind"`
	Saved        int      `json:"saved"`
	Deleted      int      `json:"deleted"`
	SyncedCount  int      `json:"synced_count"`
	TotalCount   int64    `json:"total_count"`
	StoreID      string   `json:"store_id"`
	LastSyncTime string   `json:"last_sync_time"`
	Truncated    bool     `json:"truncated"`
	Warnings     []string `json:"warnings"`
}

type initialSyncPayload struct {
	ShopDomain string              `json:"shop_domain"`
	Skipped    bool                `json:"skipped"`
	Results    []syncResultPayload `json:"results"`
	Warnings   []string            `json:"warnings"`
}

type kindStatusPayload struct {
	Kind         string  `json:"kind"`
	Count        int64   `json:"count"`
	LastSyncTime *string `json:"last_sync_time"`
}

type statusPayload struct {
	ShopDomain           string              `json:"shop_domain"`
	InitialSyncCompleted bool                `json:"initial_sync_completed"`
	Kinds                []kindStatusPayload `json:"kinds"`
}

type chunkIDsRequestPayload struct {
	ShopDomain string   `json:"shop_domain"`
	ChunkIDs   []string `json:"chunk_ids"`
}

type realtimeEventPayload struct {
	Kind       string   `json:"kind"`
	RunID      string   `json:"run_id"`
	Saved      int      `json:"saved"`
	Deleted    int      `json:"deleted"`
	TotalCount int64    `json:"total_count"`
	Truncated  bool     `json:"truncated"`
	Warnings   []string `json:"warnings"`
	Timestamp  string   `json:"timestamp"`
	Source     string   `json:"source"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleSync(c *gin.Context) {
	shopDomain := c.GetString(shopDomainContextKey)
	if shopDomain == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	kind, err := content.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_kind"})
		return
	}

	result, err := h.engine.Sync(c.Request.Context(), shopDomain, kind)
	if err != nil {
		h.writeEngineError(c, "sync pass failed", err, zap.String("shop_domain", shopDomain), zap.String("kind", kind.String()))
		return
	}
	c.JSON(http.StatusOK, newSyncResultPayload(result))
}

func (h *httpHandler) handleInitialSync(c *gin.Context) {
	shopDomain := c.GetString(shopDomainContextKey)
	if shopDomain == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	result, err := h.engine.InitialSync(c.Request.Context(), shopDomain)
	if err != nil {
		h.writeEngineError(c, "initial sync failed", err, zap.String("shop_domain", shopDomain))
		return
	}
	response := initialSyncPayload{
		ShopDomain: result.ShopDomain,
		Skipped:    result.Skipped,
		Results:    make([]syncResultPayload, 0, len(result.Results)),
		Warnings:   nonNilStrings(result.Warnings),
	}
	for _, passResult := range result.Results {
		response.Results = append(response.Results, newSyncResultPayload(passResult))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	shopDomain := c.GetString(shopDomainContextKey)
	if shopDomain == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	status, err := h.engine.Status(c.Request.Context(), shopDomain)
	if err != nil {
		h.writeEngineError(c, "status lookup failed", err, zap.String("shop_domain", shopDomain))
		return
	}
	response := statusPayload{
		ShopDomain:           status.ShopDomain,
		InitialSyncCompleted: status.InitialSyncCompleted,
		Kinds:                make([]kindStatusPayload, 0, len(status.Kinds)),
	}
	for _, kindStatus := range status.Kinds {
		response.Kinds = append(response.Kinds, kindStatusPayload{
			Kind:         kindStatus.Kind.String(),
			Count:        kindStatus.Count,
			LastSyncTime: content.FormatTimestamp(kindStatus.LastSyncTime),
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleSetChunkIDs(c *gin.Context) {
	kind, err := content.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_kind"})
		return
	}
	recordID := strings.TrimSpace(c.Param("id"))
	if recordID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_record_id"})
		return
	}
	var request chunkIDsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ShopDomain) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	shopDomain, err := shops.NormalizeShopDomain(request.ShopDomain)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_shop"})
		return
	}
	chunkIDs := nonNilStrings(request.ChunkIDs)
	if err := h.engine.SetChunkIDs(c.Request.Context(), shopDomain, kind, recordID, chunkIDs); err != nil {
		h.writeEngineError(c, "chunk id update failed", err,
			zap.String("shop_domain", shopDomain),
			zap.String("kind", kind.String()),
			zap.String("record_id", recordID),
		)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	shopDomain := c.GetString(shopDomainContextKey)
	if shopDomain == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, shopDomain)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				Kind:       message.Kind,
				RunID:      message.RunID,
				Saved:      message.Saved,
				Deleted:    message.Deleted,
				TotalCount: message.TotalCount,
				Truncated:  message.Truncated,
				Warnings:   nonNilStrings(message.Warnings),
				Timestamp:  message.Timestamp.UTC().Format(time.RFC3339),
				Source:     realtimeSourceBackend,
			})
			return true
		case <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
			return true
		}
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(shopDomainContextKey, claims.ShopDomain())
	c.Next()
}

func (h *httpHandler) authorizeIndexer(c *gin.Context) {
	if h.indexerToken == "" {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "indexer_disabled"})
		return
	}
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.indexerToken)) != 1 {
		h.logger.Warn("indexer token rejected", zap.String("path", c.FullPath()))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (h *httpHandler) writeEngineError(c *gin.Context, message string, err error, fields ...zap.Field) {
	code := ""
	var serviceErr *content.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}
	fields = append(fields, zap.String("code", code), zap.Error(err))

	switch {
	case errors.Is(err, content.ErrMissingCredential):
		h.logger.Info(message, fields...)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "credential_missing", "code": code})
	case errors.Is(err, content.ErrUnknownKind):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_kind", "code": code})
	case errors.Is(err, content.ErrInvalidShopDomain):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_shop", "code": code})
	case errors.Is(err, content.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "code": code})
	default:
		h.logger.Error(message, fields...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed", "code": code})
	}
}

func newSyncResultPayload(result content.SyncResult) syncResultPayload {
	lastSync := ""
	if !result.LastSyncTime.IsZero() {
		lastSync = result.LastSyncTime.UTC().Format(time.RFC3339)
	}
	return syncResultPayload{
		RunID:        result.RunID,
		ShopDomain:   result.ShopDomain,
		Kind:         result.Kind.String(),
		Saved:        result.Saved,
		Deleted:      result.Deleted,
		SyncedCount:  result.SyncedCount,
		TotalCount:   result.TotalCount,
		StoreID:      result.StoreID,
		LastSyncTime: lastSync,
		Truncated:    result.Truncated,
		Warnings:     nonNilStrings(result.Warnings),
	}
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
