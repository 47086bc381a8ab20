package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/dfia_ledger/config"
	"bitbucket.org/mmdatafocus/dfia_ledger/middlewares"
	"bitbucket.org/mmdatafocus/dfia_ledger/models"
	"bitbucket.org/mmdatafocus/dfia_ledger/utils"
	"bitbucket.org/mmdatafocus/dfia_ledger/workflow"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultPort = "8080"

// PubSubMessage is the Pub/Sub push envelope.
type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// Set once the DB is connected.
var balanceCache atomic.Pointer[models.BalanceCache]

func recomputePubSubHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg PubSubMessage
		logger := config.GetLogger()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server.go", "recomputePubSubHandler", "io.ReadAll", nil, err)
			// Malformed request body: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(logger, "server.go", "recomputePubSubHandler", "Unmarshal body", body, err)
			c.Status(http.StatusNoContent)
			return
		}

		m, err := config.DecodeRecomputeMessage(msg.Message.Data)
		if err != nil {
			config.LogError(logger, "server.go", "recomputePubSubHandler", "Decode pubsub message", msg.Message.Data, err)
			c.Status(http.StatusNoContent)
			return
		}

		// Prefer payload correlation_id; fall back to Pub/Sub message ID.
		correlationID := m.CorrelationId
		if correlationID == "" {
			correlationID = msg.Message.ID
		}

		ctx := utils.SystemContext(c.Request.Context(), correlationID)
		if err := ProcessMessage(ctx, logger, m); err != nil {
			logger.WithFields(logrus.Fields{
				"field":          "recomputePubSubHandler",
				"license_id":     m.LicenseId,
				"record_id":      m.ID,
				"message_id":     msg.Message.ID,
				"correlation_id": correlationID,
			}).Error("pubsub processing failed: " + err.Error())
			// Non-2xx tells Pub/Sub to retry (and potentially route to DLQ).
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type outboxReplayRequest struct {
	LicenseId int `json:"license_id"`
	RecordId  int `json:"record_id"`
}

// outboxReplayHandler re-arms one record (record_id), every unprocessed record of
// a license (license_id), or every FAILED/DEAD record (neither).
func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		ctx := c.Request.Context()

		if req.RecordId > 0 {
			now := time.Now().UTC()
			res := config.GetDB().WithContext(ctx).
				Model(&models.RecomputeJobRecord{}).
				Where("id = ? AND is_processed = 0", req.RecordId).
				Updates(map[string]interface{}{
					"publish_status":          models.OutboxPublishStatusFailed,
					"next_attempt_at":         &now,
					"processing_status":       models.OutboxProcessStatusPending,
					"next_process_attempt_at": &now,
					"locked_at":               nil,
					"locked_by":               nil,
					"last_publish_error":      nil,
				})
			if res.Error != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": res.Error.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"record_id": req.RecordId, "replayed": res.RowsAffected})
			return
		}

		n, err := models.ReprocessRecomputeJobs(ctx, req.LicenseId)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"license_id": req.LicenseId, "replayed": n})
	}
}

func licenseIdParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid license id"})
		return 0, false
	}
	return id, true
}

func recomputeStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := licenseIdParam(c)
		if !ok {
			return
		}
		status, err := models.GetRecomputeJobStatus(c.Request.Context(), id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no recompute jobs for license"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func requestRecomputeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := licenseIdParam(c)
		if !ok {
			return
		}
		if err := models.RequestRecompute(c.Request.Context(), id); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"license_id": id})
	}
}

// licenseBalanceHandler serves the cached balance next to the recompute flags.
// Exporter tokens only see their own licenses.
func licenseBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := licenseIdParam(c)
		if !ok {
			return
		}
		cache := balanceCache.Load()
		if cache == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		ctx := c.Request.Context()
		license, err := models.GetLicense(ctx, id)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		balance, err := cache.LicenseBalance(ctx, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"license_id":     license.ID,
			"license_number": license.LicenseNumber,
			"balance":        balance,
			"is_null":        license.IsNull,
			"is_expired":     license.IsExpired,
			"recomputed_at":  license.RecomputedAt,
		})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func newRouter(logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Header("x-correlation-id", cid)
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe and scrapes.
		switch c.Request.URL.Path {
		case "/healthz", "/metrics":
			c.Next()
			return
		}
		// Gate endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/pubsub", recomputePubSubHandler())

	licenses := r.Group("/licenses", middlewares.AuthMiddleware())
	licenses.GET("/:id/balance", licenseBalanceHandler())

	// Ops tooling (admin only).
	ops := r.Group("/internal/ops", middlewares.AuthMiddleware(), middlewares.AdminOnly())
	ops.POST("/outbox/replay", outboxReplayHandler())
	ops.GET("/licenses/:id/recompute", recomputeStatusHandler())
	ops.POST("/licenses/:id/recompute", requestRecomputeHandler())

	r.NoRoute(customNotFoundHandler)
	return r
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: newRouter(logger),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can block tables; run it as a separate job when SKIP_MIGRATIONS=true.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	settings := config.GetEngineSettings()
	balanceCache.Store(models.NewBalanceCache(workflow.NewEngine(db, logger, settings).Licenses, settings.BalanceCacheTTL, logger))

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	// Publishes AFTER commit.
	if config.PubSubConfigured() {
		go workflow.NewOutboxDispatcher(db, logger).Run(workerCtx)
		if err := RunRecomputeSubscriber(workerCtx); err != nil {
			config.LogError(logger, "server.go", "main", "RunRecomputeSubscriber", nil, err)
		}
	}
	if config.DirectOutboxProcessingEnabled() {
		go NewOutboxDirectProcessor(db, logger).Run(workerCtx)
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := config.RetryBackoff(attempt)
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	log.Println("Server started successfully on port " + port)

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	config.CloseRecomputeBus()
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger logs only requests that recorded errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}
