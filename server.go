package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/hospitality_backend/config"
	"bitbucket.org/mmdatafocus/hospitality_backend/middlewares"
	"bitbucket.org/mmdatafocus/hospitality_backend/models"
	"bitbucket.org/mmdatafocus/hospitality_backend/utils"
	"bitbucket.org/mmdatafocus/hospitality_backend/workflow"
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

// respondError maps workflow errors onto HTTP statuses. Validation problems
// are the caller's fault, missing rows are 404, everything else is a 500 the
// client can retry.
func respondError(c *gin.Context, err error) {
	var ve *utils.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Message, "fields": ve.Fields})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func createOrderHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		establishmentId := c.Param("establishmentId")

		var input models.NewOrder
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}

		order, err := workflow.CreateOrder(c.Request.Context(), config.GetDB(), logger, establishmentId, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, order)
	}
}

func updateOrderStatusHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		establishmentId := c.Param("establishmentId")
		orderId, err := strconv.Atoi(c.Param("orderId"))
		if err != nil || orderId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
			return
		}

		var patch models.OrderStatusPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		order, reconcileAttempted, err := workflow.UpdateOrderStatus(c.Request.Context(), config.GetDB(), logger, establishmentId, orderId, patch)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"order":               order,
			"reconcile_attempted": reconcileAttempted,
		})
	}
}

func listSalesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		establishmentId := c.Param("establishmentId")
		if err := models.ValidateEstablishmentId(c.Request.Context(), config.GetDB(), establishmentId); err != nil {
			respondError(c, err)
			return
		}

		var from, to *time.Time
		if v := c.Query("from"); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from date (want YYYY-MM-DD)"})
				return
			}
			from = &t
		}
		if v := c.Query("to"); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to date (want YYYY-MM-DD)"})
				return
			}
			to = &t
		}

		records, err := models.GetSalesRecords(c.Request.Context(), establishmentId, from, to)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
	}
}

func backfillSalesHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		establishmentId := c.Param("establishmentId")

		var (
			result workflow.BackfillResult
			err    error
		)
		switch by := c.DefaultQuery("by", "payment"); by {
		case "payment":
			result, err = workflow.BackfillByPaymentStatus(c.Request.Context(), config.GetDB(), logger, establishmentId)
		case "served":
			result, err = workflow.BackfillByServedStatus(c.Request.Context(), config.GetDB(), logger, establishmentId)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "by must be payment or served"})
			return
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func auditSalesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		establishmentId := c.Param("establishmentId")

		date := time.Now().UTC()
		if v := c.Query("date"); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date (want YYYY-MM-DD)"})
				return
			}
			date = t
		}

		audit, err := workflow.AuditSales(c.Request.Context(), config.GetDB(), establishmentId, date)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, audit)
	}
}

func salesReconcilePubSubHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		// Redis lock is a best-effort optimization. Correctness never depends
		// on it: PostSalesRecord is serialized by the ledger's unique index.
		redisLock := config.GetRedisLock()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server.go", "salesReconcilePubSubHandler", "io.ReadAll", nil, err)
			// Malformed request body: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		var envelope PubSubMessage
		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &envelope); err != nil {
			config.LogError(logger, "server.go", "salesReconcilePubSubHandler", "Unmarshal body", body, err)
			c.Status(http.StatusNoContent)
			return
		}

		var m config.SalesReconcileMessage
		if err := json.Unmarshal(envelope.Message.Data, &m); err != nil {
			config.LogError(logger, "server.go", "salesReconcilePubSubHandler", "Unmarshal pubsub message", envelope.Message.Data, err)
			c.Status(http.StatusNoContent)
			return
		}

		// Basic validation to avoid retry loops on poisoned messages.
		if m.EstablishmentId == "" || m.OrderId <= 0 {
			config.LogError(logger, "server.go", "salesReconcilePubSubHandler", "Invalid pubsub message (missing required fields)", m, fmt.Errorf("establishment_id/order_id required"))
			c.Status(http.StatusNoContent)
			return
		}

		correlationID := m.CorrelationId
		if correlationID == "" {
			correlationID = envelope.Message.ID
		}

		// Best-effort per-establishment lock to avoid concurrent pushes doing
		// duplicate work. If Redis is unavailable, continue anyway.
		var lock *redislock.Lock
		if redisLock != nil {
			lock, err = redisLock.Obtain(c.Request.Context(), fmt.Sprintf("lock:sales:%s", m.EstablishmentId), 30*time.Second, nil)
			if err != nil {
				if err != redislock.ErrNotObtained {
					logger.WithFields(logrus.Fields{
						"field":            "salesReconcilePubSubHandler",
						"establishment_id": m.EstablishmentId,
						"order_id":         m.OrderId,
						"message_id":       envelope.Message.ID,
					}).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
				}
				lock = nil
			}
		}
		defer func() {
			if lock == nil {
				return
			}
			if releaseErr := lock.Release(c.Request.Context()); releaseErr != nil {
				logger.WithFields(logrus.Fields{
					"field":            "salesReconcilePubSubHandler",
					"establishment_id": m.EstablishmentId,
					"message_id":       envelope.Message.ID,
				}).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		}()

		ctx := utils.SetEstablishmentIdInContext(c.Request.Context(), m.EstablishmentId)
		ctx = utils.SetUserIdInContext(ctx, 0)
		ctx = utils.SetUserNameInContext(ctx, "System")
		ctx = utils.SetCorrelationIdInContext(ctx, correlationID)

		db := config.GetDB()

		var rec models.SalesOutboxRecord
		findErr := db.WithContext(ctx).
			Where("id = ? AND establishment_id = ?", m.RecordId, m.EstablishmentId).
			First(&rec).Error
		if findErr == nil {
			err = workflow.ProcessOutboxRecord(ctx, db, logger, &rec)
		} else {
			// Outbox row gone (trimmed, or message from another environment):
			// still honor the trigger by posting directly from order state.
			var order models.Order
			if err = db.WithContext(ctx).
				Where("id = ? AND establishment_id = ?", m.OrderId, m.EstablishmentId).
				First(&order).Error; err == nil {
				_, err = workflow.PostSalesRecord(ctx, db, logger, &order)
			}
		}
		if err != nil {
			logger.WithFields(logrus.Fields{
				"field":            "salesReconcilePubSubHandler",
				"establishment_id": m.EstablishmentId,
				"order_id":         m.OrderId,
				"record_id":        m.RecordId,
				"message_id":       envelope.Message.ID,
				"correlation_id":   correlationID,
			}).Error("pubsub processing failed: " + err.Error())
			// Non-2xx tells Pub/Sub to retry (and potentially route to DLQ).
			c.Status(http.StatusInternalServerError)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until the DB is ready, app endpoints return 503.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist; allow all elsewhere.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "X-Correlation-Id", "X-User-Name")
	corsConfig.AddExposeHeaders("Content-Length", "X-Correlation-Id")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(middlewares.TenantContext())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api/v1/establishments/:establishmentId")
	api.POST("/orders", createOrderHandler(logger))
	api.PATCH("/orders/:orderId/status", updateOrderStatusHandler(logger))
	api.GET("/sales", listSalesHandler())
	api.POST("/sales/backfill", backfillSalesHandler(logger))
	api.GET("/sales/audit", auditSalesHandler())

	r.POST("/pubsub/sales-reconcile", salesReconcilePubSubHandler())
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
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
	// AutoMigrate can run DDL that blocks tables; allow running migrations as
	// a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Background outbox workers: the direct processor always runs as a safety
	// net; the Pub/Sub dispatcher only when a topic is configured.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	go workflow.NewSalesOutboxProcessor(db, logger).Run(workerCtx)
	if config.PubSubConfigured() {
		go workflow.NewOutboxDispatcher(db, logger).Run(workerCtx)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on port ", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
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

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
