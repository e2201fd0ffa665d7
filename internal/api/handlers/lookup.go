package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"binportal/internal/config"
	"binportal/internal/councils"
	"binportal/internal/ics"
	"binportal/internal/models"
	"binportal/pkg/logger"
)

// DB defines what the handlers need from the database layer
type DB interface {
	CreateLookupLog(ctx context.Context, log *models.LookupLog) error
	GetLookupLogByRequestID(ctx context.Context, requestID string) (*models.LookupLog, error)
	ListLookupLogs(ctx context.Context, module string, limit, offset int) ([]*models.LookupLog, error)
}

// Queue defines what the handlers need from Redis
type Queue interface {
	EnqueueLookup(ctx context.Context, req *models.LookupRequest) error
}

// WorkerPool defines what the handlers need from the worker pool
type WorkerPool interface {
	Submit(job *models.WorkerJob) error
}

// Registry resolves council modules by name
type Registry interface {
	Get(name string) (councils.Scraper, bool)
	Names() []string
}

// LookupHandlers contains the bin lookup HTTP handlers
type LookupHandlers struct {
	db       DB
	queue    Queue
	pool     WorkerPool
	registry Registry
	logger   *logger.Logger
	config   *config.Config
}

// NewLookupHandlers creates a new LookupHandlers instance
func NewLookupHandlers(db DB, queue Queue, pool WorkerPool, registry Registry,
	logger *logger.Logger, cfg *config.Config) *LookupHandlers {
	return &LookupHandlers{
		db:       db,
		queue:    queue,
		pool:     pool,
		registry: registry,
		logger:   logger,
		config:   cfg,
	}
}

// GetCouncils handles GET /get_councils
func (h *LookupHandlers) GetCouncils(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"councils": h.registry.Names()})
}

// GetBins handles POST /get_bins. Sync lookups block until the schedule is
// ready; async ones return a request_id straight away.
func (h *LookupHandlers) GetBins(c *gin.Context) {
	var req models.LookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, fmt.Errorf("%w: %v", models.ErrInvalidInput, err))
		return
	}

	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	if _, ok := h.registry.Get(req.Module); !ok {
		h.respondError(c, fmt.Errorf("%w: %s", models.ErrUnknownCouncil, req.Module))
		return
	}

	address, err := models.ParseAddress(req.AddressData)
	if err != nil {
		h.respondError(c, err)
		return
	}

	logRow := &models.LookupLog{
		RequestID:   req.RequestID,
		Module:      req.Module,
		AddressData: req.AddressData,
		Status:      models.LookupStatusQueued,
		StartedAt:   time.Now().UTC(),
	}
	if err := h.db.CreateLookupLog(c.Request.Context(), logRow); err != nil {
		h.logger.Error().Err(err).Str("request_id", req.RequestID).Msg("Failed to create lookup log")
		h.respondError(c, fmt.Errorf("failed to record lookup: %w", err))
		return
	}

	if req.Async {
		if err := h.queue.EnqueueLookup(c.Request.Context(), &req); err != nil {
			h.respondError(c, fmt.Errorf("failed to enqueue lookup: %w", err))
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"request_id": req.RequestID,
			"status":     models.LookupStatusQueued,
		})
		return
	}

	result, err := h.runLookup(c.Request.Context(), req.RequestID, req.Module, address)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id": result.RequestID,
		"bins":       result.Bins,
		"source":     result.Source,
	})
}

// GetCalendar handles GET /collections.ics. It runs a sync lookup (the worker
// serves from cache when it can) and renders the schedule as an iCalendar
// attachment the portal embeds in subscription links.
func (h *LookupHandlers) GetCalendar(c *gin.Context) {
	module := c.Query("module")
	addressData := c.Query("address_data")
	if module == "" || addressData == "" {
		h.respondError(c, fmt.Errorf("%w: module and address_data are required", models.ErrInvalidInput))
		return
	}

	if _, ok := h.registry.Get(module); !ok {
		h.respondError(c, fmt.Errorf("%w: %s", models.ErrUnknownCouncil, module))
		return
	}

	address, err := models.ParseAddress(addressData)
	if err != nil {
		h.respondError(c, err)
		return
	}

	requestID := uuid.New().String()
	logRow := &models.LookupLog{
		RequestID:   requestID,
		Module:      module,
		AddressData: addressData,
		Status:      models.LookupStatusQueued,
		StartedAt:   time.Now().UTC(),
	}
	if err := h.db.CreateLookupLog(c.Request.Context(), logRow); err != nil {
		h.logger.Error().Err(err).Str("request_id", requestID).Msg("Failed to create lookup log")
	}

	result, err := h.runLookup(c.Request.Context(), requestID, module, address)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", ics.Filename))
	c.Data(http.StatusOK, ics.ContentType, []byte(ics.Calendar(result.Bins)))
}

// GetLookup handles GET /lookups/:request_id
func (h *LookupHandlers) GetLookup(c *gin.Context) {
	requestID := c.Param("request_id")

	logRow, err := h.db.GetLookupLogByRequestID(c.Request.Context(), requestID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, logRow)
}

// ListLookups handles GET /lookups
func (h *LookupHandlers) ListLookups(c *gin.Context) {
	module := c.Query("module")
	limit := 50
	offset := 0
	if v, err := intQuery(c, "limit"); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := intQuery(c, "offset"); err == nil && v >= 0 {
		offset = v
	}

	logs, err := h.db.ListLookupLogs(c.Request.Context(), module, limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"lookups": logs})
}

// runLookup pushes a job through the worker pool and blocks for the result.
func (h *LookupHandlers) runLookup(ctx context.Context, requestID, module string, address models.Address) (*models.LookupResult, error) {
	timeout := h.config.Worker.ProcessingTimeout

	job := &models.WorkerJob{
		RequestID:    requestID,
		Module:       module,
		Address:      address,
		Timeout:      timeout,
		ResponseChan: make(chan *models.LookupResult, 1),
		ErrorChan:    make(chan error, 1),
	}

	if err := h.pool.Submit(job); err != nil {
		return nil, err
	}

	select {
	case result := <-job.ResponseChan:
		return result, nil
	case err := <-job.ErrorChan:
		return nil, err
	case <-time.After(timeout + 5*time.Second):
		return nil, fmt.Errorf("lookup timed out after %s", timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// respondError maps domain errors to HTTP statuses. The body carries both
// "error" and "detail" because the WordPress portal reads either.
func (h *LookupHandlers) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrMissingPostcode),
		errors.Is(err, models.ErrMissingUPRN),
		errors.Is(err, models.ErrUnknownCouncil):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	}

	c.JSON(status, gin.H{
		"error":  err.Error(),
		"detail": err.Error(),
	})
}

func intQuery(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, fmt.Errorf("missing %s", key)
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, err
	}
	return n, nil
}
