package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"binportal/internal/config"
	"binportal/internal/councils"
	"binportal/internal/models"
	"binportal/pkg/logger"
)

// ErrLookupInFlight is returned when another worker is already scraping the
// same council + address and no result arrived in time.
var ErrLookupInFlight = errors.New("a lookup for this address is already in progress")

// WorkerPool manages a pool of workers for council lookups
type WorkerPool struct {
	workers    []*Worker
	jobQueue   chan *models.WorkerJob
	db         DB
	cache      Cache
	registry   CouncilRegistry
	browser    councils.BrowserRenderer
	httpClient *http.Client
	logger     *logger.Logger
	config     *config.WorkerConfig
	metrics    *WorkerMetrics
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

// Worker represents a single worker in the pool
type Worker struct {
	id       int
	pool     *WorkerPool
	jobQueue chan *models.WorkerJob
	logger   *logger.Logger
}

// WorkerMetrics tracks worker pool statistics
type WorkerMetrics struct {
	mu            sync.RWMutex
	activeWorkers int
	completedJobs uint64
	failedJobs    uint64
}

func newWorkerMetrics() *WorkerMetrics {
	return &WorkerMetrics{}
}

func (m *WorkerMetrics) incrementActiveWorkers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeWorkers++
}

func (m *WorkerMetrics) decrementActiveWorkers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeWorkers--
}

func (m *WorkerMetrics) recordResult(failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if failed {
		m.failedJobs++
	} else {
		m.completedJobs++
	}
}

// Snapshot returns the current counters.
func (m *WorkerMetrics) Snapshot() (active int, completed, failed uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeWorkers, m.completedJobs, m.failedJobs
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(cfg *config.WorkerConfig, scrapeCfg config.ScrapeConfig, db DB, cache Cache,
	registry CouncilRegistry, browser councils.BrowserRenderer, logger *logger.Logger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &WorkerPool{
		jobQueue: make(chan *models.WorkerJob, cfg.QueueSize),
		db:       db,
		cache:    cache,
		registry: registry,
		browser:  browser,
		httpClient: &http.Client{
			Timeout: scrapeCfg.HTTPTimeout,
		},
		logger:  logger,
		config:  cfg,
		ctx:     ctx,
		cancel:  cancel,
		metrics: newWorkerMetrics(),
	}

	return pool
}

// Start initializes and starts the worker pool and the queue dispatcher
func (p *WorkerPool) Start() error {
	p.logger.Info().Msgf("Starting worker pool with %d workers", p.config.NumWorkers)

	for i := 0; i < p.config.NumWorkers; i++ {
		worker := &Worker{
			id:       i,
			pool:     p,
			jobQueue: p.jobQueue,
			logger:   p.logger.WithField("worker_id", i),
		}
		p.workers = append(p.workers, worker)

		p.wg.Add(1)
		go worker.start()
	}

	// Drain the async queue into the pool
	p.wg.Add(1)
	go p.dispatch()

	return nil
}

// Stop gracefully shuts down the worker pool
func (p *WorkerPool) Stop() error {
	p.logger.Info().Msg("Shutting down worker pool...")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info().Msg("Worker pool shutdown completed")
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		return fmt.Errorf("worker pool shutdown timed out")
	}
}

// Submit adds a new job to the worker pool
func (p *WorkerPool) Submit(job *models.WorkerJob) error {
	select {
	case p.jobQueue <- job:
		return nil
	case <-p.ctx.Done():
		return errors.New("worker pool is shutting down")
	default:
		select {
		case p.jobQueue <- job:
			return nil
		case <-time.After(p.config.QueueTimeout):
			return errors.New("worker queue is full")
		case <-p.ctx.Done():
			return errors.New("worker pool is shutting down")
		}
	}
}

// GetMetrics returns current worker pool metrics
func (p *WorkerPool) GetMetrics() *WorkerMetrics {
	return p.metrics
}

// dispatch pulls async lookups off the Redis queue and runs them through the
// pool, requeueing on failure.
func (p *WorkerPool) dispatch() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		msg, err := p.cache.DequeueLookup(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.logger.Error().Err(err).Msg("Failed to dequeue lookup")
			time.Sleep(time.Second)
			continue
		}
		if msg == nil {
			continue
		}

		p.wg.Add(1)
		go func(msg *models.QueueMessage) {
			defer p.wg.Done()
			p.runQueued(msg)
		}(msg)
	}
}

func (p *WorkerPool) runQueued(msg *models.QueueMessage) {
	log := p.logger.WithRequestID(msg.RequestID).WithCouncil(msg.Module)

	address, err := models.ParseAddress(msg.AddressData)
	if err != nil {
		// Bad input never gets better; fail the request instead of retrying.
		log.Error().Err(err).Msg("Dropping unparseable queued lookup")
		p.failLookupLog(msg.RequestID, err)
		return
	}

	job := &models.WorkerJob{
		RequestID:    msg.RequestID,
		Module:       msg.Module,
		Address:      address,
		Async:        true,
		Timeout:      p.config.ProcessingTimeout,
		ResponseChan: make(chan *models.LookupResult, 1),
		ErrorChan:    make(chan error, 1),
	}

	if err := p.Submit(job); err != nil {
		log.Error().Err(err).Msg("Failed to submit queued lookup")
		if requeueErr := p.cache.RequeueLookup(p.ctx, msg); requeueErr != nil {
			log.Error().Err(requeueErr).Msg("Failed to requeue lookup")
		}
		return
	}

	select {
	case <-p.ctx.Done():
	case <-job.ResponseChan:
		// Result already persisted by the worker.
	case err := <-job.ErrorChan:
		log.Warn().Err(err).Int("retry_count", msg.RetryCount).Msg("Queued lookup failed, requeueing")
		select {
		case <-p.ctx.Done():
			return
		case <-time.After(retryBackoff(msg.RetryCount)):
		}
		if requeueErr := p.cache.RequeueLookup(p.ctx, msg); requeueErr != nil {
			log.Error().Err(requeueErr).Msg("Failed to requeue lookup")
		}
	}
}

// retryBackoff spaces out redelivery of a failed async lookup so a struggling
// council site is not hammered back to back.
func retryBackoff(retryCount int) time.Duration {
	return time.Duration(1<<uint(retryCount)) * time.Second
}

// Worker methods

func (w *Worker) start() {
	defer w.pool.wg.Done()

	w.logger.Debug().Msg("Worker started")

	for {
		select {
		case job := <-w.jobQueue:
			w.processJob(job)
		case <-w.pool.ctx.Done():
			w.logger.Debug().Msg("Worker shutting down")
			return
		}
	}
}

func (w *Worker) processJob(job *models.WorkerJob) {
	log := w.logger.WithRequestID(job.RequestID).WithCouncil(job.Module)

	startTime := time.Now()
	w.pool.metrics.incrementActiveWorkers()
	defer w.pool.metrics.decrementActiveWorkers()

	if job.Timeout <= 0 {
		job.Timeout = w.pool.config.ProcessingTimeout
	}
	timeout := job.Timeout
	ctx, cancel := context.WithTimeout(w.pool.ctx, timeout)
	defer cancel()

	result, err := w.execute(ctx, log, job)
	if err != nil {
		w.pool.metrics.recordResult(true)
		status := models.LookupStatusFailed
		if errors.Is(err, context.DeadlineExceeded) {
			status = models.LookupStatusTimedOut
		}
		w.finishLookupLog(job, status, nil, startTime, err)
		log.Error().Err(err).Dur("elapsed", time.Since(startTime)).Msg("Lookup failed")

		if job.ErrorChan != nil {
			job.ErrorChan <- err
		}
		return
	}

	w.pool.metrics.recordResult(false)
	w.finishLookupLog(job, models.LookupStatusCompleted, result.Bins, startTime, nil)
	log.Info().
		Int("bins", len(result.Bins)).
		Str("source", string(result.Source)).
		Dur("elapsed", time.Since(startTime)).
		Msg("Lookup completed")

	if job.ResponseChan != nil {
		job.ResponseChan <- result
	}
}

// execute resolves the council module and produces a schedule, consulting the
// cache first and falling back to the last snapshot when a scrape comes back
// empty.
func (w *Worker) execute(ctx context.Context, log *logger.Logger, job *models.WorkerJob) (*models.LookupResult, error) {
	scraper, ok := w.pool.registry.Get(job.Module)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownCouncil, job.Module)
	}

	cacheKey := job.Address.CacheKey()

	if cached, err := w.pool.cache.GetSchedule(ctx, job.Module, cacheKey); err != nil {
		log.Warn().Err(err).Msg("Schedule cache read failed")
	} else if cached != nil {
		return w.result(job, models.SourceCache, cached), nil
	}

	if err := w.pool.db.UpdateLookupLogStatus(ctx, job.RequestID, models.LookupStatusRunning); err != nil {
		log.Warn().Err(err).Msg("Failed to mark lookup running")
	}

	// Dedupe concurrent scrapes of the same address: one worker scrapes,
	// the rest wait for its cache write.
	locked, err := w.pool.cache.AcquireLookupLock(ctx, job.Module, cacheKey, job.Timeout)
	switch {
	case err != nil:
		// Scrape anyway, but the lock was never ours to release: deleting
		// the key here could free a competitor's live lock.
		log.Warn().Err(err).Msg("Lookup lock unavailable, scraping anyway")
	case !locked:
		if bins, ok := w.awaitCachedResult(ctx, job.Module, cacheKey); ok {
			return w.result(job, models.SourceCache, bins), nil
		}
		return nil, ErrLookupInFlight
	default:
		defer func() {
			if err := w.pool.cache.ReleaseLookupLock(context.Background(), job.Module, cacheKey); err != nil {
				log.Warn().Err(err).Msg("Failed to release lookup lock")
			}
		}()
	}

	query := &councils.Query{
		Address: job.Address,
		Client:  w.pool.httpClient,
		Browser: w.pool.browser,
		Logger:  log,
	}

	bins, err := scraper.Collect(ctx, query)
	if err != nil {
		return nil, err
	}

	if len(bins) == 0 {
		// Councils sometimes publish an empty calendar mid-cycle; serve the
		// last known schedule when we have one.
		snap, snapErr := w.pool.db.GetScheduleSnapshot(ctx, job.Module, cacheKey)
		if snapErr == nil && len(snap.Bins) > 0 {
			log.Warn().Time("scraped_at", snap.ScrapedAt).Msg("Scrape returned no dates, serving snapshot")
			return w.result(job, models.SourceSnapshot, snap.Bins), nil
		}
		return w.result(job, models.SourceLive, bins), nil
	}

	models.SortBins(bins)

	if err := w.pool.cache.SetSchedule(ctx, job.Module, cacheKey, bins); err != nil {
		log.Warn().Err(err).Msg("Failed to cache schedule")
	}

	snap := &models.ScheduleSnapshot{
		Module:   job.Module,
		CacheKey: cacheKey,
		Bins:     bins,
	}
	if err := w.pool.db.SaveScheduleSnapshot(ctx, snap); err != nil {
		log.Warn().Err(err).Msg("Failed to save schedule snapshot")
	}

	return w.result(job, models.SourceLive, bins), nil
}

// awaitCachedResult polls the cache while another worker scrapes.
func (w *Worker) awaitCachedResult(ctx context.Context, module, cacheKey string) ([]models.Bin, bool) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-ticker.C:
			bins, err := w.pool.cache.GetSchedule(ctx, module, cacheKey)
			if err == nil && bins != nil {
				return bins, true
			}
		}
	}
}

func (w *Worker) result(job *models.WorkerJob, source models.ResultSource, bins []models.Bin) *models.LookupResult {
	if bins == nil {
		bins = []models.Bin{}
	}
	return &models.LookupResult{
		RequestID: job.RequestID,
		Module:    job.Module,
		Status:    models.LookupStatusCompleted,
		Source:    source,
		Bins:      bins,
	}
}

func (w *Worker) finishLookupLog(job *models.WorkerJob, status models.LookupStatus, bins []models.Bin, startTime time.Time, lookupErr error) {
	// Log persistence must not depend on the (possibly expired) job context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	finishedAt := time.Now().UTC()
	durationMs := int(finishedAt.Sub(startTime).Milliseconds())
	binsFound := len(bins)

	logRow := &models.LookupLog{
		RequestID:  job.RequestID,
		Status:     status,
		FinishedAt: &finishedAt,
		Duration:   &durationMs,
		BinsFound:  &binsFound,
		Bins:       bins,
	}
	if lookupErr != nil {
		msg := lookupErr.Error()
		logRow.ErrorMessage = &msg
	}

	if err := w.pool.db.UpdateLookupLog(ctx, logRow); err != nil && !errors.Is(err, models.ErrNotFound) {
		w.logger.Error().Err(err).Str("request_id", job.RequestID).Msg("Failed to update lookup log")
	}
}

func (p *WorkerPool) failLookupLog(requestID string, lookupErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	finishedAt := time.Now().UTC()
	msg := lookupErr.Error()
	logRow := &models.LookupLog{
		RequestID:    requestID,
		Status:       models.LookupStatusFailed,
		FinishedAt:   &finishedAt,
		ErrorMessage: &msg,
	}
	if err := p.db.UpdateLookupLog(ctx, logRow); err != nil {
		p.logger.Error().Err(err).Str("request_id", requestID).Msg("Failed to update lookup log")
	}
}
