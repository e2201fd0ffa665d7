package worker

import (
	"context"
	"time"

	"binportal/internal/councils"
	"binportal/internal/models"
)

// DB is the persistence surface the pool needs
type DB interface {
	UpdateLookupLogStatus(ctx context.Context, requestID string, status models.LookupStatus) error
	UpdateLookupLog(ctx context.Context, log *models.LookupLog) error
	SaveScheduleSnapshot(ctx context.Context, snap *models.ScheduleSnapshot) error
	GetScheduleSnapshot(ctx context.Context, module, cacheKey string) (*models.ScheduleSnapshot, error)
}

// Cache is the Redis surface the pool needs
type Cache interface {
	GetSchedule(ctx context.Context, module, cacheKey string) ([]models.Bin, error)
	SetSchedule(ctx context.Context, module, cacheKey string, bins []models.Bin) error
	AcquireLookupLock(ctx context.Context, module, cacheKey string, ttl time.Duration) (bool, error)
	ReleaseLookupLock(ctx context.Context, module, cacheKey string) error
	DequeueLookup(ctx context.Context) (*models.QueueMessage, error)
	RequeueLookup(ctx context.Context, msg *models.QueueMessage) error
}

// CouncilRegistry resolves council modules by name
type CouncilRegistry interface {
	Get(name string) (councils.Scraper, bool)
}
