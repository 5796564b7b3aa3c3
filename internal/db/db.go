// Package db persists scheduled-email jobs.
//
// Every backend implements Store with the same contract: Create always stores
// a pending job, UpdateStatus only moves a job out of pending (at most one
// concurrent terminal write wins), and the list queries are served by an
// index on (scheduled_time, status).
package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"MailScheduler/internal/errors"
	"MailScheduler/internal/models"
)

type Store interface {
	Create(ctx context.Context, job *models.ScheduledEmail) (string, error)
	Get(ctx context.Context, id string) (*models.ScheduledEmail, error)
	UpdateStatus(ctx context.Context, id string, u models.StatusUpdate) (bool, error)
	ListRecent(ctx context.Context, limit int) ([]models.ScheduledEmail, error)
	ListPendingFuture(ctx context.Context, now time.Time) ([]models.ScheduledEmail, error)
	ListPendingDue(ctx context.Context, now time.Time) ([]models.ScheduledEmail, error)
	Close() error
}

type Config struct {
	Driver         string
	DatabaseURL    string
	SQLitePath     string
	MongoURI       string
	MongoDatabase  string
	ConnectRetries int
}

// Open connects to the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case "postgres":
		store, err = NewPostgres(ctx, cfg.DatabaseURL, cfg.ConnectRetries, logger)
	case "mongo":
		store, err = NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.ConnectRetries, logger)
	case "sqlite":
		store, err = NewSQLite(ctx, cfg.SQLitePath)
	case "memory":
		store = NewMemory()
	default:
		err = errors.Newf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// prepareNew fills the store-assigned fields of a job about to be created.
func prepareNew(job *models.ScheduledEmail) error {
	if len(job.Recipients) == 0 {
		return errors.Validation("recipients must not be empty")
	}
	if job.ScheduledTime.IsZero() {
		return errors.Validation("scheduled time is required")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.Status = models.StatusPending
	job.Error = ""
	job.Results = nil
	job.SentAt, job.FailedAt, job.CancelledAt = nil, nil, nil
	return nil
}

func checkUpdate(u models.StatusUpdate) error {
	if !models.CanTransition(models.StatusPending, u.Status) {
		return errors.Newf("status %q is not a terminal status", u.Status)
	}
	if u.At.IsZero() {
		return errors.New("update time is required")
	}
	return nil
}

// timestampColumn returns the column recording when a job reached status.
func timestampColumn(status models.EmailStatus) string {
	switch status {
	case models.StatusSent, models.StatusPartial:
		return "sent_at"
	case models.StatusFailed:
		return "failed_at"
	case models.StatusCancelled:
		return "cancelled_at"
	default:
		return ""
	}
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
