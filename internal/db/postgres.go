package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"MailScheduler/internal/errors"
	"MailScheduler/internal/models"
)

//go:embed schema/postgres.sql
var postgresSchema string

const selectColumns = `id, sender_email, template_key, recipients, scheduled_time, payload,
	status, error, results, created_at, sent_at, failed_at, cancelled_at`

type PostgresStore struct {
	Pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, conn string, retries int, logger *zap.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(conn)
	if err != nil {
		return nil, errors.Wrap(err, "parse dsn")
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Persistence(err, "new pool")
	}

	if err := connectWithRetry(ctx, retries, logger, "postgres", pool.Ping); err != nil {
		pool.Close()
		return nil, errors.Persistence(err, "ping postgres")
	}

	s := &PostgresStore{Pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// connectWithRetry pings with exponential backoff until the backend answers
// or retries run out.
func connectWithRetry(
	ctx context.Context,
	retries int,
	logger *zap.Logger,
	backend string,
	ping func(ctx context.Context) error,
) error {
	operation := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return ping(pingCtx)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second

	if retries < 0 {
		retries = 0
	}

	return backoff.RetryNotify(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx),
		func(err error, next time.Duration) {
			logger.Warn("store not reachable, retrying",
				zap.String("backend", backend),
				zap.Duration("next", next),
				zap.Error(err),
			)
		},
	)
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(postgresSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return errors.Persistence(err, "migrate postgres")
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.Pool.Close()
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, job *models.ScheduledEmail) (string, error) {
	if err := prepareNew(job); err != nil {
		return "", err
	}

	recipientsJSON, err := json.Marshal(job.Recipients)
	if err != nil {
		return "", errors.Wrap(err, "marshal recipients")
	}
	payloadJSON, err := marshalPayload(job.Payload)
	if err != nil {
		return "", err
	}

	_, err = s.Pool.Exec(ctx,
		`INSERT INTO scheduled_emails
		 (id, sender_email, template_key, recipients, scheduled_time, payload, status, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		job.ID,
		job.SenderEmail,
		job.TemplateKey,
		recipientsJSON,
		job.ScheduledTime,
		payloadJSON,
		models.StatusPending,
		job.CreatedAt,
	)
	if err != nil {
		return "", errors.Persistence(err, "insert scheduled email")
	}

	return job.ID, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.ScheduledEmail, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM scheduled_emails WHERE id=$1`, id)

	job, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Persistence(err, "get scheduled email")
	}
	return job, nil
}

// UpdateStatus applies u only while the job is still pending. The WHERE clause
// makes the competing terminal writes of a firing and a cancellation race
// safely: exactly one of them affects a row.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, u models.StatusUpdate) (bool, error) {
	if err := checkUpdate(u); err != nil {
		return false, err
	}

	resultsJSON, err := marshalResults(u.Results)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(
		`UPDATE scheduled_emails
		 SET status=$2,
		     %s=$3,
		     error=COALESCE($4, error),
		     results=COALESCE($5, results)
		 WHERE id=$1 AND status=$6`,
		timestampColumn(u.Status),
	)

	tag, err := s.Pool.Exec(ctx, query,
		id,
		u.Status,
		u.At,
		nullStr(failureMessage(u)),
		resultsJSON,
		models.StatusPending,
	)
	if err != nil {
		return false, errors.Persistence(err, "update scheduled email status")
	}

	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]models.ScheduledEmail, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+selectColumns+` FROM scheduled_emails
		 ORDER BY scheduled_time DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Persistence(err, "list scheduled emails")
	}
	return collectPostgres(rows)
}

func (s *PostgresStore) ListPendingFuture(ctx context.Context, now time.Time) ([]models.ScheduledEmail, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+selectColumns+` FROM scheduled_emails
		 WHERE scheduled_time > $1 AND status = $2
		 ORDER BY scheduled_time ASC`, now, models.StatusPending)
	if err != nil {
		return nil, errors.Persistence(err, "list pending future emails")
	}
	return collectPostgres(rows)
}

func (s *PostgresStore) ListPendingDue(ctx context.Context, now time.Time) ([]models.ScheduledEmail, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+selectColumns+` FROM scheduled_emails
		 WHERE scheduled_time <= $1 AND status = $2
		 ORDER BY scheduled_time ASC`, now, models.StatusPending)
	if err != nil {
		return nil, errors.Persistence(err, "list pending due emails")
	}
	return collectPostgres(rows)
}

func collectPostgres(rows pgx.Rows) ([]models.ScheduledEmail, error) {
	defer rows.Close()

	var jobs []models.ScheduledEmail
	for rows.Next() {
		job, err := scanPostgres(rows)
		if err != nil {
			return nil, errors.Persistence(err, "scan scheduled email")
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Persistence(err, "iterate scheduled emails")
	}
	return jobs, nil
}

func scanPostgres(row pgx.Row) (*models.ScheduledEmail, error) {
	var job models.ScheduledEmail
	var recipientsJSON, payloadJSON, resultsJSON []byte
	var errMsg *string

	err := row.Scan(
		&job.ID,
		&job.SenderEmail,
		&job.TemplateKey,
		&recipientsJSON,
		&job.ScheduledTime,
		&payloadJSON,
		&job.Status,
		&errMsg,
		&resultsJSON,
		&job.CreatedAt,
		&job.SentAt,
		&job.FailedAt,
		&job.CancelledAt,
	)
	if err != nil {
		return nil, err
	}

	if errMsg != nil {
		job.Error = *errMsg
	}
	if err := unmarshalColumns(&job, recipientsJSON, payloadJSON, resultsJSON); err != nil {
		return nil, err
	}
	return &job, nil
}

func marshalPayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	return b, nil
}

func marshalResults(results []models.Result) ([]byte, error) {
	if results == nil {
		return nil, nil
	}
	b, err := json.Marshal(results)
	if err != nil {
		return nil, errors.Wrap(err, "marshal results")
	}
	return b, nil
}

func unmarshalColumns(job *models.ScheduledEmail, recipients, payload, results []byte) error {
	if err := json.Unmarshal(recipients, &job.Recipients); err != nil {
		return errors.Wrap(err, "unmarshal recipients")
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return errors.Wrap(err, "unmarshal payload")
		}
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &job.Results); err != nil {
			return errors.Wrap(err, "unmarshal results")
		}
	}
	return nil
}

// failureMessage keeps the error column empty for non-failed statuses.
func failureMessage(u models.StatusUpdate) string {
	if u.Status != models.StatusFailed {
		return ""
	}
	return u.Error
}
