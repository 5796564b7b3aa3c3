package db

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"MailScheduler/internal/errors"
	"MailScheduler/internal/models"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// SQLiteStore keeps jobs in a single-file database. Times are stored as unix
// nanoseconds so range queries compare integers.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create sqlite directory")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Persistence(err, "open sqlite")
	}
	// one writer serializes the conditional status updates
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Persistence(err, "migrate sqlite")
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, job *models.ScheduledEmail) (string, error) {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_emails
		 (id, sender_email, template_key, recipients, scheduled_time, payload, status, created_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		job.ID,
		job.SenderEmail,
		job.TemplateKey,
		string(recipientsJSON),
		job.ScheduledTime.UnixNano(),
		nullBytes(payloadJSON),
		string(models.StatusPending),
		job.CreatedAt.UnixNano(),
	)
	if err != nil {
		return "", errors.Persistence(err, "insert scheduled email")
	}
	return job.ID, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.ScheduledEmail, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM scheduled_emails WHERE id = ?`, id)

	job, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Persistence(err, "get scheduled email")
	}
	return job, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, u models.StatusUpdate) (bool, error) {
	if err := checkUpdate(u); err != nil {
		return false, err
	}

	resultsJSON, err := marshalResults(u.Results)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(
		`UPDATE scheduled_emails
		 SET status = ?,
		     %s = ?,
		     error = COALESCE(?, error),
		     results = COALESCE(?, results)
		 WHERE id = ? AND status = ?`,
		timestampColumn(u.Status),
	)

	res, err := s.db.ExecContext(ctx, query,
		string(u.Status),
		u.At.UnixNano(),
		nullStr(failureMessage(u)),
		nullBytes(resultsJSON),
		id,
		string(models.StatusPending),
	)
	if err != nil {
		return false, errors.Persistence(err, "update scheduled email status")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Persistence(err, "rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]models.ScheduledEmail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM scheduled_emails
		 ORDER BY scheduled_time DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Persistence(err, "list scheduled emails")
	}
	return collectSQLite(rows)
}

func (s *SQLiteStore) ListPendingFuture(ctx context.Context, now time.Time) ([]models.ScheduledEmail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM scheduled_emails
		 WHERE scheduled_time > ? AND status = ?
		 ORDER BY scheduled_time ASC`, now.UnixNano(), string(models.StatusPending))
	if err != nil {
		return nil, errors.Persistence(err, "list pending future emails")
	}
	return collectSQLite(rows)
}

func (s *SQLiteStore) ListPendingDue(ctx context.Context, now time.Time) ([]models.ScheduledEmail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM scheduled_emails
		 WHERE scheduled_time <= ? AND status = ?
		 ORDER BY scheduled_time ASC`, now.UnixNano(), string(models.StatusPending))
	if err != nil {
		return nil, errors.Persistence(err, "list pending due emails")
	}
	return collectSQLite(rows)
}

func collectSQLite(rows *sql.Rows) ([]models.ScheduledEmail, error) {
	defer rows.Close()

	var jobs []models.ScheduledEmail
	for rows.Next() {
		job, err := scanSQLite(rows)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (*models.ScheduledEmail, error) {
	var job models.ScheduledEmail
	var recipients string
	var payload, results, errMsg sql.NullString
	var scheduled, created int64
	var sentAt, failedAt, cancelledAt sql.NullInt64
	var status string

	err := row.Scan(
		&job.ID,
		&job.SenderEmail,
		&job.TemplateKey,
		&recipients,
		&scheduled,
		&payload,
		&status,
		&errMsg,
		&results,
		&created,
		&sentAt,
		&failedAt,
		&cancelledAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = models.EmailStatus(status)
	job.ScheduledTime = time.Unix(0, scheduled).UTC()
	job.CreatedAt = time.Unix(0, created).UTC()
	job.SentAt = nanosPtr(sentAt)
	job.FailedAt = nanosPtr(failedAt)
	job.CancelledAt = nanosPtr(cancelledAt)
	job.Error = errMsg.String

	if err := unmarshalColumns(&job, []byte(recipients), []byte(payload.String), []byte(results.String)); err != nil {
		return nil, err
	}
	return &job, nil
}

func nanosPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func nullBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
