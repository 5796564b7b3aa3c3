package db

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"MailScheduler/internal/errors"
	"MailScheduler/internal/models"
)

// MemoryStore is a process-local Store. Jobs are copied on the way in and out
// so callers never share state with the store.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*models.ScheduledEmail
}

func NewMemory() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.ScheduledEmail)}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Create(_ context.Context, job *models.ScheduledEmail) (string, error) {
	if err := prepareNew(job); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return "", errors.Mark(errors.Newf("scheduled email %s already exists", job.ID), errors.ErrPersistence)
	}
	s.jobs[job.ID] = clone(job)
	return job.ID, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.ScheduledEmail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return clone(job), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, u models.StatusUpdate) (bool, error) {
	if err := checkUpdate(u); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || !models.CanTransition(job.Status, u.Status) {
		return false, nil
	}
	u.Error = failureMessage(u)
	job.Apply(u)
	return true, nil
}

func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]models.ScheduledEmail, error) {
	jobs := s.filter(func(*models.ScheduledEmail) bool { return true })
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].ScheduledTime.After(jobs[j].ScheduledTime)
	})
	if limit >= 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) ListPendingFuture(_ context.Context, now time.Time) ([]models.ScheduledEmail, error) {
	jobs := s.filter(func(j *models.ScheduledEmail) bool {
		return j.Status == models.StatusPending && j.ScheduledTime.After(now)
	})
	sortAscending(jobs)
	return jobs, nil
}

func (s *MemoryStore) ListPendingDue(_ context.Context, now time.Time) ([]models.ScheduledEmail, error) {
	jobs := s.filter(func(j *models.ScheduledEmail) bool {
		return j.Status == models.StatusPending && !j.ScheduledTime.After(now)
	})
	sortAscending(jobs)
	return jobs, nil
}

func (s *MemoryStore) filter(keep func(*models.ScheduledEmail) bool) []models.ScheduledEmail {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ScheduledEmail
	for _, job := range s.jobs {
		if keep(job) {
			out = append(out, *clone(job))
		}
	}
	return out
}

func sortAscending(jobs []models.ScheduledEmail) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].ScheduledTime.Before(jobs[j].ScheduledTime)
	})
}

func clone(job *models.ScheduledEmail) *models.ScheduledEmail {
	c := *job
	c.Recipients = append([]models.Recipient(nil), job.Recipients...)
	for i := range c.Recipients {
		c.Recipients[i].Fields = maps.Clone(c.Recipients[i].Fields)
	}
	c.Results = append([]models.Result(nil), job.Results...)
	if job.Payload != nil {
		c.Payload = make(map[string]any, len(job.Payload))
		for k, v := range job.Payload {
			c.Payload[k] = v
		}
	}
	c.SentAt = copyTime(job.SentAt)
	c.FailedAt = copyTime(job.FailedAt)
	c.CancelledAt = copyTime(job.CancelledAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
