// Package scheduler arms one in-memory timer per pending job and delivers the
// job when its timer fires.
//
// The job store is authoritative: a timer is only a back-reference to a job
// id, every terminal transition goes through the store's conditional update,
// and a firing that finds its job no longer pending does nothing.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"MailScheduler/internal/db"
	"MailScheduler/internal/email"
	"MailScheduler/internal/errors"
	"MailScheduler/internal/metrics"
	"MailScheduler/internal/models"
	"MailScheduler/internal/worker"
)

// EventPublisher receives job lifecycle events. Publish errors are logged and
// never change the outcome of a job.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, ev models.JobEvent) error
}

type nopPublisher struct{}

func (nopPublisher) PublishJobEvent(context.Context, models.JobEvent) error { return nil }

type Config struct {
	Store     db.Store
	Mailer    email.Mailer
	FromName  string
	Publisher EventPublisher
	Logger    *zap.Logger

	// Workers bounds how many jobs fire at once.
	Workers int

	// RecoverMissed makes Recover fire pending jobs whose time already
	// passed instead of leaving them pending.
	RecoverMissed bool

	Now func() time.Time
}

type Scheduler struct {
	store         db.Store
	mailer        email.Mailer
	fromName      string
	events        EventPublisher
	log           *zap.Logger
	workers       int
	recoverMissed bool
	now           func() time.Time

	mu         sync.Mutex
	timers     map[string]*Handle
	queued     map[string]struct{}
	firing     map[string]struct{}
	cancelling map[string]struct{}
	seq        uint64

	queue    chan string
	done     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Handle is an armed timer for one job.
type Handle struct {
	id    string
	at    time.Time
	seq   uint64
	timer *time.Timer
	s     *Scheduler
}

func (h *Handle) ID() string    { return h.id }
func (h *Handle) At() time.Time { return h.at }

// Stop disarms the timer. It reports whether h was still the armed handle for
// its job; a replaced or already fired handle returns false.
func (h *Handle) Stop() bool {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.disarmLocked(h)
}

func New(cfg Config) *Scheduler {
	s := &Scheduler{
		store:         cfg.Store,
		mailer:        cfg.Mailer,
		fromName:      cfg.FromName,
		events:        cfg.Publisher,
		log:           cfg.Logger,
		workers:       cfg.Workers,
		recoverMissed: cfg.RecoverMissed,
		now:           cfg.Now,
		timers:        make(map[string]*Handle),
		queued:        make(map[string]struct{}),
		firing:        make(map[string]struct{}),
		cancelling:    make(map[string]struct{}),
		queue:         make(chan string),
		done:          make(chan struct{}),
	}
	if s.events == nil {
		s.events = nopPublisher{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.workers <= 0 {
		s.workers = 1
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Start runs the workers that execute firings. A firing that has begun runs
// to completion even after Stop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	worker.StartPool(ctx, &s.wg, s.workers, s.queue, func(ctx context.Context, id string) {
		s.Fire(context.WithoutCancel(ctx), id)
	}, s.log)

	s.log.Info("scheduler started", zap.Int("workers", s.workers))
}

// Stop disarms every timer and waits for in-flight firings to finish.
// Jobs that were armed stay pending in the store.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		for id, h := range s.timers {
			h.timer.Stop()
			delete(s.timers, id)
		}
		metrics.ArmedTimers.Set(0)
		s.mu.Unlock()

		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()

		s.log.Info("scheduler stopped")
	})
}

// Submit persists a new pending job and arms its timer. A store failure is
// returned and no timer is armed.
func (s *Scheduler) Submit(ctx context.Context, job *models.ScheduledEmail) (*Handle, error) {
	id, err := s.store.Create(ctx, job)
	if err != nil {
		return nil, err
	}

	h := s.Schedule(job)

	metrics.ScheduledJobs.WithLabelValues(string(models.StatusPending)).Inc()
	s.publish(ctx, models.JobEvent{JobID: id, Status: models.StatusPending, At: job.CreatedAt})

	s.log.Info("email scheduled",
		zap.String("job_id", id),
		zap.Time("scheduled_time", job.ScheduledTime),
		zap.Int("recipients", len(job.Recipients)),
	)
	return h, nil
}

// Schedule arms a timer for an already persisted pending job. An existing
// timer for the same id is replaced. Times in the past fire immediately.
func (s *Scheduler) Schedule(job *models.ScheduledEmail) *Handle {
	return s.arm(job.ID, job.ScheduledTime)
}

func (s *Scheduler) arm(id string, at time.Time) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[id]; ok {
		old.timer.Stop()
	}

	s.seq++
	h := &Handle{id: id, at: at, seq: s.seq, s: s}

	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	// The callback takes s.mu, so it cannot observe the map before h is stored.
	h.timer = time.AfterFunc(delay, func() { s.expire(h) })

	s.timers[id] = h
	metrics.ArmedTimers.Set(float64(len(s.timers)))

	s.log.Debug("timer armed",
		zap.String("job_id", id),
		zap.Duration("delay", delay),
		zap.Uint64("seq", h.seq),
	)
	return h
}

// disarmLocked stops h if it is the current handle for its job.
func (s *Scheduler) disarmLocked(h *Handle) bool {
	if cur, ok := s.timers[h.id]; !ok || cur != h {
		return false
	}
	h.timer.Stop()
	delete(s.timers, h.id)
	metrics.ArmedTimers.Set(float64(len(s.timers)))
	return true
}

// expire is the timer callback. Callbacks of replaced or stopped handles
// are ignored.
func (s *Scheduler) expire(h *Handle) {
	s.mu.Lock()
	if cur, ok := s.timers[h.id]; !ok || cur.seq != h.seq {
		s.mu.Unlock()
		s.log.Debug("stale timer ignored", zap.String("job_id", h.id), zap.Uint64("seq", h.seq))
		return
	}
	delete(s.timers, h.id)
	s.queued[h.id] = struct{}{}
	metrics.ArmedTimers.Set(float64(len(s.timers)))
	s.mu.Unlock()

	select {
	case s.queue <- h.id:
	case <-s.done:
		s.mu.Lock()
		delete(s.queued, h.id)
		s.mu.Unlock()
	}
}

// markFiring moves id from queued to firing and disarms a timer still
// armed for it, so a direct Fire and its timer cannot both deliver. It
// returns false when id is already firing or a cancel is in progress.
func (s *Scheduler) markFiring(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.timers[id]; ok {
		s.disarmLocked(h)
	}
	delete(s.queued, id)

	if _, ok := s.firing[id]; ok {
		return false
	}
	if _, ok := s.cancelling[id]; ok {
		return false
	}
	s.firing[id] = struct{}{}
	return true
}

func (s *Scheduler) clearFiring(id string) {
	s.mu.Lock()
	delete(s.firing, id)
	s.mu.Unlock()
}

// Fire delivers job id to each of its recipients in order and records the
// terminal status. Jobs that are no longer pending are skipped.
func (s *Scheduler) Fire(ctx context.Context, id string) {
	if !s.markFiring(id) {
		s.log.Info("firing skipped, job is firing or being cancelled", zap.String("job_id", id))
		return
	}
	defer s.clearFiring(id)

	start := time.Now()
	defer func() {
		metrics.FiringDuration.Observe(time.Since(start).Seconds())
	}()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("firing panicked", zap.String("job_id", id), zap.Any("panic", r))
			s.markFailed(ctx, id, fmt.Sprintf("unexpected error while sending: %v", r))
		}
	}()

	job, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			s.log.Warn("fired job not found", zap.String("job_id", id))
			return
		}
		s.log.Error("failed to load fired job", zap.String("job_id", id), zap.Error(err))
		s.markFailed(ctx, id, err.Error())
		return
	}

	if job.Status != models.StatusPending {
		s.log.Info("skipping job that is no longer pending",
			zap.String("job_id", id),
			zap.String("status", string(job.Status)),
		)
		return
	}

	from := email.Address{Address: job.SenderEmail, Name: s.fromName}
	report := email.Deliver(ctx, s.mailer, from, job.TemplateKey, job.Recipients, job.Payload, s.log)

	u := outcome(report, s.now().UTC())

	applied, err := s.store.UpdateStatus(ctx, id, u)
	if err != nil {
		s.log.Error("failed to record delivery outcome", zap.String("job_id", id), zap.Error(err))
		s.markFailed(ctx, id, err.Error())
		return
	}
	if !applied {
		s.log.Warn("job became terminal during firing", zap.String("job_id", id))
		return
	}

	metrics.ScheduledJobs.WithLabelValues(string(u.Status)).Inc()
	s.publish(ctx, models.JobEvent{
		JobID:     id,
		Status:    u.Status,
		At:        u.At,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
		Error:     u.Error,
	})

	s.log.Info("scheduled email processed",
		zap.String("job_id", id),
		zap.String("status", string(u.Status)),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
	)
}

// outcome maps a delivery report to the terminal update for its job.
func outcome(r email.Report, at time.Time) models.StatusUpdate {
	u := models.StatusUpdate{At: at, Results: r.Results}
	switch {
	case r.Succeeded == 0:
		u.Status = models.StatusFailed
		u.Error = fmt.Sprintf("failed to send any emails: all %d attempts failed", r.Failed)
	case r.Failed == 0:
		u.Status = models.StatusSent
	default:
		u.Status = models.StatusPartial
	}
	return u
}

// markFailed is the best-effort failed write after an unexpected error.
func (s *Scheduler) markFailed(ctx context.Context, id, msg string) {
	u := models.StatusUpdate{Status: models.StatusFailed, At: s.now().UTC(), Error: msg}

	applied, err := s.store.UpdateStatus(ctx, id, u)
	if err != nil {
		s.log.Error("failed to mark job failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	if !applied {
		return
	}

	metrics.ScheduledJobs.WithLabelValues(string(models.StatusFailed)).Inc()
	s.publish(ctx, models.JobEvent{JobID: id, Status: models.StatusFailed, At: u.At, Error: msg})
}

// Cancel moves a pending job to cancelled and disarms its timer. It returns
// false without error when the job is unknown, already terminal, or firing.
// A job whose timer expired but that still waits for a worker is cancelled
// in the store; Fire then skips it.
func (s *Scheduler) Cancel(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	if _, ok := s.firing[id]; ok {
		s.mu.Unlock()
		s.log.Info("cancel ignored, job is firing", zap.String("job_id", id))
		return false, nil
	}
	// Disarm before the store write so the timer cannot fire in between.
	h, armed := s.timers[id]
	if armed {
		s.disarmLocked(h)
	}
	_, queued := s.queued[id]
	s.cancelling[id] = struct{}{}
	s.mu.Unlock()

	at := s.now().UTC()
	applied, err := s.store.UpdateStatus(ctx, id, models.StatusUpdate{Status: models.StatusCancelled, At: at})

	s.mu.Lock()
	delete(s.cancelling, id)
	s.mu.Unlock()

	if err != nil {
		switch {
		case armed:
			s.rearm(h)
		case queued:
			// A worker may have dropped the firing while the write was pending.
			s.rearm(&Handle{id: id, at: s.now()})
		}
		return false, errors.Persistence(err, "cancel scheduled email")
	}
	if !applied {
		return false, nil
	}

	metrics.ScheduledJobs.WithLabelValues(string(models.StatusCancelled)).Inc()
	s.publish(ctx, models.JobEvent{JobID: id, Status: models.StatusCancelled, At: at})

	s.log.Info("scheduled email cancelled",
		zap.String("job_id", id),
		zap.Bool("was_armed", armed),
		zap.Bool("was_queued", queued),
	)
	return true, nil
}

// rearm restores h after a failed cancel unless the job was re-scheduled
// in the meantime.
func (s *Scheduler) rearm(h *Handle) {
	s.mu.Lock()
	_, replaced := s.timers[h.id]
	s.mu.Unlock()
	if !replaced {
		s.arm(h.id, h.at)
	}
}

// Recover re-arms every pending job scheduled after now. Jobs whose time
// passed while the process was down stay pending unless RecoverMissed is set,
// in which case they fire immediately. It returns the number of armed jobs.
func (s *Scheduler) Recover(ctx context.Context, now time.Time) (int, error) {
	jobs, err := s.store.ListPendingFuture(ctx, now)
	if err != nil {
		return 0, errors.Mark(errors.Wrap(err, "list pending future jobs"), errors.ErrRecovery)
	}
	for i := range jobs {
		s.Schedule(&jobs[i])
	}
	n := len(jobs)

	if s.recoverMissed {
		due, err := s.store.ListPendingDue(ctx, now)
		if err != nil {
			return n, errors.Mark(errors.Wrap(err, "list missed jobs"), errors.ErrRecovery)
		}
		for i := range due {
			s.log.Warn("firing missed job",
				zap.String("job_id", due[i].ID),
				zap.Time("scheduled_time", due[i].ScheduledTime),
			)
			s.Schedule(&due[i])
		}
		n += len(due)
	}

	s.log.Info("recovered scheduled emails", zap.Int("armed", n))
	return n, nil
}

// Armed returns the number of armed timers.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) IsArmed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

func (s *Scheduler) IsFiring(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.firing[id]
	return ok
}

// IsQueued reports whether id's timer expired and the job waits for a worker.
func (s *Scheduler) IsQueued(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.queued[id]
	return ok
}

// tracked reports whether id is armed, queued or firing.
func (s *Scheduler) tracked(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[id]; ok {
		return true
	}
	if _, ok := s.queued[id]; ok {
		return true
	}
	_, ok := s.firing[id]
	return ok
}

func (s *Scheduler) publish(ctx context.Context, ev models.JobEvent) {
	if err := s.events.PublishJobEvent(ctx, ev); err != nil {
		s.log.Warn("failed to publish job event",
			zap.String("job_id", ev.JobID),
			zap.String("status", string(ev.Status)),
			zap.Error(err),
		)
	}
}
