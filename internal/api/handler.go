package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"MailScheduler/internal/db"
	"MailScheduler/internal/email"
	"MailScheduler/internal/errors"
	"MailScheduler/internal/models"
	"MailScheduler/internal/scheduler"
)

// ListLimit bounds GET /api/scheduled-emails.
const ListLimit = 100

const notFoundOrProcessed = "Scheduled email not found or already processed"

type Handler struct {
	store     db.Store
	scheduler *scheduler.Scheduler
	mailer    email.Mailer
	fromName  string
	logger    *zap.Logger
	now       func() time.Time
}

type Config struct {
	Store     db.Store
	Scheduler *scheduler.Scheduler
	Mailer    email.Mailer
	FromName  string
	Logger    *zap.Logger
}

func NewHandler(cfg Config) *Handler {
	return &Handler{
		store:     cfg.Store,
		scheduler: cfg.Scheduler,
		mailer:    cfg.Mailer,
		fromName:  cfg.FromName,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

type SendTemplateRequest struct {
	SenderEmail   string             `json:"senderEmail"`
	TemplateKey   string             `json:"templateKey"`
	Recipients    []models.Recipient `json:"recipients"`
	ScheduledTime string             `json:"scheduledTime,omitempty"`
	MergeInfo     map[string]any     `json:"mergeInfo,omitempty"`
}

// validate checks req and returns the parsed scheduled time, zero when the
// request asks for an immediate send.
func (req *SendTemplateRequest) validate(now time.Time) (time.Time, error) {
	req.SenderEmail = strings.TrimSpace(req.SenderEmail)
	req.TemplateKey = strings.TrimSpace(req.TemplateKey)

	if req.SenderEmail == "" {
		return time.Time{}, errors.Validation("Sender email is required")
	}
	if req.TemplateKey == "" {
		return time.Time{}, errors.Validation("Template key is required")
	}
	if len(req.Recipients) == 0 {
		return time.Time{}, errors.Validation("Recipients list is required and must be an array")
	}
	for i, r := range req.Recipients {
		addr, err := mail.ParseAddress(strings.TrimSpace(r.Email))
		if err != nil {
			return time.Time{}, errors.Validation(fmt.Sprintf("Recipient %d has an invalid email address", i+1))
		}
		// "Name <addr>" is stored as the bare address; the name fills an empty username.
		req.Recipients[i].Email = addr.Address
		if strings.TrimSpace(r.Username) == "" && addr.Name != "" {
			req.Recipients[i].Username = addr.Name
		}
	}

	if strings.TrimSpace(req.ScheduledTime) == "" {
		return time.Time{}, nil
	}
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ScheduledTime))
	if err != nil || !at.After(now) {
		return time.Time{}, errors.Validation("Invalid or past scheduled time.")
	}
	return at.UTC(), nil
}

// SendTemplate schedules a templated email, or sends it right away when no
// scheduled time is given.
// POST /api/send-template
func (h *Handler) SendTemplate(w http.ResponseWriter, r *http.Request) {
	var req SendTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}

	at, err := req.validate(h.now())
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	if !at.IsZero() {
		h.schedule(w, r, &req, at)
		return
	}
	h.sendNow(w, r, &req)
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request, req *SendTemplateRequest, at time.Time) {
	job := &models.ScheduledEmail{
		SenderEmail:   req.SenderEmail,
		TemplateKey:   req.TemplateKey,
		Recipients:    req.Recipients,
		ScheduledTime: at,
		Payload:       req.MergeInfo,
	}

	handle, err := h.scheduler.Submit(r.Context(), job)
	if err != nil {
		InternalError(w, h.logger, "Failed to schedule email", err)
		return
	}

	OK(w, Response{
		Message: "Email scheduled to be sent at " + at.Format(time.RFC3339),
		JobID:   handle.ID(),
	})
}

func (h *Handler) sendNow(w http.ResponseWriter, r *http.Request, req *SendTemplateRequest) {
	from := email.Address{Address: req.SenderEmail, Name: h.fromName}
	report := email.Deliver(r.Context(), h.mailer, from, req.TemplateKey, req.Recipients, req.MergeInfo, h.logger)

	h.logger.Info("immediate send complete",
		zap.String("template", req.TemplateKey),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
	)

	if report.Succeeded == 0 {
		JSON(w, http.StatusInternalServerError, Response{
			Message: "Failed to send any emails",
			Results: report.Results,
		})
		return
	}

	OK(w, Response{
		Message: fmt.Sprintf("Emails sent successfully to %d recipients. Errors: %d", report.Succeeded, report.Failed),
		Results: report.Results,
	})
}

// ListScheduled returns the most recently scheduled jobs, newest first.
// GET /api/scheduled-emails
func (h *Handler) ListScheduled(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.ListRecent(r.Context(), ListLimit)
	if HandleStoreError(w, h.logger, err, "", "Failed to get scheduled emails") {
		return
	}
	if jobs == nil {
		jobs = []models.ScheduledEmail{}
	}

	OK(w, Response{Data: jobs})
}

// GetScheduled returns one job.
// GET /api/scheduled-emails/{id}
func (h *Handler) GetScheduled(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.Get(r.Context(), r.PathValue("id"))
	if HandleStoreError(w, h.logger, err, "Scheduled email not found", "Failed to get scheduled email") {
		return
	}

	OK(w, Response{Data: job})
}

// CancelScheduled cancels a pending job.
// DELETE /api/scheduled-emails/{id}
func (h *Handler) CancelScheduled(w http.ResponseWriter, r *http.Request) {
	ok, err := h.scheduler.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		InternalError(w, h.logger, "Failed to cancel scheduled email", err)
		return
	}
	if !ok {
		NotFound(w, notFoundOrProcessed)
		return
	}

	OK(w, Response{Message: "Scheduled email cancelled successfully"})
}
