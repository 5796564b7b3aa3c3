package models

import (
	"strings"
	"time"
)

type EmailStatus string

const (
	StatusPending   EmailStatus = "pending"
	StatusSent      EmailStatus = "sent"
	StatusPartial   EmailStatus = "partial"
	StatusFailed    EmailStatus = "failed"
	StatusCancelled EmailStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s EmailStatus) IsTerminal() bool {
	switch s {
	case StatusSent, StatusPartial, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s EmailStatus) Valid() bool {
	return s == StatusPending || s.IsTerminal()
}

// CanTransition reports whether a job in status from may move to status to.
// Only pending jobs move, and only into a terminal status.
func CanTransition(from, to EmailStatus) bool {
	return from == StatusPending && to.IsTerminal()
}

// Recipient is one addressee. Fields holds per-recipient merge values, such
// as the extra columns of an uploaded CSV.
type Recipient struct {
	Email    string            `json:"email" bson:"email"`
	Username string            `json:"username,omitempty" bson:"username,omitempty"`
	Fields   map[string]string `json:"fields,omitempty" bson:"fields,omitempty"`
}

// DisplayName returns the username, or the local part of the address when
// no username was given.
func (r Recipient) DisplayName() string {
	if name := strings.TrimSpace(r.Username); name != "" {
		return name
	}
	local, _, _ := strings.Cut(r.Email, "@")
	return local
}

type Result struct {
	Recipient string `json:"recipient" bson:"recipient"`
	Success   bool   `json:"success" bson:"success"`
	Error     string `json:"error,omitempty" bson:"error,omitempty"`
}

// ScheduledEmail is a persisted request to deliver a templated email to a
// list of recipients at a future time.
type ScheduledEmail struct {
	ID            string         `json:"id"`
	SenderEmail   string         `json:"senderEmail"`
	TemplateKey   string         `json:"templateKey"`
	Recipients    []Recipient    `json:"recipients"`
	ScheduledTime time.Time      `json:"scheduledTime"`
	Payload       map[string]any `json:"payload,omitempty"`

	Status  EmailStatus `json:"status"`
	Error   string      `json:"error,omitempty"`
	Results []Result    `json:"results,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	FailedAt    *time.Time `json:"failedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
}

// StatusUpdate is a terminal-state write for a pending job.
type StatusUpdate struct {
	Status  EmailStatus
	At      time.Time
	Error   string
	Results []Result
}

// Apply writes u into j. Callers must check CanTransition first.
func (j *ScheduledEmail) Apply(u StatusUpdate) {
	at := u.At
	j.Status = u.Status
	switch u.Status {
	case StatusSent, StatusPartial:
		j.SentAt = &at
	case StatusFailed:
		j.FailedAt = &at
		j.Error = u.Error
	case StatusCancelled:
		j.CancelledAt = &at
	}
	if u.Results != nil {
		j.Results = append([]Result(nil), u.Results...)
	}
}

// JobEvent describes a lifecycle change of a scheduled email.
type JobEvent struct {
	JobID     string      `json:"jobId"`
	Status    EmailStatus `json:"status"`
	At        time.Time   `json:"at"`
	Succeeded int         `json:"succeeded,omitempty"`
	Failed    int         `json:"failed,omitempty"`
	Error     string      `json:"error,omitempty"`
}
