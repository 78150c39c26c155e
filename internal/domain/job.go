package domain

import (
	"errors"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Outcome is the result of a single delivery attempt.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeFailed Outcome = "failed"
)

var (
	ErrNoRecipients = errors.New("recipients: empty to list")
	ErrNoBody       = errors.New("content: neither text nor html present")
	ErrBothBodies   = errors.New("content: both text and html present")
)

type Recipients struct {
	To  []string `json:"to"`
	Cc  []string `json:"cc,omitempty"`
	Bcc []string `json:"bcc,omitempty"`
}

type Content struct {
	Subject         string  `json:"subject"`
	Text            *string `json:"text,omitempty"`
	HTML            *string `json:"html,omitempty"`
	ReplyTo         *string `json:"replyTo,omitempty"`
	FromDisplayName *string `json:"fromDisplayName,omitempty"`
	MessageIDHint   *string `json:"messageIdHint,omitempty"`
}

// Job is one outbound message work item. The document in the store is the
// single source of truth; lease fields are only meaningful while a worker
// holds a live claim.
type Job struct {
	ID             string     `json:"id"`
	Recipients     Recipients `json:"recipients"`
	Content        Content    `json:"content"`
	Status         Status     `json:"status"`
	Attempts       int        `json:"attempts"`
	LastError      *string    `json:"lastError,omitempty"`
	LeaseOwner     *string    `json:"leaseOwner,omitempty"`
	LeaseExpiresAt *time.Time `json:"leaseExpiresAt,omitempty"`
	NotBefore      time.Time  `json:"notBefore"`
	Environment    string     `json:"environment"`
	DeliveryID     *string    `json:"deliveryId,omitempty"`
	SentAt         *time.Time `json:"sentAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Terminal reports whether no further processing may ever happen for a job
// in this status. A failed job only ever stores "failed" once attempts are
// exhausted; the retry policy re-arms earlier failures straight back to
// queued inside the same release write.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// LeaseLive reports whether the job carries an unexpired lease. Expiry is
// the sole authority: a stale "processing" status with a past
// leaseExpiresAt does not count as leased.
func (j *Job) LeaseLive(now time.Time) bool {
	return j.LeaseExpiresAt != nil && now.Before(*j.LeaseExpiresAt)
}

// ValidateContent checks that a job is sendable: a non-empty to list and
// exactly one of text/html. An empty subject is odd but deliverable, so it
// is not rejected here. A failure here consumes the attempt like any
// transport error so a content bug surfaces through repeated failures
// instead of being silently skipped.
func (j *Job) ValidateContent() error {
	if len(j.Recipients.To) == 0 {
		return ErrNoRecipients
	}
	hasText := j.Content.Text != nil && *j.Content.Text != ""
	hasHTML := j.Content.HTML != nil && *j.Content.HTML != ""
	switch {
	case !hasText && !hasHTML:
		return ErrNoBody
	case hasText && hasHTML:
		return ErrBothBodies
	}
	return nil
}
