package mongo

import (
	"time"

	"github.com/Ruvo-Inc/mailq/internal/domain"
)

// jobModel is the BSON shape of a job document. Kept separate from the
// domain struct so optional-field handling stays inside this package.
type jobModel struct {
	ID              string     `bson:"_id"`
	ToAddrs         []string   `bson:"to_addrs"`
	CcAddrs         []string   `bson:"cc_addrs,omitempty"`
	BccAddrs        []string   `bson:"bcc_addrs,omitempty"`
	Subject         string     `bson:"subject"`
	BodyText        *string    `bson:"body_text,omitempty"`
	BodyHTML        *string    `bson:"body_html,omitempty"`
	ReplyTo         *string    `bson:"reply_to,omitempty"`
	FromDisplayName *string    `bson:"from_display_name,omitempty"`
	MessageIDHint   *string    `bson:"message_id_hint,omitempty"`
	Status          string     `bson:"status"`
	Attempts        int        `bson:"attempts"`
	LastError       *string    `bson:"last_error,omitempty"`
	LeaseOwner      *string    `bson:"lease_owner,omitempty"`
	LeaseExpiresAt  *time.Time `bson:"lease_expires_at,omitempty"`
	NotBefore       time.Time  `bson:"not_before"`
	Environment     string     `bson:"environment"`
	DeliveryID      *string    `bson:"delivery_id,omitempty"`
	SentAt          *time.Time `bson:"sent_at,omitempty"`
	CreatedAt       time.Time  `bson:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at"`
}

func toJobModel(j *domain.Job) *jobModel {
	return &jobModel{
		ID:              j.ID,
		ToAddrs:         j.Recipients.To,
		CcAddrs:         j.Recipients.Cc,
		BccAddrs:        j.Recipients.Bcc,
		Subject:         j.Content.Subject,
		BodyText:        j.Content.Text,
		BodyHTML:        j.Content.HTML,
		ReplyTo:         j.Content.ReplyTo,
		FromDisplayName: j.Content.FromDisplayName,
		MessageIDHint:   j.Content.MessageIDHint,
		Status:          string(j.Status),
		Attempts:        j.Attempts,
		LastError:       j.LastError,
		LeaseOwner:      j.LeaseOwner,
		LeaseExpiresAt:  j.LeaseExpiresAt,
		NotBefore:       j.NotBefore,
		Environment:     j.Environment,
		DeliveryID:      j.DeliveryID,
		SentAt:          j.SentAt,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) *domain.Job {
	return &domain.Job{
		ID: m.ID,
		Recipients: domain.Recipients{
			To:  m.ToAddrs,
			Cc:  m.CcAddrs,
			Bcc: m.BccAddrs,
		},
		Content: domain.Content{
			Subject:         m.Subject,
			Text:            m.BodyText,
			HTML:            m.BodyHTML,
			ReplyTo:         m.ReplyTo,
			FromDisplayName: m.FromDisplayName,
			MessageIDHint:   m.MessageIDHint,
		},
		Status:         domain.Status(m.Status),
		Attempts:       m.Attempts,
		LastError:      m.LastError,
		LeaseOwner:     m.LeaseOwner,
		LeaseExpiresAt: m.LeaseExpiresAt,
		NotBefore:      m.NotBefore,
		Environment:    m.Environment,
		DeliveryID:     m.DeliveryID,
		SentAt:         m.SentAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
