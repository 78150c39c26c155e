package mail

import (
	"context"
	"encoding/base64"

	"github.com/pkg/errors"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailTransport sends through the Gmail API using a service account with
// domain-wide delegation. Each Authenticate call builds a fresh token
// source impersonating the configured sender.
type GmailTransport struct {
	credentialsJSON []byte
	impersonate     string
}

var _ Transport = (*GmailTransport)(nil)

func NewGmailTransport(credentialsJSON []byte, impersonatedSender string) *GmailTransport {
	return &GmailTransport{
		credentialsJSON: credentialsJSON,
		impersonate:     impersonatedSender,
	}
}

func (t *GmailTransport) Authenticate(ctx context.Context) (Session, error) {
	cfg, err := google.JWTConfigFromJSON(t.credentialsJSON, gmail.GmailSendScope)
	if err != nil {
		return nil, errors.Wrap(err, "parse service account credentials")
	}
	cfg.Subject = t.impersonate

	svc, err := gmail.NewService(ctx, option.WithTokenSource(cfg.TokenSource(ctx)))
	if err != nil {
		return nil, errors.Wrap(err, "create gmail service")
	}
	return &gmailSession{svc: svc}, nil
}

type gmailSession struct{ svc *gmail.Service }

func (s *gmailSession) Send(ctx context.Context, raw []byte) (string, error) {
	msg := &gmail.Message{Raw: base64.RawURLEncoding.EncodeToString(raw)}
	res, err := s.svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		return "", errors.Wrap(err, "gmail send")
	}
	return res.Id, nil
}
