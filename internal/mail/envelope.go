package mail

import (
	"fmt"
	"mime"
	netmail "net/mail"
	"strings"

	"github.com/Ruvo-Inc/mailq/internal/domain"
)

const crlf = "\r\n"

// BuildEnvelope assembles the raw RFC 5322 message for a job. Pure: same
// inputs, same bytes. senderName is the From display name used when the
// content carries no fromDisplayName; either may be empty. The caller
// validates content first; this function still guards the same conditions
// so it can never emit a bodyless message.
func BuildEnvelope(sender, senderName string, rcpt domain.Recipients, c domain.Content) ([]byte, error) {
	if len(rcpt.To) == 0 {
		return nil, domain.ErrNoRecipients
	}
	hasText := c.Text != nil && *c.Text != ""
	hasHTML := c.HTML != nil && *c.HTML != ""
	if !hasText && !hasHTML {
		return nil, domain.ErrNoBody
	}
	if hasText && hasHTML {
		return nil, domain.ErrBothBodies
	}

	from := netmail.Address{Name: senderName, Address: sender}
	if c.FromDisplayName != nil && *c.FromDisplayName != "" {
		from.Name = *c.FromDisplayName
	}

	var b strings.Builder
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString(crlf)
	}

	header("From", from.String())
	header("To", strings.Join(rcpt.To, ", "))
	if len(rcpt.Cc) > 0 {
		header("Cc", strings.Join(rcpt.Cc, ", "))
	}
	if len(rcpt.Bcc) > 0 {
		// Gmail strips Bcc from the delivered copies but uses it for
		// routing, so it belongs in the raw message.
		header("Bcc", strings.Join(rcpt.Bcc, ", "))
	}
	if c.ReplyTo != nil && *c.ReplyTo != "" {
		header("Reply-To", *c.ReplyTo)
	}
	if c.MessageIDHint != nil && *c.MessageIDHint != "" {
		header("Message-ID", fmt.Sprintf("<%s>", strings.Trim(*c.MessageIDHint, "<>")))
	}
	header("Subject", mime.QEncoding.Encode("utf-8", c.Subject))
	header("MIME-Version", "1.0")

	var body string
	if hasHTML {
		header("Content-Type", `text/html; charset="utf-8"`)
		body = *c.HTML
	} else {
		header("Content-Type", `text/plain; charset="utf-8"`)
		body = *c.Text
	}
	b.WriteString(crlf)
	b.WriteString(body)

	return []byte(b.String()), nil
}
