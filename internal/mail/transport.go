// Package mail holds the delivery transport and the message envelope
// builder. Envelope assembly is pure; everything that talks to the network
// sits behind the Transport/Session pair so the processor can be tested
// with a scripted fake.
package mail

import "context"

// Session is a short-lived authenticated handle to the remote mail API.
type Session interface {
	// Send submits a fully-formed RFC 5322 message and returns the
	// transport's delivery id.
	Send(ctx context.Context, raw []byte) (deliveryID string, err error)
}

// Transport mints sessions. Authentication happens per invocation; sessions
// are not reused across attempts.
type Transport interface {
	Authenticate(ctx context.Context) (Session, error)
}
