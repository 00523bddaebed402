// Package transport abstracts outbound mail delivery.
package transport

import "context"

// Envelope is one outbound message, ready to hand to a provider.
type Envelope struct {
	FromName  string
	FromEmail string
	To        string
	Subject   string
	HTML      string
	Text      string
}

// Result of a successful send.
type Result struct {
	MessageID  string
	PreviewURL *string
}

// Settings identify one SMTP peer. Connections are pooled per
// (Host, Port, Username) tuple.
type Settings struct {
	Host     string
	Port     int
	Secure   bool // true: implicit TLS, false: STARTTLS
	Username string
	Password string
}

// Transport is the outbound send capability the worker depends on.
type Transport interface {
	Send(ctx context.Context, settings Settings, env Envelope) (*Result, error)
	Close()
}
