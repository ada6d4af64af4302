package email

import "context"

// Message is a rendered email ready for transport.
type Message struct {
	To       []string
	Subject  string
	HTMLBody string
	TextBody string
}

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, msg Message) error {
	return nil
}
