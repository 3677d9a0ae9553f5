// Package notify composes and delivers job notification emails.
package notify

import (
	"context"
	"errors"
)

// Message is an HTML email.
type Message struct {
	From    string
	To      []string
	Subject string
	HTML    string
}

// ErrNoRecipients is returned for a message without any To address.
var ErrNoRecipients = errors.New("message has no recipients")

// Validate checks the message can be sent.
func (m Message) Validate() error {
	if m.From == "" {
		return errors.New("message has no sender")
	}
	if len(m.To) == 0 {
		return ErrNoRecipients
	}
	return nil
}

// Sender delivers messages. Send returns the message id once the mail
// service accepted the message, or when ctx ends, whichever comes first.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}
