package email

import (
	"context"

	"MailScheduler/internal/models"
)

type Address struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Message is a single templated send. MergeInfo carries the template
// parameters, including the recipient's username.
type Message struct {
	TemplateKey string
	From        Address
	To          []Address
	MergeInfo   map[string]any
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, msg Message) error

func (f MailerFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// NewMessage builds the single-recipient message for r. Payload entries are
// copied into the merge info first, then r's own fields; username always
// names the recipient.
func NewMessage(templateKey string, from Address, r models.Recipient, payload map[string]any) Message {
	name := r.DisplayName()

	merge := make(map[string]any, len(payload)+len(r.Fields)+1)
	for k, v := range payload {
		merge[k] = v
	}
	for k, v := range r.Fields {
		merge[k] = v
	}
	merge["username"] = name

	return Message{
		TemplateKey: templateKey,
		From:        from,
		To:          []Address{{Address: r.Email, Name: name}},
		MergeInfo:   merge,
	}
}
