package email

import (
	"bytes"
	"context"
	"html/template"
	"path/filepath"
	"strings"

	"gopkg.in/gomail.v2"

	"MailScheduler/internal/errors"
)

// SMTP renders a local html template named after the template key and sends
// it through an SMTP relay.
type SMTP struct {
	Host           string
	Port           int
	User           string
	Password       string
	TemplateDir    string
	DefaultSubject string

	// dial is swapped in tests.
	dial func(d *gomail.Dialer, m ...*gomail.Message) error
}

func (s *SMTP) render(msg Message) (string, error) {
	name := filepath.Base(msg.TemplateKey)
	if !strings.HasSuffix(name, ".html") {
		name += ".html"
	}

	// Base strips directories from the key so lookups stay inside TemplateDir.
	tmpl, err := template.ParseFiles(filepath.Join(s.TemplateDir, name))
	if err != nil {
		return "", errors.Wrap(err, "template parse error")
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, msg.MergeInfo); err != nil {
		return "", errors.Wrapf(err, "template execution error for %q", name)
	}
	return body.String(), nil
}

func (s *SMTP) subject(msg Message) string {
	if v, ok := msg.MergeInfo["subject"].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return s.DefaultSubject
}

// Send renders msg's template with its merge fields and hands the message to
// the relay. Render and relay errors are marked ErrDelivery.
func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := s.render(msg)
	if err != nil {
		return errors.Mark(err, errors.ErrDelivery)
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.From.Address, msg.From.Name)
	to := make([]string, 0, len(msg.To))
	for _, a := range msg.To {
		to = append(to, m.FormatAddress(a.Address, a.Name))
	}
	m.SetHeader("To", to...)
	m.SetHeader("Subject", s.subject(msg))
	m.SetBody("text/html", body)

	d := gomail.NewDialer(s.Host, s.Port, s.User, s.Password)

	send := s.dial
	if send == nil {
		send = func(d *gomail.Dialer, m ...*gomail.Message) error { return d.DialAndSend(m...) }
	}
	if err := send(d, m); err != nil {
		return errors.Mark(errors.Wrapf(err, "smtp send to %s:%d", s.Host, s.Port), errors.ErrDelivery)
	}

	return nil
}
