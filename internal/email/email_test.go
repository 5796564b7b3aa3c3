package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"

	"MailScheduler/internal/errors"
	"MailScheduler/internal/models"
)

var sender = Address{Address: "hello@example.com", Name: "Skillang"}

func TestNewMessageDefaultsUsername(t *testing.T) {
	msg := NewMessage("tpl", sender, models.Recipient{Email: "ravi@example.com"}, map[string]any{"course": "IELTS"})

	assert.Equal(t, "tpl", msg.TemplateKey)
	assert.Equal(t, sender, msg.From)
	assert.Equal(t, []Address{{Address: "ravi@example.com", Name: "ravi"}}, msg.To)
	assert.Equal(t, "ravi", msg.MergeInfo["username"])
	assert.Equal(t, "IELTS", msg.MergeInfo["course"])
}

func TestNewMessageUsernameOverridesPayload(t *testing.T) {
	payload := map[string]any{"username": "someone else"}
	msg := NewMessage("tpl", sender, models.Recipient{Email: "a@example.com", Username: "Asha"}, payload)

	assert.Equal(t, "Asha", msg.MergeInfo["username"])
	assert.Equal(t, "someone else", payload["username"], "payload must not be mutated")
}

func TestZeptoMailSend(t *testing.T) {
	var got map[string]any
	var auth, path string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":[{"code":"EM_104"}]}`))
	}))
	defer server.Close()

	z := NewZeptoMail(server.URL, "Zoho-enczapikey secret", time.Second, zaptest.NewLogger(t))
	msg := NewMessage("tpl-key", sender, models.Recipient{Email: "asha@example.com", Username: "Asha"}, nil)

	require.NoError(t, z.Send(context.Background(), msg))

	assert.Equal(t, "Zoho-enczapikey secret", auth)
	assert.Equal(t, "/v1.1/email/template", path)
	assert.Equal(t, "tpl-key", got["mail_template_key"])
	assert.Equal(t, map[string]any{"address": "hello@example.com", "name": "Skillang"}, got["from"])
	assert.Equal(t, []any{
		map[string]any{"email_address": map[string]any{"address": "asha@example.com", "name": "Asha"}},
	}, got["to"])
	assert.Equal(t, map[string]any{"username": "Asha"}, got["merge_info"])
}

func TestZeptoMailErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"TM_3201"}}`))
	}))
	defer server.Close()

	z := NewZeptoMail(server.URL, "token", time.Second, zaptest.NewLogger(t))
	err := z.Send(context.Background(), NewMessage("tpl", sender, models.Recipient{Email: "a@example.com"}, nil))

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDelivery))
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "TM_3201")
}

func TestNewZeptoMailNormalizesURL(t *testing.T) {
	z := NewZeptoMail("api.zeptomail.in", "t", time.Second, nil)
	assert.Equal(t, "https://api.zeptomail.in/", z.BaseURL)
}

func TestDeliverRecordsEachRecipient(t *testing.T) {
	var sent []string
	mailer := MailerFunc(func(_ context.Context, msg Message) error {
		sent = append(sent, msg.To[0].Address)
		if strings.HasPrefix(msg.To[0].Address, "bad") {
			return errors.New("mailbox unavailable")
		}
		return nil
	})

	recipients := []models.Recipient{
		{Email: "good1@example.com"},
		{Email: "bad@example.com"},
		{Email: "good2@example.com"},
	}

	report := Deliver(context.Background(), mailer, sender, "tpl", recipients, nil, zaptest.NewLogger(t))

	assert.Equal(t, []string{"good1@example.com", "bad@example.com", "good2@example.com"}, sent)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []models.Result{
		{Recipient: "good1@example.com", Success: true},
		{Recipient: "bad@example.com", Success: false, Error: "mailbox unavailable"},
		{Recipient: "good2@example.com", Success: true},
	}, report.Results)
}

func TestRateLimitedWaits(t *testing.T) {
	calls := 0
	rl := &RateLimited{
		Mailer:  MailerFunc(func(context.Context, Message) error { calls++; return nil }),
		Limiter: rate.NewLimiter(rate.Limit(1), 1),
	}

	require.NoError(t, rl.Send(context.Background(), Message{}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Send(ctx, Message{}), "second send must wait beyond the deadline")
	assert.Equal(t, 1, calls)
}

func TestSMTPRendersTemplate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "welcome.html"),
		[]byte(`<p>Hello {{.username}}, welcome to {{.course}}</p>`),
		0o644,
	))

	var captured *gomail.Message
	s := &SMTP{
		Host:           "localhost",
		Port:           1025,
		TemplateDir:    dir,
		DefaultSubject: "Welcome",
		dial: func(_ *gomail.Dialer, m ...*gomail.Message) error {
			captured = m[0]
			return nil
		},
	}

	msg := NewMessage("welcome", sender, models.Recipient{Email: "asha@example.com", Username: "Asha"},
		map[string]any{"course": "German A1"})
	require.NoError(t, s.Send(context.Background(), msg))

	require.NotNil(t, captured)
	assert.Equal(t, []string{"Welcome"}, captured.GetHeader("Subject"))
	assert.Equal(t, []string{`"Asha" <asha@example.com>`}, captured.GetHeader("To"))

	var buf strings.Builder
	_, err := captured.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Hello Asha, welcome to German A1")
}

func TestSMTPMissingTemplate(t *testing.T) {
	s := &SMTP{TemplateDir: t.TempDir()}
	err := s.Send(context.Background(), NewMessage("nope", sender, models.Recipient{Email: "a@example.com"}, nil))

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDelivery))
	assert.Contains(t, err.Error(), "template parse error")
}

func TestSMTPRelayFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "welcome.html"), []byte(`<p>hi</p>`), 0o644))

	relayErr := errors.New("connection refused")
	s := &SMTP{
		Host:        "smtp.example.com",
		Port:        587,
		TemplateDir: dir,
		dial:        func(*gomail.Dialer, ...*gomail.Message) error { return relayErr },
	}

	err := s.Send(context.Background(), NewMessage("welcome", sender, models.Recipient{Email: "a@example.com"}, nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDelivery))
	assert.True(t, errors.Is(err, relayErr))
	assert.Contains(t, err.Error(), "smtp.example.com:587")
}

func TestSMTPTemplateExecutionError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.html"), []byte(`{{template "missing"}}`), 0o644))

	s := &SMTP{TemplateDir: dir, dial: func(*gomail.Dialer, ...*gomail.Message) error { return nil }}
	err := s.Send(context.Background(), NewMessage("broken", sender, models.Recipient{Email: "a@example.com"}, nil))

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDelivery))
	assert.Contains(t, err.Error(), "template execution error")
}

func TestNewMessageMergesRecipientFields(t *testing.T) {
	r := models.Recipient{
		Email:  "asha@example.com",
		Fields: map[string]string{"city": "Pune", "course": "German A1", "username": "ignored"},
	}
	msg := NewMessage("tpl", sender, r, map[string]any{"course": "IELTS", "batch": "May"})

	assert.Equal(t, "Pune", msg.MergeInfo["city"])
	assert.Equal(t, "German A1", msg.MergeInfo["course"], "recipient fields override the payload")
	assert.Equal(t, "May", msg.MergeInfo["batch"])
	assert.Equal(t, "asha", msg.MergeInfo["username"])
}
