package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MailScheduler/internal/errors"
)

// fakeAPI serves canned responses and records the last send request.
type fakeAPI struct {
	lastSend SendTemplateRequest
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/scheduled-emails", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":[
			{"id":"job-2","status":"pending","scheduledTime":"2026-05-02T10:00:00Z","templateKey":"welcome","recipients":[{"email":"a@example.com"},{"email":"b@example.com"}]},
			{"id":"job-1","status":"sent","scheduledTime":"2026-05-01T10:00:00Z","templateKey":"welcome","recipients":[{"email":"a@example.com"}]}
		]}`))
	})
	mux.HandleFunc("GET /api/scheduled-emails/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "job-1" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"success":false,"message":"Scheduled email not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":"job-1","status":"partial","templateKey":"welcome","error":"1 of 2 recipients failed",
			"recipients":[{"email":"a@example.com"},{"email":"b@example.com"}],
			"results":[{"recipient":"a@example.com","success":true},{"recipient":"b@example.com","success":false,"error":"bounced"}]}}`))
	})
	mux.HandleFunc("DELETE /api/scheduled-emails/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "job-2" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"success":false,"message":"Scheduled email not found or already processed"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"Scheduled email cancelled successfully"}`))
	})
	mux.HandleFunc("POST /api/send-template", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastSend))
		if f.lastSend.ScheduledTime != "" {
			_, _ = w.Write([]byte(`{"success":true,"message":"Email scheduled","jobId":"job-3"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"Emails sent successfully to 1 recipients. Errors: 0",
			"results":[{"recipient":"a@example.com","success":true}]}`))
	})

	return mux
}

func setup(t *testing.T) (*fakeAPI, *Client) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	return api, NewClient(srv.URL + "/")
}

func run(t *testing.T, client *Client, jsonMode bool, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	root := &cobra.Command{Use: "mailctl", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(NewCommands(
		func() *Client { return client },
		func() *Output { return &Output{jsonMode: jsonMode, w: &stdout, errW: &stderr} },
	)...)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestClientListScheduled(t *testing.T) {
	_, c := setup(t)

	jobs, err := c.ListScheduled()
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-2", jobs[0].ID)
	assert.Len(t, jobs[0].Recipients, 2)
}

func TestClientGetNotFound(t *testing.T) {
	_, c := setup(t)

	_, err := c.GetScheduled("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.Contains(t, err.Error(), "Scheduled email not found")
}

func TestListCommandTable(t *testing.T) {
	_, c := setup(t)

	stdout, _, err := run(t, c, false, "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "ID")
	assert.Contains(t, stdout, "RECIPIENTS")
	assert.Contains(t, stdout, "job-2")
	assert.Contains(t, stdout, "pending")
}

func TestListCommandJSON(t *testing.T) {
	_, c := setup(t)

	stdout, _, err := run(t, c, true, "list")
	require.NoError(t, err)

	var jobs []ScheduledEmailResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &jobs))
	assert.Len(t, jobs, 2)
}

func TestShowCommandPrintsResults(t *testing.T) {
	_, c := setup(t)

	stdout, stderr, err := run(t, c, false, "show", "job-1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "partial")
	assert.Contains(t, stdout, "b@example.com")
	assert.Contains(t, stdout, "bounced")
	assert.Equal(t, "Error: 1 of 2 recipients failed\n", stderr)
}

func TestCancelCommand(t *testing.T) {
	_, c := setup(t)

	_, stderr, err := run(t, c, false, "cancel", "job-2")
	require.NoError(t, err)
	assert.Contains(t, stderr, "cancelled successfully")

	_, _, err = run(t, c, false, "cancel", "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already processed")
}

func TestSendCommandScheduled(t *testing.T) {
	api, c := setup(t)

	csvPath := filepath.Join(t.TempDir(), "r.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("email,name,city\nb@example.com,Bea,Pune\n"), 0o644))

	stdout, _, err := run(t, c, false, "send",
		"--from", "hello@example.com",
		"--template", "welcome",
		"--to", "a@example.com:Asha",
		"--csv", csvPath,
		"--at", "2030-01-02T15:04:05+05:30",
		"--merge", "course=IELTS",
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "job-3")

	assert.Equal(t, "hello@example.com", api.lastSend.SenderEmail)
	assert.Equal(t, "welcome", api.lastSend.TemplateKey)
	assert.Equal(t, []RecipientDTO{
		{Email: "a@example.com", Username: "Asha"},
		{Email: "b@example.com", Username: "Bea", Fields: map[string]string{"city": "Pune"}},
	}, api.lastSend.Recipients)
	assert.Equal(t, "2030-01-02T09:34:05Z", api.lastSend.ScheduledTime)
	assert.Equal(t, map[string]any{"course": "IELTS"}, api.lastSend.MergeInfo)
}

func TestSendCommandMergeValueWithComma(t *testing.T) {
	api, c := setup(t)

	_, _, err := run(t, c, false, "send",
		"--from", "hello@example.com",
		"--template", "welcome",
		"--to", "a@example.com",
		"--merge", "note=bring passport, photos",
		"--merge", "course=IELTS",
	)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"note": "bring passport, photos", "course": "IELTS"}, api.lastSend.MergeInfo)
}

func TestSendCommandImmediate(t *testing.T) {
	api, c := setup(t)

	stdout, stderr, err := run(t, c, false, "send", "--from", "hello@example.com", "--template", "welcome", "--to", "a@example.com")
	require.NoError(t, err)
	assert.Empty(t, api.lastSend.ScheduledTime)
	assert.Contains(t, stderr, "Emails sent successfully")
	assert.Contains(t, stdout, "a@example.com")
}

func TestSendCommandValidation(t *testing.T) {
	_, c := setup(t)

	_, _, err := run(t, c, false, "send", "--from", "hello@example.com", "--template", "welcome")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one recipient")

	_, _, err = run(t, c, false, "send", "--from", "hello@example.com", "--template", "welcome", "--to", "a@example.com", "--at", "tomorrow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --at")

	_, _, err = run(t, c, false, "send", "--from", "hello@example.com", "--template", "welcome", "--to", "a@example.com", "--merge", "novalue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KEY=VALUE")
}
