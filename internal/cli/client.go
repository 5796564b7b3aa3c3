package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"MailScheduler/internal/errors"
)

// --- Response types (mirrors of the API JSON; the CLI does not import internal/api) ---

type RecipientDTO struct {
	Email    string            `json:"email"`
	Username string            `json:"username,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

type ResultDTO struct {
	Recipient string `json:"recipient"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

type ScheduledEmailResponse struct {
	ID            string         `json:"id"`
	SenderEmail   string         `json:"senderEmail"`
	TemplateKey   string         `json:"templateKey"`
	Recipients    []RecipientDTO `json:"recipients"`
	ScheduledTime string         `json:"scheduledTime"`
	Payload       map[string]any `json:"payload,omitempty"`
	Status        string         `json:"status"`
	Error         string         `json:"error,omitempty"`
	Results       []ResultDTO    `json:"results,omitempty"`
	CreatedAt     string         `json:"createdAt"`
	SentAt        string         `json:"sentAt,omitempty"`
	FailedAt      string         `json:"failedAt,omitempty"`
	CancelledAt   string         `json:"cancelledAt,omitempty"`
}

// --- Request types ---

type SendTemplateRequest struct {
	SenderEmail   string         `json:"senderEmail"`
	TemplateKey   string         `json:"templateKey"`
	Recipients    []RecipientDTO `json:"recipients"`
	ScheduledTime string         `json:"scheduledTime,omitempty"`
	MergeInfo     map[string]any `json:"mergeInfo,omitempty"`
}

// SendResult is the outcome of POST /api/send-template. JobID is set for a
// scheduled send, Results for an immediate one.
type SendResult struct {
	Message string      `json:"message"`
	JobID   string      `json:"jobId,omitempty"`
	Results []ResultDTO `json:"results,omitempty"`
}

// --- API envelope ---

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	JobID   string          `json:"jobId"`
	Data    json.RawMessage `json:"data"`
	Results []ResultDTO     `json:"results"`
	Error   string          `json:"error"`
}

// --- Client ---

// Client talks to the mail scheduler HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) ListScheduled() ([]ScheduledEmailResponse, error) {
	env, err := c.do(http.MethodGet, "/api/scheduled-emails", nil)
	if err != nil {
		return nil, err
	}

	var jobs []ScheduledEmailResponse
	if err := json.Unmarshal(env.Data, &jobs); err != nil {
		return nil, errors.Wrap(err, "decode scheduled emails")
	}
	return jobs, nil
}

func (c *Client) GetScheduled(id string) (*ScheduledEmailResponse, error) {
	env, err := c.do(http.MethodGet, "/api/scheduled-emails/"+id, nil)
	if err != nil {
		return nil, err
	}

	var job ScheduledEmailResponse
	if err := json.Unmarshal(env.Data, &job); err != nil {
		return nil, errors.Wrap(err, "decode scheduled email")
	}
	return &job, nil
}

func (c *Client) CancelScheduled(id string) (string, error) {
	env, err := c.do(http.MethodDelete, "/api/scheduled-emails/"+id, nil)
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

func (c *Client) SendTemplate(req SendTemplateRequest) (*SendResult, error) {
	env, err := c.do(http.MethodPost, "/api/send-template", req)
	if err != nil {
		return nil, err
	}
	return &SendResult{Message: env.Message, JobID: env.JobID, Results: env.Results}, nil
}

// --- HTTP helpers ---

func (c *Client) do(method, path string, body any) (*envelope, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request")
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 400 {
			return nil, errors.Newf("API error: HTTP %d", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "decode response")
	}

	if resp.StatusCode >= 400 || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		if resp.StatusCode == http.StatusNotFound {
			return &env, errors.Mark(errors.New(msg), errors.ErrNotFound)
		}
		return &env, errors.Newf("API error: HTTP %d: %s", resp.StatusCode, msg)
	}

	return &env, nil
}
