package email

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"MailScheduler/internal/errors"
)

const zeptoTemplatePath = "v1.1/email/template"

// ZeptoMail sends through the ZeptoMail template API.
type ZeptoMail struct {
	BaseURL string
	Token   string
	Client  *http.Client
	Log     *zap.Logger
}

func NewZeptoMail(baseURL, token string, timeout time.Duration, logger *zap.Logger) *ZeptoMail {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "https://" + baseURL
	}
	return &ZeptoMail{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: timeout},
		Log:     logger,
	}
}

type zeptoEmailAddress struct {
	EmailAddress Address `json:"email_address"`
}

type zeptoRequest struct {
	TemplateKey string              `json:"mail_template_key"`
	From        Address             `json:"from"`
	To          []zeptoEmailAddress `json:"to"`
	MergeInfo   map[string]any      `json:"merge_info,omitempty"`
}

func (z *ZeptoMail) Send(ctx context.Context, msg Message) error {
	req := zeptoRequest{
		TemplateKey: msg.TemplateKey,
		From:        msg.From,
		MergeInfo:   msg.MergeInfo,
	}
	for _, to := range msg.To {
		req.To = append(req.To, zeptoEmailAddress{EmailAddress: to})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "marshal zeptomail payload")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, z.BaseURL+zeptoTemplatePath, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build zeptomail request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", z.Token)

	resp, err := z.Client.Do(httpReq)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "zeptomail request"), errors.ErrDelivery)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if z.Log != nil {
			z.Log.Warn("zeptomail api error",
				zap.Int("status", resp.StatusCode),
				zap.String("template", msg.TemplateKey),
				zap.ByteString("body", respBody),
			)
		}
		return errors.Mark(
			errors.Newf("zeptomail: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
			errors.ErrDelivery,
		)
	}

	return nil
}
