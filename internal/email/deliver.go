package email

import (
	"context"

	"go.uber.org/zap"

	"MailScheduler/internal/metrics"
	"MailScheduler/internal/models"
)

type Report struct {
	Results   []models.Result
	Succeeded int
	Failed    int
}

// Deliver sends one message per recipient, in order, waiting for each send
// before starting the next. A failed recipient is recorded and the loop moves
// on; Deliver itself never fails.
func Deliver(
	ctx context.Context,
	mailer Mailer,
	from Address,
	templateKey string,
	recipients []models.Recipient,
	payload map[string]any,
	logger *zap.Logger,
) Report {

	report := Report{Results: make([]models.Result, 0, len(recipients))}

	for _, r := range recipients {
		msg := NewMessage(templateKey, from, r, payload)

		if err := mailer.Send(ctx, msg); err != nil {
			logger.Error("email send failed",
				zap.String("to", r.Email),
				zap.String("template", templateKey),
				zap.Error(err),
			)

			report.Results = append(report.Results, models.Result{
				Recipient: r.Email,
				Success:   false,
				Error:     err.Error(),
			})
			report.Failed++
			metrics.EmailFailures.Inc()
			continue
		}

		logger.Debug("email sent",
			zap.String("to", r.Email),
			zap.String("template", templateKey),
		)

		report.Results = append(report.Results, models.Result{
			Recipient: r.Email,
			Success:   true,
		})
		report.Succeeded++
		metrics.EmailsSent.Inc()
	}

	return report
}
