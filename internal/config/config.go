package config

import (
	"strings"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"

	"MailScheduler/internal/errors"
)

type Config struct {
	// ----------------------------
	// Logging
	// ----------------------------
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// ----------------------------
	// Job Store
	// ----------------------------
	StoreDriver    string `envconfig:"STORE_DRIVER" default:"postgres"`
	DatabaseURL    string `envconfig:"DATABASE_URL" default:""`
	SQLitePath     string `envconfig:"SQLITE_PATH" default:"data/scheduler.db"`
	MongoURI       string `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDatabase  string `envconfig:"MONGO_DATABASE" default:"email_scheduler"`
	ConnectRetries int    `envconfig:"CONNECT_RETRIES" default:"5"`

	// ----------------------------
	// Mail
	// ----------------------------
	MailTransport  string `envconfig:"MAIL_TRANSPORT" default:"zeptomail"`
	MailFromName   string `envconfig:"MAIL_FROM_NAME" default:"Skillang"`
	MailTimeoutSec int    `envconfig:"MAIL_TIMEOUT_SEC" default:"30"`
	ZeptoMailURL   string `envconfig:"ZEPTOMAIL_URL" default:"https://api.zeptomail.in/"`
	ZeptoMailToken string `envconfig:"ZEPTOMAIL_TOKEN" default:""`

	// ----------------------------
	// SMTP
	// ----------------------------
	SMTPHost     string `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUser     string `envconfig:"SMTP_USER" default:""`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:""`
	SMTPSubject  string `envconfig:"SMTP_SUBJECT" default:"You have a new message"`
	TemplateDir  string `envconfig:"TEMPLATE_DIR" default:"templates"`

	// ----------------------------
	// Workers
	// ----------------------------
	WorkerCount int `envconfig:"WORKER_COUNT" default:"5"`
	RateLimit   int `envconfig:"RATE_LIMIT" default:"10"`

	// ----------------------------
	// Scheduler
	// ----------------------------
	RecoverMissed bool   `envconfig:"RECOVER_MISSED" default:"false"`
	AuditSpec     string `envconfig:"AUDIT_SPEC" default:"@every 5m"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort string `envconfig:"API_PORT" default:"8080"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Events
	// ----------------------------
	AMQPURL      string `envconfig:"AMQP_URL" default:""`
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"mail.jobs"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "process env")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks combinations envconfig cannot express with tags.
func (c *Config) Validate() error {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	c.MailTransport = strings.ToLower(strings.TrimSpace(c.MailTransport))

	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case "mongo":
		if c.MongoURI == "" {
			return errors.New("MONGO_URI is required for the mongo store")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	case "memory":
	default:
		return errors.Newf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.MailTransport {
	case "zeptomail":
		if c.ZeptoMailToken == "" {
			return errors.WithHint(
				errors.New("ZEPTOMAIL_TOKEN is required for the zeptomail transport"),
				"set MAIL_TRANSPORT=smtp to send through a local SMTP server instead",
			)
		}
	case "smtp":
	default:
		return errors.Newf("unknown MAIL_TRANSPORT %q", c.MailTransport)
	}

	if c.WorkerCount <= 0 {
		return errors.New("WORKER_COUNT must be positive")
	}
	if c.RateLimit <= 0 {
		return errors.New("RATE_LIMIT must be positive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel, errors.Wrapf(err, "LOG_LEVEL %q", c.LogLevel)
	}
	return lvl, nil
}
