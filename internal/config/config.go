package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/attendance-engine/internal/domain"
	"github.com/kursadbilgin/attendance-engine/internal/provider"
	"github.com/kursadbilgin/attendance-engine/internal/scoring"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	LimiterLocal = "local"
	LimiterRedis = "redis"

	SinkNone     = "none"
	SinkRabbitMQ = "rabbitmq"
	SinkKafka    = "kafka"
)

type Config struct {
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`
	APIPort   int    `env:"API_PORT,default=8080"`

	StoreDriver string `env:"STORE_DRIVER,default=memory"`
	DatabaseDSN string `env:"DATABASE_DSN"`

	RateLimiter     string `env:"RATE_LIMITER,default=local"`
	RedisURL        string `env:"REDIS_URL"`
	RateLimitPerSec int    `env:"RATE_LIMIT_PER_SEC,default=100"`

	TransitionSink   string `env:"TRANSITION_SINK,default=none"`
	RabbitMQURL      string `env:"RABBITMQ_URL"`
	KafkaBrokers     string `env:"KAFKA_BROKERS"`
	KafkaTopic       string `env:"KAFKA_TOPIC,default=attendance.transitions"`
	AbandonmentQueue string `env:"ABANDONMENT_QUEUE,default=attendance.abandoned"`
	ConsumerPrefetch int    `env:"CONSUMER_PREFETCH,default=16"`

	TemplateCatalogPath string `env:"TEMPLATE_CATALOG_PATH"`

	EmailProviderURL     string        `env:"EMAIL_PROVIDER_URL"`
	EmailProviderName    string        `env:"EMAIL_PROVIDER_NAME,default=sendgrid"`
	SMSProviderURL       string        `env:"SMS_PROVIDER_URL"`
	SMSProviderName      string        `env:"SMS_PROVIDER_NAME,default=twilio"`
	WhatsAppProviderURL  string        `env:"WHATSAPP_PROVIDER_URL"`
	WhatsAppProviderName string        `env:"WHATSAPP_PROVIDER_NAME,default=whatsapp"`
	PushProviderURL      string        `env:"PUSH_PROVIDER_URL"`
	PushProviderName     string        `env:"PUSH_PROVIDER_NAME,default=push"`
	ProviderAPIKey       string        `env:"PROVIDER_API_KEY"`
	ProviderTimeout      time.Duration `env:"PROVIDER_TIMEOUT,default=10s"`

	TickInterval         time.Duration `env:"TICK_INTERVAL,default=30s"`
	TickBatchLimit       int           `env:"TICK_BATCH_LIMIT,default=500"`
	RecoveryScanInterval time.Duration `env:"RECOVERY_SCAN_INTERVAL,default=30s"`
	BatchWindowSize      int           `env:"BATCH_WINDOW_SIZE,default=10"`
	BatchWindowPause     time.Duration `env:"BATCH_WINDOW_PAUSE,default=1s"`
	PriorOpenPolicy      string        `env:"PRIOR_OPEN_POLICY,default=score-heuristic"`

	ScoreWeightIntent            float64 `env:"SCORE_WEIGHT_INTENT,default=0.4"`
	ScoreWeightTime              float64 `env:"SCORE_WEIGHT_TIME,default=0.3"`
	ScoreWeightInteraction       float64 `env:"SCORE_WEIGHT_INTERACTION,default=0.3"`
	ScoreWeightLikelihoodScore   float64 `env:"SCORE_WEIGHT_LIKELIHOOD_SCORE,default=0.4"`
	ScoreWeightLikelihoodHistory float64 `env:"SCORE_WEIGHT_LIKELIHOOD_HISTORY,default=0.3"`
	ScoreWeightLikelihoodRecency float64 `env:"SCORE_WEIGHT_LIKELIHOOD_RECENCY,default=0.2"`
	ScoreWeightLikelihoodUrgency float64 `env:"SCORE_WEIGHT_LIKELIHOOD_URGENCY,default=0.1"`
	ScoreRecencyWindowDays       float64 `env:"SCORE_RECENCY_WINDOW_DAYS,default=14"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.StoreDriver = normalize(cfg.StoreDriver)
	cfg.RateLimiter = normalize(cfg.RateLimiter)
	cfg.TransitionSink = normalize(cfg.TransitionSink)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every selected backend has the settings it needs.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("%w: DATABASE_DSN is required for the postgres store", domain.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown STORE_DRIVER %q", domain.ErrConfiguration, c.StoreDriver)
	}

	switch c.RateLimiter {
	case LimiterLocal:
	case LimiterRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("%w: REDIS_URL is required for the redis limiter", domain.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown RATE_LIMITER %q", domain.ErrConfiguration, c.RateLimiter)
	}

	switch c.TransitionSink {
	case SinkNone:
	case SinkRabbitMQ:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			return fmt.Errorf("%w: RABBITMQ_URL is required for the rabbitmq sink", domain.ErrConfiguration)
		}
	case SinkKafka:
		if len(c.Brokers()) == 0 {
			return fmt.Errorf("%w: KAFKA_BROKERS is required for the kafka sink", domain.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown TRANSITION_SINK %q", domain.ErrConfiguration, c.TransitionSink)
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("%w: API_PORT %d is out of range", domain.ErrConfiguration, c.APIPort)
	}
	if c.RateLimitPerSec <= 0 {
		return fmt.Errorf("%w: RATE_LIMIT_PER_SEC must be positive", domain.ErrConfiguration)
	}
	if c.TickInterval <= 0 || c.RecoveryScanInterval <= 0 {
		return fmt.Errorf("%w: scan intervals must be positive", domain.ErrConfiguration)
	}
	if _, err := c.Weights(); err != nil {
		return err
	}
	return nil
}

// Weights returns the scoring weights, defaults overridden by SCORE_WEIGHT_*.
func (c *Config) Weights() (scoring.Weights, error) {
	w := scoring.Weights{
		Intent:            c.ScoreWeightIntent,
		Time:              c.ScoreWeightTime,
		Interaction:       c.ScoreWeightInteraction,
		LikelihoodScore:   c.ScoreWeightLikelihoodScore,
		LikelihoodHistory: c.ScoreWeightLikelihoodHistory,
		LikelihoodRecency: c.ScoreWeightLikelihoodRecency,
		LikelihoodUrgency: c.ScoreWeightLikelihoodUrgency,
		RecencyWindowDays: c.ScoreRecencyWindowDays,
	}
	if err := w.Validate(); err != nil {
		return scoring.Weights{}, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	return w, nil
}

// Brokers splits KAFKA_BROKERS on commas.
func (c *Config) Brokers() []string {
	out := make([]string, 0)
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Providers returns one HTTP gateway config per channel with a configured URL.
func (c *Config) Providers() []provider.HTTPConfig {
	candidates := []struct {
		channel domain.Channel
		name    string
		url     string
	}{
		{domain.ChannelEmail, c.EmailProviderName, c.EmailProviderURL},
		{domain.ChannelSMS, c.SMSProviderName, c.SMSProviderURL},
		{domain.ChannelWhatsApp, c.WhatsAppProviderName, c.WhatsAppProviderURL},
		{domain.ChannelPush, c.PushProviderName, c.PushProviderURL},
	}

	out := make([]provider.HTTPConfig, 0, len(candidates))
	for _, p := range candidates {
		if strings.TrimSpace(p.url) == "" {
			continue
		}
		out = append(out, provider.HTTPConfig{
			Name:     p.name,
			Channel:  p.channel,
			Endpoint: p.url,
			APIKey:   c.ProviderAPIKey,
			Timeout:  c.ProviderTimeout,
		})
	}
	return out
}

// ConsumeAbandonments reports whether the RabbitMQ abandonment consumer should run.
func (c *Config) ConsumeAbandonments() bool {
	return strings.TrimSpace(c.RabbitMQURL) != "" && strings.TrimSpace(c.AbandonmentQueue) != ""
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
