package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
)

// Config holds all configuration for the application. Every option can be
// set by flag or environment variable.
type Config struct {
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	LogLevel     string `long:"log-level" env:"LOG_LEVEL" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`
	StoreBackend string `long:"store" env:"STORE_BACKEND" default:"postgres" choice:"postgres" choice:"memory" description:"Canonical store backend"`
	DatabaseURL  string `long:"database-url" env:"DATABASE_URL" description:"PostgreSQL connection URL"`
	RedisURL     string `long:"redis-url" env:"REDIS_URL" description:"Redis URL for the retry queue and shared quota (optional)"`
	ChannelsFile string `long:"channels-file" env:"CHANNELS_FILE" default:"./channels.yaml" description:"YAML file listing tracked channels"`

	HubURL                string        `long:"hub-url" env:"PUBSUB_HUB_URL" default:"https://pubsubhubbub.appspot.com/subscribe" description:"WebSub hub subscribe endpoint"`
	TopicBaseURL          string        `long:"topic-base-url" env:"TOPIC_BASE_URL" default:"https://www.youtube.com/xml/feeds/videos.xml" description:"Channel feed URL, channel_id is appended as a query parameter"`
	WebhookBaseURL        string        `long:"webhook-base-url" env:"WEBHOOK_BASE_URL" default:"http://localhost:8080" description:"Public base URL the hub calls back"`
	WebhookSecret         string        `long:"webhook-secret" env:"WEBHOOK_SECRET" description:"Shared secret for push signatures"`
	InsecureSkipSignature bool          `long:"insecure-skip-signature" env:"INSECURE_SKIP_SIGNATURE" description:"Accept unsigned pushes (non-production only)"`
	LeaseSeconds          int           `long:"lease-seconds" env:"LEASE_SECONDS" default:"864000" description:"Requested subscription lease"`
	RenewalMargin         time.Duration `long:"renewal-margin" env:"RENEWAL_MARGIN" default:"24h" description:"Renew leases this long before expiry"`
	SchedulerInterval     time.Duration `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"1m" description:"Lease renewal tick"`
	RenewalMaxAttempts    int           `long:"renewal-max-attempts" env:"RENEWAL_MAX_ATTEMPTS" default:"3" description:"Hub attempts before a channel is marked failed"`
	RenewalConcurrency    int           `long:"renewal-concurrency" env:"RENEWAL_CONCURRENCY" default:"2" description:"Concurrent hub subscribe requests"`
	RenewalBackoff        time.Duration `long:"renewal-backoff" env:"RENEWAL_BACKOFF" default:"30s" description:"Initial renewal retry delay"`
	RenewalMaxBackoff     time.Duration `long:"renewal-max-backoff" env:"RENEWAL_MAX_BACKOFF" default:"10m" description:"Maximum renewal retry delay"`
	FailedCooldown        time.Duration `long:"failed-cooldown" env:"FAILED_COOLDOWN" default:"1h" description:"Wait before a failed channel starts a new renewal cycle"`
	HubTimeout            time.Duration `long:"hub-timeout" env:"HUB_TIMEOUT" default:"30s" description:"Timeout for hub requests"`

	NumWorkers    int `long:"num-workers" env:"NUM_WORKERS" default:"8" description:"Enrichment workers"`
	QueueCapacity int `long:"queue-capacity" env:"QUEUE_CAPACITY" default:"256" description:"Bounded stub queue capacity"`

	YouTubeAPIKey          string        `long:"youtube-api-key" env:"YOUTUBE_API_KEY" description:"YouTube Data API key"`
	MetadataBaseURL        string        `long:"metadata-base-url" env:"METADATA_BASE_URL" default:"https://youtube.googleapis.com/" description:"YouTube Data API root URL"`
	MetadataTimeout        time.Duration `long:"metadata-timeout" env:"METADATA_TIMEOUT" default:"15s" description:"Timeout for metadata calls"`
	MetadataConcurrency    int           `long:"metadata-concurrency" env:"METADATA_CONCURRENCY" default:"4" description:"Concurrent metadata calls across push and backfill"`
	MetadataRatePerSecond  float64       `long:"metadata-rate" env:"METADATA_RATE" default:"5" description:"Metadata calls per second"`
	MetadataBurst          int           `long:"metadata-burst" env:"METADATA_BURST" default:"5" description:"Token bucket burst"`
	MetadataQuotaPerSecond int           `long:"metadata-quota" env:"METADATA_QUOTA" default:"0" description:"Cross-process calls per second enforced in Redis (0 disables)"`
	EnrichMaxAttempts      int           `long:"enrich-max-attempts" env:"ENRICH_MAX_ATTEMPTS" default:"5" description:"Enrichment attempts before dead-lettering"`
	EnrichBackoff          time.Duration `long:"enrich-backoff" env:"ENRICH_BACKOFF" default:"2s" description:"Initial enrichment retry delay"`
	EnrichMaxBackoff       time.Duration `long:"enrich-max-backoff" env:"ENRICH_MAX_BACKOFF" default:"2m" description:"Maximum enrichment retry delay"`

	BackfillInterval time.Duration `long:"backfill-interval" env:"BACKFILL_INTERVAL" default:"6h" description:"Reconciler cadence (0 disables)"`
	BackfillLimit    int           `long:"backfill-limit" env:"BACKFILL_LIMIT" default:"50" description:"Most recent videos reconciled per channel"`
}

// Load parses args and the environment into a Config. A help request is
// returned as a *flags.Error of type flags.ErrHelp.
func Load(args []string) (*Config, error) {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsHelp reports whether err came from a --help request.
func IsHelp(err error) bool {
	flagsErr, ok := err.(*flags.Error)
	return ok && flagsErr.Type == flags.ErrHelp
}

func (c *Config) Validate() error {
	if err := c.ValidatePipeline(); err != nil {
		return err
	}
	if c.WebhookSecret == "" && !c.InsecureSkipSignature {
		return fmt.Errorf("WEBHOOK_SECRET is required unless INSECURE_SKIP_SIGNATURE is set")
	}
	if c.RenewalMaxAttempts <= 0 {
		return fmt.Errorf("RENEWAL_MAX_ATTEMPTS must be positive")
	}
	if c.LeaseSeconds <= 0 {
		return fmt.Errorf("LEASE_SECONDS must be positive")
	}
	return nil
}

// ValidatePipeline checks only what the enrichment path needs, for commands
// that never talk to the hub.
func (c *Config) ValidatePipeline() error {
	if c.StoreBackend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("NUM_WORKERS must be positive")
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("QUEUE_CAPACITY must be positive")
	}
	if c.MetadataConcurrency <= 0 {
		return fmt.Errorf("METADATA_CONCURRENCY must be positive")
	}
	if c.EnrichMaxAttempts <= 0 {
		return fmt.Errorf("ENRICH_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// CallbackURL is the address the hub delivers to.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.WebhookBaseURL, "/") + "/webhook"
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
