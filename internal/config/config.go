package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config (realtime push, cycle lease, rate limiting)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS Services
	AWSRegion    string
	SESFromEmail string
	SNSRegion    string // default region for per-organization SMS clients

	// ChannelsMode selects real providers ("aws") or log-only channels ("log")
	ChannelsMode string

	// Follow-up trigger queue
	SQSRegion        string
	FollowUpQueueURL string

	// Task reminders
	ReminderOffsets      []int // hours before due date
	ReminderPollInterval time.Duration
	ReminderBatchSize    int
	ReminderClaimTimeout time.Duration
	DeliveryPolicy       string // "primary" or "any"

	// Lead follow-ups; zero disables the in-process timer
	FollowUpInterval  time.Duration
	FollowUpBatchSize int

	// Circuit breakers around delivery channels
	BreakerMaxFailures     int
	BreakerRecoveryTimeout time.Duration

	// API rate limiting per organization
	RateLimitPerMinute int
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "reminders",
		DBPassword: "",
		DBName:     "fieldservice",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@fieldservice.local",
		ChannelsMode: "aws",

		ReminderOffsets:      []int{24, 12, 6, 3, 1},
		ReminderPollInterval: 60 * time.Second,
		ReminderBatchSize:    100,
		ReminderClaimTimeout: 10 * time.Minute,
		DeliveryPolicy:       "primary",

		FollowUpInterval:  24 * time.Hour,
		FollowUpBatchSize: 200,

		BreakerMaxFailures:     5,
		BreakerRecoveryTimeout: 30 * time.Second,

		RateLimitPerMinute: 100,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	if mode := os.Getenv("CHANNELS_MODE"); mode != "" {
		if mode != "aws" && mode != "log" {
			return nil, fmt.Errorf("invalid CHANNELS_MODE: %q (want aws or log)", mode)
		}
		cfg.ChannelsMode = mode
	}

	// SQS config
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("FOLLOWUP_QUEUE_URL"); url != "" {
		cfg.FollowUpQueueURL = url
	}

	// Reminder scheduler
	if offsets := os.Getenv("REMINDER_OFFSETS"); offsets != "" {
		parsed, err := parseOffsets(offsets)
		if err != nil {
			return nil, fmt.Errorf("invalid REMINDER_OFFSETS: %w", err)
		}
		cfg.ReminderOffsets = parsed
	}

	if v := os.Getenv("REMINDER_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid REMINDER_POLL_INTERVAL: %q", v)
		}
		cfg.ReminderPollInterval = d
	}

	if v := os.Getenv("REMINDER_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid REMINDER_BATCH_SIZE: %q", v)
		}
		cfg.ReminderBatchSize = n
	}

	if v := os.Getenv("REMINDER_CLAIM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid REMINDER_CLAIM_TIMEOUT: %q", v)
		}
		cfg.ReminderClaimTimeout = d
	}

	if policy := os.Getenv("DELIVERY_POLICY"); policy != "" {
		if policy != "primary" && policy != "any" {
			return nil, fmt.Errorf("invalid DELIVERY_POLICY: %q (want primary or any)", policy)
		}
		cfg.DeliveryPolicy = policy
	}

	// Lead follow-ups
	if v, ok := os.LookupEnv("FOLLOWUP_INTERVAL"); ok && v != "" {
		if v == "0" {
			cfg.FollowUpInterval = 0
		} else {
			d, err := time.ParseDuration(v)
			if err != nil || d < 0 {
				return nil, fmt.Errorf("invalid FOLLOWUP_INTERVAL: %q", v)
			}
			cfg.FollowUpInterval = d
		}
	}

	if v := os.Getenv("FOLLOWUP_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid FOLLOWUP_BATCH_SIZE: %q", v)
		}
		cfg.FollowUpBatchSize = n
	}

	// Circuit breakers
	if v := os.Getenv("BREAKER_MAX_FAILURES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BREAKER_MAX_FAILURES: %w", err)
		}
		cfg.BreakerMaxFailures = n
	}

	if v := os.Getenv("BREAKER_RECOVERY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BREAKER_RECOVERY_TIMEOUT: %w", err)
		}
		cfg.BreakerRecoveryTimeout = d
	}

	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %w", err)
		}
		cfg.RateLimitPerMinute = n
	}

	return cfg, nil
}

// parseOffsets turns "24,12,6" into hours, rejecting non-positive values.
func parseOffsets(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	offsets := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		h, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("offset %q: %w", p, err)
		}
		if h <= 0 {
			return nil, fmt.Errorf("offset %d must be positive", h)
		}
		offsets = append(offsets, h)
	}
	if len(offsets) == 0 {
		return nil, fmt.Errorf("no offsets given")
	}
	return offsets, nil
}
