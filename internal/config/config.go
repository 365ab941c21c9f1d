// Package config loads service settings from an optional yaml file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultFile is read from the working directory when Load is given no path.
const DefaultFile = "moltstudio.yaml"

// Config holds all configuration values for the controller and worker.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port for the controller
	HTTPPort int

	// URL of the controller, used by the CLI and the worker health check
	ControllerURL string

	// Bearer secret guarding /internal endpoints. Empty rejects every call.
	InternalSecret string

	LogLevel     string
	OTELEndpoint string
	MetricsAddr  string

	// Redis backing the payment replay guard. Empty disables it.
	RedisURL string

	Voting     VotingConfig
	Production ProductionConfig
	Generation GenerationConfig
	Storage    StorageConfig
	Payment    PaymentConfig
	Payout     PayoutConfig
}

// VotingConfig controls script voting periods and clip voting windows.
type VotingConfig struct {
	PeriodDuration time.Duration
	ClipWindow     time.Duration
}

// ProductionConfig controls the job queue and auto-retry policy.
type ProductionConfig struct {
	BatchSize          int
	Concurrency        int
	MaxAttempts        int
	MaxRetries         int
	RetryCooldown      time.Duration
	AbandonAfter       time.Duration
	StaleAfter         time.Duration
	HeartbeatInterval  time.Duration
	VariantsPerEpisode int
	MaxErrorLength     int
}

// GenerationConfig points at the TTS and video generation APIs.
type GenerationConfig struct {
	TTSURL          string
	TTSAPIKey       string
	TTSModel        string
	TTSPollInterval time.Duration
	TTSMaxWait      time.Duration
	VideoURL        string
	VideoTimeout    time.Duration
	RatePerSecond   float64
}

// StorageConfig points at the Supabase bucket holding rendered clips.
type StorageConfig struct {
	SupabaseURL string
	SupabaseKey string
	Bucket      string
}

// PaymentConfig describes the x402 tip requirements.
type PaymentConfig struct {
	Network           string
	Asset             string
	AssetDecimals     int
	PayTo             string
	MinTipCents       int64
	FacilitatorURL    string
	MaxTimeoutSeconds int
	TipRateLimit      float64
}

// PayoutConfig controls disbursement of tip shares.
type PayoutConfig struct {
	PlatformAddress string
	TransferURL     string
	TransferToken   string
	BatchSize       int
	MaxAttempts     int
}

type setting struct {
	key string
	env string
	def any
}

var settings = []setting{
	{"database_url", "DATABASE_URL", ""},
	{"port", "PORT", 6161},
	{"controller_url", "CONTROLLER_URL", "http://localhost:6161"},
	{"internal_secret", "INTERNAL_SECRET", ""},
	{"log_level", "LOG_LEVEL", "info"},
	{"otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"},
	{"metrics_addr", "METRICS_ADDR", ":6162"},
	{"redis_url", "REDIS_URL", ""},

	{"voting.period_duration", "VOTING_PERIOD_DURATION", 168 * time.Hour},
	{"voting.clip_window", "VOTING_CLIP_WINDOW", 72 * time.Hour},

	{"production.batch_size", "PRODUCTION_BATCH_SIZE", 5},
	{"production.concurrency", "PRODUCTION_CONCURRENCY", 2},
	{"production.max_attempts", "PRODUCTION_MAX_ATTEMPTS", 3},
	{"production.max_retries", "PRODUCTION_MAX_RETRIES", 3},
	{"production.retry_cooldown", "PRODUCTION_RETRY_COOLDOWN", 10 * time.Minute},
	{"production.abandon_after", "PRODUCTION_ABANDON_AFTER", 72 * time.Hour},
	{"production.stale_after", "PRODUCTION_STALE_AFTER", 45 * time.Minute},
	{"production.heartbeat_interval", "PRODUCTION_HEARTBEAT_INTERVAL", time.Minute},
	{"production.variants_per_episode", "PRODUCTION_VARIANTS_PER_EPISODE", 4},
	{"production.max_error_length", "PRODUCTION_MAX_ERROR_LENGTH", 500},

	{"generation.tts_url", "GENERATION_TTS_URL", "https://inference.do-ai.run"},
	{"generation.tts_api_key", "GENERATION_TTS_API_KEY", ""},
	{"generation.tts_model", "GENERATION_TTS_MODEL", "fal-ai/elevenlabs/tts/multilingual-v2"},
	{"generation.tts_poll_interval", "GENERATION_TTS_POLL_INTERVAL", 2 * time.Second},
	{"generation.tts_max_wait", "GENERATION_TTS_MAX_WAIT", 10 * time.Minute},
	{"generation.video_url", "GENERATION_VIDEO_URL", ""},
	{"generation.video_timeout", "GENERATION_VIDEO_TIMEOUT", 20 * time.Minute},
	{"generation.rate_per_second", "GENERATION_RATE_PER_SECOND", 1.0},

	{"storage.supabase_url", "SUPABASE_URL", ""},
	{"storage.supabase_key", "SUPABASE_KEY", ""},
	{"storage.bucket", "STORAGE_BUCKET", "clips"},

	{"payment.network", "PAYMENT_NETWORK", "eip155:8453"},
	{"payment.asset", "PAYMENT_ASSET", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"},
	{"payment.asset_decimals", "PAYMENT_ASSET_DECIMALS", 6},
	{"payment.pay_to", "PAYMENT_PAY_TO", ""},
	{"payment.min_tip_cents", "PAYMENT_MIN_TIP_CENTS", 10},
	{"payment.facilitator_url", "PAYMENT_FACILITATOR_URL", "https://x402.org/facilitator"},
	{"payment.max_timeout_seconds", "PAYMENT_MAX_TIMEOUT_SECONDS", 300},
	{"payment.tip_rate_limit", "PAYMENT_TIP_RATE_LIMIT", 2.0},

	{"payout.platform_address", "PAYOUT_PLATFORM_ADDRESS", ""},
	{"payout.transfer_url", "PAYOUT_TRANSFER_URL", ""},
	{"payout.transfer_token", "PAYOUT_TRANSFER_TOKEN", ""},
	{"payout.batch_size", "PAYOUT_BATCH_SIZE", 20},
	{"payout.max_attempts", "PAYOUT_MAX_ATTEMPTS", 5},
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Load reads configuration from the yaml file at path and the environment.
// Environment variables override the file. An empty path falls back to
// DefaultFile in the working directory when it exists.
func Load(path string) (*Config, error) {
	v := viper.New()
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
		if err := v.BindEnv(s.key, s.env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", s.env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	cfg := &Config{
		DatabaseURL:    v.GetString("database_url"),
		HTTPPort:       v.GetInt("port"),
		ControllerURL:  v.GetString("controller_url"),
		InternalSecret: v.GetString("internal_secret"),
		LogLevel:       strings.ToLower(v.GetString("log_level")),
		OTELEndpoint:   v.GetString("otel_endpoint"),
		MetricsAddr:    v.GetString("metrics_addr"),
		RedisURL:       v.GetString("redis_url"),
		Voting: VotingConfig{
			PeriodDuration: v.GetDuration("voting.period_duration"),
			ClipWindow:     v.GetDuration("voting.clip_window"),
		},
		Production: ProductionConfig{
			BatchSize:          v.GetInt("production.batch_size"),
			Concurrency:        v.GetInt("production.concurrency"),
			MaxAttempts:        v.GetInt("production.max_attempts"),
			MaxRetries:         v.GetInt("production.max_retries"),
			RetryCooldown:      v.GetDuration("production.retry_cooldown"),
			AbandonAfter:       v.GetDuration("production.abandon_after"),
			StaleAfter:         v.GetDuration("production.stale_after"),
			HeartbeatInterval:  v.GetDuration("production.heartbeat_interval"),
			VariantsPerEpisode: v.GetInt("production.variants_per_episode"),
			MaxErrorLength:     v.GetInt("production.max_error_length"),
		},
		Generation: GenerationConfig{
			TTSURL:          v.GetString("generation.tts_url"),
			TTSAPIKey:       v.GetString("generation.tts_api_key"),
			TTSModel:        v.GetString("generation.tts_model"),
			TTSPollInterval: v.GetDuration("generation.tts_poll_interval"),
			TTSMaxWait:      v.GetDuration("generation.tts_max_wait"),
			VideoURL:        v.GetString("generation.video_url"),
			VideoTimeout:    v.GetDuration("generation.video_timeout"),
			RatePerSecond:   v.GetFloat64("generation.rate_per_second"),
		},
		Storage: StorageConfig{
			SupabaseURL: v.GetString("storage.supabase_url"),
			SupabaseKey: v.GetString("storage.supabase_key"),
			Bucket:      v.GetString("storage.bucket"),
		},
		Payment: PaymentConfig{
			Network:           v.GetString("payment.network"),
			Asset:             v.GetString("payment.asset"),
			AssetDecimals:     v.GetInt("payment.asset_decimals"),
			PayTo:             v.GetString("payment.pay_to"),
			MinTipCents:       v.GetInt64("payment.min_tip_cents"),
			FacilitatorURL:    v.GetString("payment.facilitator_url"),
			MaxTimeoutSeconds: v.GetInt("payment.max_timeout_seconds"),
			TipRateLimit:      v.GetFloat64("payment.tip_rate_limit"),
		},
		Payout: PayoutConfig{
			PlatformAddress: v.GetString("payout.platform_address"),
			TransferURL:     v.GetString("payout.transfer_url"),
			TransferToken:   v.GetString("payout.transfer_token"),
			BatchSize:       v.GetInt("payout.batch_size"),
			MaxAttempts:     v.GetInt("payout.max_attempts"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database_url is required (env: DATABASE_URL)")
	}
	if !logLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q (env: LOG_LEVEL)", c.LogLevel)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid port %d (env: PORT)", c.HTTPPort)
	}
	if c.Production.BatchSize <= 0 {
		return errors.New("production.batch_size must be positive (env: PRODUCTION_BATCH_SIZE)")
	}
	if c.Production.Concurrency <= 0 {
		return errors.New("production.concurrency must be positive (env: PRODUCTION_CONCURRENCY)")
	}
	if c.Production.HeartbeatInterval >= c.Production.StaleAfter {
		return errors.New("production.heartbeat_interval must be shorter than production.stale_after")
	}
	if c.Payment.AssetDecimals < 2 {
		return errors.New("payment.asset_decimals must be at least 2 (env: PAYMENT_ASSET_DECIMALS)")
	}
	return nil
}
