package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config 구조체 - 모든 환경변수를 담음
type Config struct {
	AppEnv string

	// Redis
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	SupabaseJWTSecret  string
	StorageBucket      string

	// Automation webhooks
	GenerateWebhookURL   string
	RegenerateWebhookURL string
	VideoWebhookURL      string
	ImageConverterURL    string
	GenerateTimeout      time.Duration
	ConverterTimeout     time.Duration
	WebhookMaxAttempts   int
	WebhookRetryDelay    time.Duration
	CallbackSecret       string
	PublicBaseURL        string

	// Realtime
	RealtimePollInterval time.Duration

	// Server
	Port string
}

// LoadConfig - 환경변수 로드
func LoadConfig() (*Config, error) {
	// .env 파일 로드 (있으면)
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("⚠️  .env file not found, using environment variables")
	}

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}

	log.Info().Msg("✅ Configuration loaded successfully")
	log.Info().Msgf("   Supabase: %s", cfg.SupabaseURL)
	log.Info().Msgf("   Redis: %s (enabled: %v, TLS: %v)", cfg.GetRedisAddr(), cfg.RedisEnabled, cfg.RedisUseTLS)
	log.Info().Msgf("   Webhook retry: %d attempts, %s delay", cfg.WebhookMaxAttempts, cfg.WebhookRetryDelay)

	return cfg, nil
}

// FromEnv builds a Config from the process environment without touching .env files.
func FromEnv() (*Config, error) {
	cfg := &Config{
		AppEnv: getEnv("APP_ENV", "production"),

		RedisEnabled:  getEnvBool("REDIS_ENABLED", true),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisUsername: getEnv("REDIS_USERNAME", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:   getEnvBool("REDIS_USE_TLS", false),

		SupabaseURL:        strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseJWTSecret:  getEnv("SUPABASE_JWT_SECRET", ""),
		StorageBucket:      getEnv("SUPABASE_STORAGE_BUCKET", "product-images"),

		GenerateWebhookURL:   getEnv("WEBHOOK_GENERATE_URL", ""),
		RegenerateWebhookURL: getEnv("WEBHOOK_REGENERATE_URL", ""),
		VideoWebhookURL:      getEnv("WEBHOOK_VIDEO_URL", ""),
		ImageConverterURL:    getEnv("IMAGE_CONVERTER_URL", ""),
		CallbackSecret:       getEnv("CALLBACK_SECRET", ""),
		PublicBaseURL:        strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),

		Port: getEnv("PORT", "8080"),
	}

	var err error
	if cfg.GenerateTimeout, err = getEnvDuration("WEBHOOK_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ConverterTimeout, err = getEnvDuration("IMAGE_CONVERTER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.WebhookRetryDelay, err = getEnvDuration("WEBHOOK_RETRY_DELAY", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.RealtimePollInterval, err = getEnvDuration("REALTIME_POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.WebhookMaxAttempts, err = getEnvInt("WEBHOOK_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}

	// 필수 환경변수 검증
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate - 필수 환경변수 검증
func (c *Config) validate() error {
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseAnonKey == "" {
		return fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	if c.WebhookMaxAttempts < 1 {
		return fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// SupabaseKey returns the key used for server-side table access.
// The service key bypasses row-level security, so it wins when present.
func (c *Config) SupabaseKey() string {
	if c.SupabaseServiceKey != "" {
		return c.SupabaseServiceKey
	}
	return c.SupabaseAnonKey
}

// GetRedisAddr - Redis 연결 문자열 생성
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// getEnv - 환경변수 가져오기 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}
