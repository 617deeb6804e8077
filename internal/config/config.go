package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dennisdiepolder/monti/callcenter/internal/storage"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string

	// Dashboard WebSocket
	WSReadTimeout     time.Duration
	WSWriteTimeout    time.Duration
	PingPeriod        time.Duration
	PongWait          time.Duration
	WriteWait         time.Duration
	MaxMessageSize    int64
	DashboardInterval time.Duration

	// Lifecycle engine
	SweepInterval       time.Duration
	SignalMinDelay      time.Duration
	SignalMaxDelay      time.Duration
	FinishingSoonWindow time.Duration
	CapacityBurstMax    int
	ServiceLevelSeconds int
	PhoneRegion         string

	// Conversation provisioning
	ProvisionMaxAttempts int
	ProvisionBaseDelay   time.Duration
	ProvisionTimeout     time.Duration
	ProvisionRate        float64 // requests per second, 0 disables throttling
	OpenAIAPIKey         string
	OpenAIModel          string

	// Collaborators
	RedisURL     string
	VoiceAPIKey  string
	VoiceBaseURL string
	Dynamo       storage.DynamoConfig
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:3000"), ","),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		PhoneRegion:    getEnv("DEFAULT_PHONE_REGION", "US"),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		RedisURL:       os.Getenv("REDIS_URL"),
		VoiceAPIKey:    os.Getenv("VOICE_API_KEY"),
		VoiceBaseURL:   getEnv("VOICE_BASE_URL", "https://api.vapi.ai"),
		Dynamo: storage.DynamoConfig{
			Mode:             storage.ParseDynamoMode(getEnv("DYNAMO_MODE", "none")),
			Endpoint:         getEnv("DYNAMO_ENDPOINT", "http://localhost:8000"),
			Region:           getEnv("DYNAMO_REGION", "eu-central-1"),
			CallRecordsTable: getEnv("DYNAMO_CALL_RECORDS_TABLE", "callcenter-call-records"),
		},
	}

	var err error

	// WebSocket timeouts are whole seconds
	wsReadTimeout, err := strconv.Atoi(getEnv("WS_READ_TIMEOUT", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_READ_TIMEOUT: %w", err)
	}
	config.WSReadTimeout = time.Duration(wsReadTimeout) * time.Second

	wsWriteTimeout, err := strconv.Atoi(getEnv("WS_WRITE_TIMEOUT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %w", err)
	}
	config.WSWriteTimeout = time.Duration(wsWriteTimeout) * time.Second

	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 512

	if config.DashboardInterval, err = getEnvDuration("DASHBOARD_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if config.SweepInterval, err = getEnvDuration("SWEEP_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if config.SignalMinDelay, err = getEnvDuration("SIGNAL_MIN_DELAY", 10*time.Second); err != nil {
		return nil, err
	}
	if config.SignalMaxDelay, err = getEnvDuration("SIGNAL_MAX_DELAY", 30*time.Second); err != nil {
		return nil, err
	}
	if config.SignalMaxDelay < config.SignalMinDelay {
		return nil, fmt.Errorf("invalid SIGNAL_MAX_DELAY: %s is below SIGNAL_MIN_DELAY %s", config.SignalMaxDelay, config.SignalMinDelay)
	}
	if config.FinishingSoonWindow, err = getEnvDuration("FINISHING_SOON_WINDOW", 2*time.Minute); err != nil {
		return nil, err
	}
	if config.ProvisionBaseDelay, err = getEnvDuration("PROVISION_BASE_DELAY", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if config.ProvisionTimeout, err = getEnvDuration("PROVISION_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	if config.CapacityBurstMax, err = getEnvInt("CAPACITY_BURST_MAX", 5); err != nil {
		return nil, err
	}
	if config.ServiceLevelSeconds, err = getEnvInt("SERVICE_LEVEL_SECONDS", 20); err != nil {
		return nil, err
	}
	if config.ProvisionMaxAttempts, err = getEnvInt("PROVISION_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if config.ProvisionMaxAttempts < 1 {
		return nil, fmt.Errorf("invalid PROVISION_MAX_ATTEMPTS: must be at least 1")
	}

	rate, err := strconv.ParseFloat(getEnv("PROVISION_RATE", "2"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PROVISION_RATE: %w", err)
	}
	config.ProvisionRate = rate

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// getEnvDuration accepts Go duration strings ("5s", "250ms")
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}
