package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Research ResearchConfig
	Ai       AIConfig
	Tracing  TracingConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	WsLogFilePath      string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
}

type DatabaseConfig struct {
	Connection string // empty disables the subscription lookup
}

type AuthConfig struct {
	JWTSecret string
}

type ResearchConfig struct {
	ModeVocabulary       string // "depth" or "source"
	DispatchTimeout      time.Duration
	CancelGrace          time.Duration
	MaxProducerCalls     int64
	SubscriptionCacheTTL time.Duration
	SearchBaseURL        string
	SearchMaxResults     int
	ModelConfidence      float64
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	SampleRatio float64
}

type AIConfig struct {
	OllamaBaseURL string
	LocalModels   []string // served by Ollama
	CloudProvider string   // "huggingface" or "openai"
	CloudBaseURL  string
	CloudAPIKey   string
	CloudModels   []string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			WsLogFilePath:      getEnv("WS_LOG_FILE_PATH", "logs/websocket.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", ""),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Research: ResearchConfig{
			ModeVocabulary:       getEnv("RESEARCH_MODE_VOCABULARY", "depth"),
			DispatchTimeout:      getEnvAsDuration("RESEARCH_DISPATCH_TIMEOUT", 2*time.Minute),
			CancelGrace:          getEnvAsDuration("RESEARCH_CANCEL_GRACE", 2*time.Second),
			MaxProducerCalls:     int64(getEnvAsInt("RESEARCH_MAX_PRODUCER_CALLS", 64)),
			SubscriptionCacheTTL: getEnvAsDuration("SUBSCRIPTION_CACHE_TTL", 5*time.Minute),
			SearchBaseURL:        getEnv("SEARCH_BASE_URL", "http://localhost:8888"),
			SearchMaxResults:     getEnvAsInt("SEARCH_MAX_RESULTS", 8),
			ModelConfidence:      getEnvAsFloat("RESEARCH_MODEL_CONFIDENCE", 0.7),
		},
		Ai: AIConfig{
			OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			LocalModels:   getEnvAsList("LOCAL_MODELS", []string{"llama3"}),
			CloudProvider: getEnv("CLOUD_LLM_PROVIDER", "huggingface"),
			CloudBaseURL:  getEnv("CLOUD_LLM_BASE_URL", ""),
			CloudAPIKey:   getEnv("CLOUD_LLM_API_KEY", ""),
			CloudModels:   getEnvAsList("CLOUD_MODELS", nil),
		},
		Tracing: TracingConfig{
			Enabled:     getEnv("OTEL_ENABLED", "false") == "true",
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			SampleRatio: getEnvAsFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

// getEnvAsList splits a comma separated value, dropping empty items.
func getEnvAsList(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
