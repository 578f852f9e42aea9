// Package config provides application configuration loaded from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration.
type Config struct {
	Service       ServiceConfig
	Transport     TransportConfig
	Transcript    TranscriptConfig
	Analysis      AnalysisConfig
	Kafka         KafkaConfig
	Store         StoreConfig
	Observability ObservabilityConfig
	AnalysisStore AnalysisStoreConfig
}

// ServiceConfig holds service identity and listener settings.
type ServiceConfig struct {
	Principal string
	HTTPPort  string
	GRPCPort  string
}

// TransportConfig selects and configures the call transport.
type TransportConfig struct {
	Provider     string // mock, ws
	URL          string
	APIKey       string
	AssistantID  string
	StartTimeout time.Duration
	MockStep     time.Duration
}

// TranscriptConfig holds transcript aggregation settings.
type TranscriptConfig struct {
	ClearDelay time.Duration
}

// AnalysisConfig holds the analysis poll policy and store location.
type AnalysisConfig struct {
	BaseURL        string
	Interval       time.Duration
	MaxAttempts    int
	PrePollDelay   time.Duration
	RequestTimeout time.Duration
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	Enabled           bool
	Brokers           []string
	TopicConversation string
	TopicAnalysis     string
	Principal         string
}

// StoreConfig holds the call archive settings.
type StoreConfig struct {
	Enabled bool
	DBPath  string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsPort string
}

// AnalysisStoreConfig configures the analysis store proxy binary.
type AnalysisStoreConfig struct {
	Port           string
	UpstreamURL    string
	APIKey         string
	RequestTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voice-session")

	return &Config{
		Service: ServiceConfig{
			Principal: principal,
			HTTPPort:  envOrDefault("HTTP_PORT", "8080"),
			GRPCPort:  envOrDefault("GRPC_PORT", "50051"),
		},
		Transport: TransportConfig{
			Provider:     envOrDefault("TRANSPORT_PROVIDER", "mock"),
			URL:          envOrDefault("TRANSPORT_URL", ""),
			APIKey:       envOrDefault("TRANSPORT_API_KEY", ""),
			AssistantID:  envOrDefault("ASSISTANT_ID", ""),
			StartTimeout: envOrDefaultDuration("TRANSPORT_START_TIMEOUT", 15*time.Second),
			MockStep:     envOrDefaultDuration("TRANSPORT_MOCK_STEP", 500*time.Millisecond),
		},
		Transcript: TranscriptConfig{
			ClearDelay: envOrDefaultDuration("TRANSCRIPT_CLEAR_DELAY", time.Second),
		},
		Analysis: AnalysisConfig{
			BaseURL:        envOrDefault("ANALYSIS_STORE_URL", "http://localhost:5000"),
			Interval:       envOrDefaultDuration("ANALYSIS_POLL_INTERVAL", 10*time.Second),
			MaxAttempts:    envOrDefaultInt("ANALYSIS_MAX_ATTEMPTS", 12),
			PrePollDelay:   envOrDefaultDuration("ANALYSIS_PRE_POLL_DELAY", 30*time.Second),
			RequestTimeout: envOrDefaultDuration("ANALYSIS_REQUEST_TIMEOUT", 10*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:           envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:           envOrDefaultList("KAFKA_BROKERS", nil),
			TopicConversation: envOrDefault("KAFKA_TOPIC_CONVERSATION", "voice.call.conversation.v1"),
			TopicAnalysis:     envOrDefault("KAFKA_TOPIC_ANALYSIS", "voice.call.analysis.v1"),
			Principal:         envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Store: StoreConfig{
			Enabled: envOrDefaultBool("STORE_ENABLED", true),
			DBPath:  envOrDefault("STORE_DB_PATH", "./data/calls.db"),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
		AnalysisStore: AnalysisStoreConfig{
			Port:           envOrDefault("ANALYSIS_STORE_PORT", "5000"),
			UpstreamURL:    envOrDefault("VAPI_API_URL", "https://api.vapi.ai"),
			APIKey:         envOrDefault("VAPI_API_KEY", ""),
			RequestTimeout: envOrDefaultDuration("VAPI_REQUEST_TIMEOUT", 15*time.Second),
		},
	}
}

// Validate checks settings the session daemon cannot run without.
func (c *Config) Validate() error {
	switch c.Transport.Provider {
	case "mock":
	case "ws":
		if c.Transport.URL == "" {
			return fmt.Errorf("TRANSPORT_URL is required when TRANSPORT_PROVIDER=ws")
		}
	default:
		return fmt.Errorf("unknown TRANSPORT_PROVIDER %q", c.Transport.Provider)
	}
	if c.Analysis.BaseURL == "" {
		return fmt.Errorf("ANALYSIS_STORE_URL cannot be empty")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}
	if c.Store.Enabled && c.Store.DBPath == "" {
		return fmt.Errorf("STORE_DB_PATH cannot be empty when STORE_ENABLED=true")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
