package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var opusSampleRates = []int{8000, 12000, 16000, 24000, 48000}

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	LogFile        string `yaml:"log_file"`
	LogMaxSizeMB   int    `yaml:"log_max_size_mb"`
	LogMaxBackups  int    `yaml:"log_max_backups"`
	LogMaxAgeDays  int    `yaml:"log_max_age_days"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	// PrometheusBind is a separate metrics listener. Empty serves /metrics on the main router.
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind         string   `yaml:"bind"`
	Port         int      `yaml:"port"`
	CORSOrigins  []string `yaml:"cors_origins"`
	WriteTimeout int      `yaml:"write_timeout_ms"`
}

type Config struct {
	ServiceName string           `yaml:"service_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Backend     BackendConfig    `yaml:"backend"`
	Retry       RetryConfig      `yaml:"retry"`
	Synthesis   SynthesisConfig  `yaml:"synthesis"`
	Encoder     EncoderConfig    `yaml:"encoder"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
}

type BackendConfig struct {
	Mode      string            `yaml:"mode"` // riva, mock
	Address   string            `yaml:"address"`
	UseTLS    bool              `yaml:"use_tls"`
	TimeoutMS int               `yaml:"timeout_ms"`
	Streaming bool              `yaml:"streaming"`
	Metadata  map[string]string `yaml:"metadata"`
	RateLimit int               `yaml:"rate_limit"`
}

type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts"`
	InitialBackoffMS int `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int `yaml:"max_backoff_ms"`
}

type SynthesisConfig struct {
	LanguageCode string `yaml:"language_code"`
	SampleRate   int    `yaml:"sample_rate"`
	DefaultVoice string `yaml:"default_voice"`
	VoicesFile   string `yaml:"voices_file"`
}

type EncoderConfig struct {
	OpusBitRate  int `yaml:"opus_bit_rate"`
	MP3BitRate   int `yaml:"mp3_bit_rate"`
	IOBufferSize int `yaml:"io_buffer_size"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRequests   int    `yaml:"max_requests"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		ServiceName: "riva_tts_proxy",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:        "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			LogMaxSizeMB:   64,
			LogMaxBackups:  3,
			LogMaxAgeDays:  7,
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Backend: BackendConfig{
			Mode:      "riva",
			Address:   "localhost:50051",
			TimeoutMS: 30000,
		},
		Retry: RetryConfig{
			MaxAttempts:      5,
			InitialBackoffMS: 100,
			MaxBackoffMS:     2000,
		},
		Synthesis: SynthesisConfig{
			LanguageCode: "en-US",
			SampleRate:   48000,
			DefaultVoice: "English-US.Female-1",
		},
		Encoder: EncoderConfig{
			OpusBitRate:  64000,
			MP3BitRate:   128000,
			IOBufferSize: 4096,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/relay-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxRequests:   10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		data = []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "LOQA_RELAY_SERVICE_NAME")
	overrideString(&cfg.Environment, "LOQA_RELAY_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_RELAY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PORT")
	overrideInt(&cfg.HTTP.Port, "LOQA_RELAY_HTTP_PORT")
	overrideStringSlice(&cfg.HTTP.CORSOrigins, "LOQA_RELAY_HTTP_CORS_ORIGINS")
	overrideInt(&cfg.HTTP.WriteTimeout, "LOQA_RELAY_HTTP_WRITE_TIMEOUT_MS")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_RELAY_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "LOQA_RELAY_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.LogFile, "LOQA_RELAY_TELEMETRY_LOG_FILE")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_RELAY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_RELAY_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_RELAY_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Backend.Mode, "LOQA_RELAY_BACKEND_MODE")
	overrideString(&cfg.Backend.Address, "RIVA_URI")
	overrideString(&cfg.Backend.Address, "LOQA_RELAY_BACKEND_ADDRESS")
	overrideBool(&cfg.Backend.UseTLS, "LOQA_RELAY_BACKEND_USE_TLS")
	overrideInt(&cfg.Backend.TimeoutMS, "LOQA_RELAY_BACKEND_TIMEOUT_MS")
	overrideBool(&cfg.Backend.Streaming, "LOQA_RELAY_BACKEND_STREAMING")
	overrideInt(&cfg.Backend.RateLimit, "LOQA_RELAY_BACKEND_RATE_LIMIT")
	overrideInt(&cfg.Retry.MaxAttempts, "LOQA_RELAY_RETRY_MAX_ATTEMPTS")
	overrideInt(&cfg.Retry.InitialBackoffMS, "LOQA_RELAY_RETRY_INITIAL_BACKOFF_MS")
	overrideInt(&cfg.Retry.MaxBackoffMS, "LOQA_RELAY_RETRY_MAX_BACKOFF_MS")
	overrideString(&cfg.Synthesis.LanguageCode, "LOQA_RELAY_SYNTHESIS_LANGUAGE_CODE")
	overrideInt(&cfg.Synthesis.SampleRate, "LOQA_RELAY_SYNTHESIS_SAMPLE_RATE")
	overrideString(&cfg.Synthesis.DefaultVoice, "LOQA_RELAY_SYNTHESIS_DEFAULT_VOICE")
	overrideString(&cfg.Synthesis.VoicesFile, "LOQA_RELAY_SYNTHESIS_VOICES_FILE")
	overrideInt(&cfg.Encoder.OpusBitRate, "LOQA_RELAY_ENCODER_OPUS_BIT_RATE")
	overrideInt(&cfg.Encoder.MP3BitRate, "LOQA_RELAY_ENCODER_MP3_BIT_RATE")
	overrideBool(&cfg.Bus.Enabled, "LOQA_RELAY_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_RELAY_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_RELAY_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_RELAY_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_RELAY_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_RELAY_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_RELAY_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_RELAY_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_RELAY_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_RELAY_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_RELAY_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_RELAY_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRequests, "LOQA_RELAY_EVENT_STORE_MAX_REQUESTS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_RELAY_EVENT_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.WriteTimeout < 0 {
		return errors.New("http.write_timeout_ms must be >= 0")
	}
	switch cfg.Telemetry.LogFormat {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	switch cfg.Backend.Mode {
	case "riva":
		if cfg.Backend.Address == "" {
			return errors.New("backend.address must be set when mode=riva")
		}
	case "mock":
	default:
		return errors.New("backend.mode must be one of riva|mock")
	}
	if cfg.Backend.TimeoutMS < 0 {
		return errors.New("backend.timeout_ms must be >= 0")
	}
	if cfg.Backend.RateLimit < 0 {
		return errors.New("backend.rate_limit must be >= 0")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if cfg.Retry.InitialBackoffMS < 0 || cfg.Retry.MaxBackoffMS < 0 {
		return errors.New("retry backoff values must be >= 0")
	}
	if cfg.Retry.MaxBackoffMS < cfg.Retry.InitialBackoffMS {
		return errors.New("retry.max_backoff_ms must be >= retry.initial_backoff_ms")
	}
	// Opus output is always reachable through Accept, so the rate must suit libopus.
	if !slices.Contains(opusSampleRates, cfg.Synthesis.SampleRate) {
		return fmt.Errorf("synthesis.sample_rate must be one of %v", opusSampleRates)
	}
	if cfg.Synthesis.LanguageCode == "" {
		return errors.New("synthesis.language_code must not be empty")
	}
	if cfg.Synthesis.DefaultVoice == "" {
		return errors.New("synthesis.default_voice must not be empty")
	}
	if cfg.Encoder.OpusBitRate <= 0 || cfg.Encoder.MP3BitRate <= 0 {
		return errors.New("encoder bit rates must be positive")
	}
	if cfg.Encoder.IOBufferSize <= 0 {
		return errors.New("encoder.io_buffer_size must be positive")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	return nil
}
