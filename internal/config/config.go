package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSystemPrompt instructs the completion backend to answer as a
// medical guidance assistant in short, period-separated sentences.
const DefaultSystemPrompt = "You are an AI medical assistant. Provide your response in clear, short sentences separated by periods. " +
	"First tell the user what you're going to explain, then provide the information. " +
	"If symptoms are mentioned, suggest possible conditions and first-aid remedies. " +
	"Recommend only OTC (over-the-counter) medicines. If symptoms are severe, suggest consulting a doctor."

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	TraceStdout    bool   `yaml:"trace_stdout"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Gateway     GatewayConfig    `yaml:"gateway"`
	STT         STTConfig        `yaml:"stt"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	JetStream      bool     `yaml:"jetstream"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type PipelineConfig struct {
	PacingMS          int    `yaml:"pacing_ms"`
	MinSynthesisChars int    `yaml:"min_synthesis_chars"`
	SystemPrompt      string `yaml:"system_prompt"`
	Language          string `yaml:"language"`
}

type GatewayConfig struct {
	Path           string   `yaml:"path"`
	WriteTimeoutMS int      `yaml:"write_timeout_ms"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type STTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Mode            string `yaml:"mode"` // mock, exec
	ListenCommand   string `yaml:"listen_command"`
	Command         string `yaml:"command"`
	DevicesCommand  string `yaml:"devices_command"`
	ModelPath       string `yaml:"model_path"`
	Language        string `yaml:"language"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	CalibrationMS   int    `yaml:"calibration_ms"`
	ListenTimeoutMS int    `yaml:"listen_timeout_ms"`
	PhraseLimitMS   int    `yaml:"phrase_limit_ms"`
	MockTranscript  string `yaml:"mock_transcript"`
}

type LLMConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Mode        string  `yaml:"mode"` // mock, ollama, exec, openai, gemini
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Mode       string `yaml:"mode"` // mock, exec, http
	Command    string `yaml:"command"`
	Endpoint   string `yaml:"endpoint"`
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-medic",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 5000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			TraceStdout:    true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Host:           "127.0.0.1",
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			SubjectPrefix:  "assistant",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/medic-turns.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Pipeline: PipelineConfig{
			PacingMS:          300,
			MinSynthesisChars: 2,
			SystemPrompt:      DefaultSystemPrompt,
			Language:          "en",
		},
		Gateway: GatewayConfig{
			Path:           "/ws",
			WriteTimeoutMS: 5000,
		},
		STT: STTConfig{
			Enabled:         true,
			Mode:            "mock",
			Language:        "en-US",
			SampleRate:      16000,
			Channels:        1,
			CalibrationMS:   1000,
			ListenTimeoutMS: 5000,
			PhraseLimitMS:   10000,
			MockTranscript:  "I have a headache",
		},
		LLM: LLMConfig{
			Enabled:     true,
			Mode:        "mock",
			Endpoint:    "https://api.mistral.ai/v1",
			Model:       "mistral-medium",
			MaxTokens:   150,
			Temperature: 0.7,
			TimeoutMS:   60000,
		},
		TTS: TTSConfig{
			Enabled:    true,
			Mode:       "mock",
			Endpoint:   "https://translate.google.com/translate_tts",
			SampleRate: 22050,
			Channels:   1,
			TimeoutMS:  45000,
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
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "MEDIC_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MEDIC_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MEDIC_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MEDIC_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MEDIC_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MEDIC_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MEDIC_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "MEDIC_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Telemetry.TraceStdout, "MEDIC_TELEMETRY_TRACE_STDOUT")
	overrideBool(&cfg.Bus.Enabled, "MEDIC_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "MEDIC_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "MEDIC_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "MEDIC_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "MEDIC_BUS_STORE_DIR")
	overrideBool(&cfg.Bus.JetStream, "MEDIC_BUS_JETSTREAM")
	overrideStringSlice(&cfg.Bus.Servers, "MEDIC_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MEDIC_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MEDIC_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MEDIC_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MEDIC_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MEDIC_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.SubjectPrefix, "MEDIC_BUS_SUBJECT_PREFIX")
	overrideString(&cfg.EventStore.Path, "MEDIC_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "MEDIC_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "MEDIC_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "MEDIC_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "MEDIC_EVENT_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Pipeline.PacingMS, "MEDIC_PIPELINE_PACING_MS")
	overrideInt(&cfg.Pipeline.MinSynthesisChars, "MEDIC_PIPELINE_MIN_SYNTHESIS_CHARS")
	overrideString(&cfg.Pipeline.SystemPrompt, "MEDIC_PIPELINE_SYSTEM_PROMPT")
	overrideString(&cfg.Pipeline.Language, "MEDIC_PIPELINE_LANGUAGE")
	overrideString(&cfg.Gateway.Path, "MEDIC_GATEWAY_PATH")
	overrideInt(&cfg.Gateway.WriteTimeoutMS, "MEDIC_GATEWAY_WRITE_TIMEOUT_MS")
	overrideStringSlice(&cfg.Gateway.AllowedOrigins, "MEDIC_GATEWAY_ALLOWED_ORIGINS")
	overrideBool(&cfg.STT.Enabled, "MEDIC_STT_ENABLED")
	overrideString(&cfg.STT.Mode, "MEDIC_STT_MODE")
	overrideString(&cfg.STT.ListenCommand, "MEDIC_STT_LISTEN_COMMAND")
	overrideString(&cfg.STT.Command, "MEDIC_STT_COMMAND")
	overrideString(&cfg.STT.DevicesCommand, "MEDIC_STT_DEVICES_COMMAND")
	overrideString(&cfg.STT.ModelPath, "MEDIC_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "MEDIC_STT_LANGUAGE")
	overrideInt(&cfg.STT.SampleRate, "MEDIC_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "MEDIC_STT_CHANNELS")
	overrideInt(&cfg.STT.CalibrationMS, "MEDIC_STT_CALIBRATION_MS")
	overrideInt(&cfg.STT.ListenTimeoutMS, "MEDIC_STT_LISTEN_TIMEOUT_MS")
	overrideInt(&cfg.STT.PhraseLimitMS, "MEDIC_STT_PHRASE_LIMIT_MS")
	overrideString(&cfg.STT.MockTranscript, "MEDIC_STT_MOCK_TRANSCRIPT")
	overrideBool(&cfg.LLM.Enabled, "MEDIC_LLM_ENABLED")
	overrideString(&cfg.LLM.Mode, "MEDIC_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "MEDIC_LLM_ENDPOINT")
	overrideString(&cfg.LLM.APIKey, "MEDIC_LLM_API_KEY")
	overrideString(&cfg.LLM.Command, "MEDIC_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "MEDIC_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "MEDIC_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "MEDIC_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "MEDIC_LLM_TIMEOUT_MS")
	overrideBool(&cfg.TTS.Enabled, "MEDIC_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "MEDIC_TTS_MODE")
	overrideString(&cfg.TTS.Command, "MEDIC_TTS_COMMAND")
	overrideString(&cfg.TTS.Endpoint, "MEDIC_TTS_ENDPOINT")
	overrideString(&cfg.TTS.Voice, "MEDIC_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "MEDIC_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "MEDIC_TTS_CHANNELS")
	overrideInt(&cfg.TTS.TimeoutMS, "MEDIC_TTS_TIMEOUT_MS")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg *Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.SubjectPrefix == "" {
			return errors.New("bus.subject_prefix must not be empty")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Pipeline.PacingMS < 0 {
		return errors.New("pipeline.pacing_ms must be >= 0")
	}
	if cfg.Pipeline.MinSynthesisChars < 0 {
		return errors.New("pipeline.min_synthesis_chars must be >= 0")
	}
	if strings.TrimSpace(cfg.Pipeline.SystemPrompt) == "" {
		cfg.Pipeline.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Pipeline.Language == "" {
		cfg.Pipeline.Language = "en"
	}
	if !strings.HasPrefix(cfg.Gateway.Path, "/") {
		return errors.New("gateway.path must start with /")
	}
	if cfg.STT.Enabled {
		switch cfg.STT.Mode {
		case "mock", "exec":
		default:
			return errors.New("stt.mode must be one of mock|exec")
		}
		if cfg.STT.Mode == "exec" && (cfg.STT.Command == "" || cfg.STT.ListenCommand == "") {
			return errors.New("stt.listen_command and stt.command must be set when mode=exec")
		}
		if cfg.STT.SampleRate <= 0 {
			return errors.New("stt.sample_rate must be positive")
		}
		if cfg.STT.Channels <= 0 {
			return errors.New("stt.channels must be positive")
		}
		if cfg.STT.ListenTimeoutMS <= 0 || cfg.STT.PhraseLimitMS <= 0 {
			return errors.New("stt.listen_timeout_ms and stt.phrase_limit_ms must be positive")
		}
	}
	if cfg.LLM.Enabled {
		switch cfg.LLM.Mode {
		case "mock", "ollama", "exec", "openai", "gemini":
		default:
			return errors.New("llm.mode must be one of mock|ollama|exec|openai|gemini")
		}
		if (cfg.LLM.Mode == "ollama" || cfg.LLM.Mode == "openai") && cfg.LLM.Endpoint == "" {
			return fmt.Errorf("llm.endpoint must be set when mode=%s", cfg.LLM.Mode)
		}
		if (cfg.LLM.Mode == "openai" || cfg.LLM.Mode == "gemini") && cfg.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key must be set when mode=%s", cfg.LLM.Mode)
		}
		if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
		if cfg.LLM.MaxTokens < 0 {
			return errors.New("llm.max_tokens must be >= 0")
		}
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "exec", "http":
		default:
			return errors.New("tts.mode must be one of mock|exec|http")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if cfg.TTS.Mode == "http" && cfg.TTS.Endpoint == "" {
			return errors.New("tts.endpoint must be set when mode=http")
		}
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
		if cfg.TTS.Channels <= 0 {
			return errors.New("tts.channels must be positive")
		}
	}
	return nil
}
