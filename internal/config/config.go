package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	// StdoutTraces pretty-prints spans when no OTLP endpoint is set.
	StdoutTraces bool `yaml:"stdout_traces"`
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
	Channels    ChannelsConfig   `yaml:"channels"`
	Hotkeys     HotkeysConfig    `yaml:"hotkeys"`
	Host        HostConfig       `yaml:"host"`
	EventStore  EventStoreConfig `yaml:"event_store"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// ChannelsConfig holds the well-known FIFO paths shared with the recognition daemon.
type ChannelsConfig struct {
	CommandPath string `yaml:"command_path"`
	CommitPath  string `yaml:"commit_path"`
}

type HotkeysConfig struct {
	// File overrides the XDG-derived hotkeys.conf location when set.
	File        string `yaml:"file"`
	CommandMode string `yaml:"command_mode"`
}

type HostConfig struct {
	SubjectPrefix string `yaml:"subject_prefix"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
	RecordText    bool   `yaml:"record_text"`
	QueueSize     int    `yaml:"queue_size"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-ime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8087,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4223,
			Servers:        []string{"nats://localhost:4223"},
			ConnectTimeout: 2000,
		},
		Channels: ChannelsConfig{
			CommandPath: "/tmp/loqa-ime-cmd.fifo",
			CommitPath:  "/tmp/loqa-ime-commit.fifo",
		},
		Hotkeys: HotkeysConfig{
			CommandMode: "Shift+F8",
		},
		Host: HostConfig{
			SubjectPrefix: "ime",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-ime.db",
			RetentionMode: "session",
			RetentionDays: 7,
			MaxSessions:   500,
			QueueSize:     256,
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
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_IME_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_IME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_IME_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_IME_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_IME_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_IME_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_IME_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "LOQA_IME_TELEMETRY_STDOUT_TRACES")
	overrideBool(&cfg.Bus.Embedded, "LOQA_IME_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_IME_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_IME_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_IME_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_IME_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_IME_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_IME_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_IME_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Channels.CommandPath, "LOQA_IME_CHANNELS_COMMAND_PATH")
	overrideString(&cfg.Channels.CommitPath, "LOQA_IME_CHANNELS_COMMIT_PATH")
	overrideString(&cfg.Hotkeys.File, "LOQA_IME_HOTKEYS_FILE")
	overrideString(&cfg.Hotkeys.CommandMode, "LOQA_IME_HOTKEYS_COMMAND_MODE")
	overrideString(&cfg.Host.SubjectPrefix, "LOQA_IME_HOST_SUBJECT_PREFIX")
	overrideString(&cfg.EventStore.Path, "LOQA_IME_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_IME_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_IME_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_IME_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_IME_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.EventStore.RecordText, "LOQA_IME_EVENT_STORE_RECORD_TEXT")
	overrideInt(&cfg.EventStore.QueueSize, "LOQA_IME_EVENT_STORE_QUEUE_SIZE")
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
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Channels.CommandPath == "" {
		return errors.New("channels.command_path must not be empty")
	}
	if cfg.Channels.CommitPath == "" {
		return errors.New("channels.commit_path must not be empty")
	}
	if cfg.Channels.CommandPath == cfg.Channels.CommitPath {
		return errors.New("channels.command_path and channels.commit_path must differ")
	}
	if strings.TrimSpace(cfg.Hotkeys.CommandMode) == "" {
		return errors.New("hotkeys.command_mode must not be empty")
	}
	if cfg.Host.SubjectPrefix == "" {
		return errors.New("host.subject_prefix must not be empty")
	}
	if strings.ContainsAny(cfg.Host.SubjectPrefix, " *>") {
		return errors.New("host.subject_prefix must not contain spaces or wildcards")
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
	if cfg.EventStore.QueueSize <= 0 {
		return errors.New("event_store.queue_size must be positive")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	return nil
}
