package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const DefaultConfigPath = "qstream.toml"

type Config struct {
	Stream     StreamConfig   `toml:"stream"`
	Log        LogConfig      `toml:"log"`
	Output     OutputConfig   `toml:"output"`
	HTTP       HTTPConfig     `toml:"http"`
	Foxglove   FoxgloveConfig `toml:"foxglove"`
	configPath string         `toml:"-"`
}

type StreamConfig struct {
	Addr           string `toml:"addr"`
	DialTimeout    string `toml:"dial_timeout"`
	PollTimeout    string `toml:"poll_timeout"`
	ReadTimeout    string `toml:"read_timeout"`
	ReadBuffer     int    `toml:"read_buffer"`
	MaxPayload     int    `toml:"max_payload"`
	ReportInterval string `toml:"report_interval"`
	IdleSleep      string `toml:"idle_sleep"`
	Reconnect      bool   `toml:"reconnect"`
	ReconnectBase  string `toml:"reconnect_base"`
	ReconnectMax   string `toml:"reconnect_max"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type OutputConfig struct {
	JSONL string `toml:"jsonl"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

type FoxgloveConfig struct {
	Enabled bool   `toml:"enabled"`
	WSAddr  string `toml:"ws_addr"`
	Topic   string `toml:"topic"`
	Name    string `toml:"name"`
}

func Default() Config {
	return Config{
		Stream: StreamConfig{
			Addr:           "127.0.0.1:1234",
			DialTimeout:    "5s",
			PollTimeout:    "1ms",
			ReadTimeout:    "10s",
			ReadBuffer:     64 * 1024,
			MaxPayload:     64 * 1024 * 1024,
			ReportInterval: "250ms",
			IdleSleep:      "1ms",
			ReconnectBase:  "1s",
			ReconnectMax:   "10s",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Foxglove: FoxgloveConfig{
			WSAddr: "127.0.0.1:8765",
			Topic:  "qstream/summary",
			Name:   "qstream",
		},
	}
}

func Load(path string) (Config, error) {
	cfg, exists, err := LoadOrDefault(path)
	if err != nil {
		return Config{}, err
	}
	if !exists {
		return Config{}, os.ErrNotExist
	}
	return cfg, nil
}

// LoadOrDefault reads path, falling back to Default when it does not exist.
// The bool reports whether the file was found.
func LoadOrDefault(path string) (Config, bool, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.normalize(path)
			return cfg, false, nil
		}
		return Config{}, false, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, true, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize(path)

	if err := cfg.Validate(); err != nil {
		return Config{}, true, err
	}
	return cfg, true, nil
}

func (cfg *Config) Save(path string) error {
	cfg.normalize(path)
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (cfg *Config) ConfigPath() string {
	return cfg.configPath
}

func (cfg *Config) Validate() error {
	if cfg.Stream.Addr == "" {
		return fmt.Errorf("stream.addr is empty")
	}
	durations := []struct {
		key   string
		value string
	}{
		{"stream.dial_timeout", cfg.Stream.DialTimeout},
		{"stream.poll_timeout", cfg.Stream.PollTimeout},
		{"stream.read_timeout", cfg.Stream.ReadTimeout},
		{"stream.report_interval", cfg.Stream.ReportInterval},
		{"stream.idle_sleep", cfg.Stream.IdleSleep},
		{"stream.reconnect_base", cfg.Stream.ReconnectBase},
		{"stream.reconnect_max", cfg.Stream.ReconnectMax},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		if parsed < 0 {
			return fmt.Errorf("%s must not be negative: %s", d.key, d.value)
		}
	}
	if report, _ := time.ParseDuration(cfg.Stream.ReportInterval); report == 0 {
		return fmt.Errorf("stream.report_interval must be positive")
	}
	if cfg.Stream.MaxPayload < 0 {
		return fmt.Errorf("stream.max_payload must not be negative: %d", cfg.Stream.MaxPayload)
	}
	switch cfg.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json: %q", cfg.Log.Format)
	}
	if cfg.Foxglove.Enabled && cfg.Foxglove.WSAddr == "" {
		return fmt.Errorf("foxglove.ws_addr is empty")
	}
	return nil
}

// Duration accessors return zero for values Validate would reject.
func (s StreamConfig) DialTimeoutDuration() time.Duration { return parseDuration(s.DialTimeout) }
func (s StreamConfig) PollTimeoutDuration() time.Duration { return parseDuration(s.PollTimeout) }
func (s StreamConfig) ReadTimeoutDuration() time.Duration { return parseDuration(s.ReadTimeout) }
func (s StreamConfig) ReportIntervalDuration() time.Duration { return parseDuration(s.ReportInterval) }
func (s StreamConfig) IdleSleepDuration() time.Duration { return parseDuration(s.IdleSleep) }
func (s StreamConfig) ReconnectBaseDuration() time.Duration { return parseDuration(s.ReconnectBase) }
func (s StreamConfig) ReconnectMaxDuration() time.Duration { return parseDuration(s.ReconnectMax) }

func parseDuration(raw string) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}

func (cfg *Config) normalize(path string) {
	def := Default()

	cfg.Stream.Addr = strings.TrimSpace(cfg.Stream.Addr)
	if cfg.Stream.Addr == "" {
		cfg.Stream.Addr = def.Stream.Addr
	}
	if cfg.Stream.DialTimeout == "" {
		cfg.Stream.DialTimeout = def.Stream.DialTimeout
	}
	if cfg.Stream.PollTimeout == "" {
		cfg.Stream.PollTimeout = def.Stream.PollTimeout
	}
	if cfg.Stream.ReadTimeout == "" {
		cfg.Stream.ReadTimeout = def.Stream.ReadTimeout
	}
	if cfg.Stream.ReadBuffer <= 0 {
		cfg.Stream.ReadBuffer = def.Stream.ReadBuffer
	}
	if cfg.Stream.MaxPayload == 0 {
		cfg.Stream.MaxPayload = def.Stream.MaxPayload
	}
	if cfg.Stream.ReportInterval == "" {
		cfg.Stream.ReportInterval = def.Stream.ReportInterval
	}
	if cfg.Stream.IdleSleep == "" {
		cfg.Stream.IdleSleep = def.Stream.IdleSleep
	}
	if cfg.Stream.ReconnectBase == "" {
		cfg.Stream.ReconnectBase = def.Stream.ReconnectBase
	}
	if cfg.Stream.ReconnectMax == "" {
		cfg.Stream.ReconnectMax = def.Stream.ReconnectMax
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}

	if cfg.Foxglove.WSAddr == "" {
		cfg.Foxglove.WSAddr = def.Foxglove.WSAddr
	}
	if cfg.Foxglove.Topic == "" {
		cfg.Foxglove.Topic = def.Foxglove.Topic
	}
	if cfg.Foxglove.Name == "" {
		cfg.Foxglove.Name = def.Foxglove.Name
	}

	if path == "" {
		path = cfg.configPath
	}
	if path == "" {
		path = DefaultConfigPath
	}
	cfg.configPath = path

	if cfg.Output.JSONL != "" && !filepath.IsAbs(cfg.Output.JSONL) {
		cfg.Output.JSONL = filepath.Join(filepath.Dir(path), cfg.Output.JSONL)
	}
}
