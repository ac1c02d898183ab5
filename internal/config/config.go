package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	FalsePositiveAlways      = "always"
	FalsePositiveOnRejection = "on_rejection"
)

type Config struct {
	DBPath    string          `yaml:"db_path" mapstructure:"db_path"`
	Web       WebConfig       `yaml:"web" mapstructure:"web"`
	Detection DetectionConfig `yaml:"detection" mapstructure:"detection"`
	Inference InferenceConfig `yaml:"inference" mapstructure:"inference"`
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Reminders ReminderConfig  `yaml:"reminders" mapstructure:"reminders"`
	Host      HostConfig      `yaml:"host" mapstructure:"host"`
}

type WebConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Bind is the listen address. The API exposes screen text, so it stays on
	// loopback unless changed.
	Bind string `yaml:"bind" mapstructure:"bind"`
	Port int    `yaml:"port" mapstructure:"port"`
	// AllowedOrigins lists browser origins granted CORS access. Empty means none.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// DetectionConfig drives the automatic task-detection pipeline.
type DetectionConfig struct {
	Enabled             bool          `yaml:"enabled" mapstructure:"enabled"`
	Apps                []string      `yaml:"apps" mapstructure:"apps"`
	Cooldown            time.Duration `yaml:"-" mapstructure:"cooldown"`
	DuplicateThreshold  float64       `yaml:"duplicate_threshold" mapstructure:"duplicate_threshold"`
	FastTimeout         time.Duration `yaml:"-" mapstructure:"fast_timeout"`
	PreciseTimeout      time.Duration `yaml:"-" mapstructure:"precise_timeout"`
	FalsePositivePolicy string        `yaml:"false_positive_policy" mapstructure:"false_positive_policy"`
}

type InferenceConfig struct {
	FastURL      string `yaml:"fast_url" mapstructure:"fast_url"`
	FastModel    string `yaml:"fast_model" mapstructure:"fast_model"`
	PreciseURL   string `yaml:"precise_url" mapstructure:"precise_url"`
	PreciseModel string `yaml:"precise_model" mapstructure:"precise_model"`
}

type EmbeddingConfig struct {
	// Provider is "local" (Ollama-compatible endpoint) or "hash" (offline feature hashing).
	Provider  string `yaml:"provider" mapstructure:"provider"`
	URL       string `yaml:"url" mapstructure:"url"`
	Model     string `yaml:"model" mapstructure:"model"`
	CacheSize int    `yaml:"cache_size" mapstructure:"cache_size"`
}

type ReminderConfig struct {
	CheckInterval time.Duration `yaml:"-" mapstructure:"check_interval"`
	SnoozeOffset  time.Duration `yaml:"-" mapstructure:"snooze_offset"`
}

type HostConfig struct {
	// ContextURL, when set, is queried for a fresh context on forced refreshes.
	ContextURL string `yaml:"context_url" mapstructure:"context_url"`
}

func Default() Config {
	return Config{
		Web: WebConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    8080,
		},
		Detection: DetectionConfig{
			Enabled:             true,
			Apps:                []string{"Slack", "Messages", "app.slack.com", "Outlook", "mail.google.com"},
			Cooldown:            30 * time.Second,
			DuplicateThreshold:  0.90,
			FastTimeout:         20 * time.Second,
			PreciseTimeout:      60 * time.Second,
			FalsePositivePolicy: FalsePositiveAlways,
		},
		Inference: InferenceConfig{
			FastURL:      "http://localhost:8081",
			FastModel:    "llama-3.2-1b-instruct",
			PreciseURL:   "http://localhost:11434",
			PreciseModel: "llama3.1",
		},
		Embedding: EmbeddingConfig{
			Provider:  "local",
			URL:       "http://localhost:11434/api/embed",
			Model:     "nomic-embed-text",
			CacheSize: 512,
		},
		Reminders: ReminderConfig{
			CheckInterval: time.Minute,
			SnoozeOffset:  15 * time.Minute,
		},
	}
}

func DefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "taskwatch", "config.yaml"), nil
}

func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}

// Load reads the YAML config at path on top of Default. A missing file yields
// the defaults. TASKWATCH_* environment variables override a few keys.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, Default())
	v.SetEnvPrefix("taskwatch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range []string{"db_path", "web.port", "inference.fast_url", "inference.precise_url", "embedding.url", "host.context_url"} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, err
		}
	}

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("web.enabled", d.Web.Enabled)
	v.SetDefault("web.bind", d.Web.Bind)
	v.SetDefault("web.port", d.Web.Port)
	v.SetDefault("web.allowed_origins", d.Web.AllowedOrigins)
	v.SetDefault("detection.enabled", d.Detection.Enabled)
	v.SetDefault("detection.apps", d.Detection.Apps)
	v.SetDefault("detection.cooldown", d.Detection.Cooldown)
	v.SetDefault("detection.duplicate_threshold", d.Detection.DuplicateThreshold)
	v.SetDefault("detection.fast_timeout", d.Detection.FastTimeout)
	v.SetDefault("detection.precise_timeout", d.Detection.PreciseTimeout)
	v.SetDefault("detection.false_positive_policy", d.Detection.FalsePositivePolicy)
	v.SetDefault("inference.fast_url", d.Inference.FastURL)
	v.SetDefault("inference.fast_model", d.Inference.FastModel)
	v.SetDefault("inference.precise_url", d.Inference.PreciseURL)
	v.SetDefault("inference.precise_model", d.Inference.PreciseModel)
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.url", d.Embedding.URL)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.cache_size", d.Embedding.CacheSize)
	v.SetDefault("reminders.check_interval", d.Reminders.CheckInterval)
	v.SetDefault("reminders.snooze_offset", d.Reminders.SnoozeOffset)
	v.SetDefault("host.context_url", d.Host.ContextURL)
}

func (c Config) Validate() error {
	switch c.Detection.FalsePositivePolicy {
	case FalsePositiveAlways, FalsePositiveOnRejection:
	default:
		return fmt.Errorf("detection.false_positive_policy: unknown value %q", c.Detection.FalsePositivePolicy)
	}
	if c.Detection.DuplicateThreshold <= 0 || c.Detection.DuplicateThreshold > 1 {
		return fmt.Errorf("detection.duplicate_threshold must be in (0, 1], got %v", c.Detection.DuplicateThreshold)
	}
	if c.Detection.Cooldown < 0 {
		return fmt.Errorf("detection.cooldown must not be negative")
	}
	switch c.Embedding.Provider {
	case "local", "hash":
	default:
		return fmt.Errorf("embedding.provider: unknown value %q", c.Embedding.Provider)
	}
	return nil
}

func Save(path string, cfg Config) error {
	if err := EnsureDir(path); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// WriteDefault leaves an editable config at path on first run. An existing file
// is never rewritten, so env overrides stay out of it.
func WriteDefault(path, dbPath string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	cfg := Default()
	cfg.DBPath = dbPath
	return Save(path, cfg)
}

// Durations are written as strings ("30s") so viper can decode them back.

func (d DetectionConfig) MarshalYAML() (any, error) {
	type plain DetectionConfig
	return struct {
		plain          `yaml:",inline"`
		Cooldown       string `yaml:"cooldown"`
		FastTimeout    string `yaml:"fast_timeout"`
		PreciseTimeout string `yaml:"precise_timeout"`
	}{
		plain:          plain(d),
		Cooldown:       d.Cooldown.String(),
		FastTimeout:    d.FastTimeout.String(),
		PreciseTimeout: d.PreciseTimeout.String(),
	}, nil
}

func (r ReminderConfig) MarshalYAML() (any, error) {
	return struct {
		CheckInterval string `yaml:"check_interval"`
		SnoozeOffset  string `yaml:"snooze_offset"`
	}{
		CheckInterval: r.CheckInterval.String(),
		SnoozeOffset:  r.SnoozeOffset.String(),
	}, nil
}
