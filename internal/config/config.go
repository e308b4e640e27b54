package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultPath = "configs/config.yaml"

type Config struct {
	Telegram struct {
		Token         string `yaml:"token"`
		AppURL        string `yaml:"app_url"`
		WebhookSecret string `yaml:"webhook_secret"`
		Debug         bool   `yaml:"debug"`
	} `yaml:"telegram"`

	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`

	LLM struct {
		Provider        string  `yaml:"provider"`
		APIKey          string  `yaml:"api_key"`
		BaseURL         string  `yaml:"base_url"`
		Model           string  `yaml:"model"`
		FolderID        string  `yaml:"folder_id"`
		Temperature     float64 `yaml:"temperature"`
		MaxTokens       int     `yaml:"max_tokens"`
		TimeoutSeconds  int     `yaml:"timeout_seconds"`
		HistoryMessages int     `yaml:"history_messages"`
		HistoryLimit    int     `yaml:"history_limit"`
		HistoryTTLHours int     `yaml:"history_ttl_hours"`
	} `yaml:"llm"`

	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Redis struct {
		Address            string `yaml:"address"`
		Password           string `yaml:"password"`
		DB                 int    `yaml:"db"`
		UpdateTTLMinutes   int    `yaml:"update_ttl_minutes"`
		RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	} `yaml:"redis"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Dialogue struct {
		StateTTLHours int `yaml:"state_ttl_hours"`
	} `yaml:"dialogue"`

	Reminders struct {
		Enabled bool `yaml:"enabled"`
		Hour    int  `yaml:"hour"`
	} `yaml:"reminders"`

	Notifications struct {
		RatePerSecond float64 `yaml:"rate_per_second"`
		Burst         int     `yaml:"burst"`
	} `yaml:"notifications"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Timezone      string  `yaml:"timezone"`
	CatalogPath   string  `yaml:"catalog_path"`
	Admins        []int64 `yaml:"admins"`
	ManagerChatID int64   `yaml:"manager_chat_id"`
}

// Load reads .env, the YAML file at path (optional) and the process environment,
// in that order of precedence from lowest to highest.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	explicit := path != ""
	if path == "" {
		path = defaultPath
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Support ${ENV_VAR} placeholders in YAML config.
		data = []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Telegram.Token, "TOKEN", "TELEGRAM_TOKEN")
	setString(&c.Telegram.AppURL, "APP_URL")
	setString(&c.Telegram.WebhookSecret, "WEBHOOK_SECRET")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.LLM.APIKey, "OPENAI_API_KEY", "LLM_API_KEY")
	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.Model, "GPT_MODEL")
	setString(&c.LLM.FolderID, "YANDEX_FOLDER_ID")
	setString(&c.Redis.Address, "REDIS_ADDR")
	setString(&c.Logging.Level, "LOG_LEVEL")

	if v := os.Getenv("MANAGER_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("MANAGER_CHAT_ID: %w", err)
		}
		c.ManagerChatID = id
	}
	if v := os.Getenv("ADMIN_IDS"); v != "" {
		ids, err := parseIDs(v)
		if err != nil {
			return fmt.Errorf("ADMIN_IDS: %w", err)
		}
		c.Admins = ids
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

func setString(dst *string, keys ...string) {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			*dst = v
			return
		}
	}
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-3.5-turbo"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 200
	}
	if c.LLM.HistoryMessages == 0 {
		c.LLM.HistoryMessages = 6
	}
	if c.LLM.HistoryLimit == 0 {
		c.LLM.HistoryLimit = 20
	}
	if c.Reminders.Hour == 0 {
		c.Reminders.Hour = 9
	}
	if c.CatalogPath == "" {
		c.CatalogPath = "configs/catalog.yaml"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate reports every missing required setting at once.
func (c *Config) Validate() error {
	var missing []string
	if c.Telegram.Token == "" {
		missing = append(missing, "TOKEN")
	}
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Telegram.AppURL == "" {
		missing = append(missing, "APP_URL")
	}
	if c.LLM.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.ManagerChatID == 0 {
		missing = append(missing, "MANAGER_CHAT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// WebhookURL is the public address Telegram posts updates to.
func (c *Config) WebhookURL() string {
	return strings.TrimRight(c.Telegram.AppURL, "/") + "/" + c.Telegram.Token
}

// Location returns the salon time zone, falling back to the process zone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) LLMTimeout() time.Duration {
	if c.LLM.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// HistoryTTL is how long conversation turns are kept; zero keeps them forever.
func (c *Config) HistoryTTL() time.Duration {
	return time.Duration(c.LLM.HistoryTTLHours) * time.Hour
}

// StateTTL is how long an untouched dialogue survives; zero keeps it forever.
func (c *Config) StateTTL() time.Duration {
	return time.Duration(c.Dialogue.StateTTLHours) * time.Hour
}

func (c *Config) UpdateTTL() time.Duration {
	if c.Redis.UpdateTTLMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Redis.UpdateTTLMinutes) * time.Minute
}
