package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Port        string `koanf:"port"`
	Environment string `koanf:"env"`

	Log struct {
		Level  string `koanf:"level"`
		Pretty bool   `koanf:"pretty"`
	} `koanf:"log"`

	// Database
	DatabaseURL string `koanf:"database_url"`
	MongoDBURL  string `koanf:"mongodb_url"`
	MongoDBName string `koanf:"mongodb_database"`
	RedisURL    string `koanf:"redis_url"`

	// JWT (control API)
	JWTSecret string `koanf:"jwt_secret"`

	// OpenAI
	OpenAIAPIKey   string  `koanf:"openai_api_key"`
	LLMModel       string  `koanf:"llm_model"`
	LLMMaxTokens   int     `koanf:"llm_max_tokens"`
	LLMTemperature float64 `koanf:"llm_temperature"`
	LLMTimeoutSec  int     `koanf:"llm_timeout_sec"`
	EmbeddingModel string  `koanf:"embedding_model"`

	// OAuth - Google
	GoogleClientID     string   `koanf:"google_client_id"`
	GoogleClientSecret string   `koanf:"google_client_secret"`
	GmailRefreshToken  string   `koanf:"gmail_refresh_token"`
	CalendarIDs        []string `koanf:"calendar_ids"`

	// Ticketing (SuperOps GraphQL)
	Ticketing struct {
		URL          string  `koanf:"url"`
		APIKey       string  `koanf:"api_key"`
		CustomerID   string  `koanf:"customer_id"`
		RateLimitRPS float64 `koanf:"rate_limit_rps"`
		TimeoutSec   int     `koanf:"timeout_sec"`
	} `koanf:"ticketing"`

	// Kafka interaction events
	KafkaBrokers []string `koanf:"kafka_brokers"`
	KafkaTopic   string   `koanf:"kafka_topic"`

	Automation AutomationConfig `koanf:"automation"`

	// CORS
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// AutomationConfig drives the polling loop and pipeline.
type AutomationConfig struct {
	CheckInterval          time.Duration `koanf:"check_interval"`
	Window                 time.Duration `koanf:"window"`
	BatchSize              int           `koanf:"batch_size"`
	Classifier             string        `koanf:"classifier"` // rule | llm
	Replies                string        `koanf:"replies"`    // template | llm
	LenientJSON            bool          `koanf:"lenient_json"`
	KBThreshold            float64       `koanf:"kb_threshold"`
	KBLimit                int           `koanf:"kb_limit"`
	AcknowledgeHumanReview bool          `koanf:"acknowledge_human_review"`
	TeamName               string        `koanf:"team_name"`
	InteractionStore       string        `koanf:"interaction_store"` // postgres | mongodb
	LedgerStore            string        `koanf:"ledger_store"`      // memory | redis | interaction_log
	LedgerTTL              time.Duration `koanf:"ledger_ttl"`
	AutoStart              bool          `koanf:"auto_start"`
	Timezone               string        `koanf:"timezone"`
	ExtendedHours          bool          `koanf:"extended_hours"`
}

var defaults = map[string]interface{}{
	"port":                                "8080",
	"env":                                 "development",
	"log.level":                           "info",
	"log.pretty":                          false,
	"mongodb_database":                    "triage",
	"llm_model":                           "gpt-4o-mini",
	"llm_max_tokens":                      500,
	"llm_temperature":                     0.3,
	"llm_timeout_sec":                     60,
	"embedding_model":                     "text-embedding-ada-002",
	"ticketing.url":                       "https://api.superops.ai/msp",
	"ticketing.rate_limit_rps":            5.0,
	"ticketing.timeout_sec":               30,
	"kafka_topic":                         "support.interactions",
	"automation.check_interval":           "30s",
	"automation.window":                   "1h",
	"automation.batch_size":               10,
	"automation.classifier":               "rule",
	"automation.replies":                  "template",
	"automation.lenient_json":             false,
	"automation.kb_threshold":             0.5,
	"automation.kb_limit":                 5,
	"automation.acknowledge_human_review": false,
	"automation.team_name":                "SuperTickets.AI Support Team",
	"automation.interaction_store":        "postgres",
	"automation.ledger_store":             "memory",
	"automation.ledger_ttl":               "48h",
	"automation.auto_start":               true,
	"automation.timezone":                 "UTC",
	"automation.extended_hours":           false,
	"allowed_origins":                     "http://localhost:3000",
}

// envKeys maps the environment variables the service has always read onto config keys.
var envKeys = map[string]string{
	"PORT":                     "port",
	"ENV":                      "env",
	"LOG_LEVEL":                "log.level",
	"LOG_PRETTY":               "log.pretty",
	"DATABASE_URL":             "database_url",
	"MONGODB_URL":              "mongodb_url",
	"MONGODB_DATABASE":         "mongodb_database",
	"REDIS_URL":                "redis_url",
	"JWT_SECRET":               "jwt_secret",
	"OPENAI_API_KEY":           "openai_api_key",
	"LLM_MODEL":                "llm_model",
	"LLM_MAX_TOKENS":           "llm_max_tokens",
	"LLM_TEMPERATURE":          "llm_temperature",
	"LLM_TIMEOUT_SEC":          "llm_timeout_sec",
	"EMBEDDING_MODEL":          "embedding_model",
	"GOOGLE_CLIENT_ID":         "google_client_id",
	"GOOGLE_CLIENT_SECRET":     "google_client_secret",
	"GMAIL_REFRESH_TOKEN":      "gmail_refresh_token",
	"CALENDAR_IDS":             "calendar_ids",
	"SUPEROPS_API_URL":         "ticketing.url",
	"SUPEROPS_API_KEY":         "ticketing.api_key",
	"SUPEROPS_CUSTOMER_ID":     "ticketing.customer_id",
	"SUPEROPS_RATE_LIMIT_RPS":  "ticketing.rate_limit_rps",
	"SUPEROPS_TIMEOUT_SEC":     "ticketing.timeout_sec",
	"KAFKA_BROKERS":            "kafka_brokers",
	"KAFKA_TOPIC":              "kafka_topic",
	"CHECK_INTERVAL":           "automation.check_interval",
	"INBOX_WINDOW":             "automation.window",
	"BATCH_SIZE":               "automation.batch_size",
	"CLASSIFIER":               "automation.classifier",
	"REPLIES":                  "automation.replies",
	"LENIENT_JSON":             "automation.lenient_json",
	"KB_THRESHOLD":             "automation.kb_threshold",
	"KB_LIMIT":                 "automation.kb_limit",
	"ACKNOWLEDGE_HUMAN_REVIEW": "automation.acknowledge_human_review",
	"SUPPORT_TEAM_NAME":        "automation.team_name",
	"INTERACTION_STORE":        "automation.interaction_store",
	"LEDGER_STORE":             "automation.ledger_store",
	"LEDGER_TTL":               "automation.ledger_ttl",
	"AUTO_START":               "automation.auto_start",
	"TIMEZONE":                 "automation.timezone",
	"EXTENDED_HOURS":           "automation.extended_hours",
	"ALLOWED_ORIGINS":          "allowed_origins",
}

// sliceKeys are comma-separated in the environment.
var sliceKeys = map[string]bool{
	"calendar_ids":    true,
	"kafka_brokers":   true,
	"allowed_origins": true,
}

// Load reads defaults, then the optional TOML file at path, then the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	for key := range sliceKeys {
		if raw, ok := k.Get(key).(string); ok {
			if err := k.Set(key, splitList(raw)); err != nil {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the worker cannot run with.
func (c *Config) Validate() error {
	a := c.Automation
	if a.CheckInterval <= 0 {
		return fmt.Errorf("automation.check_interval must be positive")
	}
	if a.BatchSize <= 0 {
		return fmt.Errorf("automation.batch_size must be positive")
	}
	if a.KBThreshold < 0 || a.KBThreshold > 1 {
		return fmt.Errorf("automation.kb_threshold must be within [0,1]")
	}
	switch a.Classifier {
	case "rule", "llm":
	default:
		return fmt.Errorf("unknown classifier %q", a.Classifier)
	}
	switch a.Replies {
	case "template", "llm":
	default:
		return fmt.Errorf("unknown reply composer %q", a.Replies)
	}
	switch a.InteractionStore {
	case "postgres", "mongodb":
	default:
		return fmt.Errorf("unknown interaction store %q", a.InteractionStore)
	}
	switch a.LedgerStore {
	case "memory", "redis", "interaction_log":
	default:
		return fmt.Errorf("unknown ledger store %q", a.LedgerStore)
	}
	if _, err := time.LoadLocation(a.Timezone); err != nil {
		return fmt.Errorf("automation.timezone: %w", err)
	}
	return nil
}

// Location returns the timezone business hours are evaluated in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Automation.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
