// Package config loads pipeline configuration from an optional JSON file
// with environment overrides. A .env file is honored when present.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BrKDDD/LawAgent2/pkg/domain"
)

// Config is the full recognized option set.
type Config struct {
	// Platforms enabled for ingestion, e.g. ["dingtalk","wechat_work"].
	Platforms []string `json:"platforms"`
	// Keywords are literal rules; RegexRules carry regex patterns with a
	// per-evaluation budget.
	Keywords    []string      `json:"keywords"`
	RegexRules  []RegexRule   `json:"regex_rules"`
	RuleVersion string        `json:"rule_version"`

	// MonitoringDuration bounds one pipeline run; zero means unbounded.
	MonitoringDuration time.Duration `json:"monitoring_duration"`

	SignerKeyRef      string `json:"signer_key_ref"`
	SignerBaseURL     string `json:"signer_base_url"`
	SignerBearerToken string `json:"-"`
	// SignerPrivateKey enables the local dev signer when set (hex).
	SignerPrivateKey string `json:"-"`

	ChainNetwork      string        `json:"chain_network"` // mainnet | testnet | devnet
	ChainRPCURL       string        `json:"chain_rpc_url"`
	ScanBaseURL       string        `json:"scan_base_url"`
	RetryCeiling      int           `json:"retry_ceiling"`
	ConfirmationDepth uint64        `json:"confirmation_depth"`
	SignTimeout       time.Duration `json:"sign_timeout"`
	SubmitTimeout     time.Duration `json:"submit_timeout"`
	PollTimeout       time.Duration `json:"poll_timeout"`
	PollInterval      time.Duration `json:"poll_interval"`

	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
	// DrainTimeout bounds the post-shutdown drain of in-flight work.
	DrainTimeout time.Duration `json:"drain_timeout"`

	ListenAddr    string `json:"listen_addr"`
	WebhookSecret string `json:"-"`

	DatabaseURL string `json:"-"`
	RedisAddr   string `json:"redis_addr"`
	// RawRetention bounds how long original payload bytes are kept after
	// evidence assembly.
	RawRetention time.Duration `json:"raw_retention"`

	KafkaBrokers []string `json:"kafka_brokers"`
	KafkaTopic   string   `json:"kafka_topic"`
	KafkaGroup   string   `json:"kafka_group"`

	LogLevel string `json:"log_level"`
	DevMode  bool   `json:"dev_mode"`
}

type RegexRule struct {
	Pattern string        `json:"pattern"`
	Budget  time.Duration `json:"budget"`
}

// Ruleset builds the immutable detection snapshot from the config.
func (c *Config) Ruleset() domain.Ruleset {
	rs := domain.Literals(c.RuleVersion, c.Keywords...)
	for _, rr := range c.RegexRules {
		rs.Rules = append(rs.Rules, domain.Rule{Kind: domain.RuleRegex, Pattern: rr.Pattern, Budget: rr.Budget})
	}
	return rs
}

// Load reads CONFIG_PATH (default config.json) if present, then applies
// environment overrides on top of defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Platforms:         []string{"dingtalk", "wechat_work"},
		Keywords:          []string{"加班", "工资"},
		RuleVersion:       "v1",
		ChainNetwork:      "testnet",
		RetryCeiling:      5,
		ConfirmationDepth: 3,
		SignTimeout:       10 * time.Second,
		SubmitTimeout:     30 * time.Second,
		PollTimeout:       5 * time.Second,
		PollInterval:      2 * time.Second,
		Workers:           4,
		QueueSize:         256,
		DrainTimeout:      30 * time.Second,
		ListenAddr:        ":8090",
		RawRetention:      24 * time.Hour,
		LogLevel:          "info",
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.json"
	}
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		if err := json.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.RetryCeiling < 1 {
		return nil, fmt.Errorf("retry_ceiling must be at least 1")
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PLATFORMS"); v != "" {
		cfg.Platforms = splitCSV(v)
	}
	if v := os.Getenv("KEYWORDS"); v != "" {
		cfg.Keywords = splitCSV(v)
	}
	if v := os.Getenv("MONITORING_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MonitoringDuration = d
		}
	}
	if v := os.Getenv("SIGNER_KEY_REF"); v != "" {
		cfg.SignerKeyRef = v
	}
	if v := os.Getenv("SIGNER_BASE_URL"); v != "" {
		cfg.SignerBaseURL = v
	}
	cfg.SignerBearerToken = os.Getenv("SIGNER_BEARER_TOKEN")
	cfg.SignerPrivateKey = os.Getenv("PRIVATE_KEY")
	if v := os.Getenv("CHAIN_NETWORK"); v != "" {
		cfg.ChainNetwork = v
	}
	// WEB3_RPC_URL and RPC_URL are accepted for compatibility with older
	// deployment env files.
	for _, key := range []string{"CHAIN_RPC_URL", "WEB3_RPC_URL", "RPC_URL"} {
		if v := os.Getenv(key); v != "" {
			cfg.ChainRPCURL = v
			break
		}
	}
	if v := os.Getenv("SCAN_URL"); v != "" {
		cfg.ScanBaseURL = v
	}
	if v := os.Getenv("RETRY_CEILING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryCeiling = n
		}
	}
	if v := os.Getenv("CONFIRMATION_DEPTH"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.ConfirmationDepth = n
		}
	}
	if v := os.Getenv("WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("DRAIN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DrainTimeout = d
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	cfg.WebhookSecret = os.Getenv("WEBHOOK_SECRET")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitCSV(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.KafkaTopic = v
	}
	if v := os.Getenv("KAFKA_GROUP"); v != "" {
		cfg.KafkaGroup = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DEV_MODE"); v != "" {
		cfg.DevMode = v == "1" || strings.EqualFold(v, "true")
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
