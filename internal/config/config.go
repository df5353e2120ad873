package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile        = "AGENT_GATEWAY_CONFIG_FILE"
	EnvHTTPAddr          = "AGENT_GATEWAY_HTTP_ADDR"
	EnvDBDriver          = "AGENT_GATEWAY_DB_DRIVER"
	EnvDBDSN             = "AGENT_GATEWAY_DB_DSN"
	EnvScratchpadBaseURL = "AGENT_GATEWAY_SCRATCHPAD_URL"
	EnvOpenRouterAPIKey  = "OPENROUTER_API_KEY"
	EnvOpenRouterBaseURL = "OPENROUTER_BASE_URL"
	EnvJWTSecret         = "AGENT_GATEWAY_JWT_SECRET"
	EnvDefaultModel      = "AGENT_GATEWAY_DEFAULT_MODEL"
	EnvModelContextLen   = "AGENT_GATEWAY_MODEL_CONTEXT_LENGTH"
	EnvRunTimeout        = "AGENT_GATEWAY_RUN_TIMEOUT"
	EnvRequestLimit      = "AGENT_GATEWAY_REQUEST_LIMIT"
	EnvSessionMaxIdleAge = "AGENT_GATEWAY_SESSION_MAX_IDLE_AGE"
	EnvRecordsPreloadCap = "AGENT_GATEWAY_RECORDS_PRELOAD_CAP"
)

const (
	DefaultHTTPAddr          = ":8090"
	DefaultDBDriver          = "memory"
	DefaultScratchpadBaseURL = "http://localhost:3000"
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel             = "openai/gpt-4o-mini"
	DefaultModelContextLen   = 128000
	DefaultRunTimeout        = 1800 * time.Second
	DefaultRequestLimit      = 10
	DefaultSessionMaxIdleAge = 24 * time.Hour
	DefaultRecordsPreloadCap = 50
)

type Config struct {
	HTTPAddr           string
	DBDriver           string
	DBDSN              string
	ScratchpadBaseURL  string
	OpenRouterAPIKey   string
	OpenRouterBaseURL  string
	JWTSecret          string
	DefaultModel       string
	ModelContextLength int
	RunTimeout         time.Duration
	RequestLimit       int
	SessionMaxIdleAge  time.Duration
	RecordsPreloadCap  int
}

type fileConfig struct {
	Version int               `yaml:"version"`
	Gateway fileGatewayConfig `yaml:"gateway"`
}

type fileGatewayConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	DBDriver           string `yaml:"db_driver"`
	DBDSN              string `yaml:"db_dsn"`
	ScratchpadBaseURL  string `yaml:"scratchpad_url"`
	OpenRouterAPIKey   string `yaml:"openrouter_api_key"`
	OpenRouterBaseURL  string `yaml:"openrouter_base_url"`
	JWTSecret          string `yaml:"jwt_secret"`
	DefaultModel       string `yaml:"default_model"`
	ModelContextLength int    `yaml:"model_context_length"`
	RunTimeout         string `yaml:"run_timeout"`
	RequestLimit       int    `yaml:"request_limit"`
	SessionMaxIdleAge  string `yaml:"session_max_idle_age"`
	RecordsPreloadCap  int    `yaml:"records_preload_cap"`
}

func Default() Config {
	return Config{
		HTTPAddr:           DefaultHTTPAddr,
		DBDriver:           DefaultDBDriver,
		ScratchpadBaseURL:  DefaultScratchpadBaseURL,
		OpenRouterBaseURL:  DefaultOpenRouterBaseURL,
		DefaultModel:       DefaultModel,
		ModelContextLength: DefaultModelContextLen,
		RunTimeout:         DefaultRunTimeout,
		RequestLimit:       DefaultRequestLimit,
		SessionMaxIdleAge:  DefaultSessionMaxIdleAge,
		RecordsPreloadCap:  DefaultRecordsPreloadCap,
	}
}

// FromYAMLAndEnv resolves configuration in precedence order: defaults, then
// the YAML file named by AGENT_GATEWAY_CONFIG_FILE (if set), then env vars.
func FromYAMLAndEnv() (Config, error) {
	cfg := Default()

	path := strings.TrimSpace(os.Getenv(EnvConfigFile))
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		var file fileConfig
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if err := applyYAML(&cfg, file.Gateway); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyYAML(cfg *Config, source fileGatewayConfig) error {
	if value := strings.TrimSpace(source.HTTPAddr); value != "" {
		cfg.HTTPAddr = value
	}
	if value := strings.TrimSpace(source.DBDriver); value != "" {
		cfg.DBDriver = strings.ToLower(value)
	}
	if value := strings.TrimSpace(source.DBDSN); value != "" {
		cfg.DBDSN = value
	}
	if value := strings.TrimSpace(source.ScratchpadBaseURL); value != "" {
		cfg.ScratchpadBaseURL = value
	}
	if value := strings.TrimSpace(source.OpenRouterAPIKey); value != "" {
		cfg.OpenRouterAPIKey = value
	}
	if value := strings.TrimSpace(source.OpenRouterBaseURL); value != "" {
		cfg.OpenRouterBaseURL = value
	}
	if value := strings.TrimSpace(source.JWTSecret); value != "" {
		cfg.JWTSecret = value
	}
	if value := strings.TrimSpace(source.DefaultModel); value != "" {
		cfg.DefaultModel = value
	}
	if source.ModelContextLength > 0 {
		cfg.ModelContextLength = source.ModelContextLength
	}
	if source.RequestLimit > 0 {
		cfg.RequestLimit = source.RequestLimit
	}
	if source.RecordsPreloadCap > 0 {
		cfg.RecordsPreloadCap = source.RecordsPreloadCap
	}

	timeout, err := parseOptionalDuration(source.RunTimeout, cfg.RunTimeout, "gateway.run_timeout")
	if err != nil {
		return err
	}
	cfg.RunTimeout = timeout

	idle, err := parseOptionalDuration(source.SessionMaxIdleAge, cfg.SessionMaxIdleAge, "gateway.session_max_idle_age")
	if err != nil {
		return err
	}
	cfg.SessionMaxIdleAge = idle
	return nil
}

func applyEnv(cfg *Config) error {
	if value := strings.TrimSpace(os.Getenv(EnvHTTPAddr)); value != "" {
		cfg.HTTPAddr = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvDBDriver)); value != "" {
		cfg.DBDriver = strings.ToLower(value)
	}
	if value := strings.TrimSpace(os.Getenv(EnvDBDSN)); value != "" {
		cfg.DBDSN = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvScratchpadBaseURL)); value != "" {
		cfg.ScratchpadBaseURL = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvOpenRouterAPIKey)); value != "" {
		cfg.OpenRouterAPIKey = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvOpenRouterBaseURL)); value != "" {
		cfg.OpenRouterBaseURL = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvJWTSecret)); value != "" {
		cfg.JWTSecret = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvDefaultModel)); value != "" {
		cfg.DefaultModel = value
	}

	length, err := parseOptionalInt(os.Getenv(EnvModelContextLen), cfg.ModelContextLength, EnvModelContextLen)
	if err != nil {
		return err
	}
	cfg.ModelContextLength = length

	limit, err := parseOptionalInt(os.Getenv(EnvRequestLimit), cfg.RequestLimit, EnvRequestLimit)
	if err != nil {
		return err
	}
	cfg.RequestLimit = limit

	preload, err := parseOptionalInt(os.Getenv(EnvRecordsPreloadCap), cfg.RecordsPreloadCap, EnvRecordsPreloadCap)
	if err != nil {
		return err
	}
	cfg.RecordsPreloadCap = preload

	timeout, err := parseOptionalDuration(os.Getenv(EnvRunTimeout), cfg.RunTimeout, EnvRunTimeout)
	if err != nil {
		return err
	}
	cfg.RunTimeout = timeout

	idle, err := parseOptionalDuration(os.Getenv(EnvSessionMaxIdleAge), cfg.SessionMaxIdleAge, EnvSessionMaxIdleAge)
	if err != nil {
		return err
	}
	cfg.SessionMaxIdleAge = idle
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("http addr is required")
	}
	switch c.DBDriver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported db driver %q", c.DBDriver)
	}
	if c.DBDriver == "postgres" && strings.TrimSpace(c.DBDSN) == "" {
		return errors.New("db dsn is required for postgres")
	}
	parsed, err := url.Parse(c.ScratchpadBaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid scratchpad url %q", c.ScratchpadBaseURL)
	}
	if strings.TrimSpace(c.DefaultModel) == "" {
		return errors.New("default model is required")
	}
	if c.ModelContextLength <= 0 {
		return errors.New("model context length must be positive")
	}
	if c.RequestLimit <= 0 {
		return errors.New("request limit must be positive")
	}
	if c.RunTimeout <= 0 {
		return errors.New("run timeout must be positive")
	}
	return nil
}

func parseOptionalDuration(raw string, fallback time.Duration, field string) (time.Duration, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", field, value)
	}
	return parsed, nil
}

func parseOptionalInt(raw string, fallback int, field string) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", field, value)
	}
	return parsed, nil
}
