package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       App       `mapstructure:"app"`
	Database  Database  `mapstructure:"database"`
	Redis     Redis     `mapstructure:"redis"`
	Gemini    Gemini    `mapstructure:"gemini"`
	Scraper   Scraper   `mapstructure:"scraper"`
	Limits    Limits    `mapstructure:"limits"`
	Recommend Recommend `mapstructure:"recommend"`
	Ingest    Ingest    `mapstructure:"ingest"`
	Analyzer  Analyzer  `mapstructure:"analyzer"`
}

// App holds general application configuration
type App struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	SecretKey string `mapstructure:"secret_key"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Port      int    `mapstructure:"port"`
	CORS      string `mapstructure:"cors_origins"`
}

// Database holds the SQLite configuration. URL accepts either a plain file
// path or a sqlite:// prefix.
type Database struct {
	URL     string `mapstructure:"url"`
	Timeout string `mapstructure:"timeout"`
}

// Redis holds the cache connection configuration
type Redis struct {
	URL string `mapstructure:"url"`
}

// Gemini holds LLM and embedding configuration
type Gemini struct {
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	EmbeddingModel string  `mapstructure:"embedding_model"`
	Timeout        string  `mapstructure:"timeout"`
	Temperature    float32 `mapstructure:"temperature"`
	MaxTokens      int32   `mapstructure:"max_tokens"`
}

// Scraper holds scraping configuration
type Scraper struct {
	RequestsPerHour int      `mapstructure:"requests_per_hour"`
	MinDelay        string   `mapstructure:"min_delay"`
	MaxDelay        string   `mapstructure:"max_delay"`
	Timeout         string   `mapstructure:"timeout"`
	StealthDomains  []string `mapstructure:"stealth_domains"`
}

// Limits holds the per-user LLM rate-limit windows
type Limits struct {
	PerMinute int `mapstructure:"per_minute"`
	PerDay    int `mapstructure:"per_day"`
	PerMonth  int `mapstructure:"per_month"`
}

// Recommend holds scoring and orchestration knobs
type Recommend struct {
	MaxResults    int     `mapstructure:"max_results"`
	MinScore      float64 `mapstructure:"min_score"`
	CandidateCap  int     `mapstructure:"candidate_cap"`
	FastThreshold int     `mapstructure:"fast_threshold"`
}

// Ingest holds ingestion pipeline configuration
type Ingest struct {
	QualityFloor int `mapstructure:"quality_floor"`
	Concurrency  int `mapstructure:"concurrency"`
}

// Analyzer holds background analysis worker configuration
type Analyzer struct {
	Interval  string `mapstructure:"interval"`
	BatchSize int    `mapstructure:"batch_size"`
	Cooldown  string `mapstructure:"cooldown"`
}

var globalConfig *Config

// Load loads the configuration from .env, environment and an optional
// YAML config file, in ascending precedence: defaults < file < env.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".bookmind")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// Reset clears the cached config. Test hook.
func Reset() {
	globalConfig = nil
	viper.Reset()
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.port", 8000)

	viper.SetDefault("database.url", "bookmind.db")
	viper.SetDefault("database.timeout", "5s")

	viper.SetDefault("redis.url", "redis://localhost:6379/0")

	viper.SetDefault("gemini.model", "gemini-2.5-flash-preview-05-20")
	viper.SetDefault("gemini.embedding_model", "gemini-embedding-001")
	viper.SetDefault("gemini.timeout", "30s")
	viper.SetDefault("gemini.temperature", 0.7)
	viper.SetDefault("gemini.max_tokens", 8192)

	viper.SetDefault("scraper.requests_per_hour", 30)
	viper.SetDefault("scraper.min_delay", "2s")
	viper.SetDefault("scraper.max_delay", "8s")
	viper.SetDefault("scraper.timeout", "30s")
	viper.SetDefault("scraper.stealth_domains", []string{
		"github.com", "leetcode.com", "medium.com", "dev.to",
	})

	viper.SetDefault("limits.per_minute", 15)
	viper.SetDefault("limits.per_day", 1500)
	viper.SetDefault("limits.per_month", 45000)

	viper.SetDefault("recommend.max_results", 10)
	viper.SetDefault("recommend.min_score", 25.0)
	viper.SetDefault("recommend.candidate_cap", 100)
	viper.SetDefault("recommend.fast_threshold", 50)

	viper.SetDefault("ingest.quality_floor", 5)
	viper.SetDefault("ingest.concurrency", 3)

	viper.SetDefault("analyzer.interval", "3m")
	viper.SetDefault("analyzer.batch_size", 10)
	viper.SetDefault("analyzer.cooldown", "30m")
}

// bindEnvironmentVariables maps the deployment's environment names onto
// config keys; names are preserved from the existing deployment.
func bindEnvironmentVariables() {
	bindEnvKeys("database.url", []string{"DATABASE_URL"})
	bindEnvKeys("redis.url", []string{"REDIS_URL"})
	bindEnvKeys("app.secret_key", []string{"SECRET_KEY"})
	bindEnvKeys("app.jwt_secret", []string{"JWT_SECRET_KEY"})
	bindEnvKeys("app.cors_origins", []string{"CORS_ORIGINS"})
	bindEnvKeys("app.port", []string{"PORT"})
	bindEnvKeys("gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})
	bindEnvKeys("app.debug", []string{"DEBUG"})
}

// bindEnvKeys binds multiple environment variable names to a single config key
func bindEnvKeys(configKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if err := viper.BindEnv(configKey, envKey); err != nil {
			fmt.Printf("Warning: Failed to bind %s to %s: %v\n", envKey, configKey, err)
		}
	}
}

// validateConfig checks durations parse and limits are sane
func validateConfig(c *Config) error {
	for name, d := range map[string]string{
		"database.timeout":  c.Database.Timeout,
		"gemini.timeout":    c.Gemini.Timeout,
		"scraper.min_delay": c.Scraper.MinDelay,
		"scraper.max_delay": c.Scraper.MaxDelay,
		"scraper.timeout":   c.Scraper.Timeout,
		"analyzer.interval": c.Analyzer.Interval,
		"analyzer.cooldown": c.Analyzer.Cooldown,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	if c.Limits.PerMinute <= 0 || c.Limits.PerDay <= 0 || c.Limits.PerMonth <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.Ingest.QualityFloor < 0 || c.Ingest.QualityFloor > 10 {
		return fmt.Errorf("ingest.quality_floor must be within 0-10")
	}
	return nil
}

// Duration parses a duration string with a fallback used when the value
// is empty or malformed.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
