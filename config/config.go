// Package config loads the single configuration struct that is passed to
// every constructor in the backend. Values come from, in increasing order of
// precedence: built-in defaults, a YAML file, a .env file and the process
// environment (DB_HOST overrides db.host, LOOKUP_WHOIS overrides
// lookup.whois, and so on).
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Merge modes for the worker pool.
const (
	MergeLive = "live"
	MergeEnds = "ends"
)

// Checker types. The checker type is part of every continuation key.
const (
	CheckerAvailability = "availability"
	CheckerSyntax       = "syntax"
)

// Database backends.
const (
	DBCSV      = "csv"
	DBSQLite   = "sqlite"
	DBPostgres = "postgres"
	DBMemory   = "memory"
)

// DNS protocols.
const (
	ProtocolUDP = "UDP"
	ProtocolTCP = "TCP"
)

// Config is the complete configuration of a run.
type Config struct {
	Lookup     LookupConfig     `mapstructure:"lookup"`
	DNS        DNSConfig        `mapstructure:"dns"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Testing    TestingConfig    `mapstructure:"testing"`
	DB         DBConfig         `mapstructure:"db"`
	Reputation ReputationConfig `mapstructure:"reputation"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	ExtraRules ExtraRulesConfig `mapstructure:"extra_rules"`
	Log        LogConfig        `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
	Sentry     SentryConfig     `mapstructure:"sentry"`
}

// LookupConfig switches the pipeline stages on and off.
type LookupConfig struct {
	Syntax     bool `mapstructure:"syntax"`
	Whois      bool `mapstructure:"whois"`
	DNS        bool `mapstructure:"dns"`
	NetInfo    bool `mapstructure:"netinfo"`
	Reputation bool `mapstructure:"reputation"`
	HTTP       bool `mapstructure:"http"`
	ExtraRules bool `mapstructure:"extra_rules"`
	// SyntaxFinal makes a passing syntax check final instead of provisional.
	SyntaxFinal bool `mapstructure:"syntax_final"`
	// Timeout bounds every single lookup.
	Timeout time.Duration `mapstructure:"timeout"`
}

// DNSConfig configures the DNS stage.
type DNSConfig struct {
	Servers  []string `mapstructure:"servers"`
	Protocol string   `mapstructure:"protocol"`
}

// CacheConfig configures the WHOIS and reputation caches.
type CacheConfig struct {
	DaysBetweenDBRetest int    `mapstructure:"days_between_db_retest"`
	RedisAddress        string `mapstructure:"redis_address"`
	RedisPassword       string `mapstructure:"redis_password"`
	RedisDB             int    `mapstructure:"redis_db"`
}

// TestingConfig configures bulk runs.
type TestingConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	MergingMode  string        `mapstructure:"merging_mode"`
	Autocontinue bool          `mapstructure:"autocontinue"`
	CheckerType  string        `mapstructure:"checker_type"`
	CooldownTime time.Duration `mapstructure:"cooldown_time"`
}

// DBConfig selects and configures the continuation and cache backend.
type DBConfig struct {
	Type string `mapstructure:"type"`
	// Path is the directory holding csv files or the sqlite database.
	Path               string `mapstructure:"path"`
	Host               string `mapstructure:"host"`
	Name               string `mapstructure:"name"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	DaysBetweenDBClean int    `mapstructure:"days_between_db_clean"`
}

// ReputationConfig lists the DNSBL zones consulted by the reputation stage.
type ReputationConfig struct {
	Zones []string `mapstructure:"zones"`
}

// HTTPConfig configures the HTTP stage.
type HTTPConfig struct {
	UserAgent string `mapstructure:"user_agent"`
}

// ExtraRulesConfig points at an optional YAML rules file that replaces the
// built-in rules.
type ExtraRulesConfig struct {
	File string `mapstructure:"file"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// ServerConfig configures the HTTP API daemon.
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SentryConfig configures error reporting.
type SentryConfig struct {
	DSN string `mapstructure:"dsn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("lookup.syntax", true)
	v.SetDefault("lookup.whois", true)
	v.SetDefault("lookup.dns", true)
	v.SetDefault("lookup.netinfo", true)
	v.SetDefault("lookup.reputation", false)
	v.SetDefault("lookup.http", true)
	v.SetDefault("lookup.extra_rules", true)
	v.SetDefault("lookup.syntax_final", false)
	v.SetDefault("lookup.timeout", 5*time.Second)

	v.SetDefault("dns.servers", []string{})
	v.SetDefault("dns.protocol", ProtocolUDP)

	v.SetDefault("cache.days_between_db_retest", 1)
	v.SetDefault("cache.redis_address", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("testing.concurrency", runtime.NumCPU())
	v.SetDefault("testing.merging_mode", MergeEnds)
	v.SetDefault("testing.autocontinue", true)
	v.SetDefault("testing.checker_type", CheckerAvailability)
	v.SetDefault("testing.cooldown_time", time.Duration(0))

	v.SetDefault("db.type", DBCSV)
	v.SetDefault("db.path", "output")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.name", "availability")
	v.SetDefault("db.username", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.days_between_db_clean", 28)

	v.SetDefault("reputation.zones", []string{})
	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; availability-backend)")
	v.SetDefault("extra_rules.file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("sentry.dsn", "")
}

// Default returns the configuration built from defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &cfg
}

// Load reads the YAML file at path (optional; an empty path searches for
// config.yaml in the working directory), applies .env and environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if migrated := MigrateLegacy(flatten(v)); len(migrated) > 0 {
		if err := v.MergeConfigMap(unflatten(migrated)); err != nil {
			return nil, fmt.Errorf("merge legacy config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func flatten(v *viper.Viper) map[string]any {
	settings := make(map[string]any)
	for _, key := range v.AllKeys() {
		settings[key] = v.Get(key)
	}
	return settings
}

func unflatten(flat map[string]any) map[string]any {
	nested := make(map[string]any)
	for key, value := range flat {
		parts := strings.Split(key, ".")
		node := nested
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	return nested
}
