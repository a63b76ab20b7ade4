// Package config reads runtime configuration: built-in defaults, an optional
// sofia.yaml overlay, then environment variables, in that precedence order.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration values for the core.
type Config struct {
	// Database
	DatabaseURL string

	// Deployment
	Env      string
	Timezone string
	Locale   string

	// Logging
	LogDir      string
	LogFallback string
	LogFile     string
	LogLevel    slog.Level

	// Pipeline behavior
	SyncExpected bool
	VerifyAll    bool
	MaxOffenders int

	// Notification transport
	WppEnabled      bool
	WppTransportURL string
	WppTo           string
	WppAlwaysNotify bool

	// Expected-set files
	ExpectedConfigPath string
	ExpectedLegacyPath string
	DenylistPath       string
}

// Load reads configuration with defaults suited to the production
// deployment. When SOFIA_CONFIG points at a YAML file its values replace the
// defaults before environment variables are applied.
func Load() Config {
	return LoadWithFile(os.Getenv("SOFIA_CONFIG"))
}

func LoadWithFile(path string) Config {
	d := fileConfig{
		Env:            "prod",
		Timezone:       "America/Sao_Paulo",
		Locale:         "pt-BR",
		LogDir:         "/var/log/sofia",
		LogLevel:       "INFO",
		ExpectedConfig: "config/expected_collectors.json",
		ExpectedLegacy: "config/expected_collectors_flat.json",
		Denylist:       "config/collector_denylist.json",
	}
	d.Whatsapp.To = "admin"

	if path != "" {
		// The env section is keyed by the resolved env name, so the env var
		// (or the file's own top-level env) has to be read first.
		if peek, err := loadFile(path, ""); err == nil {
			env := getEnv("SOFIA_ENV", firstNonEmpty(peek.Env, d.Env))
			if fc, err := loadFile(path, env); err == nil {
				d = mergeFile(d, fc)
			}
		}
	}

	return Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),

		Env:      getEnv("SOFIA_ENV", d.Env),
		Timezone: getEnv("SOFIA_TZ", d.Timezone),
		Locale:   getEnv("SOFIA_LOCALE", d.Locale),

		LogDir:      getEnv("SOFIA_LOG_DIR", d.LogDir),
		LogFallback: getEnv("SOFIA_LOG_FALLBACK", d.LogFallback),
		LogFile:     getEnv("SOFIA_LOG_FILE", d.LogFile),
		LogLevel:    parseLogLevel(getEnv("SOFIA_LOG_LEVEL", d.LogLevel)),

		SyncExpected: getBool("SOFIA_PIPELINE_SYNC_EXPECTED", boolOr(d.SyncExpected, true)),
		VerifyAll:    getBool("SOFIA_PIPELINE_VERIFY_ALL", boolOr(d.VerifyAll, false)),
		MaxOffenders: getInt("SOFIA_MAX_OFFENDERS", intOr(d.MaxOffenders, 10)),

		WppEnabled:      getBool("SOFIA_WPP_ENABLED", boolOr(d.Whatsapp.Enabled, false)),
		WppTransportURL: getEnv("SOFIA_WPP_TRANSPORT_URL", d.Whatsapp.TransportURL),
		WppTo:           getEnv("SOFIA_WPP_TO", d.Whatsapp.To),
		WppAlwaysNotify: getBool("SOFIA_WPP_ALWAYS_NOTIFY", boolOr(d.Whatsapp.AlwaysNotify, false)),

		ExpectedConfigPath: getEnv("SOFIA_EXPECTED_CONFIG", d.ExpectedConfig),
		ExpectedLegacyPath: getEnv("SOFIA_EXPECTED_LEGACY", d.ExpectedLegacy),
		DenylistPath:       getEnv("SOFIA_DENYLIST", d.Denylist),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func boolOr(p *bool, defaultVal bool) bool {
	if p != nil {
		return *p
	}
	return defaultVal
}

func intOr(p *int, defaultVal int) int {
	if p != nil {
		return *p
	}
	return defaultVal
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
