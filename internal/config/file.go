package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the optional sofia.yaml overlay. File values override
// built-in defaults; environment variables always win. The environments map
// holds per-env overrides shallow-merged over the top-level fields, so one
// file can describe prod and staging together.
type fileConfig struct {
	Env      string `yaml:"env"`
	Timezone string `yaml:"timezone"`
	Locale   string `yaml:"locale"`

	LogDir      string `yaml:"log_dir"`
	LogFallback string `yaml:"log_fallback"`
	LogFile     string `yaml:"log_file"`
	LogLevel    string `yaml:"log_level"`

	SyncExpected *bool `yaml:"sync_expected"`
	VerifyAll    *bool `yaml:"verify_all"`
	MaxOffenders *int  `yaml:"max_offenders"`

	Whatsapp struct {
		Enabled      *bool  `yaml:"enabled"`
		TransportURL string `yaml:"transport_url"`
		To           string `yaml:"to"`
		AlwaysNotify *bool  `yaml:"always_notify"`
	} `yaml:"whatsapp"`

	ExpectedConfig string `yaml:"expected_config"`
	ExpectedLegacy string `yaml:"expected_legacy"`
	Denylist       string `yaml:"denylist"`

	Environments map[string]fileConfig `yaml:"environments"`
}

// loadFile parses the overlay and merges the per-env section for env (when
// present) over the top-level fields.
func loadFile(path, env string) (fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("yaml parse %s: %w", path, err)
	}
	if ov, ok := fc.Environments[env]; ok {
		fc = mergeFile(fc, ov)
	}
	fc.Environments = nil
	return fc, nil
}

// mergeFile shallow-merges set fields of ov over base.
func mergeFile(base, ov fileConfig) fileConfig {
	out := base
	if ov.Env != "" {
		out.Env = ov.Env
	}
	if ov.Timezone != "" {
		out.Timezone = ov.Timezone
	}
	if ov.Locale != "" {
		out.Locale = ov.Locale
	}
	if ov.LogDir != "" {
		out.LogDir = ov.LogDir
	}
	if ov.LogFallback != "" {
		out.LogFallback = ov.LogFallback
	}
	if ov.LogFile != "" {
		out.LogFile = ov.LogFile
	}
	if ov.LogLevel != "" {
		out.LogLevel = ov.LogLevel
	}
	if ov.SyncExpected != nil {
		out.SyncExpected = ov.SyncExpected
	}
	if ov.VerifyAll != nil {
		out.VerifyAll = ov.VerifyAll
	}
	if ov.MaxOffenders != nil {
		out.MaxOffenders = ov.MaxOffenders
	}
	if ov.Whatsapp.Enabled != nil {
		out.Whatsapp.Enabled = ov.Whatsapp.Enabled
	}
	if ov.Whatsapp.TransportURL != "" {
		out.Whatsapp.TransportURL = ov.Whatsapp.TransportURL
	}
	if ov.Whatsapp.To != "" {
		out.Whatsapp.To = ov.Whatsapp.To
	}
	if ov.Whatsapp.AlwaysNotify != nil {
		out.Whatsapp.AlwaysNotify = ov.Whatsapp.AlwaysNotify
	}
	if ov.ExpectedConfig != "" {
		out.ExpectedConfig = ov.ExpectedConfig
	}
	if ov.ExpectedLegacy != "" {
		out.ExpectedLegacy = ov.ExpectedLegacy
	}
	if ov.Denylist != "" {
		out.Denylist = ov.Denylist
	}
	return out
}
