// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads RTU client configuration from a YAML file (with
// environment variable expansion) and environment variable overrides,
// then validates the result with struct tags.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/noteable-io/origami-go/internal/wire"
)

// Config holds all RTU client configuration.
type Config struct {
	APIBaseURL         string `yaml:"api_base_url" validate:"required,url"`
	AuthorizationToken string `yaml:"authorization_token" validate:"required"`
	FileSubscribeTimeout time.Duration `yaml:"file_subscribe_timeout"`
	CreatorClientType  string `yaml:"creator_client_type"`

	// Reconnect backoff bounds for the transport's exponential-delay
	// reconnect loop.
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`

	// Optional ambient sinks. Empty strings disable the corresponding
	// component entirely.
	DedupRedisURL    string `yaml:"dedup_redis_url"`
	AuditPostgresDSN string `yaml:"audit_postgres_dsn"`
	MetricsAddr      string `yaml:"metrics_addr"`
}

// rawConfig mirrors the YAML structure for unmarshalling, before
// defaults and environment overrides are applied.
type rawConfig struct {
	APIBaseURL           string `yaml:"api_base_url"`
	AuthorizationToken   string `yaml:"authorization_token"`
	FileSubscribeTimeout int    `yaml:"file_subscribe_timeout"`
	CreatorClientType    string `yaml:"creator_client_type"`
	ReconnectBaseDelayMS int    `yaml:"reconnect_base_delay_ms"`
	ReconnectMaxDelayMS  int    `yaml:"reconnect_max_delay_ms"`
	DedupRedisURL        string `yaml:"dedup_redis_url"`
	AuditPostgresDSN     string `yaml:"audit_postgres_dsn"`
	MetricsAddr          string `yaml:"metrics_addr"`
}

// Load reads configuration from path (with ${VAR} expansion), applies
// environment variable overrides, defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		APIBaseURL:           raw.APIBaseURL,
		AuthorizationToken:   firstNonEmpty(raw.AuthorizationToken, os.Getenv("NOTEABLE_TOKEN")),
		FileSubscribeTimeout: durationOrDefault(raw.FileSubscribeTimeout, 10*time.Second),
		CreatorClientType:    normalizeClientType(raw.CreatorClientType),
		ReconnectBaseDelay:   msOrDefault(raw.ReconnectBaseDelayMS, 500*time.Millisecond),
		ReconnectMaxDelay:    msOrDefault(raw.ReconnectMaxDelayMS, 30*time.Second),
		DedupRedisURL:        firstNonEmpty(raw.DedupRedisURL, envOrDefault("DEDUP_REDIS_URL", "")),
		AuditPostgresDSN:     firstNonEmpty(raw.AuditPostgresDSN, envOrDefault("AUDIT_POSTGRES_DSN", "")),
		MetricsAddr:          firstNonEmpty(raw.MetricsAddr, envOrDefault("METRICS_ADDR", "")),
	}

	if envURL := os.Getenv("NOTEABLE_API_BASE_URL"); envURL != "" {
		cfg.APIBaseURL = envURL
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// normalizeClientType maps an unrecognized creator_client_type to
// "unknown".
func normalizeClientType(v string) string {
	switch v {
	case wire.ClientTypeOrigami, wire.ClientTypeOrigamist, wire.ClientTypePlanarAlly, wire.ClientTypeGeas:
		return v
	default:
		return wire.ClientTypeUnknown
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func msOrDefault(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
