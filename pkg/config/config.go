/*
 * Copyright 2025 the CableSync authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config loads the process configuration from the environment.
// The resulting Config is an immutable value threaded explicitly through
// every component so they stay independently testable.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cablesync/cablesync/pkg/models"
)

var (
	ErrInventoryURLRequired   = errors.New("INVENTORY_URL is required")
	ErrInventoryTokenRequired = errors.New("INVENTORY_TOKEN is required")
	ErrInvalidStabilityRuns   = errors.New("STABILITY_RUNS must be at least 1")
	ErrInvalidWorkers         = errors.New("WORKERS must be at least 1")
	ErrInvalidSNMPVersion     = errors.New("SNMP_VERSION must be v1, v2c or v3")
)

// Config is the full configuration surface of a run.
type Config struct {
	// Inventory API
	InventoryURL   string
	InventoryToken string
	VerifyTLS      bool
	SwitchRole     string

	// SNMP session parameters
	SNMP     models.SNMPCredentials
	SNMPPort uint16
	Timeout  time.Duration
	Retries  int

	// Stability gate
	StabilityRuns int

	// State store
	StateDBPath string

	// Operation mode
	PollInterval time.Duration // 0 = run once and exit
	DryRun       bool
	CableStatus  string
	Workers      int

	// Port exclusion
	ExcludePorts    []string
	ExcludePatterns []string

	LogLevel string
}

// defaultExcludePatterns marks ports whose names or descriptions indicate
// inter-switch or aggregate links that reconciliation must not touch.
var defaultExcludePatterns = []string{
	`uplink`,
	`to[-_]?spine`,
	`trunk`,
	`peer`,
	`mlag`,
	`^po\d+`,
	`port[-_]?channel`,
}

// FromEnv builds a Config from environment variables, applying defaults.
func FromEnv() Config {
	cfg := Config{
		InventoryURL:   strings.TrimRight(getEnvOrDefault("INVENTORY_URL", ""), "/"),
		InventoryToken: getEnvOrDefault("INVENTORY_TOKEN", ""),
		VerifyTLS:      getEnvBoolOrDefault("INVENTORY_VERIFY_TLS", true),
		SwitchRole:     getEnvOrDefault("SWITCH_ROLE", ""),
		SNMP: models.SNMPCredentials{
			Version:         models.SNMPVersion(getEnvOrDefault("SNMP_VERSION", "v2c")),
			Community:       getEnvOrDefault("SNMP_COMMUNITY", "public"),
			Username:        getEnvOrDefault("SNMP_USERNAME", ""),
			AuthProtocol:    getEnvOrDefault("SNMP_AUTH_PROTOCOL", ""),
			AuthPassword:    getEnvOrDefault("SNMP_AUTH_PASSWORD", ""),
			PrivacyProtocol: getEnvOrDefault("SNMP_PRIVACY_PROTOCOL", ""),
			PrivacyPassword: getEnvOrDefault("SNMP_PRIVACY_PASSWORD", ""),
		},
		SNMPPort:      uint16(getEnvIntOrDefault("SNMP_PORT", 161)),
		Timeout:       time.Duration(getEnvIntOrDefault("SNMP_TIMEOUT", 5)) * time.Second,
		Retries:       getEnvIntOrDefault("SNMP_RETRIES", 2),
		StabilityRuns: getEnvIntOrDefault("STABILITY_RUNS", 2),
		StateDBPath:   getEnvOrDefault("STATE_DB_PATH", "state.db"),
		PollInterval:  time.Duration(getEnvIntOrDefault("POLL_INTERVAL", 0)) * time.Second,
		DryRun:        getEnvBoolOrDefault("DRY_RUN", false),
		CableStatus:   getEnvOrDefault("CABLE_STATUS", "planned"),
		Workers:       getEnvIntOrDefault("WORKERS", 10),
		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
	}

	// Accept bare "2c" the way the original deployments configured it.
	if v := cfg.SNMP.Version; v != "" && !strings.HasPrefix(string(v), "v") {
		cfg.SNMP.Version = models.SNMPVersion("v" + v)
	}

	if ports := os.Getenv("EXCLUDE_PORTS"); ports != "" {
		cfg.ExcludePorts = splitAndTrim(ports)
	}

	if patterns := os.Getenv("EXCLUDE_PATTERNS"); patterns != "" {
		cfg.ExcludePatterns = splitAndTrim(patterns)
	} else {
		cfg.ExcludePatterns = defaultExcludePatterns
	}

	return cfg
}

// Validate checks the invariants a run cannot start without.
func (c *Config) Validate() error {
	if c.InventoryURL == "" {
		return ErrInventoryURLRequired
	}

	if c.InventoryToken == "" {
		return ErrInventoryTokenRequired
	}

	if c.StabilityRuns < 1 {
		return ErrInvalidStabilityRuns
	}

	if c.Workers < 1 {
		return ErrInvalidWorkers
	}

	switch c.SNMP.Version {
	case models.SNMPVersion1, models.SNMPVersion2c, models.SNMPVersion3:
	default:
		return ErrInvalidSNMPVersion
	}

	return nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}

	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return n
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	value = strings.ToLower(value)

	return value == "true" || value == "1" || value == "yes" || value == "on"
}
