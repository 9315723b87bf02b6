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

// cablesync discovers switch-to-switch links over SNMP/LLDP and
// reconciles them into a NetBox-compatible inventory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cablesync/cablesync/pkg/classify"
	"github.com/cablesync/cablesync/pkg/config"
	"github.com/cablesync/cablesync/pkg/engine"
	"github.com/cablesync/cablesync/pkg/inventory"
	"github.com/cablesync/cablesync/pkg/logger"
	"github.com/cablesync/cablesync/pkg/reconcile"
	"github.com/cablesync/cablesync/pkg/snmp"
	"github.com/cablesync/cablesync/pkg/stability"
	"github.com/cablesync/cablesync/pkg/state"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "log intended changes without applying them")
	once := flag.Bool("once", false, "run a single cycle and exit, ignoring POLL_INTERVAL")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if err := run(*dryRun, *once, *debug); err != nil {
		log.Fatalf("cablesync: %v", err)
	}
}

func run(dryRun, once, debug bool) error {
	cfg := config.FromEnv()

	if dryRun {
		cfg.DryRun = true
	}

	if once {
		cfg.PollInterval = 0
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logConfig := logger.Config{Level: cfg.LogLevel, Debug: debug}

	mainLogger, err := logger.New(logConfig)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := inventory.NewHTTPClient(cfg.InventoryURL, cfg.InventoryToken, cfg.VerifyTLS, mainLogger)

	// No cycle may start against an unreachable or unauthenticated
	// inventory; failing here keeps partial cycles impossible.
	pingCtx, pingCancel := context.WithTimeout(ctx, 15*time.Second)
	defer pingCancel()

	if err := client.Ping(pingCtx); err != nil {
		return fmt.Errorf("inventory API check failed: %w", err)
	}

	store, err := state.Open(cfg.StateDBPath)
	if err != nil {
		return fmt.Errorf("state store unavailable: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			mainLogger.Warn().Err(err).Msg("failed to close state store")
		}
	}()

	filter, err := classify.NewFilter(cfg.ExcludePorts, cfg.ExcludePatterns)
	if err != nil {
		return fmt.Errorf("invalid port exclusions: %w", err)
	}

	reader := snmp.NewNeighborReader(snmp.Options{
		Credentials: cfg.SNMP,
		Port:        cfg.SNMPPort,
		Timeout:     cfg.Timeout,
		Retries:     cfg.Retries,
	}, mainLogger)

	gate := stability.NewGate(reader, cfg.StabilityRuns, mainLogger)

	driver := reconcile.NewDriver(client, store, reconcile.Options{
		CableStatus: cfg.CableStatus,
		DryRun:      cfg.DryRun,
	}, mainLogger)

	eng := engine.New(cfg, client, gate, filter, store, driver, mainLogger)

	mainLogger.Info().
		Str("inventory", cfg.InventoryURL).
		Str("role", cfg.SwitchRole).
		Int("stability_runs", cfg.StabilityRuns).
		Bool("dry_run", cfg.DryRun).
		Dur("poll_interval", cfg.PollInterval).
		Msg("cablesync starting")

	return eng.Run(ctx)
}
