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

// Package engine orchestrates one full discovery/reconciliation cycle:
// list switches, run the stability gate per device behind a bounded
// worker pool, diff the stabilized topology once all devices finish,
// and hand the change-set to the reconciliation driver.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cablesync/cablesync/pkg/classify"
	"github.com/cablesync/cablesync/pkg/config"
	"github.com/cablesync/cablesync/pkg/diff"
	"github.com/cablesync/cablesync/pkg/inventory"
	"github.com/cablesync/cablesync/pkg/logger"
	"github.com/cablesync/cablesync/pkg/models"
	"github.com/cablesync/cablesync/pkg/reconcile"
	"github.com/cablesync/cablesync/pkg/stability"
	"github.com/cablesync/cablesync/pkg/state"
)

// Engine drives poll cycles. It owns no goroutines between cycles and
// is safe to run repeatedly from a single caller.
type Engine struct {
	cfg    config.Config
	client inventory.Client
	gate   *stability.Gate
	filter *classify.Filter
	store  state.Store
	driver *reconcile.Driver
	log    logger.Logger
}

// New wires an engine from its collaborators.
func New(cfg config.Config, client inventory.Client, gate *stability.Gate,
	filter *classify.Filter, store state.Store, driver *reconcile.Driver, log logger.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		client: client,
		gate:   gate,
		filter: filter,
		store:  store,
		driver: driver,
		log:    log.WithComponent("engine"),
	}
}

// deviceResult is one device's contribution to the cycle barrier.
type deviceResult struct {
	device   models.Device
	links    []models.StabilizedLink
	ifaces   []models.Interface
	cables   []models.CableRecord
	degraded bool
	reason   string
}

// Run executes cycles until the context is cancelled. A zero poll
// interval runs a single cycle and returns.
func (e *Engine) Run(ctx context.Context) error {
	for {
		summary, err := e.RunCycle(ctx)
		if err != nil {
			if e.cfg.PollInterval <= 0 {
				return err
			}

			e.log.Error().Err(err).Msg("cycle failed")
		} else {
			e.logSummary(summary)
		}

		if e.cfg.PollInterval <= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.PollInterval):
		}
	}
}

// RunCycle performs one complete cycle and returns its summary. The
// returned error covers cycle-level failures only (inventory listing,
// state reads); per-device and per-action failures are reported inside
// the summary.
func (e *Engine) RunCycle(ctx context.Context) (*models.CycleSummary, error) {
	cycleID := uuid.NewString()
	started := time.Now().UTC()

	log := e.log.With().Str("cycle_id", cycleID).Logger()
	log.Info().Bool("dry_run", e.cfg.DryRun).Msg("cycle started")

	devices, err := e.client.DevicesByRole(ctx, e.cfg.SwitchRole)
	if err != nil {
		return nil, fmt.Errorf("list switches: %w", err)
	}

	results := e.pollAll(ctx, devices)

	// Cycle barrier: nothing below runs until every device has finished
	// or been declared degraded.
	var (
		links    []models.StabilizedLink
		cables   []models.CableRecord
		ifaces   = make(map[models.Endpoint]models.Interface)
		polled   = make(map[string]bool, len(results))
		warnings []models.Warning
		degraded int
	)

	for _, res := range results {
		for _, iface := range res.ifaces {
			ifaces[models.Endpoint{Device: iface.DeviceName, Interface: iface.Name}] = iface
		}

		cables = append(cables, res.cables...)

		if res.degraded {
			degraded++

			warnings = append(warnings, models.Warning{
				Kind:   models.WarningDegraded,
				Device: res.device.Name,
				Reason: res.reason,
			})

			continue
		}

		polled[res.device.Name] = true
		links = append(links, res.links...)
	}

	filtered, filterWarnings := e.filterLinks(links)
	warnings = append(warnings, filterWarnings...)

	prior, err := e.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("read snapshot store: %w", err)
	}

	cs := diff.Compute(cycleID, diff.Input{
		Links:  filtered,
		Prior:  prior,
		Cables: cables,
		Polled: polled,
	})
	cs.Warnings = append(cs.Warnings, warnings...)

	actionResults := e.driver.Apply(ctx, cs, ifaces)

	summary := summarize(cycleID, cs, actionResults, len(devices), degraded, started, e.cfg.DryRun)

	if !e.cfg.DryRun {
		if err := e.store.RecordRun(ctx, summary); err != nil {
			log.Warn().Err(err).Msg("failed to record run history")
		}
	}

	return summary, nil
}

// pollAll runs the stability gate and interface listing for every device
// behind a bounded worker pool and collects all results.
func (e *Engine) pollAll(ctx context.Context, devices []models.Device) []deviceResult {
	jobs := make(chan models.Device)
	out := make(chan deviceResult)

	var wg sync.WaitGroup

	workers := e.cfg.Workers
	if workers > len(devices) {
		workers = len(devices)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for device := range jobs {
				out <- e.pollDevice(ctx, device)
			}
		}()
	}

	go func() {
		for _, device := range devices {
			jobs <- device
		}

		close(jobs)
		wg.Wait()
		close(out)
	}()

	results := make([]deviceResult, 0, len(devices))
	for res := range out {
		results = append(results, res)
	}

	return results
}

func (e *Engine) pollDevice(ctx context.Context, device models.Device) deviceResult {
	res := deviceResult{device: device}

	// Interface and cable records are needed even for degraded devices:
	// the diff engine must see existing cables to avoid phantom adds from
	// the far side.
	ifaces, cables, err := e.client.InterfacesByDevice(ctx, device.ID)
	if err != nil {
		res.degraded = true
		res.reason = fmt.Sprintf("inventory interface listing failed: %v", err)

		return res
	}

	res.ifaces = ifaces
	res.cables = cables

	if device.IP == "" {
		res.degraded = true
		res.reason = "no management IP in inventory"

		return res
	}

	links, failures := e.gate.Run(ctx, device)
	if len(failures) > 0 {
		res.degraded = true
		res.reason = fmt.Sprintf("%d of %d stability runs failed: %v", len(failures), e.gate.Runs(), failures[0])

		return res
	}

	res.links = links

	return res
}

// filterLinks drops excluded ports and unstable verdicts from the diff
// input, recording a warning for each.
func (e *Engine) filterLinks(links []models.StabilizedLink) ([]models.StabilizedLink, []models.Warning) {
	out := make([]models.StabilizedLink, 0, len(links))

	var warnings []models.Warning

	for _, link := range links {
		if verdict := e.filter.Classify(link.Local.Interface); !verdict.Allowed {
			warnings = append(warnings, models.Warning{
				Kind:   models.WarningSkipped,
				Device: link.Local.Device,
				Port:   link.Local.Interface,
				Reason: verdict.Reason,
			})

			continue
		}

		// Links into an excluded far-end port are skipped the same way,
		// otherwise the pair would surface as a one-sided conflict.
		if link.Remote != nil {
			if verdict := e.filter.Classify(link.Remote.Interface); !verdict.Allowed {
				warnings = append(warnings, models.Warning{
					Kind:   models.WarningSkipped,
					Device: link.Local.Device,
					Port:   link.Local.Interface,
					Reason: "remote " + verdict.Reason,
				})

				continue
			}
		}

		if link.Confidence == models.ConfidenceUnstable {
			warnings = append(warnings, models.Warning{
				Kind:   models.WarningUnstable,
				Device: link.Local.Device,
				Port:   link.Local.Interface,
				Reason: fmt.Sprintf("runs disagreed over %d rounds", link.Rounds),
			})

			continue
		}

		out = append(out, link)
	}

	return out, warnings
}

func summarize(cycleID string, cs *models.ChangeSet, results []models.ActionResult,
	devices, degraded int, started time.Time, dryRun bool) *models.CycleSummary {
	summary := &models.CycleSummary{
		CycleID:    cycleID,
		Devices:    devices,
		Degraded:   degraded,
		Conflicts:  len(cs.Conflicts),
		DryRun:     dryRun,
		StartedAt:  started.Format(time.RFC3339),
		FinishedAt: time.Now().UTC().Format(time.RFC3339),
		Results:    results,
	}

	for _, w := range cs.Warnings {
		if w.Kind == models.WarningUnstable {
			summary.Unstable++
		}
	}

	summary.Links = len(cs.Adds) + len(cs.Updates) + len(cs.Unchanged)

	for _, res := range results {
		switch res.Status {
		case models.StatusApplied:
			summary.Applied++
		case models.StatusFailed:
			summary.Failed++
		case models.StatusDryRun:
		}
	}

	return summary
}

func (e *Engine) logSummary(summary *models.CycleSummary) {
	e.log.Info().
		Str("cycle_id", summary.CycleID).
		Int("devices", summary.Devices).
		Int("degraded", summary.Degraded).
		Int("links", summary.Links).
		Int("applied", summary.Applied).
		Int("failed", summary.Failed).
		Int("conflicts", summary.Conflicts).
		Int("unstable", summary.Unstable).
		Bool("dry_run", summary.DryRun).
		Msg("cycle finished")
}
