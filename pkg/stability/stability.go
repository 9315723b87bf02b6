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

// Package stability implements the stability gate: a link is trusted
// only when every independent polling round reproduces it identically.
package stability

import (
	"context"
	"sort"
	"sync"

	"github.com/cablesync/cablesync/pkg/logger"
	"github.com/cablesync/cablesync/pkg/models"
	"github.com/cablesync/cablesync/pkg/snmp"
)

// observation is the per-run state of one local interface.
type observation int

const (
	obsMissing observation = iota // interface not listed in this run
	obsNoNeighbor
	obsNeighbor
)

// Evaluate folds N run snapshots of one device into one StabilizedLink
// per interface. It is a pure function over the fixed snapshot sequence:
//   - stable: every run reported the identical remote endpoint
//   - absent: every run listed the interface with no neighbor
//   - unstable: any disagreement, including an interface flapping in and
//     out of the interface table. Majority never wins; a single
//     disagreeing run withholds the link from this cycle.
//
// Snapshots must all belong to the same device. Callers must not pass
// partial results: a failed run means the device has no verdict this
// cycle, which is enforced by Gate, not here.
func Evaluate(runs []*models.DeviceSnapshot) []models.StabilizedLink {
	if len(runs) == 0 {
		return nil
	}

	device := runs[0].Device
	ifaces := interfaceUnion(runs)

	links := make([]models.StabilizedLink, 0, len(ifaces))

	for _, iface := range ifaces {
		local := models.Endpoint{Device: device, Interface: iface}
		links = append(links, evaluateInterface(local, iface, runs))
	}

	return links
}

func evaluateInterface(local models.Endpoint, iface string, runs []*models.DeviceSnapshot) models.StabilizedLink {
	link := models.StabilizedLink{Local: local, Rounds: len(runs)}

	var (
		first     observation
		firstSeen bool
		remote    models.Endpoint
	)

	for _, run := range runs {
		state, neighbor := observe(run, iface)

		if !firstSeen {
			first = state
			firstSeen = true

			if state == obsNeighbor {
				remote = neighbor.Endpoint()
			}

			continue
		}

		if state != first {
			link.Confidence = models.ConfidenceUnstable
			return link
		}

		if state == obsNeighbor && neighbor.Endpoint() != remote {
			link.Confidence = models.ConfidenceUnstable
			return link
		}
	}

	switch first {
	case obsNeighbor:
		link.Confidence = models.ConfidenceStable
		link.Remote = &remote
	case obsNoNeighbor:
		link.Confidence = models.ConfidenceAbsent
	case obsMissing:
		// Listed in no run at all only happens for interfaces injected
		// by the union of a run that did list it, so this is flapping.
		link.Confidence = models.ConfidenceUnstable
	}

	return link
}

func observe(run *models.DeviceSnapshot, iface string) (observation, models.Neighbor) {
	if neighbor, ok := run.Neighbors[iface]; ok {
		return obsNeighbor, neighbor
	}

	for _, name := range run.Interfaces {
		if name == iface {
			return obsNoNeighbor, models.Neighbor{}
		}
	}

	return obsMissing, models.Neighbor{}
}

func interfaceUnion(runs []*models.DeviceSnapshot) []string {
	seen := make(map[string]struct{})

	for _, run := range runs {
		for _, name := range run.Interfaces {
			seen[name] = struct{}{}
		}

		for name := range run.Neighbors {
			seen[name] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}

// Observations flattens a snapshot into immutable per-port observations.
func Observations(run *models.DeviceSnapshot) []models.NeighborObservation {
	out := make([]models.NeighborObservation, 0, len(run.Interfaces))

	for _, iface := range run.Interfaces {
		obs := models.NeighborObservation{
			Local:      models.Endpoint{Device: run.Device, Interface: iface},
			Round:      run.Round,
			ObservedAt: run.TakenAt,
		}

		if neighbor, ok := run.Neighbors[iface]; ok {
			n := neighbor
			obs.Remote = &n
		}

		out = append(out, obs)
	}

	return out
}

// Gate runs the neighbor reader N times per device and evaluates the runs.
type Gate struct {
	reader snmp.Reader
	runs   int
	log    logger.Logger
}

func NewGate(reader snmp.Reader, runs int, log logger.Logger) *Gate {
	if runs < 1 {
		runs = 1
	}

	return &Gate{reader: reader, runs: runs, log: log.WithComponent("stability")}
}

// Runs returns the configured number of stability runs.
func (g *Gate) Runs() int { return g.runs }

// Run polls the device N times concurrently and evaluates the snapshots
// once all runs have completed. Partial results are never evaluated: if
// any run fails, the device is degraded for this cycle and contributes
// no links, leaving prior persisted state untouched.
func (g *Gate) Run(ctx context.Context, device models.Device) ([]models.StabilizedLink, []error) {
	snapshots := make([]*models.DeviceSnapshot, g.runs)
	errs := make([]error, g.runs)

	var wg sync.WaitGroup

	for i := 0; i < g.runs; i++ {
		wg.Add(1)

		go func(round int) {
			defer wg.Done()

			snapshots[round], errs[round] = g.reader.Poll(ctx, device, round+1)
		}(i)
	}

	wg.Wait()

	var failures []error

	for _, err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}

	if len(failures) > 0 {
		g.log.Warn().
			Str("device", device.Name).
			Int("failed_runs", len(failures)).
			Int("total_runs", g.runs).
			Msg("device degraded: not all stability runs completed")

		return nil, failures
	}

	return Evaluate(snapshots), nil
}
