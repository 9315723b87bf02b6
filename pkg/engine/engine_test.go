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

package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cablesync/cablesync/pkg/classify"
	"github.com/cablesync/cablesync/pkg/config"
	"github.com/cablesync/cablesync/pkg/logger"
	"github.com/cablesync/cablesync/pkg/models"
	"github.com/cablesync/cablesync/pkg/reconcile"
	"github.com/cablesync/cablesync/pkg/snmp"
	"github.com/cablesync/cablesync/pkg/stability"
	"github.com/cablesync/cablesync/pkg/state"
)

// fabric is an in-memory inventory with a fixed device/interface layout.
type fabric struct {
	mu        sync.Mutex
	devices   []models.Device
	ifaces    map[int64][]models.Interface
	cables    map[int64]models.CableRecord
	nextCable int64
	created   int
	deleted   int
	updated   int
	listErr   error
	ifaceErr  map[int64]error
}

func newFabric() *fabric {
	return &fabric{
		devices: []models.Device{
			{ID: 1, Name: "sw1", IP: "10.0.0.1", Role: "leaf"},
			{ID: 2, Name: "sw2", IP: "10.0.0.2", Role: "leaf"},
		},
		ifaces: map[int64][]models.Interface{
			1: {{ID: 101, DeviceID: 1, DeviceName: "sw1", Name: "Gi0/1"}},
			2: {{ID: 205, DeviceID: 2, DeviceName: "sw2", Name: "Gi0/5"}},
		},
		cables:    make(map[int64]models.CableRecord),
		nextCable: 100,
	}
}

func (f *fabric) Ping(context.Context) error { return nil }

func (f *fabric) DevicesByRole(_ context.Context, role string) ([]models.Device, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}

	out := make([]models.Device, 0, len(f.devices))

	for _, d := range f.devices {
		if role == "" || d.Role == role {
			out = append(out, d)
		}
	}

	return out, nil
}

func (f *fabric) InterfacesByDevice(_ context.Context, deviceID int64) ([]models.Interface, []models.CableRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ifaceErr[deviceID]; err != nil {
		return nil, nil, err
	}

	var cables []models.CableRecord

	for _, cable := range f.cables {
		for _, iface := range f.ifaces[deviceID] {
			if cable.AID == iface.ID || cable.BID == iface.ID {
				cables = append(cables, cable)
				break
			}
		}
	}

	return f.ifaces[deviceID], cables, nil
}

func (f *fabric) CreateCable(_ context.Context, aID, bID int64, status, description string) (*models.CableRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.created++
	f.nextCable++

	cable := models.CableRecord{
		ID:          f.nextCable,
		A:           f.endpointFor(aID),
		B:           f.endpointFor(bID),
		AID:         aID,
		BID:         bID,
		Status:      status,
		Description: description,
	}
	f.cables[cable.ID] = cable

	return &cable, nil
}

func (f *fabric) UpdateCable(_ context.Context, cableID, aID, bID int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updated++

	cable := f.cables[cableID]
	cable.A, cable.B = f.endpointFor(aID), f.endpointFor(bID)
	cable.AID, cable.BID = aID, bID
	cable.Status = status
	f.cables[cableID] = cable

	return nil
}

func (f *fabric) DeleteCable(_ context.Context, cableID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted++
	delete(f.cables, cableID)

	return nil
}

func (f *fabric) endpointFor(ifaceID int64) models.Endpoint {
	for _, ifaces := range f.ifaces {
		for _, iface := range ifaces {
			if iface.ID == ifaceID {
				return models.Endpoint{Device: iface.DeviceName, Interface: iface.Name}
			}
		}
	}

	return models.Endpoint{}
}

// wiredReader reports a fixed topology on every round.
type wiredReader struct {
	mu       sync.Mutex
	topology map[string]*models.DeviceSnapshot
	errFor   map[string]error
}

func (r *wiredReader) Poll(_ context.Context, device models.Device, round int) (*models.DeviceSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.errFor[device.Name]; err != nil {
		return nil, err
	}

	tmpl, ok := r.topology[device.Name]
	if !ok {
		return &models.DeviceSnapshot{Device: device.Name, Round: round}, nil
	}

	snap := &models.DeviceSnapshot{
		Device:     device.Name,
		Round:      round,
		Interfaces: append([]string(nil), tmpl.Interfaces...),
		Neighbors:  make(map[string]models.Neighbor, len(tmpl.Neighbors)),
	}

	for port, n := range tmpl.Neighbors {
		snap.Neighbors[port] = n
	}

	return snap, nil
}

func mutualTopology() map[string]*models.DeviceSnapshot {
	return map[string]*models.DeviceSnapshot{
		"sw1": {
			Interfaces: []string{"Gi0/1"},
			Neighbors:  map[string]models.Neighbor{"Gi0/1": {SysName: "sw2", PortID: "Gi0/5"}},
		},
		"sw2": {
			Interfaces: []string{"Gi0/5"},
			Neighbors:  map[string]models.Neighbor{"Gi0/5": {SysName: "sw1", PortID: "Gi0/1"}},
		},
	}
}

func testConfig() config.Config {
	return config.Config{
		InventoryURL:   "https://netbox.example.com",
		InventoryToken: "secret",
		SwitchRole:     "leaf",
		StabilityRuns:  2,
		Workers:        4,
		CableStatus:    "planned",
	}
}

func newTestEngine(t *testing.T, cfg config.Config, inv *fabric, reader snmp.Reader) (*Engine, *state.SQLiteStore) {
	t.Helper()

	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	filter, err := classify.NewFilter(nil, []string{`uplink`})
	require.NoError(t, err)

	log := logger.NewTestLogger()
	gate := stability.NewGate(reader, cfg.StabilityRuns, log)
	driver := reconcile.NewDriver(inv, store, reconcile.Options{
		CableStatus: cfg.CableStatus,
		DryRun:      cfg.DryRun,
	}, log)

	return New(cfg, inv, gate, filter, store, driver, log), store
}

func TestRunCycleDiscoversAndCablesNewLink(t *testing.T) {
	inv := newFabric()
	reader := &wiredReader{topology: mutualTopology()}
	eng, store := newTestEngine(t, testConfig(), inv, reader)

	summary, err := eng.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Devices)
	assert.Equal(t, 0, summary.Degraded)
	assert.Equal(t, 1, summary.Applied)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 0, summary.Conflicts)

	assert.Equal(t, 1, inv.created, "one mutually reported link must yield exactly one cable")
	require.Len(t, inv.cables, 1)

	for _, cable := range inv.cables {
		assert.Equal(t, "planned", cable.Status)
		assert.Contains(t, cable.Description, "cablesync:lldp")
	}

	entry, err := store.Get(context.Background(), "sw1", "Gi0/1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "sw2", entry.RemoteDevice)
	assert.Equal(t, "Gi0/5", entry.RemoteInterface)
	assert.Equal(t, summary.CycleID, entry.RunID)
}

func TestRunCycleIsIdempotent(t *testing.T) {
	inv := newFabric()
	reader := &wiredReader{topology: mutualTopology()}
	eng, _ := newTestEngine(t, testConfig(), inv, reader)

	_, err := eng.RunCycle(context.Background())
	require.NoError(t, err)

	second, err := eng.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, inv.created, "the second cycle must not create another cable")
	assert.Equal(t, 0, second.Applied)
	assert.Equal(t, 0, second.Failed)
}

func TestRunCycleRemovesConfirmedGoneLink(t *testing.T) {
	inv := newFabric()
	reader := &wiredReader{topology: mutualTopology()}
	eng, store := newTestEngine(t, testConfig(), inv, reader)

	_, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, inv.cables, 1)

	// The link disappears from both sides, stably.
	reader.mu.Lock()
	reader.topology["sw1"].Neighbors = nil
	reader.topology["sw2"].Neighbors = nil
	reader.mu.Unlock()

	_, err = eng.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, inv.deleted)
	assert.Empty(t, inv.cables)

	entry, err := store.Get(context.Background(), "sw1", "Gi0/1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRunCycleDegradedDeviceLeavesStateUntouched(t *testing.T) {
	inv := newFabric()
	reader := &wiredReader{topology: mutualTopology()}
	eng, store := newTestEngine(t, testConfig(), inv, reader)

	_, err := eng.RunCycle(context.Background())
	require.NoError(t, err)

	// sw1 stops answering entirely; its persisted link must survive.
	reader.mu.Lock()
	reader.errFor = map[string]error{"sw1": errors.New("request timeout")}
	reader.topology["sw2"].Neighbors = nil
	reader.mu.Unlock()

	summary, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Degraded)

	entry, err := store.Get(context.Background(), "sw1", "Gi0/1")
	require.NoError(t, err)
	assert.NotNil(t, entry, "a degraded device's snapshot entries must not be removed")
}

func TestRunCycleDryRunMutatesNothing(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true

	inv := newFabric()
	reader := &wiredReader{topology: mutualTopology()}
	eng, store := newTestEngine(t, cfg, inv, reader)

	summary, err := eng.RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Equal(t, 0, summary.Applied)
	assert.Equal(t, 0, inv.created)

	entry, err := store.Get(context.Background(), "sw1", "Gi0/1")
	require.NoError(t, err)
	assert.Nil(t, entry, "dry-run must not write snapshot entries")

	all, err := store.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRunCycleExcludedPortIsSkipped(t *testing.T) {
	inv := newFabric()
	inv.ifaces[1] = []models.Interface{{ID: 101, DeviceID: 1, DeviceName: "sw1", Name: "uplink-1"}}

	reader := &wiredReader{topology: map[string]*models.DeviceSnapshot{
		"sw1": {
			Interfaces: []string{"uplink-1"},
			Neighbors:  map[string]models.Neighbor{"uplink-1": {SysName: "spine1", PortID: "Eth1/1"}},
		},
		"sw2": {Interfaces: []string{"Gi0/5"}},
	}}

	eng, _ := newTestEngine(t, testConfig(), inv, reader)

	summary, err := eng.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, inv.created)
	assert.Equal(t, 0, summary.Applied)
}

func TestRunCycleUnstableLinkIsWithheld(t *testing.T) {
	inv := newFabric()

	// sw1 alternates neighbors between rounds.
	reader := &flappingReader{}
	eng, store := newTestEngine(t, testConfig(), inv, reader)

	summary, err := eng.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, inv.created)
	assert.Equal(t, 1, summary.Unstable)

	all, err := store.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRunCycleConflictAppliesNothingForClaimants(t *testing.T) {
	inv := newFabric()
	inv.devices = append(inv.devices, models.Device{ID: 3, Name: "sw3", IP: "10.0.0.3", Role: "leaf"})
	inv.ifaces[3] = []models.Interface{{ID: 309, DeviceID: 3, DeviceName: "sw3", Name: "Gi0/9"}}

	// sw1 and sw3 both claim sw2:Gi0/5; sw2 is unreachable so neither
	// claim can be arbitrated.
	reader := &wiredReader{
		topology: map[string]*models.DeviceSnapshot{
			"sw1": {
				Interfaces: []string{"Gi0/1"},
				Neighbors:  map[string]models.Neighbor{"Gi0/1": {SysName: "sw2", PortID: "Gi0/5"}},
			},
			"sw3": {
				Interfaces: []string{"Gi0/9"},
				Neighbors:  map[string]models.Neighbor{"Gi0/9": {SysName: "sw2", PortID: "Gi0/5"}},
			},
		},
		errFor: map[string]error{"sw2": errors.New("request timeout")},
	}

	eng, _ := newTestEngine(t, testConfig(), inv, reader)

	summary, err := eng.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Conflicts)
	assert.Equal(t, 0, summary.Applied)
	assert.Equal(t, 0, inv.created)
}

func TestRunCycleFailsWhenInventoryListingFails(t *testing.T) {
	inv := newFabric()
	inv.listErr = errors.New("service unavailable")

	eng, _ := newTestEngine(t, testConfig(), inv, &wiredReader{})

	_, err := eng.RunCycle(context.Background())
	require.Error(t, err)
}

// flappingReader returns a different neighbor on every round.
type flappingReader struct {
	mu    sync.Mutex
	round int
}

func (r *flappingReader) Poll(_ context.Context, device models.Device, round int) (*models.DeviceSnapshot, error) {
	if device.Name != "sw1" {
		return &models.DeviceSnapshot{Device: device.Name, Round: round}, nil
	}

	r.mu.Lock()
	r.round++
	port := "Gi0/5"

	if r.round%2 == 0 {
		port = "Gi0/6"
	}
	r.mu.Unlock()

	return &models.DeviceSnapshot{
		Device:     device.Name,
		Round:      round,
		Interfaces: []string{"Gi0/1"},
		Neighbors:  map[string]models.Neighbor{"Gi0/1": {SysName: "sw2", PortID: port}},
	}, nil
}
