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

// Package reconcile applies a computed ChangeSet to the inventory and
// the snapshot store. Deletions run before additions, each action is
// atomic on its own, and a failed action never blocks the rest.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/cablesync/cablesync/pkg/inventory"
	"github.com/cablesync/cablesync/pkg/logger"
	"github.com/cablesync/cablesync/pkg/models"
	"github.com/cablesync/cablesync/pkg/state"
)

// Options tunes how the driver writes to the inventory.
type Options struct {
	// CableStatus is the status value stamped on created and updated
	// cable records, e.g. "planned" or "connected".
	CableStatus string
	// DryRun logs every intended action without touching the inventory
	// or the snapshot store.
	DryRun bool
}

// Driver executes change-sets against an inventory client and records
// confirmed links in the snapshot store.
type Driver struct {
	client inventory.Client
	store  state.Store
	opts   Options
	log    logger.Logger
}

// NewDriver builds a reconciliation driver.
func NewDriver(client inventory.Client, store state.Store, opts Options, log logger.Logger) *Driver {
	return &Driver{
		client: client,
		store:  store,
		opts:   opts,
		log:    log.WithComponent("reconcile"),
	}
}

// Apply executes the change-set's mutations in fixed order: removes,
// then updates, then adds. The interface index maps inventory endpoints
// to their interface records for ID resolution. Conflicts and unchanged
// links are never applied; the snapshot store is written only after the
// corresponding inventory action succeeds.
func (d *Driver) Apply(ctx context.Context, cs *models.ChangeSet, ifaces map[models.Endpoint]models.Interface) []models.ActionResult {
	mutations := cs.Mutations()
	results := make([]models.ActionResult, 0, len(mutations))

	for _, action := range mutations {
		if ctx.Err() != nil {
			results = append(results, models.ActionResult{
				Action: action,
				Status: models.StatusFailed,
				Err:    ctx.Err().Error(),
			})

			continue
		}

		if d.opts.DryRun {
			d.log.Info().
				Str("action", string(action.Type)).
				Str("link", action.Key().String()).
				Str("reason", action.Reason).
				Msg("dry-run: would apply")
			results = append(results, models.ActionResult{Action: action, Status: models.StatusDryRun})

			continue
		}

		results = append(results, d.apply(ctx, cs.CycleID, action, ifaces))
	}

	return results
}

func (d *Driver) apply(ctx context.Context, cycleID string, action models.Action, ifaces map[models.Endpoint]models.Interface) models.ActionResult {
	var err error

	switch action.Type {
	case models.ActionRemove:
		err = d.remove(ctx, action)
	case models.ActionUpdate:
		err = d.update(ctx, cycleID, action, ifaces)
	case models.ActionAdd:
		err = d.add(ctx, cycleID, action, ifaces)
	default:
		err = fmt.Errorf("action type %q is not applicable", action.Type)
	}

	if err != nil {
		d.log.Error().Err(err).
			Str("action", string(action.Type)).
			Str("link", action.Key().String()).
			Msg("action failed")

		return models.ActionResult{Action: action, Status: models.StatusFailed, Err: err.Error()}
	}

	d.log.Info().
		Str("action", string(action.Type)).
		Str("link", action.Key().String()).
		Str("reason", action.Reason).
		Msg("action applied")

	return models.ActionResult{Action: action, Status: models.StatusApplied}
}

// remove deletes the engine-owned cable record, then the snapshot entry.
// A zero cable ID means only the snapshot entry remains to clean up.
func (d *Driver) remove(ctx context.Context, action models.Action) error {
	if action.CableID != 0 {
		if err := d.client.DeleteCable(ctx, action.CableID); err != nil {
			return err
		}
	}

	return d.store.Delete(ctx, action.Local.Device, action.Local.Interface)
}

func (d *Driver) update(ctx context.Context, cycleID string, action models.Action, ifaces map[models.Endpoint]models.Interface) error {
	aID, bID, err := resolve(action, ifaces)
	if err != nil {
		return err
	}

	if err := d.client.UpdateCable(ctx, action.CableID, aID, bID, d.opts.CableStatus); err != nil {
		return err
	}

	return d.confirm(ctx, cycleID, action, action.CableID)
}

func (d *Driver) add(ctx context.Context, cycleID string, action models.Action, ifaces map[models.Endpoint]models.Interface) error {
	aID, bID, err := resolve(action, ifaces)
	if err != nil {
		return err
	}

	created, err := d.client.CreateCable(ctx, aID, bID, d.opts.CableStatus, provenance())
	if err != nil {
		return err
	}

	return d.confirm(ctx, cycleID, action, created.ID)
}

// confirm persists the applied link as the new last-known-good snapshot
// for the local endpoint.
func (d *Driver) confirm(ctx context.Context, cycleID string, action models.Action, cableID int64) error {
	return d.store.Upsert(ctx, state.SnapshotEntry{
		Device:          action.Local.Device,
		Interface:       action.Local.Interface,
		RemoteDevice:    action.Remote.Device,
		RemoteInterface: action.Remote.Interface,
		CableID:         cableID,
		ConfirmedAt:     time.Now().UTC(),
		RunID:           cycleID,
	})
}

// resolve maps both endpoints to inventory interface IDs.
func resolve(action models.Action, ifaces map[models.Endpoint]models.Interface) (int64, int64, error) {
	a, ok := ifaces[action.Local]
	if !ok {
		return 0, 0, fmt.Errorf("interface %s not found in inventory", action.Local)
	}

	b, ok := ifaces[action.Remote]
	if !ok {
		return 0, 0, fmt.Errorf("interface %s not found in inventory", action.Remote)
	}

	return a.ID, b.ID, nil
}

// provenance marks records this engine created so operators can tell
// them apart from hand-entered cables.
func provenance() string {
	return "cablesync:lldp | created=" + time.Now().UTC().Format(time.RFC3339)
}
