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

// Package diff computes the typed ChangeSet for one cycle by comparing
// the stabilized topology against the persisted snapshot and the
// inventory's existing cable records. It performs no I/O.
package diff

import (
	"fmt"
	"sort"

	"github.com/cablesync/cablesync/pkg/models"
	"github.com/cablesync/cablesync/pkg/state"
)

// Input is the full-cycle visibility the diff engine requires. Links
// holds only stable and absent verdicts; unstable interfaces are
// withheld upstream. Prior is a consistent read of the snapshot store
// taken before any of this cycle's writes.
type Input struct {
	Links  []models.StabilizedLink
	Prior  []state.SnapshotEntry
	Cables []models.CableRecord
	// Polled names every device whose stability runs all completed this
	// cycle. Mutual-reporting checks apply only between polled devices.
	Polled map[string]bool
}

// engine carries the per-cycle indexes so the per-link decisions stay
// readable.
type engine struct {
	cs           *models.ChangeSet
	priorByLocal map[models.Endpoint]state.SnapshotEntry
	cableByLocal map[models.Endpoint]models.CableRecord
	cableByID    map[int64]models.CableRecord
	verdicts     map[models.Endpoint]models.StabilizedLink
	polled       map[string]bool
	conflicted   map[models.Endpoint]string
	handled      map[models.LinkKey]bool
	removed      map[int64]bool
}

// Compute builds the ChangeSet for one cycle. Every stable link yields
// exactly one of Add, Update, Conflict or Unchanged; every stably absent
// interface with a persisted entry yields a Remove. Duplicate remote
// claims and mutual-reporting mismatches conflict instead of mutating.
func Compute(cycleID string, in Input) *models.ChangeSet {
	links := make([]models.StabilizedLink, len(in.Links))
	copy(links, in.Links)
	sort.Slice(links, func(i, j int) bool { return links[i].Local.Less(links[j].Local) })

	e := &engine{
		cs:           &models.ChangeSet{CycleID: cycleID},
		priorByLocal: make(map[models.Endpoint]state.SnapshotEntry, len(in.Prior)),
		cableByLocal: make(map[models.Endpoint]models.CableRecord, 2*len(in.Cables)),
		cableByID:    make(map[int64]models.CableRecord, len(in.Cables)),
		verdicts:     make(map[models.Endpoint]models.StabilizedLink, len(links)),
		polled:       in.Polled,
		conflicted:   findDuplicateClaims(links),
		handled:      make(map[models.LinkKey]bool),
		removed:      make(map[int64]bool),
	}

	for _, entry := range in.Prior {
		e.priorByLocal[entry.Local()] = entry
	}

	for _, cable := range in.Cables {
		e.cableByLocal[cable.A] = cable
		e.cableByLocal[cable.B] = cable
		e.cableByID[cable.ID] = cable
	}

	for _, link := range links {
		e.verdicts[link.Local] = link
	}

	for _, link := range links {
		switch link.Confidence {
		case models.ConfidenceStable:
			e.stable(link)
		case models.ConfidenceAbsent:
			e.absent(link)
		case models.ConfidenceUnstable:
			// Withheld upstream; tolerate and skip if present.
		}
	}

	return e.cs
}

// findDuplicateClaims returns the local endpoints whose stable links
// claim a remote endpoint that another local interface also claims.
// All claimants conflict; none may produce an Add or Update this cycle.
func findDuplicateClaims(links []models.StabilizedLink) map[models.Endpoint]string {
	claims := make(map[models.Endpoint][]models.Endpoint)

	for _, link := range links {
		if link.Confidence != models.ConfidenceStable || link.Remote == nil {
			continue
		}

		claims[*link.Remote] = append(claims[*link.Remote], link.Local)
	}

	conflicted := make(map[models.Endpoint]string)

	for remote, locals := range claims {
		if len(locals) < 2 {
			continue
		}

		for _, local := range locals {
			conflicted[local] = fmt.Sprintf("remote endpoint %s claimed by %d local interfaces", remote, len(locals))
		}
	}

	return conflicted
}

// stable decides the action for one stable link observation.
func (e *engine) stable(link models.StabilizedLink) {
	local := link.Local
	remote := *link.Remote
	key := models.CanonicalKey(local, remote)

	if reason, ok := e.conflicted[local]; ok {
		e.conflict(local, remote, reason)
		return
	}

	if reason, mismatched := e.mutualMismatch(local, remote); mismatched {
		e.conflict(local, remote, reason)
		return
	}

	// A differently paired cable on the remote side blocks the link just
	// as one on the local side does; the inventory would reject the
	// second termination anyway.
	if rc, ok := e.cableByLocal[remote]; ok && rc.Key() != key {
		e.conflict(local, remote, fmt.Sprintf(
			"remote endpoint %s already cabled as %s (cable %d)", remote, rc.Key(), rc.ID))

		return
	}

	// Both ends of a mutually reported link fold onto one canonical key;
	// only the first endpoint drives the action.
	if e.handled[key] {
		return
	}
	e.handled[key] = true

	prior, hasPrior := e.priorByLocal[local]
	if !hasPrior {
		// The reciprocal side may own the persisted entry.
		prior, hasPrior = e.priorByLocal[remote]
		if hasPrior && prior.Remote() != local {
			hasPrior = false
		}
	}

	cable, hasCable := e.cableByLocal[local]

	switch {
	case !hasPrior && !hasCable:
		e.add(local, remote, "new link confirmed")

	case !hasPrior && hasCable:
		if cable.Key() == key {
			e.unchanged(local, remote, cable.ID, "matches existing cable")
		} else {
			e.conflict(local, remote, fmt.Sprintf(
				"existing cable %d pairs %s, observed %s", cable.ID, cable.Key(), key))
		}

	case prior.Remote() == remote:
		e.stableUnmoved(local, remote, key, prior, cable, hasCable)

	default:
		e.stableMoved(local, remote, key, prior, cable, hasCable)
	}
}

// stableUnmoved handles a link that matches the persisted snapshot.
func (e *engine) stableUnmoved(local, remote models.Endpoint, key models.LinkKey,
	prior state.SnapshotEntry, cable models.CableRecord, hasCable bool) {
	switch {
	case hasCable && cable.Key() == key:
		e.unchanged(local, remote, cable.ID, "link unchanged")

	case hasCable:
		// A differently paired cable appeared on this interface since the
		// snapshot was written. Not ours to move.
		e.conflict(local, remote, fmt.Sprintf(
			"cable %d pairs %s, persisted link is %s", cable.ID, cable.Key(), key))

	case prior.CableID != 0:
		// The engine-owned record vanished from the inventory.
		e.add(local, remote, fmt.Sprintf("recreating missing cable record (was %d)", prior.CableID))

	default:
		// The manual cable the snapshot piggybacked on is gone; the link
		// itself is still confirmed, so the engine now owns it.
		e.add(local, remote, "creating record for previously manual cable")
	}
}

// stableMoved handles a link whose remote differs from the persisted
// snapshot.
func (e *engine) stableMoved(local, remote models.Endpoint, key models.LinkKey,
	prior state.SnapshotEntry, cable models.CableRecord, hasCable bool) {
	reason := fmt.Sprintf("link moved from %s to %s", prior.Remote(), remote)

	if hasCable && cable.Key() != key && cable.ID != prior.CableID {
		// A foreign cable already occupies the interface with a third
		// pairing. Repointing it would destroy operator data.
		e.conflict(local, remote, fmt.Sprintf(
			"cable %d pairs %s, observed move to %s", cable.ID, cable.Key(), key))

		return
	}

	if hasCable && cable.Key() == key {
		// Someone already recorded the new pairing.
		e.unchanged(local, remote, cable.ID, "moved link already recorded")
		return
	}

	if prior.CableID != 0 {
		if _, exists := e.cableByID[prior.CableID]; exists {
			e.cs.Updates = append(e.cs.Updates, models.Action{
				Type:    models.ActionUpdate,
				Local:   local,
				Remote:  remote,
				CableID: prior.CableID,
				Reason:  reason,
			})

			return
		}
	}

	e.add(local, remote, reason+" (no engine-owned record to update)")
}

// absent decides the action for a stably absent interface. Only
// interfaces with a persisted entry produce a Remove; confirmed silence
// on an untracked port is not news.
func (e *engine) absent(link models.StabilizedLink) {
	prior, ok := e.priorByLocal[link.Local]
	if !ok {
		return
	}

	cableID := prior.CableID
	if cableID != 0 {
		if _, exists := e.cableByID[cableID]; !exists {
			// Already gone from the inventory; only the snapshot remains.
			cableID = 0
		}
	}

	// Both ends of a vanished link carry the same cable ID; only the
	// first Remove deletes the record, the second clears its snapshot.
	if cableID != 0 {
		if e.removed[cableID] {
			cableID = 0
		} else {
			e.removed[cableID] = true
		}
	}

	e.cs.Removes = append(e.cs.Removes, models.Action{
		Type:    models.ActionRemove,
		Local:   link.Local,
		Remote:  prior.Remote(),
		CableID: cableID,
		Reason:  fmt.Sprintf("link to %s confirmed gone over %d runs", prior.Remote(), link.Rounds),
	})
}

// mutualMismatch reports whether the remote device was fully polled this
// cycle yet does not stably report the link back. One-sided claims
// against unpolled devices are trusted; against polled devices they are
// conflicts.
func (e *engine) mutualMismatch(local, remote models.Endpoint) (string, bool) {
	if !e.polled[remote.Device] {
		return "", false
	}

	back, ok := e.verdicts[remote]
	if !ok {
		return fmt.Sprintf("%s polled but never reported interface %s", remote.Device, remote.Interface), true
	}

	switch back.Confidence {
	case models.ConfidenceStable:
		if *back.Remote != local {
			return fmt.Sprintf("%s reports %s, not %s", remote, *back.Remote, local), true
		}

		return "", false
	case models.ConfidenceAbsent:
		return fmt.Sprintf("%s stably reports no neighbor", remote), true
	default:
		return fmt.Sprintf("%s is unstable this cycle", remote), true
	}
}

func (e *engine) add(local, remote models.Endpoint, reason string) {
	e.cs.Adds = append(e.cs.Adds, models.Action{
		Type:   models.ActionAdd,
		Local:  local,
		Remote: remote,
		Reason: reason,
	})
}

func (e *engine) conflict(local, remote models.Endpoint, reason string) {
	e.cs.Conflicts = append(e.cs.Conflicts, models.Action{
		Type:   models.ActionConflict,
		Local:  local,
		Remote: remote,
		Reason: reason,
	})
}

func (e *engine) unchanged(local, remote models.Endpoint, cableID int64, reason string) {
	e.cs.Unchanged = append(e.cs.Unchanged, models.Action{
		Type:    models.ActionUnchanged,
		Local:   local,
		Remote:  remote,
		CableID: cableID,
		Reason:  reason,
	})
}
