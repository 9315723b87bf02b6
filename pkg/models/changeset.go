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

package models

import "fmt"

// ActionType classifies a reconciliation action.
type ActionType string

const (
	ActionAdd       ActionType = "add"
	ActionUpdate    ActionType = "update"
	ActionRemove    ActionType = "remove"
	ActionConflict  ActionType = "conflict"
	ActionUnchanged ActionType = "unchanged"
)

// Action is one typed reconciliation step for a single link.
type Action struct {
	Type   ActionType
	Local  Endpoint
	Remote Endpoint // zero for Remove of a vanished link
	// CableID is the engine-owned inventory record this action targets.
	// Zero for Add (no record exists yet) and for Conflict (no mutation).
	CableID int64
	Reason  string
}

// Key returns the canonical link key the action refers to. Remove actions
// for a vanished link key on the local endpoint and the last known remote.
func (a Action) Key() LinkKey {
	return CanonicalKey(a.Local, a.Remote)
}

func (a Action) String() string {
	return fmt.Sprintf("%s %s: %s", a.Type, a.Key(), a.Reason)
}

// WarningKind classifies the non-fatal conditions accumulated per cycle.
type WarningKind string

const (
	WarningUnstable WarningKind = "unstable"
	WarningDegraded WarningKind = "degraded"
	WarningSkipped  WarningKind = "skipped"
)

// Warning records a per-interface or per-device condition that excluded
// it from this cycle's reconciliation.
type Warning struct {
	Kind   WarningKind
	Device string
	Port   string
	Reason string
}

// ChangeSet is the full set of typed actions computed for one poll cycle.
type ChangeSet struct {
	CycleID   string
	Adds      []Action
	Updates   []Action
	Removes   []Action
	Conflicts []Action
	Unchanged []Action
	Warnings  []Warning
}

// Empty reports whether the change-set carries no mutating actions.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Adds) == 0 && len(cs.Updates) == 0 && len(cs.Removes) == 0
}

// Mutations returns the actions to apply, deletions first. The fixed
// order avoids transient duplicate-cable conflicts in inventories that
// enforce uniqueness on interface pairing.
func (cs *ChangeSet) Mutations() []Action {
	out := make([]Action, 0, len(cs.Removes)+len(cs.Updates)+len(cs.Adds))
	out = append(out, cs.Removes...)
	out = append(out, cs.Updates...)
	out = append(out, cs.Adds...)

	return out
}

// ActionStatus is the per-action outcome of a reconciliation run.
type ActionStatus string

const (
	StatusApplied ActionStatus = "applied"
	StatusFailed  ActionStatus = "failed"
	StatusDryRun  ActionStatus = "dry-run"
)

// ActionResult pairs an action with its apply outcome.
type ActionResult struct {
	Action Action
	Status ActionStatus
	Err    string
}

// CycleSummary is the end-of-cycle report.
type CycleSummary struct {
	CycleID    string
	Devices    int
	Degraded   int
	Links      int
	Applied    int
	Failed     int
	Conflicts  int
	Unstable   int
	DryRun     bool
	StartedAt  string
	FinishedAt string
	Results    []ActionResult
}
