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

// Package state persists the last-known-good snapshot per (device,
// interface) across runs. Concurrent processes against the same store
// are not supported; single-writer discipline is operational.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cablesync/cablesync/pkg/models"
)

// SnapshotEntry is the persisted last-known-good link for one interface.
type SnapshotEntry struct {
	Device          string
	Interface       string
	RemoteDevice    string
	RemoteInterface string
	// CableID is the engine-owned inventory cable record, 0 when the
	// engine has not created one (e.g. the link matched a manual cable).
	CableID     int64
	ConfirmedAt time.Time
	RunID       string
}

// Local returns the entry's local endpoint.
func (e SnapshotEntry) Local() models.Endpoint {
	return models.Endpoint{Device: e.Device, Interface: e.Interface}
}

// Remote returns the entry's remote endpoint.
func (e SnapshotEntry) Remote() models.Endpoint {
	return models.Endpoint{Device: e.RemoteDevice, Interface: e.RemoteInterface}
}

// Store is the persistence surface the diff engine reads and the
// reconciliation driver writes.
type Store interface {
	Get(ctx context.Context, device, iface string) (*SnapshotEntry, error)
	All(ctx context.Context) ([]SnapshotEntry, error)
	Upsert(ctx context.Context, entry SnapshotEntry) error
	Delete(ctx context.Context, device, iface string) error
	RecordRun(ctx context.Context, summary *models.CycleSummary) error
	Close() error
}

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if necessary) the store at path. Failure here is
// fatal to the run: no cycle may proceed without a trustworthy snapshot.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate state store: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshot_entries (
		device TEXT NOT NULL,
		interface TEXT NOT NULL,
		remote_device TEXT NOT NULL,
		remote_interface TEXT NOT NULL,
		cable_id INTEGER NOT NULL DEFAULT 0,
		confirmed_at TEXT NOT NULL,
		run_id TEXT NOT NULL,
		PRIMARY KEY (device, interface)
	);

	CREATE TABLE IF NOT EXISTS run_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		run_at TEXT NOT NULL,
		devices INTEGER NOT NULL,
		degraded INTEGER NOT NULL,
		links INTEGER NOT NULL,
		applied INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		conflicts INTEGER NOT NULL,
		unstable INTEGER NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_snapshot_remote ON snapshot_entries(remote_device, remote_interface);
	`

	_, err := s.db.Exec(schema)

	return err
}

// Get returns the entry for one interface, or nil when none exists.
func (s *SQLiteStore) Get(ctx context.Context, device, iface string) (*SnapshotEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT device, interface, remote_device, remote_interface, cable_id, confirmed_at, run_id
		FROM snapshot_entries WHERE device = ? AND interface = ?`, device, iface)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("get snapshot entry: %w", err)
	}

	return entry, nil
}

// All returns every persisted entry; the diff engine reads this once per
// cycle before any of the cycle's writes.
func (s *SQLiteStore) All(ctx context.Context) ([]SnapshotEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device, interface, remote_device, remote_interface, cable_id, confirmed_at, run_id
		FROM snapshot_entries`)
	if err != nil {
		return nil, fmt.Errorf("read snapshot entries: %w", err)
	}
	defer rows.Close()

	var entries []SnapshotEntry

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot entry: %w", err)
		}

		entries = append(entries, *entry)
	}

	return entries, rows.Err()
}

// Upsert writes the confirmed snapshot for one interface.
func (s *SQLiteStore) Upsert(ctx context.Context, entry SnapshotEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshot_entries (device, interface, remote_device, remote_interface, cable_id, confirmed_at, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device, interface) DO UPDATE SET
			remote_device = excluded.remote_device,
			remote_interface = excluded.remote_interface,
			cable_id = excluded.cable_id,
			confirmed_at = excluded.confirmed_at,
			run_id = excluded.run_id`,
		entry.Device, entry.Interface, entry.RemoteDevice, entry.RemoteInterface,
		entry.CableID, entry.ConfirmedAt.UTC().Format(time.RFC3339), entry.RunID)
	if err != nil {
		return fmt.Errorf("upsert snapshot entry %s:%s: %w", entry.Device, entry.Interface, err)
	}

	return nil
}

// Delete removes an entry after a confirmed link-gone transition.
func (s *SQLiteStore) Delete(ctx context.Context, device, iface string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshot_entries WHERE device = ? AND interface = ?`, device, iface)
	if err != nil {
		return fmt.Errorf("delete snapshot entry %s:%s: %w", device, iface, err)
	}

	return nil
}

// RecordRun appends a row to the run history.
func (s *SQLiteStore) RecordRun(ctx context.Context, summary *models.CycleSummary) error {
	dryRun := 0
	if summary.DryRun {
		dryRun = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_history (run_id, run_at, devices, degraded, links, applied, failed, conflicts, unstable, dry_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.CycleID, time.Now().UTC().Format(time.RFC3339),
		summary.Devices, summary.Degraded, summary.Links,
		summary.Applied, summary.Failed, summary.Conflicts, summary.Unstable, dryRun)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*SnapshotEntry, error) {
	var (
		entry       SnapshotEntry
		confirmedAt string
	)

	if err := row.Scan(&entry.Device, &entry.Interface, &entry.RemoteDevice,
		&entry.RemoteInterface, &entry.CableID, &confirmedAt, &entry.RunID); err != nil {
		return nil, err
	}

	ts, err := time.Parse(time.RFC3339, confirmedAt)
	if err != nil {
		return nil, err
	}

	entry.ConfirmedAt = ts

	return &entry, nil
}
