// Copyright 2025 Tom Barlow
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

package poolmanager

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	hkerrors "github.com/tombee/hostkeeper/pkg/errors"
)

// Lease is a row of the pool lease table.
type Lease struct {
	PoolID    string    `json:"pool_id"`
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StoreConfig contains SQLite connection configuration.
type StoreConfig struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode so several daemons on one host
	// can read while one renews.
	WAL bool
}

// Store persists pool leases in SQLite. One row per pool; the owner
// column holds the instance ID of the daemon that manages the pool.
type Store struct {
	db *sql.DB
}

// OpenStore opens the lease database, creating and migrating it as needed.
func OpenStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, hkerrors.Wrap(err, "failed to create database directory")
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, hkerrors.Wrap(err, "failed to open database")
	}

	// SQLite serializes writes, so only 1 connection for writes
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, hkerrors.Wrap(err, "failed to connect to database")
	}

	s := &Store{db: db}

	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, hkerrors.Wrap(err, "failed to configure pragmas")
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, hkerrors.Wrap(err, "failed to run migrations")
	}

	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",  // 5 second timeout for lock contention
		"PRAGMA synchronous=NORMAL", // Balance between performance and durability
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return hkerrors.Wrapf(err, "failed to execute %s", pragma)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS pool_leases (
			pool_id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pool_leases_owner ON pool_leases(owner)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return hkerrors.Wrap(err, "migration failed")
		}
	}
	return nil
}

// Acquire takes or renews the lease on poolID for owner until now+ttl.
// It reports false when another owner holds an unexpired lease.
func (s *Store) Acquire(ctx context.Context, poolID, owner string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pool_leases (pool_id, owner, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(pool_id) DO UPDATE SET
			owner = excluded.owner,
			expires_at = excluded.expires_at
		WHERE pool_leases.owner = excluded.owner OR pool_leases.expires_at <= ?
	`, poolID, owner, now.Add(ttl).UnixNano(), now.UnixNano())
	if err != nil {
		return false, hkerrors.Wrapf(err, "failed to acquire lease on %s", poolID)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, hkerrors.Wrap(err, "failed to read acquire result")
	}
	return n == 1, nil
}

// Release drops owner's lease on poolID. It reports false when owner did
// not hold it.
func (s *Store) Release(ctx context.Context, poolID, owner string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pool_leases WHERE pool_id = ? AND owner = ?`, poolID, owner)
	if err != nil {
		return false, hkerrors.Wrapf(err, "failed to release lease on %s", poolID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, hkerrors.Wrap(err, "failed to read release result")
	}
	return n == 1, nil
}

// ReleaseAll drops every lease held by owner.
func (s *Store) ReleaseAll(ctx context.Context, owner string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pool_leases WHERE owner = ?`, owner)
	if err != nil {
		return 0, hkerrors.Wrap(err, "failed to release leases")
	}
	return res.RowsAffected()
}

// Leases lists all lease rows ordered by pool ID.
func (s *Store) Leases(ctx context.Context) ([]Lease, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pool_id, owner, expires_at FROM pool_leases ORDER BY pool_id`)
	if err != nil {
		return nil, hkerrors.Wrap(err, "failed to list leases")
	}
	defer rows.Close()

	var leases []Lease
	for rows.Next() {
		var l Lease
		var expires int64
		if err := rows.Scan(&l.PoolID, &l.Owner, &expires); err != nil {
			return nil, hkerrors.Wrap(err, "failed to scan lease")
		}
		l.ExpiresAt = time.Unix(0, expires)
		leases = append(leases, l)
	}
	return leases, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
