// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package settingsdb stores snapshots of the acquisition values of xMAP
// detector channels in a MySQL database.
package settingsdb // import "github.com/xiallc/Handel-Releases-sub004/settingsdb"

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/xiallc/Handel-Releases-sub004/xmap"
)

var (
	drvName = "mysql"

	// ErrNoSnapshot reports that no snapshot was found.
	ErrNoSnapshot = errors.New("settingsdb: no snapshot")

	timeout = 5 * time.Second
)

// Schema creates the tables holding the snapshots.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS snapshots (
	id       CHAR(36)    NOT NULL PRIMARY KEY,
	det_chan INT         NOT NULL,
	created  DATETIME(6) NOT NULL,
	INDEX (det_chan, created)
)`,
	`CREATE TABLE IF NOT EXISTS snapshot_values (
	snapshot CHAR(36)    NOT NULL,
	idx      INT         NOT NULL,
	name     VARCHAR(64) NOT NULL,
	value    DOUBLE      NOT NULL,
	PRIMARY KEY (snapshot, idx)
)`,
}

// Snapshot describes a saved set of acquisition values.
type Snapshot struct {
	ID      string
	DetChan int
	Created time.Time
}

// DB exposes convenience methods to save and retrieve acquisition values
// snapshots.
type DB struct {
	db   *sql.DB
	name string

	now func() time.Time
}

// DSN returns the MySQL data source name for the given credentials.
func DSN(usr, pwd, addr, dbname string) string {
	cfg := mysql.NewConfig()
	cfg.User = usr
	cfg.Passwd = pwd
	cfg.Net = "tcp"
	cfg.Addr = addr
	cfg.DBName = dbname
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// Open opens a connection to the settings database described by dsn.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("settingsdb: could not open db: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("settingsdb: could not ping db: %w", err)
	}

	o := New(db)
	o.name = dsn
	if cfg, err := mysql.ParseDSN(dsn); err == nil {
		o.name = cfg.DBName
	}
	return o, nil
}

// New wraps an opened database handle.
func New(db *sql.DB) *DB {
	return &DB{db: db, name: "settingsdb", now: time.Now}
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Init creates the snapshot tables if needed.
func (db *DB) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, stmt := range Schema {
		_, err := db.db.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("settingsdb: could not create tables in %q: %w", db.name, err)
		}
	}
	return nil
}

// Save stores the acquisition values of detector channel detChan and
// returns the identifier of the new snapshot.
func (db *DB) Save(ctx context.Context, detChan int, entries []xmap.Entry) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := uuid.New().String()

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("settingsdb: could not start transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(
		ctx,
		"INSERT INTO snapshots (id, det_chan, created) VALUES (?, ?, ?)",
		id, detChan, db.now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("settingsdb: could not insert snapshot for detChan=%d: %w", detChan, err)
	}

	for i, e := range entries {
		_, err = tx.ExecContext(
			ctx,
			"INSERT INTO snapshot_values (snapshot, idx, name, value) VALUES (?, ?, ?, ?)",
			id, i, e.Name, e.Value,
		)
		if err != nil {
			return "", fmt.Errorf("settingsdb: could not insert value %q for detChan=%d: %w", e.Name, detChan, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return "", fmt.Errorf("settingsdb: could not commit snapshot for detChan=%d: %w", detChan, err)
	}

	return id, nil
}

// Load returns the acquisition values of the latest snapshot of detector
// channel detChan, in the order they were saved.
func (db *DB) Load(ctx context.Context, detChan int) ([]xmap.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT snapshot_values.name, snapshot_values.value FROM snapshot_values
WHERE snapshot_values.snapshot = (
	SELECT id FROM snapshots WHERE det_chan=? ORDER BY created DESC LIMIT 1
)
ORDER BY snapshot_values.idx
`,
		detChan,
	)
	if err != nil {
		return nil, fmt.Errorf("settingsdb: could not query snapshot for detChan=%d: %w", detChan, err)
	}
	defer rows.Close()

	var entries []xmap.Entry
	for rows.Next() {
		var e xmap.Entry
		err = rows.Scan(&e.Name, &e.Value)
		if err != nil {
			return nil, fmt.Errorf("settingsdb: could not scan value %d for detChan=%d: %w", len(entries), detChan, err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settingsdb: could not scan db for detChan=%d: %w", detChan, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("settingsdb: context error while retrieving detChan=%d: %w", detChan, err)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("settingsdb: detChan=%d: %w", detChan, ErrNoSnapshot)
	}

	return entries, nil
}

// Snapshots lists the snapshots of detector channel detChan, most recent
// first. A negative detChan lists the snapshots of all channels.
func (db *DB) Snapshots(ctx context.Context, detChan int) ([]Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		rows *sql.Rows
		err  error
	)
	switch {
	case detChan < 0:
		rows, err = db.db.QueryContext(
			ctx,
			"SELECT id, det_chan, created FROM snapshots ORDER BY created DESC",
		)
	default:
		rows, err = db.db.QueryContext(
			ctx,
			"SELECT id, det_chan, created FROM snapshots WHERE det_chan=? ORDER BY created DESC",
			detChan,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("settingsdb: could not query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var snap Snapshot
		err = rows.Scan(&snap.ID, &snap.DetChan, &snap.Created)
		if err != nil {
			return nil, fmt.Errorf("settingsdb: could not scan snapshot %d: %w", len(snaps), err)
		}
		snaps = append(snaps, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settingsdb: could not scan db for snapshots: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("settingsdb: context error while retrieving snapshots: %w", err)
	}

	return snaps, nil
}

var (
	_ xmap.Store = (*DB)(nil)
)
