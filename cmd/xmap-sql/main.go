// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xmap-sql inspects the acquisition values snapshots stored in the
// settings database.
//
// Usage:
//
//	$> xmap-sql -cfg ./xmap.yaml -init
//	$> xmap-sql -cfg ./xmap.yaml
//	$> xmap-sql -cfg ./xmap.yaml -chan 2
package main // import "github.com/xiallc/Handel-Releases-sub004/cmd/xmap-sql"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/xiallc/Handel-Releases-sub004/internal/xsys"
	"github.com/xiallc/Handel-Releases-sub004/settingsdb"
)

func main() {
	log.SetPrefix("xmap-sql: ")
	log.SetFlags(0)

	var (
		fname   = flag.String("cfg", "", "path to the xMAP system configuration file")
		detChan = flag.Int("chan", -1, "detector channel to inspect (-1: all channels)")
		doInit  = flag.Bool("init", false, "create the snapshot tables")
	)

	flag.Parse()

	cfg, err := xsys.Load(*fname)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}

	db, err := cfg.Store()
	if err != nil {
		log.Fatalf("could not open settings db: %+v", err)
	}
	if db == nil {
		log.Fatalf("no settings db configured (db.addr or %sDB_ADDR)", xsys.EnvPrefix)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if *doInit {
		err = db.Init(ctx)
		if err != nil {
			log.Fatalf("could not create tables: %+v", err)
		}
	}

	err = doQuery(ctx, db, *detChan, os.Stdout)
	if err != nil {
		log.Fatalf("could not do query: %+v", err)
	}
}

func doQuery(ctx context.Context, db *settingsdb.DB, detChan int, w io.Writer) error {
	err := listSnapshots(ctx, db, detChan, w)
	if err != nil {
		return err
	}
	if detChan < 0 {
		return nil
	}
	return showLatest(ctx, db, detChan, w)
}

func listSnapshots(ctx context.Context, db *settingsdb.DB, detChan int, w io.Writer) error {
	snaps, err := db.Snapshots(ctx, detChan)
	if err != nil {
		return fmt.Errorf("could not list snapshots: %w", err)
	}
	fmt.Fprintf(w, "snapshots: %d\n", len(snaps))
	for i, snap := range snaps {
		fmt.Fprintf(w, "row[%d]: chan=%03d id=%s created=%s\n",
			i, snap.DetChan, snap.ID, snap.Created.UTC().Format(time.RFC3339),
		)
	}
	return nil
}

func showLatest(ctx context.Context, db *settingsdb.DB, detChan int, w io.Writer) error {
	entries, err := db.Load(ctx, detChan)
	switch {
	case errors.Is(err, settingsdb.ErrNoSnapshot):
		fmt.Fprintf(w, "chan=%03d: no snapshot\n", detChan)
		return nil
	case err != nil:
		return fmt.Errorf("could not load latest snapshot of chan=%d: %w", detChan, err)
	}

	fmt.Fprintf(w, "chan=%03d: %d values\n", detChan, len(entries))
	for _, e := range entries {
		fmt.Fprintf(w, ">>> %-24s %v\n", e.Name, e.Value)
	}
	return nil
}
