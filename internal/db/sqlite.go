// Package db opens the SQLite metadata store and applies its migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// Mode selects how a pool is tuned.
type Mode string

// Pool modes. Write pools hold a single connection and take the write lock
// at BEGIN; read pools allow parallel readers against the WAL.
const (
	ModeWrite Mode = "write"
	ModeRead  Mode = "read"
)

const (
	busyTimeoutMillis = "5000"
	synchronous       = "NORMAL"
	journalMode       = "WAL"
	defaultReadConns  = 4
	pingTimeout       = 5 * time.Second
)

// Open returns a pool for the SQLite file at path tuned for mode. readConns
// only applies to read pools; zero or less selects the default.
func Open(path string, mode Mode, readConns int) (*sql.DB, error) {
	if mode != ModeRead && mode != ModeWrite {
		return nil, fmt.Errorf("invalid SQLite mode %q: must be %q or %q", mode, ModeRead, ModeWrite)
	}

	db, err := sql.Open("sqlite3", dsn(path, mode))
	if err != nil {
		return nil, fmt.Errorf("open sqlite (%s): %w", mode, err)
	}

	conns := 1
	if mode == ModeRead {
		conns = readConns
		if conns <= 0 {
			conns = defaultReadConns
		}
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite (%s): %w", mode, err)
	}
	return db, nil
}

// Pools is a write/read pool pair over one SQLite file.
type Pools struct {
	Write *sql.DB
	Read  *sql.DB
}

// OpenPools opens the write pool, then the read pool. Either failing closes
// whatever was opened.
func OpenPools(path string, readConns int) (*Pools, error) {
	w, err := Open(path, ModeWrite, 0)
	if err != nil {
		return nil, err
	}
	r, err := Open(path, ModeRead, readConns)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return &Pools{Write: w, Read: r}, nil
}

// Close closes both pools.
func (p *Pools) Close() error {
	rerr := p.Read.Close()
	if werr := p.Write.Close(); werr != nil {
		return werr
	}
	return rerr
}

func dsn(path string, mode Mode) string {
	q := url.Values{}
	q.Set("_journal_mode", journalMode)
	q.Set("_busy_timeout", busyTimeoutMillis)
	q.Set("_synchronous", synchronous)
	q.Set("_foreign_keys", "on")
	if mode == ModeWrite {
		q.Set("_txlock", "immediate")
	}
	return path + "?" + q.Encode()
}
