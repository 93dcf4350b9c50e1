// Package sqlite keeps an on-disk audit trail next to the volatile Redis
// state: one catalog snapshot per refresh and periodic option chain
// snapshots. Redis holds only the latest value of everything, so this is the
// only place history survives a restart.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pramakrishn/express-option-chain/internal/model"
)

// Config configures the archive database.
type Config struct {
	DBPath string // path to the SQLite file, e.g. "data/chains.db"
}

// Archive is a single-writer SQLite store for catalog and chain snapshots.
type Archive struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (a *Archive) DB() *sql.DB { return a.db }

// New opens the archive database in WAL mode and creates the schema.
func New(cfg Config) (*Archive, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened archive at %s", cfg.DBPath)
	return &Archive{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS catalog_snapshots (
			fetched_at INTEGER NOT NULL,
			symbol     TEXT    NOT NULL,
			expiry     TEXT    NOT NULL,
			contracts  TEXT    NOT NULL,
			PRIMARY KEY (fetched_at, symbol, expiry)
		);

		CREATE TABLE IF NOT EXISTS chain_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT    NOT NULL,
			expiry     TEXT    NOT NULL,
			chain      TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chain_snapshots_symbol
			ON chain_snapshots (symbol, created_at);
	`)
	return err
}

// ArchiveCatalog stores one row per symbol and expiry of a refreshed catalog,
// all under the same fetch timestamp, in one transaction.
func (a *Archive) ArchiveCatalog(ctx context.Context, fetchedAt time.Time, index map[string]map[string][]model.Instrument) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO catalog_snapshots (fetched_at, symbol, expiry, contracts)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	ts := fetchedAt.Unix()
	for symbol, expiries := range index {
		for expiry, contracts := range expiries {
			data, err := json.Marshal(contracts)
			if err != nil {
				return fmt.Errorf("sqlite marshal %s %s: %w", symbol, expiry, err)
			}
			if _, err := stmt.ExecContext(ctx, ts, symbol, expiry, string(data)); err != nil {
				return fmt.Errorf("sqlite insert: %w", err)
			}
		}
	}
	return tx.Commit()
}

// SnapshotChain journals one aggregated chain for one expiry.
func (a *Archive) SnapshotChain(ctx context.Context, symbol, expiry string, chain *model.OptionChain) error {
	data, err := json.Marshal(chain)
	if err != nil {
		return fmt.Errorf("sqlite marshal chain: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO chain_snapshots (symbol, expiry, chain, created_at)
		VALUES (?, ?, ?, ?)`,
		symbol, expiry, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite insert chain: %w", err)
	}
	return nil
}

// ChainHistory returns up to limit chain snapshots for a symbol, newest
// first.
func (a *Archive) ChainHistory(ctx context.Context, symbol string, limit int) ([]*model.OptionChain, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT chain FROM chain_snapshots
		WHERE symbol = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query: %w", err)
	}
	defer rows.Close()

	var out []*model.OptionChain
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		var c model.OptionChain
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("sqlite unmarshal chain: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// LatestCatalogTime returns the fetch time of the most recent archived
// catalog, or zero time if none exists.
func (a *Archive) LatestCatalogTime(ctx context.Context) (time.Time, error) {
	var ts sql.NullInt64
	err := a.db.QueryRowContext(ctx,
		`SELECT MAX(fetched_at) FROM catalog_snapshots`).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite query: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0), nil
}

// Close closes the database.
func (a *Archive) Close() error { return a.db.Close() }
