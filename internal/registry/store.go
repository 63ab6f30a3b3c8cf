package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// store is the cross-restart persistence layer for the registry, grounded
// on the teacher's internal/store.Store: same WithTx wrapper, same
// sqlite driver, PRAGMA foreign_keys, WAL journal mode.
type store struct {
	db *sql.DB
}

func openStore(ctx context.Context, dbPath string) (*store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // single-writer cache; the registry is already single-flighted by its own lock
	s := &store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *store) close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *store) withTx(ctx context.Context, readOnly bool, fn func(tx *sql.Tx) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("registry store not initialized")
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *store) migrate(ctx context.Context) error {
	return s.withTx(ctx, false, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS remote_printers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			device_uri TEXT NOT NULL DEFAULT '',
			cups_queue INTEGER NOT NULL DEFAULT 0,
			cluster INTEGER NOT NULL DEFAULT 0,
			master_id TEXT NOT NULL DEFAULT '',
			make_model TEXT NOT NULL DEFAULT '',
			formats TEXT NOT NULL DEFAULT '',
			color INTEGER NOT NULL DEFAULT 0,
			duplex INTEGER NOT NULL DEFAULT 0,
			location TEXT NOT NULL DEFAULT '',
			option_defaults TEXT NOT NULL DEFAULT '{}',
			updated_at DATETIME NOT NULL
		)`)
		return err
	})
}

func (s *store) saveEntry(ctx context.Context, e *Entry) error {
	optsJSON, err := json.Marshal(e.OptionDefaults)
	if err != nil {
		return err
	}
	return s.withTx(ctx, false, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO remote_printers
			(id, name, device_uri, cups_queue, cluster, master_id, make_model, formats, color, duplex, location, option_defaults, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name=excluded.name, device_uri=excluded.device_uri, cups_queue=excluded.cups_queue,
				cluster=excluded.cluster, master_id=excluded.master_id, make_model=excluded.make_model,
				formats=excluded.formats, color=excluded.color, duplex=excluded.duplex,
				location=excluded.location, option_defaults=excluded.option_defaults, updated_at=excluded.updated_at`,
			e.ID, e.Name, e.DeviceURI, boolInt(e.CupsQueue), boolInt(e.Cluster), e.MasterID,
			e.Hints.MakeModel, strings.Join(e.Hints.Formats, ","), boolInt(e.Hints.Color), boolInt(e.Hints.Duplex),
			e.Hints.Location, string(optsJSON), time.Now().UTC())
		return err
	})
}

func (s *store) deleteEntry(ctx context.Context, id string) error {
	return s.withTx(ctx, false, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM remote_printers WHERE id = ?`, id)
		return err
	})
}

func (s *store) loadEntries(ctx context.Context) ([]*Entry, error) {
	var out []*Entry
	err := s.withTx(ctx, true, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id, name, device_uri, cups_queue, cluster, master_id,
			make_model, formats, color, duplex, location, option_defaults FROM remote_printers`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				id, name, uri, masterID, makeModel, formats, location, optsJSON string
				cupsQueue, cluster, color, duplex                               int
			)
			if err := rows.Scan(&id, &name, &uri, &cupsQueue, &cluster, &masterID,
				&makeModel, &formats, &color, &duplex, &location, &optsJSON); err != nil {
				return err
			}
			e := newEntry(id, name, uri)
			e.CupsQueue = cupsQueue != 0
			e.Cluster = cluster != 0
			e.MasterID = masterID
			e.Hints = CapabilityHints{
				MakeModel: makeModel,
				Formats:   splitNonEmpty(formats, ","),
				Color:     color != 0,
				Duplex:    duplex != 0,
				Location:  location,
			}
			if optsJSON != "" {
				_ = json.Unmarshal([]byte(optsJSON), &e.OptionDefaults)
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
