package sqlengine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"

	"github.com/schoollibrary/lendingengine/lending"
)

// Table names.
const (
	tableMaterials    = "materials"
	tableDevices      = "devices"
	tableLoans        = "loans"
	tableDeviceLoans  = "device_loans"
	tableWaitlist     = "waitlist_entries"
	tableBorrowers    = "borrower_status"
	tableBlacklistLog = "blacklist_log"
	tableSettings     = "settings"
	tableEvents       = "lending_events"
)

// ErrMigrationFailed is returned when a schema statement cannot be applied.
var ErrMigrationFailed = errors.New("schema migration failed")

type columnTypes struct {
	id        string
	timestamp string
	json      string
	boolean   string
	sequence  string
}

func (s *Store) columnTypes() columnTypes {
	if s.dialect == DialectSQLite {
		return columnTypes{
			id:        "TEXT",
			timestamp: "TIMESTAMP",
			json:      "TEXT",
			boolean:   "BOOLEAN",
			sequence:  "INTEGER PRIMARY KEY AUTOINCREMENT",
		}
	}

	return columnTypes{
		id:        "UUID",
		timestamp: "TIMESTAMPTZ",
		json:      "JSONB",
		boolean:   "BOOLEAN",
		sequence:  "BIGSERIAL PRIMARY KEY",
	}
}

// schemaStatements returns the DDL for the dialect of the store. Every statement is idempotent.
func (s *Store) schemaStatements() []string {
	t := s.columnTypes()

	r := strings.NewReplacer(
		"{id}", t.id,
		"{ts}", t.timestamp,
		"{json}", t.json,
		"{bool}", t.boolean,
		"{seq}", t.sequence,
	)

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS materials (
			id {id} PRIMARY KEY,
			copies_total INTEGER NOT NULL CHECK (copies_total >= 0),
			copies_available INTEGER NOT NULL CHECK (copies_available >= 0 AND copies_available <= copies_total),
			version BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS devices (
			id {id} PRIMARY KEY,
			name TEXT NOT NULL,
			available {bool} NOT NULL,
			version BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS loans (
			id {id} PRIMARY KEY,
			material_id {id} NOT NULL,
			borrower_id {id} NOT NULL,
			reservation_code TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			class_id {id},
			participant_ids {json},
			copies INTEGER NOT NULL CHECK (copies > 0),
			state TEXT NOT NULL,
			reserved_at {ts} NOT NULL,
			due_at {ts} NOT NULL,
			picked_up_at {ts},
			returned_at {ts},
			cancelled_at {ts},
			handled_by {id},
			version BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS loans_borrower_state_idx ON loans (borrower_id, state)`,
		`CREATE INDEX IF NOT EXISTS loans_material_state_idx ON loans (material_id, state)`,
		`CREATE INDEX IF NOT EXISTS loans_state_due_idx ON loans (state, due_at)`,
		`CREATE TABLE IF NOT EXISTS device_loans (
			id {id} PRIMARY KEY,
			device_id {id} NOT NULL,
			borrower_id {id} NOT NULL,
			state TEXT NOT NULL,
			loaned_at {ts} NOT NULL,
			due_at {ts} NOT NULL,
			returned_at {ts},
			handled_by {id},
			version BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS device_loans_device_state_idx ON device_loans (device_id, state)`,
		`CREATE TABLE IF NOT EXISTS waitlist_entries (
			id {id} PRIMARY KEY,
			material_id {id} NOT NULL,
			requester_id {id} NOT NULL,
			requested_at {ts} NOT NULL,
			notified {bool} NOT NULL DEFAULT FALSE,
			notified_at {ts}
		)`,
		`CREATE INDEX IF NOT EXISTS waitlist_material_idx ON waitlist_entries (material_id, notified, requested_at)`,
		`CREATE TABLE IF NOT EXISTS borrower_status (
			user_id {id} PRIMARY KEY,
			blacklisted {bool} NOT NULL DEFAULT FALSE,
			expires_at {ts},
			version BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS blacklist_log (
			id {id} PRIMARY KEY,
			user_id {id} NOT NULL,
			reason TEXT NOT NULL,
			expires_at {ts} NOT NULL,
			triggering_loan_id {id} NOT NULL,
			created_at {ts} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS blacklist_log_user_idx ON blacklist_log (user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS settings (
			setting_key TEXT PRIMARY KEY,
			setting_value INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS lending_events (
			sequence_number {seq},
			event_type TEXT NOT NULL,
			occurred_at {ts} NOT NULL,
			subject_id {id},
			borrower_id {id},
			attributes {json} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS lending_events_type_idx ON lending_events (event_type)`,
		`CREATE INDEX IF NOT EXISTS lending_events_subject_idx ON lending_events (subject_id)`,
	}

	for i, stmt := range stmts {
		stmts[i] = r.Replace(stmt)
	}

	return stmts
}

// Migrate creates all tables and indexes if they do not exist yet and seeds the default settings.
// It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := s.schemaStatements()

	err := s.RunInTx(ctx, "migrate", func(ctx context.Context, tx *Tx) error {
		for i, stmt := range stmts {
			if _, execErr := tx.db.Exec(ctx, stmt); execErr != nil {
				s.logError(ctx, logMsgStatementFailed, execErr, logAttrAction, "migrate", logAttrQuery, stmt)
				return errors.Join(ErrMigrationFailed, fmt.Errorf("statement %d: %w", i, execErr))
			}
		}

		return tx.seedSettings(ctx, lending.DefaultSettings())
	})
	if err != nil {
		return err
	}

	s.logOperation(ctx, logMsgSchemaMigrated, logAttrDialect, string(s.dialect), logAttrStatements, len(stmts))

	return nil
}

// seedSettings inserts the given values for keys that are not stored yet.
func (tx *Tx) seedSettings(ctx context.Context, settings lending.Settings) error {
	values := settings.Values()
	rows := make([]goqu.Record, 0, len(values))

	for _, key := range lending.SettingKeys() {
		rows = append(rows, goqu.Record{"setting_key": key, "setting_value": values[key]})
	}

	stmt := tx.builder().
		Insert(tableSettings).
		Rows(rows).
		OnConflict(goqu.DoNothing()).
		Prepared(true)

	_, err := tx.exec(ctx, "seed_settings", stmt)

	return err
}
