package sqlengine

import (
	"context"
	"database/sql"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/sqlengine/internal/adapters"
)

var waitlistColumns = []any{"id", "material_id", "requester_id", "requested_at", "notified", "notified_at"}

func scanWaitlistEntry(rows adapters.DBRows) (lending.WaitlistEntry, error) {
	var (
		w          lending.WaitlistEntry
		notifiedAt sql.NullTime
	)

	if err := rows.Scan(&w.ID, &w.MaterialID, &w.RequesterID, &w.RequestedAt, &w.Notified, &notifiedAt); err != nil {
		return lending.WaitlistEntry{}, err
	}

	w.RequestedAt = lending.ToStoredTime(w.RequestedAt)
	w.NotifiedAt = timePtr(notifiedAt)

	return w, nil
}

// HasPendingWaitlistEntry reports whether the requester already waits, un-notified, for the material.
func (tx *Tx) HasPendingWaitlistEntry(ctx context.Context, materialID, requesterID uuid.UUID) (bool, error) {
	stmt := tx.builder().
		From(tableWaitlist).
		Select(goqu.COUNT("*")).
		Where(
			goqu.C("material_id").Eq(materialID),
			goqu.C("requester_id").Eq(requesterID),
			goqu.C("notified").IsFalse(),
		).
		Prepared(true)

	var count int64
	err := tx.query(ctx, "count_pending_waitlist_entries", stmt, func(rows adapters.DBRows) error {
		return rows.Scan(&count)
	})

	return count > 0, err
}

// InsertWaitlistEntry appends an entry to the waitlist of its material.
func (tx *Tx) InsertWaitlistEntry(ctx context.Context, w lending.WaitlistEntry) error {
	stmt := tx.builder().
		Insert(tableWaitlist).
		Rows(goqu.Record{
			"id":           w.ID,
			"material_id":  w.MaterialID,
			"requester_id": w.RequesterID,
			"requested_at": lending.ToStoredTime(w.RequestedAt),
			"notified":     w.Notified,
			"notified_at":  storedTimePtr(w.NotifiedAt),
		}).
		Prepared(true)

	_, err := tx.exec(ctx, "insert_waitlist_entry", stmt)

	return err
}

// OldestPendingWaitlistEntry returns the un-notified entry that has waited longest, if any.
func (tx *Tx) OldestPendingWaitlistEntry(ctx context.Context, materialID uuid.UUID) (lending.WaitlistEntry, bool, error) {
	stmt := tx.builder().
		From(tableWaitlist).
		Select(waitlistColumns...).
		Where(
			goqu.C("material_id").Eq(materialID),
			goqu.C("notified").IsFalse(),
		).
		Order(goqu.C("requested_at").Asc(), goqu.C("id").Asc()).
		Limit(1).
		Prepared(true)

	var found []lending.WaitlistEntry
	if err := tx.query(ctx, "select_oldest_waitlist_entry", stmt, collect(scanWaitlistEntry, &found)); err != nil {
		return lending.WaitlistEntry{}, false, err
	}

	if len(found) == 0 {
		return lending.WaitlistEntry{}, false, nil
	}

	return found[0], true, nil
}

// MarkWaitlistEntryNotified flags an entry as notified. An entry is notified at most once.
func (tx *Tx) MarkWaitlistEntryNotified(ctx context.Context, w lending.WaitlistEntry) error {
	stmt := tx.builder().
		Update(tableWaitlist).
		Set(goqu.Record{
			"notified":    true,
			"notified_at": storedTimePtr(w.NotifiedAt),
		}).
		Where(
			goqu.C("id").Eq(w.ID),
			goqu.C("notified").IsFalse(),
		).
		Prepared(true)

	return tx.execCAS(ctx, "update_waitlist_entry", tableWaitlist, stmt)
}

// DeleteWaitlistForMaterial drops every entry of a material and returns how many were removed.
func (tx *Tx) DeleteWaitlistForMaterial(ctx context.Context, materialID uuid.UUID) (int64, error) {
	stmt := tx.builder().
		Delete(tableWaitlist).
		Where(goqu.C("material_id").Eq(materialID)).
		Prepared(true)

	return tx.exec(ctx, "delete_waitlist", stmt)
}

// Waitlist lists the entries of a material in service order, notified ones included.
func (s *Store) Waitlist(ctx context.Context, materialID uuid.UUID) ([]lending.WaitlistEntry, error) {
	stmt := s.builder.
		From(tableWaitlist).
		Select(waitlistColumns...).
		Where(goqu.C("material_id").Eq(materialID)).
		Order(goqu.C("requested_at").Asc(), goqu.C("id").Asc()).
		Prepared(true)

	var entries []lending.WaitlistEntry
	if err := s.query(ctx, s.db, "select_waitlist", stmt, collect(scanWaitlistEntry, &entries)); err != nil {
		return nil, err
	}

	return entries, nil
}
