package sqlengine

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/sqlengine/internal/adapters"
)

var borrowerColumns = []any{"user_id", "blacklisted", "expires_at", "version"}

func scanBorrowerStatus(rows adapters.DBRows) (lending.BorrowerStatus, error) {
	var (
		b         lending.BorrowerStatus
		expiresAt sql.NullTime
	)

	if err := rows.Scan(&b.UserID, &b.Blacklisted, &expiresAt, &b.Version); err != nil {
		return lending.BorrowerStatus{}, err
	}

	b.ExpiresAt = timePtr(expiresAt)

	return b, nil
}

// BorrowerStatus loads the sanction state of a user. Users without a row get one, so that
// every later write can compare-and-set the same row and serialize per borrower.
func (tx *Tx) BorrowerStatus(ctx context.Context, userID uuid.UUID) (lending.BorrowerStatus, error) {
	insert := tx.builder().
		Insert(tableBorrowers).
		Rows(goqu.Record{"user_id": userID, "blacklisted": false, "version": 0}).
		OnConflict(goqu.DoNothing()).
		Prepared(true)

	if _, err := tx.exec(ctx, "ensure_borrower_status", insert); err != nil {
		return lending.BorrowerStatus{}, err
	}

	stmt := tx.builder().
		From(tableBorrowers).
		Select(borrowerColumns...).
		Where(goqu.C("user_id").Eq(userID)).
		Prepared(true)

	var found []lending.BorrowerStatus
	if err := tx.query(ctx, "select_borrower_status", stmt, collect(scanBorrowerStatus, &found)); err != nil {
		return lending.BorrowerStatus{}, err
	}

	if len(found) == 0 {
		return lending.BorrowerStatus{UserID: userID}, lending.ErrConcurrencyConflict
	}

	return found[0], nil
}

// SaveBorrowerStatus writes updated if the row still has the version of current.
func (tx *Tx) SaveBorrowerStatus(ctx context.Context, current, updated lending.BorrowerStatus) (lending.BorrowerStatus, error) {
	stmt := tx.builder().
		Update(tableBorrowers).
		Set(goqu.Record{
			"blacklisted": updated.Blacklisted,
			"expires_at":  storedTimePtr(updated.ExpiresAt),
			"version":     current.Version + 1,
		}).
		Where(
			goqu.C("user_id").Eq(current.UserID),
			goqu.C("version").Eq(current.Version),
		).
		Prepared(true)

	if err := tx.execCAS(ctx, "update_borrower_status", tableBorrowers, stmt); err != nil {
		return current, err
	}

	updated.Version = current.Version + 1

	return updated, nil
}

// BorrowerStatus reads the sanction state of a user without creating a row.
func (s *Store) BorrowerStatus(ctx context.Context, userID uuid.UUID) (lending.BorrowerStatus, error) {
	stmt := s.builder.
		From(tableBorrowers).
		Select(borrowerColumns...).
		Where(goqu.C("user_id").Eq(userID)).
		Prepared(true)

	var found []lending.BorrowerStatus
	if err := s.query(ctx, s.db, "select_borrower_status", stmt, collect(scanBorrowerStatus, &found)); err != nil {
		return lending.BorrowerStatus{}, err
	}

	if len(found) == 0 {
		return lending.BorrowerStatus{UserID: userID}, nil
	}

	return found[0], nil
}

// ExpiredBans lists users still flagged as blacklisted whose ban ended at or before now.
func (s *Store) ExpiredBans(ctx context.Context, now time.Time) ([]lending.BorrowerStatus, error) {
	stmt := s.builder.
		From(tableBorrowers).
		Select(borrowerColumns...).
		Where(
			goqu.C("blacklisted").IsTrue(),
			goqu.Or(
				goqu.C("expires_at").IsNull(),
				goqu.C("expires_at").Lte(lending.ToStoredTime(now)),
			),
		).
		Order(goqu.C("user_id").Asc()).
		Prepared(true)

	var found []lending.BorrowerStatus
	if err := s.query(ctx, s.db, "select_expired_bans", stmt, collect(scanBorrowerStatus, &found)); err != nil {
		return nil, err
	}

	return found, nil
}
