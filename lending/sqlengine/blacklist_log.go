package sqlengine

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/sqlengine/internal/adapters"
)

// AppendBlacklistLog records a sanction. The log is append-only.
func (tx *Tx) AppendBlacklistLog(ctx context.Context, entry lending.BlacklistLogEntry) error {
	stmt := tx.builder().
		Insert(tableBlacklistLog).
		Rows(goqu.Record{
			"id":                 entry.ID,
			"user_id":            entry.UserID,
			"reason":             string(entry.Reason),
			"expires_at":         lending.ToStoredTime(entry.ExpiresAt),
			"triggering_loan_id": entry.TriggeringLoanID,
			"created_at":         lending.ToStoredTime(entry.CreatedAt),
		}).
		Prepared(true)

	_, err := tx.exec(ctx, "insert_blacklist_log", stmt)

	return err
}

var blacklistLogColumns = []any{"id", "user_id", "reason", "expires_at", "triggering_loan_id", "created_at"}

func scanBlacklistLogEntry(rows adapters.DBRows) (lending.BlacklistLogEntry, error) {
	var (
		e      lending.BlacklistLogEntry
		reason string
	)

	if err := rows.Scan(&e.ID, &e.UserID, &reason, &e.ExpiresAt, &e.TriggeringLoanID, &e.CreatedAt); err != nil {
		return lending.BlacklistLogEntry{}, err
	}

	e.Reason = lending.SanctionReason(reason)
	e.ExpiresAt = lending.ToStoredTime(e.ExpiresAt)
	e.CreatedAt = lending.ToStoredTime(e.CreatedAt)

	return e, nil
}

// BlacklistLog lists the sanctions of a user, oldest first.
func (s *Store) BlacklistLog(ctx context.Context, userID uuid.UUID) ([]lending.BlacklistLogEntry, error) {
	stmt := s.builder.
		From(tableBlacklistLog).
		Select(blacklistLogColumns...).
		Where(goqu.C("user_id").Eq(userID)).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).
		Prepared(true)

	var entries []lending.BlacklistLogEntry
	if err := s.query(ctx, s.db, "select_blacklist_log", stmt, collect(scanBlacklistLogEntry, &entries)); err != nil {
		return nil, err
	}

	return entries, nil
}

// ActiveBans lists the users banned at now, the ban ending last first, each with its latest sanction.
func (s *Store) ActiveBans(ctx context.Context, now time.Time) ([]lending.ActiveBan, error) {
	stmt := s.builder.
		From(tableBorrowers).
		Select(borrowerColumns...).
		Where(
			goqu.C("blacklisted").IsTrue(),
			goqu.C("expires_at").Gt(lending.ToStoredTime(now)),
		).
		Order(goqu.C("expires_at").Desc(), goqu.C("user_id").Asc()).
		Prepared(true)

	var banned []lending.BorrowerStatus
	if err := s.query(ctx, s.db, "select_active_bans", stmt, collect(scanBorrowerStatus, &banned)); err != nil {
		return nil, err
	}

	if len(banned) == 0 {
		return nil, nil
	}

	userIDs := make([]uuid.UUID, 0, len(banned))
	for _, status := range banned {
		userIDs = append(userIDs, status.UserID)
	}

	logStmt := s.builder.
		From(tableBlacklistLog).
		Select(blacklistLogColumns...).
		Where(goqu.C("user_id").In(userIDs)).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).
		Prepared(true)

	latest := make(map[uuid.UUID]lending.BlacklistLogEntry, len(banned))
	err := s.query(ctx, s.db, "select_active_ban_sanctions", logStmt, func(rows adapters.DBRows) error {
		entry, err := scanBlacklistLogEntry(rows)
		if err != nil {
			return err
		}

		latest[entry.UserID] = entry

		return nil
	})
	if err != nil {
		return nil, err
	}

	bans := make([]lending.ActiveBan, 0, len(banned))
	for _, status := range banned {
		ban := lending.ActiveBan{Status: status}
		if entry, ok := latest[status.UserID]; ok {
			ban.Sanction = &entry
		}

		bans = append(bans, ban)
	}

	return bans, nil
}
