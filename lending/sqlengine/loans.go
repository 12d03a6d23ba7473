package sqlengine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/sqlengine/internal/adapters"
)

var loanColumns = []any{
	"id", "material_id", "borrower_id", "reservation_code", "kind", "class_id", "participant_ids", "copies",
	"state", "reserved_at", "due_at", "picked_up_at", "returned_at", "cancelled_at", "handled_by", "version",
}

var holdingStates = []string{string(lending.LoanStateReserved), string(lending.LoanStatePickedUp)}

func scanLoan(rows adapters.DBRows) (lending.Loan, error) {
	var (
		l            lending.Loan
		kind, state  string
		classID      uuid.NullUUID
		participants sql.NullString
		pickedUpAt   sql.NullTime
		returnedAt   sql.NullTime
		cancelledAt  sql.NullTime
		handledBy    uuid.NullUUID
	)

	err := rows.Scan(
		&l.ID, &l.MaterialID, &l.BorrowerID, &l.ReservationCode, &kind, &classID, &participants, &l.Copies,
		&state, &l.ReservedAt, &l.DueAt, &pickedUpAt, &returnedAt, &cancelledAt, &handledBy, &l.Version,
	)
	if err != nil {
		return lending.Loan{}, err
	}

	participantIDs, decodeErr := decodeIDs(participants)
	if decodeErr != nil {
		return lending.Loan{}, errors.Join(ErrDecodingFailed, decodeErr)
	}

	l.Kind = lending.LoanKind(kind)
	l.State = lending.LoanState(state)
	l.ClassID = idOrNil(classID)
	l.ParticipantIDs = participantIDs
	l.ReservedAt = lending.ToStoredTime(l.ReservedAt)
	l.DueAt = lending.ToStoredTime(l.DueAt)
	l.PickedUpAt = timePtr(pickedUpAt)
	l.ReturnedAt = timePtr(returnedAt)
	l.CancelledAt = timePtr(cancelledAt)
	l.HandledBy = idOrNil(handledBy)

	return l, nil
}

// Loan loads a loan. It returns lending.ErrLoanNotFound when there is none.
func (tx *Tx) Loan(ctx context.Context, id uuid.UUID) (lending.Loan, error) {
	stmt := tx.builder().
		From(tableLoans).
		Select(loanColumns...).
		Where(goqu.C("id").Eq(id)).
		Prepared(true)

	var found []lending.Loan
	if err := tx.query(ctx, "select_loan", stmt, collect(scanLoan, &found)); err != nil {
		return lending.Loan{}, err
	}

	if len(found) == 0 {
		return lending.Loan{}, lending.ErrLoanNotFound
	}

	return found[0], nil
}

// InsertLoan stores a new loan.
func (tx *Tx) InsertLoan(ctx context.Context, l lending.Loan) error {
	participants, err := encodeIDs(l.ParticipantIDs)
	if err != nil {
		return errors.Join(ErrEncodingFailed, err)
	}

	stmt := tx.builder().
		Insert(tableLoans).
		Rows(goqu.Record{
			"id":               l.ID,
			"material_id":      l.MaterialID,
			"borrower_id":      l.BorrowerID,
			"reservation_code": l.ReservationCode,
			"kind":             string(l.Kind),
			"class_id":         nullableID(l.ClassID),
			"participant_ids":  participants,
			"copies":           l.Copies,
			"state":            string(l.State),
			"reserved_at":      lending.ToStoredTime(l.ReservedAt),
			"due_at":           lending.ToStoredTime(l.DueAt),
			"picked_up_at":     storedTimePtr(l.PickedUpAt),
			"returned_at":      storedTimePtr(l.ReturnedAt),
			"cancelled_at":     storedTimePtr(l.CancelledAt),
			"handled_by":       nullableID(l.HandledBy),
			"version":          l.Version,
		}).
		Prepared(true)

	_, err = tx.exec(ctx, "insert_loan", stmt)

	return err
}

// SaveLoan writes the lifecycle columns of updated if the row still has the version of current.
// Identity, kind, participants and copies are fixed at creation and never written here.
func (tx *Tx) SaveLoan(ctx context.Context, current, updated lending.Loan) (lending.Loan, error) {
	stmt := tx.builder().
		Update(tableLoans).
		Set(goqu.Record{
			"state":        string(updated.State),
			"picked_up_at": storedTimePtr(updated.PickedUpAt),
			"returned_at":  storedTimePtr(updated.ReturnedAt),
			"cancelled_at": storedTimePtr(updated.CancelledAt),
			"handled_by":   nullableID(updated.HandledBy),
			"version":      current.Version + 1,
		}).
		Where(
			goqu.C("id").Eq(current.ID),
			goqu.C("version").Eq(current.Version),
		).
		Prepared(true)

	if err := tx.execCAS(ctx, "update_loan", tableLoans, stmt); err != nil {
		return current, err
	}

	updated.Version = current.Version + 1

	return updated, nil
}

// CountActivePersonalLoans counts the personal loans of a borrower that hold copies.
func (tx *Tx) CountActivePersonalLoans(ctx context.Context, borrowerID uuid.UUID) (int, error) {
	return tx.countLoans(ctx, "count_active_personal_loans", goqu.And(
		goqu.C("borrower_id").Eq(borrowerID),
		goqu.C("kind").Eq(string(lending.LoanKindPersonal)),
		goqu.C("state").In(holdingStates),
	))
}

// CountHoldingLoansForMaterial counts the loans of a material that hold copies.
func (tx *Tx) CountHoldingLoansForMaterial(ctx context.Context, materialID uuid.UUID) (int, error) {
	return tx.countLoans(ctx, "count_holding_loans", goqu.And(
		goqu.C("material_id").Eq(materialID),
		goqu.C("state").In(holdingStates),
	))
}

func (tx *Tx) countLoans(ctx context.Context, action string, where exp.Expression) (int, error) {
	stmt := tx.builder().
		From(tableLoans).
		Select(goqu.COUNT("*")).
		Where(where).
		Prepared(true)

	var count int64
	err := tx.query(ctx, action, stmt, func(rows adapters.DBRows) error {
		return rows.Scan(&count)
	})

	return int(count), err
}

// Loans lists loans matching the filter, newest reservation first.
func (s *Store) Loans(ctx context.Context, filter lending.LoanFilter) ([]lending.Loan, error) {
	stmt := s.builder.
		From(tableLoans).
		Select(loanColumns...).
		Order(goqu.C("reserved_at").Desc(), goqu.C("id").Asc())

	if filter.BorrowerID != uuid.Nil {
		stmt = stmt.Where(goqu.C("borrower_id").Eq(filter.BorrowerID))
	}

	if filter.MaterialID != uuid.Nil {
		stmt = stmt.Where(goqu.C("material_id").Eq(filter.MaterialID))
	}

	if len(filter.States) > 0 {
		states := make([]string, 0, len(filter.States))
		for _, state := range filter.States {
			states = append(states, string(state))
		}

		stmt = stmt.Where(goqu.C("state").In(states))
	}

	if filter.Limit > 0 {
		stmt = stmt.Limit(uint(filter.Limit))
	}

	var loans []lending.Loan
	if err := s.query(ctx, s.db, "select_loans", stmt.Prepared(true), collect(scanLoan, &loans)); err != nil {
		return nil, err
	}

	return loans, nil
}

// OverdueLoans lists picked up loans due strictly before cutoff, oldest due date first.
// The result is a candidate list; callers re-read each loan inside a transaction.
func (s *Store) OverdueLoans(ctx context.Context, cutoff time.Time) ([]lending.Loan, error) {
	stmt := s.builder.
		From(tableLoans).
		Select(loanColumns...).
		Where(
			goqu.C("state").Eq(string(lending.LoanStatePickedUp)),
			goqu.C("due_at").Lt(lending.ToStoredTime(cutoff)),
		).
		Order(goqu.C("due_at").Asc(), goqu.C("id").Asc()).
		Prepared(true)

	var loans []lending.Loan
	if err := s.query(ctx, s.db, "select_overdue_loans", stmt, collect(scanLoan, &loans)); err != nil {
		return nil, err
	}

	return loans, nil
}
