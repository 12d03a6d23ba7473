package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/sqlengine"
)

// SweepOverdue bans every borrower who still holds a loan that is more than overdue_grace_days
// past its due date and is not already banned. It is idempotent: a second run finds nothing new.
//
// Candidates are read without a transaction; each borrower is then handled in a transaction of
// its own which re-checks the loan and the ban, so concurrent returns and sanctions win.
// Failures of single borrowers do not stop the sweep; they are counted and joined into the error.
func (e *Engine) SweepOverdue(ctx context.Context, p lending.Principal) (SweepReport, error) {
	if err := p.Require(lending.CapRunMaintenance); err != nil {
		return SweepReport{}, e.reject(ctx, opSweepOverdue, err)
	}

	var (
		report     SweepReport
		candidates []lending.Loan
	)

	err := e.read(ctx, opSweepOverdue, func(ctx context.Context) error {
		settings, err := e.store.Settings(ctx)
		if err != nil {
			return err
		}

		candidates, err = e.store.OverdueLoans(ctx, lending.OverdueCutoff(e.now(), settings))

		return err
	})
	if err != nil {
		return report, err
	}

	report.Candidates = len(candidates)

	var failures []error

	for _, borrowerID := range borrowersOf(candidates) {
		loanIDs := loanIDsOf(candidates, borrowerID)
		var banned bool

		execution, sweepErr := e.execute(ctx, opSweepOverdue+"_borrower", func(ctx context.Context, tx *sqlengine.Tx, now time.Time) (lending.Outcome, error) {
			banned = false

			entry, found, err := sanctionOverdue(ctx, tx, borrowerID, loanIDs, now)
			if err != nil || !found {
				return lending.OutcomeCompleted, err
			}

			banned = true

			if err = tx.AppendBlacklistLog(ctx, entry); err != nil {
				return "", err
			}

			return lending.OutcomeCompleted, tx.AppendEvents(ctx, sanctionEvent(entry, "overdue_sweep"))
		})

		report.Execution = report.Execution.add(execution)

		switch {
		case sweepErr != nil:
			if lending.IsCancellation(sweepErr) {
				return report, errors.Join(append(failures, sweepErr)...)
			}

			report.Failed++
			failures = append(failures, sweepErr)
		case banned:
			report.Affected = append(report.Affected, borrowerID)
		default:
			report.Skipped++
		}
	}

	return report, errors.Join(failures...)
}

// sanctionOverdue bans the borrower for the first of the given loans that is still overdue,
// unless a ban is already in effect.
func sanctionOverdue(
	ctx context.Context,
	tx *sqlengine.Tx,
	borrowerID uuid.UUID,
	loanIDs []uuid.UUID,
	now time.Time,
) (lending.BlacklistLogEntry, bool, error) {

	settings, err := tx.Settings(ctx)
	if err != nil {
		return lending.BlacklistLogEntry{}, false, err
	}

	status, err := tx.BorrowerStatus(ctx, borrowerID)
	if err != nil {
		return lending.BlacklistLogEntry{}, false, err
	}

	if status.BannedAt(now) {
		return lending.BlacklistLogEntry{}, false, nil
	}

	for _, loanID := range loanIDs {
		loan, loadErr := tx.Loan(ctx, loanID)
		if loadErr != nil {
			return lending.BlacklistLogEntry{}, false, loadErr
		}

		if !loan.OverdueForSweep(now, settings) {
			continue
		}

		banned, entry := lending.Sanction(status, loan.ID, now, settings)
		if _, err = tx.SaveBorrowerStatus(ctx, status, banned); err != nil {
			return lending.BlacklistLogEntry{}, false, err
		}

		return entry, true, nil
	}

	return lending.BlacklistLogEntry{}, false, nil
}

// SweepExpiredBlacklist clears every ban whose expiry has passed. Expired bans are already
// ignored wherever a ban is enforced, so this only tidies up stored state.
func (e *Engine) SweepExpiredBlacklist(ctx context.Context, p lending.Principal) (SweepReport, error) {
	if err := p.Require(lending.CapRunMaintenance); err != nil {
		return SweepReport{}, e.reject(ctx, opSweepExpiredBlacklist, err)
	}

	var (
		report     SweepReport
		candidates []lending.BorrowerStatus
	)

	err := e.read(ctx, opSweepExpiredBlacklist, func(ctx context.Context) error {
		var err error
		candidates, err = e.store.ExpiredBans(ctx, e.now())

		return err
	})
	if err != nil {
		return report, err
	}

	report.Candidates = len(candidates)

	var failures []error

	for _, candidate := range candidates {
		var cleared bool

		execution, sweepErr := e.execute(ctx, opSweepExpiredBlacklist+"_borrower", func(ctx context.Context, tx *sqlengine.Tx, now time.Time) (lending.Outcome, error) {
			var err error
			cleared, err = clearExpiredBan(ctx, tx, candidate.UserID, now, "expired")

			return lending.OutcomeCompleted, err
		})

		report.Execution = report.Execution.add(execution)

		switch {
		case sweepErr != nil:
			if lending.IsCancellation(sweepErr) {
				return report, errors.Join(append(failures, sweepErr)...)
			}

			report.Failed++
			failures = append(failures, sweepErr)
		case cleared:
			report.Affected = append(report.Affected, candidate.UserID)
		default:
			report.Skipped++
		}
	}

	return report, errors.Join(failures...)
}

// sanction bans a borrower because of a late return.
func sanction(ctx context.Context, tx *sqlengine.Tx, borrowerID, loanID uuid.UUID, now time.Time) (lending.BlacklistLogEntry, error) {
	settings, err := tx.Settings(ctx)
	if err != nil {
		return lending.BlacklistLogEntry{}, err
	}

	status, err := tx.BorrowerStatus(ctx, borrowerID)
	if err != nil {
		return lending.BlacklistLogEntry{}, err
	}

	banned, entry := lending.Sanction(status, loanID, now, settings)
	if _, err = tx.SaveBorrowerStatus(ctx, status, banned); err != nil {
		return lending.BlacklistLogEntry{}, err
	}

	return entry, nil
}

// clearExpiredBan removes a ban whose expiry has passed and journals it.
func clearExpiredBan(ctx context.Context, tx *sqlengine.Tx, userID uuid.UUID, now time.Time, reason string) (bool, error) {
	status, err := tx.BorrowerStatus(ctx, userID)
	if err != nil {
		return false, err
	}

	cleared, changed := status.ClearExpired(now)
	if !changed {
		return false, nil
	}

	if _, err = tx.SaveBorrowerStatus(ctx, status, cleared); err != nil {
		return false, err
	}

	return true, tx.AppendEvents(ctx, lending.NewEvent(lending.EventBlacklistCleared, userID, userID, now, "reason", reason))
}

func sanctionEvent(entry lending.BlacklistLogEntry, trigger string) lending.Event {
	return lending.NewEvent(lending.EventBorrowerBlacklisted, entry.UserID, entry.UserID, entry.CreatedAt,
		"trigger", trigger,
		"reason", string(entry.Reason),
		"loan_id", entry.TriggeringLoanID.String(),
		"expires_at", entry.ExpiresAt.Format(time.RFC3339))
}

// borrowersOf returns the distinct borrowers of the loans in order of first appearance.
func borrowersOf(loans []lending.Loan) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(loans))
	borrowers := make([]uuid.UUID, 0, len(loans))

	for _, loan := range loans {
		if _, ok := seen[loan.BorrowerID]; ok {
			continue
		}

		seen[loan.BorrowerID] = struct{}{}
		borrowers = append(borrowers, loan.BorrowerID)
	}

	return borrowers
}

func loanIDsOf(loans []lending.Loan, borrowerID uuid.UUID) []uuid.UUID {
	var ids []uuid.UUID

	for _, loan := range loans {
		if loan.BorrowerID == borrowerID {
			ids = append(ids, loan.ID)
		}
	}

	return ids
}
