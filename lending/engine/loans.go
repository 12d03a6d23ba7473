package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/sqlengine"
)

// ConfirmPickup hands a reserved loan to its borrower. The calling principal is recorded as
// the staff member who handled it.
//
// Business Rules:
//
//	GIVEN: a principal allowed to handle loans
//	WHEN: the loan exists, the code matches and the loan is reserved
//	THEN: the loan is picked_up
//	ERROR: NotFound if the loan does not exist or the code does not match
//	ERROR: Conflict if the loan is not reserved
func (e *Engine) ConfirmPickup(ctx context.Context, p lending.Principal, loanID uuid.UUID, code string) (LoanResult, error) {
	if err := p.Require(lending.CapHandleLoans); err != nil {
		return LoanResult{}, e.reject(ctx, opConfirmPickup, err)
	}

	var result LoanResult

	execution, err := e.execute(ctx, opConfirmPickup, func(ctx context.Context, tx *sqlengine.Tx, now time.Time) (lending.Outcome, error) {
		result = LoanResult{}

		loan, err := tx.Loan(ctx, loanID)
		if err != nil {
			return "", err
		}

		pickedUp, err := loan.ConfirmPickup(code, p.UserID, now)
		if err != nil {
			return "", err
		}

		if pickedUp, err = tx.SaveLoan(ctx, loan, pickedUp); err != nil {
			return "", err
		}

		result = LoanResult{Outcome: lending.OutcomeCompleted, Loan: pickedUp}

		return lending.OutcomeCompleted, tx.AppendEvents(ctx,
			lending.NewEvent(lending.EventLoanPickedUp, pickedUp.ID, pickedUp.BorrowerID, now,
				"handled_by", p.UserID.String()))
	})

	result.Execution = execution

	return result, err
}

// ConfirmReturn takes back a picked up loan, releases its copies and notifies the oldest
// waiting requester. A return after the due date bans the borrower right away.
//
// Business Rules:
//
//	GIVEN: a principal allowed to handle loans
//	WHEN: the loan exists, the code matches and the loan is picked_up
//	THEN: the loan is returned and its copies are available again
//	WHEN: the return happens after the due date
//	THEN: the borrower is blacklisted for blacklist_days from now
//	ERROR: NotFound if the loan does not exist or the code does not match
//	ERROR: Conflict if the loan is not picked_up
func (e *Engine) ConfirmReturn(ctx context.Context, p lending.Principal, loanID uuid.UUID, code string) (ReturnResult, error) {
	if err := p.Require(lending.CapHandleLoans); err != nil {
		return ReturnResult{}, e.reject(ctx, opConfirmReturn, err)
	}

	var result ReturnResult

	execution, err := e.execute(ctx, opConfirmReturn, func(ctx context.Context, tx *sqlengine.Tx, now time.Time) (lending.Outcome, error) {
		result = ReturnResult{}

		loan, err := tx.Loan(ctx, loanID)
		if err != nil {
			return "", err
		}

		returned, err := loan.ConfirmReturn(code, p.UserID, now)
		if err != nil {
			return "", err
		}

		var events []lending.Event

		late := loan.IsLate(now)
		if late {
			entry, sanctionErr := sanction(ctx, tx, loan.BorrowerID, loan.ID, now)
			if sanctionErr != nil {
				return "", sanctionErr
			}

			result.Sanction = &entry
			events = append(events, sanctionEvent(entry, "late_return"))
		}

		notified, released, err := release(ctx, tx, loan, returned, now)
		if err != nil {
			return "", err
		}

		events = append([]lending.Event{lending.NewEvent(lending.EventLoanReturned, released.ID, released.BorrowerID, now,
			"handled_by", p.UserID.String(),
			"late", strconv.FormatBool(late))}, events...)

		if notified != nil {
			events = append(events, waitlistNotifiedEvent(*notified, now))
		}

		if result.Sanction != nil {
			if err = tx.AppendBlacklistLog(ctx, *result.Sanction); err != nil {
				return "", err
			}
		}

		result.Outcome = lending.OutcomeCompleted
		result.Loan = released
		result.Late = late
		result.NotifiedEntry = notified

		return lending.OutcomeCompleted, tx.AppendEvents(ctx, events...)
	})

	result.Execution = execution

	return result, err
}

// Cancel withdraws a reserved loan of the calling principal and releases its copies.
//
// Business Rules:
//
//	GIVEN: the borrower of the loan
//	WHEN: the loan is reserved
//	THEN: the loan is cancelled, its copies are available again and the oldest waiting requester is notified
//	ERROR: NotFound if the loan does not exist
//	ERROR: Forbidden if the caller is not the borrower
//	ERROR: Conflict if the loan is not reserved
func (e *Engine) Cancel(ctx context.Context, p lending.Principal, loanID uuid.UUID) (ReleaseResult, error) {
	if err := p.Require(lending.CapBorrow); err != nil {
		return ReleaseResult{}, e.reject(ctx, opCancel, err)
	}

	var result ReleaseResult

	execution, err := e.execute(ctx, opCancel, func(ctx context.Context, tx *sqlengine.Tx, now time.Time) (lending.Outcome, error) {
		result = ReleaseResult{}

		loan, err := tx.Loan(ctx, loanID)
		if err != nil {
			return "", err
		}

		cancelled, err := loan.Cancel(p.UserID, now)
		if err != nil {
			return "", err
		}

		notified, released, err := release(ctx, tx, loan, cancelled, now)
		if err != nil {
			return "", err
		}

		events := []lending.Event{lending.NewEvent(lending.EventLoanCancelled, released.ID, released.BorrowerID, now,
			"material_id", released.MaterialID.String(),
			"copies", strconv.Itoa(released.Copies))}

		if notified != nil {
			events = append(events, waitlistNotifiedEvent(*notified, now))
		}

		result = ReleaseResult{Outcome: lending.OutcomeCompleted, Loan: released, NotifiedEntry: notified}

		return lending.OutcomeCompleted, tx.AppendEvents(ctx, events...)
	})

	result.Execution = execution

	return result, err
}

// release gives the copies of current back to its material, stores the transition to updated
// and notifies the oldest pending waitlist entry of the material, in that order.
func release(
	ctx context.Context,
	tx *sqlengine.Tx,
	current lending.Loan,
	updated lending.Loan,
	now time.Time,
) (*lending.WaitlistEntry, lending.Loan, error) {

	material, err := tx.Material(ctx, current.MaterialID)
	if err != nil {
		return nil, current, err
	}

	released, err := material.Release(current.Copies)
	if err != nil {
		return nil, current, err
	}

	if _, err = tx.SaveMaterial(ctx, material, released); err != nil {
		return nil, current, err
	}

	saved, err := tx.SaveLoan(ctx, current, updated)
	if err != nil {
		return nil, current, err
	}

	notified, err := notifyWaitlist(ctx, tx, current.MaterialID, now)
	if err != nil {
		return nil, current, err
	}

	return notified, saved, nil
}

// notifyWaitlist marks the oldest un-notified entry of the material, if there is one.
// No loan is created for the requester; a later request competes like any other.
func notifyWaitlist(ctx context.Context, tx *sqlengine.Tx, materialID uuid.UUID, now time.Time) (*lending.WaitlistEntry, error) {
	entry, found, err := tx.OldestPendingWaitlistEntry(ctx, materialID)
	if err != nil || !found {
		return nil, err
	}

	notified := entry.MarkNotified(now)
	if err = tx.MarkWaitlistEntryNotified(ctx, notified); err != nil {
		return nil, err
	}

	return &notified, nil
}

func waitlistNotifiedEvent(entry lending.WaitlistEntry, now time.Time) lending.Event {
	return lending.NewEvent(lending.EventWaitlistNotified, entry.ID, entry.RequesterID, now,
		"material_id", entry.MaterialID.String(),
		"requested_at", entry.RequestedAt.Format(time.RFC3339Nano))
}
