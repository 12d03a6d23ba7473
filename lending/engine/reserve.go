package engine

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/sqlengine"
)

// Reserve creates a reserved loan for the calling principal, or queues the request on the
// waitlist when the material has too few copies left. Queueing is a success, not an error.
//
// Business Rules:
//
//	GIVEN: a principal allowed to borrow (and to lend to classes for class loans)
//	WHEN: the material has enough available copies
//	THEN: the copies are taken and a reserved loan with a fresh reservation code is created
//	WHEN: the material has too few copies
//	THEN: a waitlist entry is appended and the outcome is queued
//	ERROR: Validation if the request is malformed
//	ERROR: Forbidden if the borrower has a ban in effect
//	ERROR: NotFound if the material does not exist
//	ERROR: Conflict if a personal request would exceed max_personal_loans
//	IDEMPOTENCY: a borrower already waiting for the material gets already_queued
func (e *Engine) Reserve(ctx context.Context, p lending.Principal, cmd ReserveCommand) (ReserveResult, error) {
	request := lending.ReservationRequest{
		MaterialID:     cmd.MaterialID,
		BorrowerID:     p.UserID,
		Kind:           cmd.Kind,
		ClassID:        cmd.ClassID,
		ParticipantIDs: cmd.ParticipantIDs,
	}

	if err := authorizeReservation(p, request); err != nil {
		return ReserveResult{}, e.reject(ctx, opReserve, err)
	}

	if err := request.Validate(); err != nil {
		return ReserveResult{}, e.reject(ctx, opReserve, err)
	}

	var result ReserveResult

	execution, err := e.execute(ctx, opReserve, func(ctx context.Context, tx *sqlengine.Tx, now time.Time) (lending.Outcome, error) {
		result = ReserveResult{}

		state, current, err := loadReservationState(ctx, tx, request, now)
		if err != nil {
			return "", err
		}

		decision := lending.DecideReservation(state, request, now)
		if decision.Err != nil {
			return "", decision.Err
		}

		result.Outcome = decision.Outcome

		if decision.Outcome == lending.OutcomeAlreadyQueued {
			return decision.Outcome, nil
		}

		var events []lending.Event

		// every write below is serialized per borrower by this compare-and-set
		status := state.Borrower
		if _, err = tx.SaveBorrowerStatus(ctx, current, status); err != nil {
			return "", err
		}

		if current.Blacklisted && !status.Blacklisted {
			events = append(events, lending.NewEvent(lending.EventBlacklistCleared, status.UserID, status.UserID, now,
				"reason", "expired"))
		}

		switch decision.Outcome {
		case lending.OutcomeGranted:
			loan, reserveErr := reserveCopies(ctx, tx, *state.Material, request, decision.Copies, state.Settings, now)
			if reserveErr != nil {
				return "", reserveErr
			}

			result.Loan = &loan
			events = append(events, lending.NewEvent(lending.EventLoanReserved, loan.ID, loan.BorrowerID, now,
				"material_id", loan.MaterialID.String(),
				"kind", string(loan.Kind),
				"copies", strconv.Itoa(loan.Copies),
				"due_at", loan.DueAt.Format(time.RFC3339)))

		case lending.OutcomeQueued:
			// the stock read that justified queueing must still hold at commit, so a concurrent
			// release or delete of this material conflicts with the queueing instead of missing it
			if _, err = tx.SaveMaterial(ctx, *state.Material, *state.Material); err != nil {
				return "", err
			}

			entry := lending.NewWaitlistEntry(request.MaterialID, request.BorrowerID, now)
			if err = tx.InsertWaitlistEntry(ctx, entry); err != nil {
				return "", err
			}

			result.WaitlistEntry = &entry
			events = append(events, lending.NewEvent(lending.EventReservationQueued, entry.ID, entry.RequesterID, now,
				"material_id", entry.MaterialID.String(),
				"copies", strconv.Itoa(decision.Copies)))
		}

		return decision.Outcome, tx.AppendEvents(ctx, events...)
	})

	result.Execution = execution

	return result, err
}

func authorizeReservation(p lending.Principal, request lending.ReservationRequest) error {
	if err := p.Require(lending.CapBorrow); err != nil {
		return err
	}

	if request.Kind == lending.LoanKindClass {
		return p.Require(lending.CapClassLoans)
	}

	return nil
}

// loadReservationState reads, in write order, everything the reservation decision needs.
// It returns the state with an expired ban already cleared, and the status row as stored.
func loadReservationState(
	ctx context.Context,
	tx *sqlengine.Tx,
	request lending.ReservationRequest,
	now time.Time,
) (lending.ReservationState, lending.BorrowerStatus, error) {

	var state lending.ReservationState

	settings, err := tx.Settings(ctx)
	if err != nil {
		return state, lending.BorrowerStatus{}, err
	}

	current, err := tx.BorrowerStatus(ctx, request.BorrowerID)
	if err != nil {
		return state, lending.BorrowerStatus{}, err
	}

	state.Settings = settings
	state.Borrower, _ = current.ClearExpired(now)

	material, err := tx.Material(ctx, request.MaterialID)
	switch {
	case errors.Is(err, lending.ErrMaterialNotFound):
		return state, current, nil
	case err != nil:
		return state, current, err
	}

	state.Material = &material

	if request.Kind == lending.LoanKindPersonal {
		if state.ActivePersonalLoans, err = tx.CountActivePersonalLoans(ctx, request.BorrowerID); err != nil {
			return state, current, err
		}
	}

	if state.AlreadyQueued, err = tx.HasPendingWaitlistEntry(ctx, request.MaterialID, request.BorrowerID); err != nil {
		return state, current, err
	}

	return state, current, nil
}

func reserveCopies(
	ctx context.Context,
	tx *sqlengine.Tx,
	material lending.Material,
	request lending.ReservationRequest,
	copies int,
	settings lending.Settings,
	now time.Time,
) (lending.Loan, error) {

	reserved, ok := material.Reserve(copies)
	if !ok {
		return lending.Loan{}, lending.ErrConcurrencyConflict
	}

	if _, err := tx.SaveMaterial(ctx, material, reserved); err != nil {
		return lending.Loan{}, err
	}

	loan := lending.NewLoan(
		request.MaterialID,
		request.BorrowerID,
		request.Kind,
		request.ClassID,
		request.ParticipantIDs,
		copies,
		now,
		settings.LoanPeriodDays,
	)

	if err := tx.InsertLoan(ctx, loan); err != nil {
		return lending.Loan{}, err
	}

	return loan, nil
}
