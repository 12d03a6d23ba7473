package lending

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const reservationCodePrefix = "RES-"

// NewReservationCode returns a fresh opaque code that the borrower presents at pickup and return.
func NewReservationCode() string {
	return reservationCodePrefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// NewLoan creates a reserved loan holding copies of the material, due after loanDays.
func NewLoan(
	materialID uuid.UUID,
	borrowerID uuid.UUID,
	kind LoanKind,
	classID uuid.UUID,
	participantIDs []uuid.UUID,
	copies int,
	now time.Time,
	loanDays int,
) Loan {
	now = ToStoredTime(now)

	return Loan{
		ID:              uuid.New(),
		MaterialID:      materialID,
		BorrowerID:      borrowerID,
		ReservationCode: NewReservationCode(),
		Kind:            kind,
		ClassID:         classID,
		ParticipantIDs:  slices.Clone(participantIDs),
		Copies:          copies,
		State:           LoanStateReserved,
		ReservedAt:      now,
		DueAt:           now.AddDate(0, 0, loanDays),
	}
}

// ConfirmPickup moves a reserved loan to picked_up.
// A code that does not belong to the loan is reported as not found.
func (l Loan) ConfirmPickup(code string, staffID uuid.UUID, now time.Time) (Loan, error) {
	if code != l.ReservationCode {
		return l, ErrLoanNotFound
	}

	if l.State != LoanStateReserved {
		return l, ErrIllegalTransition
	}

	at := ToStoredTime(now)
	l.State = LoanStatePickedUp
	l.PickedUpAt = &at
	l.HandledBy = staffID

	return l, nil
}

// ConfirmReturn moves a picked up loan to returned.
func (l Loan) ConfirmReturn(code string, staffID uuid.UUID, now time.Time) (Loan, error) {
	if code != l.ReservationCode {
		return l, ErrLoanNotFound
	}

	if l.State != LoanStatePickedUp {
		return l, ErrIllegalTransition
	}

	at := ToStoredTime(now)
	l.State = LoanStateReturned
	l.ReturnedAt = &at
	l.HandledBy = staffID

	return l, nil
}

// Cancel moves a reserved loan to cancelled. Only the borrower may cancel.
func (l Loan) Cancel(borrowerID uuid.UUID, now time.Time) (Loan, error) {
	if l.BorrowerID != borrowerID {
		return l, ErrNotLoanOwner
	}

	if l.State != LoanStateReserved {
		return l, ErrIllegalTransition
	}

	at := ToStoredTime(now)
	l.State = LoanStateCancelled
	l.CancelledAt = &at

	return l, nil
}

// NewDeviceLoan creates an active device loan lasting the given number of days.
func NewDeviceLoan(deviceID uuid.UUID, borrowerID uuid.UUID, days int, now time.Time) DeviceLoan {
	now = ToStoredTime(now)

	return DeviceLoan{
		ID:         uuid.New(),
		DeviceID:   deviceID,
		BorrowerID: borrowerID,
		State:      DeviceLoanStateActive,
		LoanedAt:   now,
		DueAt:      now.AddDate(0, 0, days),
	}
}

// ConfirmReturn moves an active device loan to returned.
func (dl DeviceLoan) ConfirmReturn(staffID uuid.UUID, now time.Time) (DeviceLoan, error) {
	if dl.State != DeviceLoanStateActive {
		return dl, ErrIllegalTransition
	}

	at := ToStoredTime(now)
	dl.State = DeviceLoanStateReturned
	dl.ReturnedAt = &at
	dl.HandledBy = staffID

	return dl, nil
}
