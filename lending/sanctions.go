package lending

import (
	"time"

	"github.com/google/uuid"
)

// Sanction blacklists the borrower for the configured number of days starting now.
// A new sanction replaces the expiry of an earlier one instead of stacking on top of it.
func Sanction(status BorrowerStatus, triggeringLoanID uuid.UUID, now time.Time, settings Settings) (BorrowerStatus, BlacklistLogEntry) {
	now = ToStoredTime(now)
	expiresAt := now.AddDate(0, 0, settings.BlacklistDays)

	status.Blacklisted = true
	status.ExpiresAt = &expiresAt

	entry := BlacklistLogEntry{
		ID:               uuid.New(),
		UserID:           status.UserID,
		Reason:           SanctionReasonLateReturn,
		ExpiresAt:        expiresAt,
		TriggeringLoanID: triggeringLoanID,
		CreatedAt:        now,
	}

	return status, entry
}

// ClearExpired lifts a ban whose expiry has passed. The second result reports whether
// anything changed.
func (s BorrowerStatus) ClearExpired(now time.Time) (BorrowerStatus, bool) {
	if !s.ExpiredAt(now) {
		return s, false
	}

	return s.Lift(), true
}

// Lift removes the ban regardless of its expiry.
func (s BorrowerStatus) Lift() BorrowerStatus {
	s.Blacklisted = false
	s.ExpiresAt = nil

	return s
}

// OverdueCutoff is the due date before which a loan still out counts as overdue for the sweep.
func OverdueCutoff(now time.Time, settings Settings) time.Time {
	return ToStoredTime(now).AddDate(0, 0, -settings.OverdueGraceDays)
}

// OverdueForSweep reports whether the loan is still out and past the sweep grace period.
func (l Loan) OverdueForSweep(now time.Time, settings Settings) bool {
	return l.State == LoanStatePickedUp && l.DueAt.Before(OverdueCutoff(now, settings))
}
