package lending

import (
	"time"

	"github.com/google/uuid"
)

// LoanKind distinguishes loans to a single borrower from loans to a whole class.
type LoanKind string

// Loan kinds.
const (
	LoanKindPersonal LoanKind = "personal"
	LoanKindClass    LoanKind = "class"
)

// Valid reports whether k is a known loan kind.
func (k LoanKind) Valid() bool {
	return k == LoanKindPersonal || k == LoanKindClass
}

// LoanState is a state of the loan lifecycle.
type LoanState string

// Loan states.
const (
	LoanStateReserved  LoanState = "reserved"
	LoanStatePickedUp  LoanState = "picked_up"
	LoanStateReturned  LoanState = "returned"
	LoanStateCancelled LoanState = "cancelled"
)

// Holding reports whether a loan in this state holds copies of its material.
func (s LoanState) Holding() bool {
	return s == LoanStateReserved || s == LoanStatePickedUp
}

// DeviceLoanState is a state of the device loan lifecycle.
type DeviceLoanState string

// Device loan states.
const (
	DeviceLoanStateActive   DeviceLoanState = "active"
	DeviceLoanStateReturned DeviceLoanState = "returned"
)

// SanctionReason explains why a borrower was blacklisted.
type SanctionReason string

// SanctionReasonLateReturn is recorded by both the immediate trigger and the overdue sweep.
const SanctionReasonLateReturn SanctionReason = "late_return"

// Material is a countable inventory item. CopiesAvailable never leaves [0, CopiesTotal].
type Material struct {
	ID              uuid.UUID
	CopiesTotal     int
	CopiesAvailable int
	Version         int64
}

// NewMaterial creates a material with all copies available.
func NewMaterial(id uuid.UUID, copiesTotal int) (Material, error) {
	if id == uuid.Nil {
		return Material{}, ErrMissingID
	}

	if copiesTotal < 0 {
		return Material{}, ErrInvalidCopies
	}

	return Material{ID: id, CopiesTotal: copiesTotal, CopiesAvailable: copiesTotal}, nil
}

// Reserve takes copies out of the available pool.
// It returns false and leaves the material unchanged when the pool is too small.
func (m Material) Reserve(copies int) (Material, bool) {
	if copies <= 0 || m.CopiesAvailable < copies {
		return m, false
	}

	m.CopiesAvailable -= copies

	return m, true
}

// Release puts copies back into the available pool.
func (m Material) Release(copies int) (Material, error) {
	if copies < 0 {
		return m, ErrInvalidCopies
	}

	if m.CopiesAvailable+copies > m.CopiesTotal {
		return m, ErrInventoryExceeded
	}

	m.CopiesAvailable += copies

	return m, nil
}

// Device is a discrete inventory item lent as a whole.
type Device struct {
	ID        uuid.UUID
	Name      string
	Available bool
	Version   int64
}

// Loan records the lending of one or more copies of a material.
// PickedUpAt is set iff the loan reached picked_up, ReturnedAt iff it reached returned.
type Loan struct {
	ID              uuid.UUID
	MaterialID      uuid.UUID
	BorrowerID      uuid.UUID
	ReservationCode string
	Kind            LoanKind
	ClassID         uuid.UUID
	ParticipantIDs  []uuid.UUID
	Copies          int
	State           LoanState
	ReservedAt      time.Time
	DueAt           time.Time
	PickedUpAt      *time.Time
	ReturnedAt      *time.Time
	CancelledAt     *time.Time
	HandledBy       uuid.UUID
	Version         int64
}

// IsLate reports whether at is past the due date.
func (l Loan) IsLate(at time.Time) bool {
	return at.After(l.DueAt)
}

// DeviceLoan records the lending of a device.
type DeviceLoan struct {
	ID         uuid.UUID
	DeviceID   uuid.UUID
	BorrowerID uuid.UUID
	State      DeviceLoanState
	LoanedAt   time.Time
	DueAt      time.Time
	ReturnedAt *time.Time
	HandledBy  uuid.UUID
	Version    int64
}

// WaitlistEntry records unmet demand for a material. Entries are served oldest first.
type WaitlistEntry struct {
	ID          uuid.UUID
	MaterialID  uuid.UUID
	RequesterID uuid.UUID
	RequestedAt time.Time
	Notified    bool
	NotifiedAt  *time.Time
}

// BorrowerStatus holds the sanction state of a user.
type BorrowerStatus struct {
	UserID      uuid.UUID
	Blacklisted bool
	ExpiresAt   *time.Time
	Version     int64
}

// BannedAt reports whether the ban is in effect at the given time.
// A ban whose expiry has passed is inactive even if it has not been cleared yet.
func (s BorrowerStatus) BannedAt(at time.Time) bool {
	return s.Blacklisted && s.ExpiresAt != nil && at.Before(*s.ExpiresAt)
}

// ExpiredAt reports whether the status still carries a ban that is no longer in effect.
func (s BorrowerStatus) ExpiredAt(at time.Time) bool {
	return s.Blacklisted && !s.BannedAt(at)
}

// BlacklistLogEntry is the append-only record of a sanction.
type BlacklistLogEntry struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	Reason           SanctionReason
	ExpiresAt        time.Time
	TriggeringLoanID uuid.UUID
	CreatedAt        time.Time
}

// ActiveBan is a ban in effect together with the most recent sanction that set it.
// Sanction is nil when the log has no entry for the user.
type ActiveBan struct {
	Status   BorrowerStatus
	Sanction *BlacklistLogEntry
}

// LoanStatistics summarizes lending activity for the library staff.
type LoanStatistics struct {
	ActiveLoans       int
	ActiveDeviceLoans int
	MonthlyLoans      []MonthlyLoanCount
	PopularMaterials  []MaterialLoanCount
}

// MonthlyLoanCount is the number of loans reserved in a calendar month (UTC), formatted YYYY-MM.
type MonthlyLoanCount struct {
	Month string
	Loans int
}

// MaterialLoanCount is the number of loans reserved against a material.
type MaterialLoanCount struct {
	MaterialID uuid.UUID
	Loans      int
}

// ToStoredTime normalizes timestamps to the precision and zone every supported database keeps.
func ToStoredTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
