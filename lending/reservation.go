package lending

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies a successful operation.
type Outcome string

// Outcomes. Queued is a success: the request waits for stock instead of failing.
const (
	OutcomeGranted       Outcome = "granted"
	OutcomeQueued        Outcome = "queued"
	OutcomeAlreadyQueued Outcome = "already_queued"
	OutcomeCompleted     Outcome = "completed"
)

// ReservationRequest asks for copies of a material on behalf of a borrower.
type ReservationRequest struct {
	MaterialID     uuid.UUID
	BorrowerID     uuid.UUID
	Kind           LoanKind
	ClassID        uuid.UUID
	ParticipantIDs []uuid.UUID
}

// Validate checks the request shape. It does not look at any stored state.
func (r ReservationRequest) Validate() error {
	if r.MaterialID == uuid.Nil || r.BorrowerID == uuid.Nil {
		return ErrMissingID
	}

	switch r.Kind {
	case LoanKindPersonal:
		if r.ClassID != uuid.Nil || len(r.ParticipantIDs) > 0 {
			return ErrUnexpectedClassData
		}

	case LoanKindClass:
		if r.ClassID == uuid.Nil || len(r.ParticipantIDs) == 0 {
			return ErrMissingClassDetails
		}

		seen := make(map[uuid.UUID]struct{}, len(r.ParticipantIDs))
		for _, participantID := range r.ParticipantIDs {
			if participantID == uuid.Nil {
				return ErrMissingID
			}

			if _, dup := seen[participantID]; dup {
				return ErrDuplicateParticipant
			}

			seen[participantID] = struct{}{}
		}

	default:
		return ErrInvalidLoanKind
	}

	return nil
}

// CopiesNeeded is one for a personal loan and one per participant for a class loan.
func (r ReservationRequest) CopiesNeeded() int {
	if r.Kind == LoanKindClass {
		return len(r.ParticipantIDs)
	}

	return 1
}

// ReservationState is everything DecideReservation needs to know, read in the same transaction.
// Material is nil when the material does not exist.
type ReservationState struct {
	Borrower            BorrowerStatus
	Material            *Material
	ActivePersonalLoans int
	AlreadyQueued       bool
	Settings            Settings
}

// ReservationDecision is the outcome of DecideReservation.
type ReservationDecision struct {
	Outcome Outcome
	Copies  int
	Err     error
}

// Granted reports whether copies should be taken and a loan created.
func (d ReservationDecision) Granted() bool {
	return d.Err == nil && d.Outcome == OutcomeGranted
}

// DecideReservation applies the reservation rules. It is a pure function.
//
// Business Rules:
//
//	GIVEN: a borrower, a material and a valid request
//	WHEN: the material has enough available copies
//	THEN: the copies are granted
//	WHEN: the material has too few copies
//	THEN: the request is queued on the waitlist
//	ERROR: Forbidden if the borrower has a ban in effect
//	ERROR: NotFound if the material does not exist
//	ERROR: Conflict if a personal request would exceed the personal loan limit
//	IDEMPOTENCY: a borrower already waiting for the material is not queued twice
func DecideReservation(state ReservationState, request ReservationRequest, now time.Time) ReservationDecision {
	if state.Borrower.BannedAt(now) {
		return ReservationDecision{Err: ErrBorrowerBlacklisted}
	}

	if state.Material == nil {
		return ReservationDecision{Err: ErrMaterialNotFound}
	}

	if request.Kind == LoanKindPersonal && state.ActivePersonalLoans >= state.Settings.MaxPersonalLoans {
		return ReservationDecision{Err: ErrPersonalLoanLimitReached}
	}

	copies := request.CopiesNeeded()

	if _, ok := state.Material.Reserve(copies); ok {
		return ReservationDecision{Outcome: OutcomeGranted, Copies: copies}
	}

	if state.AlreadyQueued {
		return ReservationDecision{Outcome: OutcomeAlreadyQueued, Copies: copies}
	}

	return ReservationDecision{Outcome: OutcomeQueued, Copies: copies}
}

// NewWaitlistEntry queues a requester for a material. IDs are time ordered so that
// entries created within the same instant keep their insertion order.
func NewWaitlistEntry(materialID uuid.UUID, requesterID uuid.UUID, now time.Time) WaitlistEntry {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	return WaitlistEntry{
		ID:          id,
		MaterialID:  materialID,
		RequesterID: requesterID,
		RequestedAt: ToStoredTime(now),
	}
}

// MarkNotified flags the entry as notified.
func (w WaitlistEntry) MarkNotified(now time.Time) WaitlistEntry {
	at := ToStoredTime(now)
	w.Notified = true
	w.NotifiedAt = &at

	return w
}
