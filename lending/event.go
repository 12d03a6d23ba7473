package lending

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a journal entry.
type EventType string

// Journal event types. Every state change appends one of them in the same transaction,
// so the journal doubles as an outbox for notifiers.
const (
	EventMaterialAdded       EventType = "MaterialAdded"
	EventMaterialRemoved     EventType = "MaterialRemoved"
	EventDeviceRegistered    EventType = "DeviceRegistered"
	EventLoanReserved        EventType = "LoanReserved"
	EventReservationQueued   EventType = "ReservationQueued"
	EventLoanPickedUp        EventType = "LoanPickedUp"
	EventLoanReturned        EventType = "LoanReturned"
	EventLoanCancelled       EventType = "LoanCancelled"
	EventDeviceLoaned        EventType = "DeviceLoaned"
	EventDeviceReturned      EventType = "DeviceReturned"
	EventBorrowerBlacklisted EventType = "BorrowerBlacklisted"
	EventBlacklistCleared    EventType = "BlacklistCleared"
	EventWaitlistNotified    EventType = "WaitlistNotified"
	EventSettingChanged      EventType = "SettingChanged"
)

// Event is a journal entry. SequenceNumber is assigned by the store on append.
type Event struct {
	SequenceNumber int64
	Type           EventType
	OccurredAt     time.Time
	SubjectID      uuid.UUID
	BorrowerID     uuid.UUID
	Attributes     map[string]string
}

// NewEvent builds a journal entry. attrs are key/value pairs; a trailing key without value is dropped.
func NewEvent(eventType EventType, subjectID uuid.UUID, borrowerID uuid.UUID, occurredAt time.Time, attrs ...string) Event {
	attributes := make(map[string]string, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		attributes[attrs[i]] = attrs[i+1]
	}

	return Event{
		Type:       eventType,
		OccurredAt: ToStoredTime(occurredAt),
		SubjectID:  subjectID,
		BorrowerID: borrowerID,
		Attributes: attributes,
	}
}

// EventFilter selects journal entries. Zero values do not restrict.
type EventFilter struct {
	Types         []EventType
	SubjectID     uuid.UUID
	BorrowerID    uuid.UUID
	AfterSequence int64
	OccurredFrom  time.Time
	OccurredUntil time.Time
	Limit         int
}
