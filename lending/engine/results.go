package engine

import (
	"github.com/google/uuid"

	"github.com/schoollibrary/lendingengine/lending"
)

// Operation names as used in logs, metrics and spans.
const (
	opReserve               = "reserve"
	opConfirmPickup         = "confirm_pickup"
	opConfirmReturn         = "confirm_return"
	opCancel                = "cancel"
	opRequestDevice         = "request_device"
	opReturnDevice          = "return_device"
	opSweepOverdue          = "sweep_overdue"
	opSweepExpiredBlacklist = "sweep_expired_blacklist"
	opAddMaterial           = "add_material"
	opDeleteMaterial        = "delete_material"
	opRegisterDevice        = "register_device"
	opBorrowingStatus       = "borrowing_status"
	opLiftBan               = "lift_ban"
	opUpdateSetting         = "update_setting"
	opLoans                 = "loans"
	opWaitlist              = "waitlist"
	opBlacklistLog          = "blacklist_log"
	opEvents                = "events"
	opAuditInventory        = "audit_inventory"
	opActiveBans            = "active_bans"
	opLoanStatistics        = "loan_statistics"
)

// ReserveCommand asks for a loan of a material for the calling principal.
// ClassID and ParticipantIDs are only allowed for class loans, which need them.
type ReserveCommand struct {
	MaterialID     uuid.UUID
	Kind           lending.LoanKind
	ClassID        uuid.UUID
	ParticipantIDs []uuid.UUID
}

// ReserveResult is granted with a Loan, or queued with a WaitlistEntry.
// An already_queued result carries neither.
type ReserveResult struct {
	Outcome       lending.Outcome
	Loan          *lending.Loan
	WaitlistEntry *lending.WaitlistEntry
	Execution     Execution
}

// LoanResult is the result of a loan transition without side effects on inventory.
type LoanResult struct {
	Outcome   lending.Outcome
	Loan      lending.Loan
	Execution Execution
}

// ReleaseResult is the result of a transition that gave copies back.
// NotifiedEntry is the waitlist entry that was notified, if any.
type ReleaseResult struct {
	Outcome       lending.Outcome
	Loan          lending.Loan
	NotifiedEntry *lending.WaitlistEntry
	Execution     Execution
}

// ReturnResult is a ReleaseResult that also reports lateness and the sanction it caused.
type ReturnResult struct {
	ReleaseResult
	Late     bool
	Sanction *lending.BlacklistLogEntry
}

// DeviceLoanResult is the result of a device loan operation.
type DeviceLoanResult struct {
	Outcome    lending.Outcome
	DeviceLoan lending.DeviceLoan
	Execution  Execution
}

// MaterialResult is the result of a catalog change on a material.
// WaitlistDropped counts the waitlist entries removed together with a deleted material.
type MaterialResult struct {
	Material        lending.Material
	WaitlistDropped int64
	Execution       Execution
}

// DeviceResult is the result of registering a device.
type DeviceResult struct {
	Device    lending.Device
	Execution Execution
}

// StatusResult reports the sanction state of a user. Cleared is set when an expired
// ban was removed by this call.
type StatusResult struct {
	Status    lending.BorrowerStatus
	Banned    bool
	Cleared   bool
	Execution Execution
}

// SettingsResult carries the settings after a change.
type SettingsResult struct {
	Settings  lending.Settings
	Execution Execution
}

// SweepReport summarizes a sweep. Candidates are rows found by the initial scan;
// every candidate is re-checked in its own transaction before it is changed.
type SweepReport struct {
	Candidates int
	Affected   []uuid.UUID
	Skipped    int
	Failed     int
	Execution  Execution
}
