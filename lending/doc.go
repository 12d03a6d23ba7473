// Package lending provides the core types and pure business rules of the school library
// loan and reservation engine.
//
// This package defines the domain model shared by the storage engine and the orchestrator:
// materials and devices with countable availability, loans and device loans with their
// lifecycles, the per-material waitlist, borrower sanctions, and the settings that
// parameterize them. It also defines the error taxonomy and the dependency-free
// observability interfaces used across the implementation packages.
//
// Nothing in this package performs I/O. State transitions are pure functions that either
// return the next state or a classified error:
//
//	next, err := loan.ConfirmPickup(code, staffID, now)
//	if err != nil {
//		// lending.KindOf(err) == lending.KindNotFound or lending.KindConflict
//	}
//
// Key types:
//   - Material, Device: countable and boolean inventory
//   - Loan, DeviceLoan: lifecycle records
//   - WaitlistEntry: FIFO demand for an exhausted material
//   - BorrowerStatus, BlacklistLogEntry: sanctions
//   - Settings: loan period, ban length, personal loan limit and sweep grace period
//   - Principal: the authenticated caller and its capabilities
package lending
