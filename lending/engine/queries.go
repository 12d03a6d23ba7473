package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/sqlengine"
)

// Loans lists loans. Without CapViewAllBorrowers a principal only sees its own loans,
// banned or not.
func (e *Engine) Loans(ctx context.Context, p lending.Principal, filter lending.LoanFilter) ([]lending.Loan, error) {
	if !p.Can(lending.CapViewAllBorrowers) {
		if filter.BorrowerID != uuid.Nil && filter.BorrowerID != p.UserID {
			return nil, e.reject(ctx, opLoans, lending.ErrMissingCapability)
		}

		filter.BorrowerID = p.UserID
	}

	var loans []lending.Loan

	err := e.read(ctx, opLoans, func(ctx context.Context) error {
		var err error
		loans, err = e.store.Loans(ctx, filter)

		return err
	})

	return loans, err
}

// Waitlist lists the waitlist of a material in service order.
func (e *Engine) Waitlist(ctx context.Context, materialID uuid.UUID) ([]lending.WaitlistEntry, error) {
	var entries []lending.WaitlistEntry

	err := e.read(ctx, opWaitlist, func(ctx context.Context) error {
		var err error
		entries, err = e.store.Waitlist(ctx, materialID)

		return err
	})

	return entries, err
}

// BlacklistLog lists the sanctions of a user. Users may read their own log.
func (e *Engine) BlacklistLog(ctx context.Context, p lending.Principal, userID uuid.UUID) ([]lending.BlacklistLogEntry, error) {
	if userID != p.UserID && !p.Can(lending.CapViewAllBorrowers) {
		return nil, e.reject(ctx, opBlacklistLog, lending.ErrMissingCapability)
	}

	var entries []lending.BlacklistLogEntry

	err := e.read(ctx, opBlacklistLog, func(ctx context.Context) error {
		var err error
		entries, err = e.store.BlacklistLog(ctx, userID)

		return err
	})

	return entries, err
}

// Events reads the journal, for example to feed notifiers from AfterSequence onwards.
func (e *Engine) Events(ctx context.Context, p lending.Principal, filter lending.EventFilter) ([]lending.Event, error) {
	if err := p.Require(lending.CapViewAllBorrowers); err != nil {
		return nil, e.reject(ctx, opEvents, err)
	}

	var events []lending.Event

	err := e.read(ctx, opEvents, func(ctx context.Context) error {
		var err error
		events, err = e.store.Events(ctx, filter)

		return err
	})

	return events, err
}

// ActiveBans lists the borrowers banned right now with the sanction behind each ban.
func (e *Engine) ActiveBans(ctx context.Context, p lending.Principal) ([]lending.ActiveBan, error) {
	if err := p.Require(lending.CapViewAllBorrowers); err != nil {
		return nil, e.reject(ctx, opActiveBans, err)
	}

	var bans []lending.ActiveBan

	err := e.read(ctx, opActiveBans, func(ctx context.Context) error {
		var err error
		bans, err = e.store.ActiveBans(ctx, e.now())

		return err
	})

	return bans, err
}

// Reporting windows of LoanStatistics.
const (
	StatisticsMonths         = 12
	PopularMaterialsMonths   = 6
	PopularMaterialsToReport = 10
)

// LoanStatistics reports the active loans, the loans reserved in each of the last
// StatisticsMonths months and the most reserved materials of the last PopularMaterialsMonths.
func (e *Engine) LoanStatistics(ctx context.Context, p lending.Principal) (lending.LoanStatistics, error) {
	if err := p.Require(lending.CapViewAllBorrowers); err != nil {
		return lending.LoanStatistics{}, e.reject(ctx, opLoanStatistics, err)
	}

	now := e.now()
	window := sqlengine.StatisticsWindow{
		MonthlySince: now.AddDate(0, -StatisticsMonths, 0),
		PopularSince: now.AddDate(0, -PopularMaterialsMonths, 0),
		PopularLimit: PopularMaterialsToReport,
	}

	var stats lending.LoanStatistics

	err := e.read(ctx, opLoanStatistics, func(ctx context.Context) error {
		var err error
		stats, err = e.store.LoanStatistics(ctx, window)

		return err
	})

	return stats, err
}

// AuditInventory reports every material whose available copies disagree with its holding loans.
// An empty result means the availability invariant holds everywhere.
func (e *Engine) AuditInventory(ctx context.Context, p lending.Principal) ([]sqlengine.MaterialDiscrepancy, error) {
	if err := p.Require(lending.CapRunMaintenance); err != nil {
		return nil, e.reject(ctx, opAuditInventory, err)
	}

	var discrepancies []sqlengine.MaterialDiscrepancy

	err := e.read(ctx, opAuditInventory, func(ctx context.Context) error {
		var err error
		discrepancies, err = e.store.InventoryDiscrepancies(ctx)

		return err
	})

	return discrepancies, err
}
