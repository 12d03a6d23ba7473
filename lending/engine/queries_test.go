package engine_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/testutil/fixtures"
)

func Test_Loans_AreScopedToTheCaller(t *testing.T) {
	// setup
	tb := newTestbed(t)
	ctx := context.Background()
	alice, bob := fixtures.Student(), fixtures.Student()
	material := fixtures.GivenMaterial(t, tb.store, 3)
	aliceLoan := tb.reservePersonal(t, alice, material.ID).Loan
	tb.reservePersonal(t, bob, material.ID)

	// act
	own, ownErr := tb.engine.Loans(ctx, alice, lending.LoanFilter{})
	_, foreignErr := tb.engine.Loans(ctx, alice, lending.LoanFilter{}.ForBorrower(bob.UserID))
	all, allErr := tb.engine.Loans(ctx, fixtures.Librarian(), lending.LoanFilter{}.ForMaterial(material.ID).Holding())

	// assert
	require.NoError(t, ownErr)
	require.Len(t, own, 1)
	assert.Equal(t, aliceLoan.ID, own[0].ID)

	assert.ErrorIs(t, foreignErr, lending.ErrMissingCapability)

	require.NoError(t, allErr)
	assert.Len(t, all, 2)
}

func Test_Loans_BannedBorrowerStillSeesOwnLoans(t *testing.T) {
	tb := newTestbed(t)
	student := fixtures.Student()
	material := fixtures.GivenMaterial(t, tb.store, 1)
	fixtures.GivenPickedUpLoan(t, tb.store, material.ID, student.UserID, schoolDayStart, 14)
	fixtures.GivenBan(t, tb.store, student.UserID, schoolDayStart.AddDate(0, 0, 30))

	loans, err := tb.engine.Loans(context.Background(), student, lending.LoanFilter{})

	require.NoError(t, err)
	assert.Len(t, loans, 1)
}

func Test_ReadOperations_Authorization(t *testing.T) {
	tb := newTestbed(t)
	ctx := context.Background()
	student := fixtures.Student()

	ownLog, ownLogErr := tb.engine.BlacklistLog(ctx, student, student.UserID)
	_, foreignLogErr := tb.engine.BlacklistLog(ctx, student, fixtures.Student().UserID)
	_, eventsErr := tb.engine.Events(ctx, student, lending.EventFilter{})
	_, auditErr := tb.engine.AuditInventory(ctx, fixtures.Librarian())
	_, systemEventsErr := tb.engine.Events(ctx, lending.SystemPrincipal(), lending.EventFilter{})
	_, bansErr := tb.engine.ActiveBans(ctx, student)
	_, statsErr := tb.engine.LoanStatistics(ctx, fixtures.Teacher())

	require.NoError(t, ownLogErr)
	assert.Empty(t, ownLog)
	assert.ErrorIs(t, foreignLogErr, lending.ErrMissingCapability)
	assert.ErrorIs(t, eventsErr, lending.ErrMissingCapability)
	assert.ErrorIs(t, auditErr, lending.ErrMissingCapability)
	assert.NoError(t, systemEventsErr)
	assert.ErrorIs(t, bansErr, lending.ErrMissingCapability)
	assert.ErrorIs(t, statsErr, lending.ErrMissingCapability)
	assert.Equal(t, lending.KindForbidden, lending.KindOf(statsErr))
}

func Test_ActiveBans_ListsCurrentBansWithTheirSanction(t *testing.T) {
	// setup
	tb := newTestbed(t)
	ctx := context.Background()
	material := fixtures.GivenMaterial(t, tb.store, 1)
	late, manual, lapsed := fixtures.Student(), fixtures.Student(), fixtures.Student()

	loan := fixtures.GivenPickedUpLoan(t, tb.store, material.ID, late.UserID, schoolDayStart.AddDate(0, 0, -20), 14)
	returned, err := tb.engine.ConfirmReturn(ctx, fixtures.Librarian(), loan.ID, loan.ReservationCode)
	require.NoError(t, err)
	require.NotNil(t, returned.Sanction)

	fixtures.GivenBan(t, tb.store, manual.UserID, schoolDayStart.AddDate(0, 0, 5))
	fixtures.GivenBan(t, tb.store, lapsed.UserID, schoolDayStart.Add(-day))

	// act
	bans, err := tb.engine.ActiveBans(ctx, fixtures.Librarian())

	// assert
	require.NoError(t, err)
	require.Len(t, bans, 2, "a lapsed ban is not in effect any more")

	assert.Equal(t, late.UserID, bans[0].Status.UserID, "the ban ending last comes first")
	require.NotNil(t, bans[0].Sanction)
	assert.Equal(t, returned.Sanction.ID, bans[0].Sanction.ID)
	assert.Equal(t, loan.ID, bans[0].Sanction.TriggeringLoanID)

	assert.Equal(t, manual.UserID, bans[1].Status.UserID)
	assert.Nil(t, bans[1].Sanction)
}

func Test_LoanStatistics_CountsActiveMonthlyAndPopular(t *testing.T) {
	// setup
	tb := newTestbed(t)
	ctx := context.Background()
	popular := fixtures.GivenMaterial(t, tb.store, 5)
	quiet := fixtures.GivenMaterial(t, tb.store, 5)
	device := fixtures.GivenDevice(t, tb.store, "tablet")

	for range 3 {
		tb.reservePersonal(t, fixtures.Student(), popular.ID)
	}

	fixtures.GivenPickedUpLoan(t, tb.store, quiet.ID, uuid.New(), schoolDayStart.AddDate(0, -2, 0), 14)
	fixtures.GivenReservedLoan(t, tb.store, quiet.ID, uuid.New(), schoolDayStart.AddDate(0, -8, 0), 14)
	fixtures.GivenReservedLoan(t, tb.store, quiet.ID, uuid.New(), schoolDayStart.AddDate(0, -14, 0), 14)

	_, err := tb.engine.RequestDevice(ctx, fixtures.Student(), device.ID, 7)
	require.NoError(t, err)

	// act
	stats, err := tb.engine.LoanStatistics(ctx, fixtures.Librarian())

	// assert
	require.NoError(t, err)
	assert.Equal(t, 6, stats.ActiveLoans)
	assert.Equal(t, 1, stats.ActiveDeviceLoans)
	assert.Equal(t, []lending.MonthlyLoanCount{
		{Month: "2025-07", Loans: 1},
		{Month: "2026-01", Loans: 1},
		{Month: "2026-03", Loans: 3},
	}, stats.MonthlyLoans)
	assert.Equal(t, []lending.MaterialLoanCount{
		{MaterialID: popular.ID, Loans: 3},
		{MaterialID: quiet.ID, Loans: 1},
	}, stats.PopularMaterials)
}

func Test_LoanStatistics_EmptyLibrary(t *testing.T) {
	tb := newTestbed(t)

	stats, err := tb.engine.LoanStatistics(context.Background(), fixtures.Admin())

	require.NoError(t, err)
	assert.Zero(t, stats.ActiveLoans)
	assert.Empty(t, stats.MonthlyLoans)
	assert.Empty(t, stats.PopularMaterials)
}

func Test_Events_CanBeFollowedBySequence(t *testing.T) {
	// setup
	tb := newTestbed(t)
	ctx := context.Background()
	admin := fixtures.Admin()
	material := fixtures.GivenMaterial(t, tb.store, 2)
	tb.reservePersonal(t, fixtures.Student(), material.ID)

	first, err := tb.engine.Events(ctx, admin, lending.EventFilter{})
	require.NoError(t, err)
	require.Len(t, first, 1)

	tb.reservePersonal(t, fixtures.Student(), material.ID)

	// act
	next, err := tb.engine.Events(ctx, admin, lending.EventFilter{AfterSequence: first[0].SequenceNumber})

	// assert
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Greater(t, next[0].SequenceNumber, first[0].SequenceNumber)
	assert.Equal(t, material.ID.String(), next[0].Attributes["material_id"])
}
