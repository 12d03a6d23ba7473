package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/testutil/fixtures"
)

func Test_SweepOverdue_BansOncePerBorrower(t *testing.T) {
	// setup
	tb := newTestbed(t)
	ctx := context.Background()
	system := lending.SystemPrincipal()
	late, punctual := uuid.New(), uuid.New()

	first := fixtures.GivenMaterial(t, tb.store, 2)
	second := fixtures.GivenMaterial(t, tb.store, 1)
	fixtures.GivenPickedUpLoan(t, tb.store, first.ID, late, schoolDayStart, 14)
	fixtures.GivenPickedUpLoan(t, tb.store, second.ID, late, schoolDayStart, 14)
	fixtures.GivenPickedUpLoan(t, tb.store, first.ID, punctual, schoolDayStart.AddDate(0, 0, 40), 14)

	tb.clock.AdvanceDays(14 + 31)

	// act
	report, err := tb.engine.SweepOverdue(ctx, system)
	again, againErr := tb.engine.SweepOverdue(ctx, system)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, []uuid.UUID{late}, report.Affected)
	assert.Zero(t, report.Skipped)
	assert.Zero(t, report.Failed)

	require.NoError(t, againErr)
	assert.Equal(t, 2, again.Candidates)
	assert.Empty(t, again.Affected)
	assert.Equal(t, 1, again.Skipped)

	log, err := tb.engine.BlacklistLog(ctx, fixtures.Admin(), late)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, tb.clock.Now().AddDate(0, 0, 30), log[0].ExpiresAt)

	status, err := tb.engine.BorrowingStatus(ctx, punctual)
	require.NoError(t, err)
	assert.False(t, status.Banned)
}

func Test_SweepOverdue_RespectsGracePeriod(t *testing.T) {
	tb := newTestbed(t)
	material := fixtures.GivenMaterial(t, tb.store, 1)
	fixtures.GivenPickedUpLoan(t, tb.store, material.ID, uuid.New(), schoolDayStart, 14)
	tb.clock.AdvanceDays(14 + 29)

	report, err := tb.engine.SweepOverdue(context.Background(), lending.SystemPrincipal())

	require.NoError(t, err)
	assert.Zero(t, report.Candidates)
	assert.Empty(t, report.Affected)
}

func Test_SweepOverdue_IgnoresReturnedAndReservedLoans(t *testing.T) {
	// setup
	tb := newTestbed(t)
	ctx := context.Background()
	material := fixtures.GivenMaterial(t, tb.store, 2)
	reservedOnly := fixtures.GivenReservedLoan(t, tb.store, material.ID, uuid.New(), schoolDayStart, 14)
	returned := fixtures.GivenPickedUpLoan(t, tb.store, material.ID, uuid.New(), schoolDayStart, 14)

	tb.clock.AdvanceDays(14 + 31)
	_, err := tb.engine.ConfirmReturn(ctx, fixtures.Librarian(), returned.ID, returned.ReservationCode)
	require.NoError(t, err)

	// act
	report, err := tb.engine.SweepOverdue(ctx, lending.SystemPrincipal())

	// assert
	require.NoError(t, err)
	assert.Zero(t, report.Candidates)

	status, err := tb.engine.BorrowingStatus(ctx, reservedOnly.BorrowerID)
	require.NoError(t, err)
	assert.False(t, status.Banned)
}

func Test_SweepOverdue_RequiresMaintenanceCapability(t *testing.T) {
	tb := newTestbed(t)

	_, err := tb.engine.SweepOverdue(context.Background(), fixtures.Librarian())

	assert.ErrorIs(t, err, lending.ErrMissingCapability)
}

func Test_SweepExpiredBlacklist_ClearsOnlyExpiredBans(t *testing.T) {
	// setup
	tb := newTestbed(t)
	ctx := context.Background()
	expired, active := uuid.New(), uuid.New()
	fixtures.GivenBan(t, tb.store, expired, schoolDayStart.Add(-time.Hour))
	fixtures.GivenBan(t, tb.store, active, schoolDayStart.Add(time.Hour))

	// act
	report, err := tb.engine.SweepExpiredBlacklist(ctx, lending.SystemPrincipal())

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, []uuid.UUID{expired}, report.Affected)

	expiredStatus, err := tb.store.BorrowerStatus(ctx, expired)
	require.NoError(t, err)
	assert.False(t, expiredStatus.Blacklisted)

	activeStatus, err := tb.store.BorrowerStatus(ctx, active)
	require.NoError(t, err)
	assert.True(t, activeStatus.Blacklisted)

	events, err := tb.engine.Events(ctx, fixtures.Admin(), lending.EventFilter{
		Types: []lending.EventType{lending.EventBlacklistCleared},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, expired, events[0].BorrowerID)
	assert.Equal(t, "expired", events[0].Attributes["reason"])

	_, forbiddenErr := tb.engine.SweepExpiredBlacklist(ctx, fixtures.Student())
	assert.Equal(t, lending.KindForbidden, lending.KindOf(forbiddenErr))
}

func Test_BorrowingStatus_ClearsExpiredBanAtLogin(t *testing.T) {
	// setup
	tb := newTestbed(t)
	ctx := context.Background()
	userID := uuid.New()
	fixtures.GivenBan(t, tb.store, userID, schoolDayStart.Add(2*day))

	// act
	banned, bannedErr := tb.engine.BorrowingStatus(ctx, userID)
	tb.clock.AdvanceDays(2)
	cleared, clearedErr := tb.engine.BorrowingStatus(ctx, userID)
	afterwards, afterwardsErr := tb.engine.BorrowingStatus(ctx, userID)

	// assert
	require.NoError(t, bannedErr)
	assert.True(t, banned.Banned)
	assert.False(t, banned.Cleared)

	require.NoError(t, clearedErr)
	assert.False(t, cleared.Banned)
	assert.True(t, cleared.Cleared)
	assert.False(t, cleared.Status.Blacklisted)

	require.NoError(t, afterwardsErr)
	assert.False(t, afterwards.Cleared)

	_, missingErr := tb.engine.BorrowingStatus(ctx, uuid.Nil)
	assert.ErrorIs(t, missingErr, lending.ErrMissingID)
}

func Test_LiftBan(t *testing.T) {
	// setup
	tb := newTestbed(t)
	ctx := context.Background()
	admin := fixtures.Admin()
	userID := uuid.New()
	fixtures.GivenBan(t, tb.store, userID, schoolDayStart.AddDate(0, 0, 30))

	// act
	_, librarianErr := tb.engine.LiftBan(ctx, fixtures.Librarian(), userID)
	lifted, err := tb.engine.LiftBan(ctx, admin, userID)
	noop, noopErr := tb.engine.LiftBan(ctx, admin, userID)

	// assert
	assert.ErrorIs(t, librarianErr, lending.ErrMissingCapability)

	require.NoError(t, err)
	assert.True(t, lifted.Cleared)
	assert.False(t, lifted.Status.Blacklisted)

	require.NoError(t, noopErr)
	assert.False(t, noop.Cleared)

	events, err := tb.engine.Events(ctx, admin, lending.EventFilter{BorrowerID: userID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "lifted", events[0].Attributes["reason"])
	assert.Equal(t, admin.UserID.String(), events[0].Attributes["lifted_by"])
}
