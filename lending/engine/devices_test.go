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

func Test_Device_RequestAndReturn(t *testing.T) {
	// setup
	tb := newTestbed(t)
	ctx := context.Background()
	librarian := fixtures.Librarian()
	student, other := fixtures.Student(), fixtures.Student()
	device := fixtures.GivenDevice(t, tb.store, "Tablet 07")

	// act
	lent, err := tb.engine.RequestDevice(ctx, student, device.ID, 0)
	_, unavailableErr := tb.engine.RequestDevice(ctx, other, device.ID, 3)

	tb.clock.AdvanceDays(9)
	returned, returnErr := tb.engine.ReturnDevice(ctx, librarian, lent.DeviceLoan.ID)
	_, againErr := tb.engine.ReturnDevice(ctx, librarian, lent.DeviceLoan.ID)
	relent, relentErr := tb.engine.RequestDevice(ctx, other, device.ID, 3)

	// assert
	require.NoError(t, err)
	assert.Equal(t, lending.OutcomeGranted, lent.Outcome)
	assert.Equal(t, lending.DeviceLoanStateActive, lent.DeviceLoan.State)
	assert.Equal(t, schoolDayStart.AddDate(0, 0, 7), lent.DeviceLoan.DueAt, "zero days means device_loan_days")

	assert.ErrorIs(t, unavailableErr, lending.ErrDeviceUnavailable)
	assert.Equal(t, lending.KindConflict, lending.KindOf(unavailableErr))

	require.NoError(t, returnErr)
	assert.Equal(t, lending.DeviceLoanStateReturned, returned.DeviceLoan.State)
	assert.Equal(t, librarian.UserID, returned.DeviceLoan.HandledBy)
	assert.ErrorIs(t, againErr, lending.ErrIllegalTransition)

	require.NoError(t, relentErr)
	assert.Equal(t, tb.clock.Now().AddDate(0, 0, 3), relent.DeviceLoan.DueAt)

	status, err := tb.engine.BorrowingStatus(ctx, student.UserID)
	require.NoError(t, err)
	assert.False(t, status.Banned, "late device returns are not sanctioned")

	events, err := tb.engine.Events(ctx, fixtures.Admin(), lending.EventFilter{
		Types:     []lending.EventType{lending.EventDeviceReturned},
		SubjectID: lent.DeviceLoan.ID,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "true", events[0].Attributes["late"])
}

func Test_RequestDevice_Rejections(t *testing.T) {
	// setup
	tb := newTestbed(t)
	ctx := context.Background()
	device := fixtures.GivenDevice(t, tb.store, "Laptop 3")
	banned := fixtures.Student()
	fixtures.GivenBan(t, tb.store, banned.UserID, schoolDayStart.Add(day))

	// act
	_, bannedErr := tb.engine.RequestDevice(ctx, banned, device.ID, 1)
	_, unknownErr := tb.engine.RequestDevice(ctx, fixtures.Student(), uuid.New(), 1)
	_, negativeErr := tb.engine.RequestDevice(ctx, fixtures.Student(), device.ID, -1)
	_, nilErr := tb.engine.RequestDevice(ctx, fixtures.Student(), uuid.Nil, 1)
	_, returnErr := tb.engine.ReturnDevice(ctx, fixtures.Student(), uuid.New())
	_, unknownLoanErr := tb.engine.ReturnDevice(ctx, fixtures.Librarian(), uuid.New())

	// assert
	assert.ErrorIs(t, bannedErr, lending.ErrBorrowerBlacklisted)
	assert.ErrorIs(t, unknownErr, lending.ErrDeviceNotFound)
	assert.ErrorIs(t, negativeErr, lending.ErrInvalidLoanDays)
	assert.ErrorIs(t, nilErr, lending.ErrMissingID)
	assert.ErrorIs(t, returnErr, lending.ErrMissingCapability)
	assert.ErrorIs(t, unknownLoanErr, lending.ErrDeviceLoanNotFound)

	_, err := tb.engine.RequestDevice(ctx, fixtures.Student(), device.ID, 1)
	assert.NoError(t, err, "rejected requests leave the device available")
}
