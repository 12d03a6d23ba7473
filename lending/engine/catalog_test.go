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

func Test_AddMaterial(t *testing.T) {
	tb := newTestbed(t)
	ctx := context.Background()

	added, err := tb.engine.AddMaterial(ctx, fixtures.Librarian(), 4)
	_, studentErr := tb.engine.AddMaterial(ctx, fixtures.Student(), 4)
	_, negativeErr := tb.engine.AddMaterial(ctx, fixtures.Librarian(), -1)

	require.NoError(t, err)
	assert.Equal(t, 4, added.Material.CopiesTotal)
	assert.Equal(t, 4, tb.material(t, added.Material.ID).CopiesAvailable)
	assert.ErrorIs(t, studentErr, lending.ErrMissingCapability)
	assert.ErrorIs(t, negativeErr, lending.ErrInvalidCopies)
}

func Test_DeleteMaterial_RefusesWhileCopiesAreOut(t *testing.T) {
	// setup
	tb := newTestbed(t)
	ctx := context.Background()
	librarian := fixtures.Librarian()
	owner := fixtures.Student()
	material := fixtures.GivenMaterial(t, tb.store, 1)
	loan := tb.reservePersonal(t, owner, material.ID).Loan
	tb.reservePersonal(t, fixtures.Student(), material.ID)
	tb.reservePersonal(t, fixtures.Student(), material.ID)

	// act
	_, activeErr := tb.engine.DeleteMaterial(ctx, librarian, material.ID)

	_, err := tb.engine.Cancel(ctx, owner, loan.ID)
	require.NoError(t, err)

	deleted, err := tb.engine.DeleteMaterial(ctx, librarian, material.ID)
	_, missingErr := tb.engine.DeleteMaterial(ctx, librarian, material.ID)

	// assert
	assert.ErrorIs(t, activeErr, lending.ErrMaterialHasActiveLoans)
	assert.Equal(t, lending.KindConflict, lending.KindOf(activeErr))

	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted.WaitlistDropped)
	assert.ErrorIs(t, missingErr, lending.ErrMaterialNotFound)

	waitlist, err := tb.engine.Waitlist(ctx, material.ID)
	require.NoError(t, err)
	assert.Empty(t, waitlist)

	history, err := tb.engine.Loans(ctx, librarian, lending.LoanFilter{}.ForMaterial(material.ID))
	require.NoError(t, err)
	assert.Len(t, history, 1, "loan history outlives the material")
}

func Test_RegisterDevice(t *testing.T) {
	tb := newTestbed(t)
	ctx := context.Background()

	registered, err := tb.engine.RegisterDevice(ctx, fixtures.Librarian(), "  Camera 2 ")
	_, blankErr := tb.engine.RegisterDevice(ctx, fixtures.Librarian(), "   ")
	_, teacherErr := tb.engine.RegisterDevice(ctx, fixtures.Teacher(), "Camera 3")

	require.NoError(t, err)
	assert.Equal(t, "Camera 2", registered.Device.Name)
	assert.True(t, registered.Device.Available)
	assert.ErrorIs(t, blankErr, lending.ErrMissingName)
	assert.ErrorIs(t, teacherErr, lending.ErrMissingCapability)
}

func Test_UpdateSetting_AppliesToLaterOperations(t *testing.T) {
	// setup
	tb := newTestbed(t)
	ctx := context.Background()
	admin := fixtures.Admin()
	student := fixtures.Student()

	// act
	updated, err := tb.engine.UpdateSetting(ctx, admin, lending.SettingLoanPeriodDays, 21)
	_, librarianErr := tb.engine.UpdateSetting(ctx, fixtures.Librarian(), lending.SettingLoanPeriodDays, 7)
	_, unknownErr := tb.engine.UpdateSetting(ctx, admin, "max_renewals", 2)
	_, negativeErr := tb.engine.UpdateSetting(ctx, admin, lending.SettingBlacklistDays, -5)

	material := fixtures.GivenMaterial(t, tb.store, 1)
	loan := tb.reservePersonal(t, student, material.ID).Loan

	// assert
	require.NoError(t, err)
	assert.Equal(t, 21, updated.Settings.LoanPeriodDays)
	assert.ErrorIs(t, librarianErr, lending.ErrMissingCapability)
	assert.ErrorIs(t, unknownErr, lending.ErrUnknownSetting)
	assert.ErrorIs(t, negativeErr, lending.ErrInvalidSetting)
	assert.Equal(t, schoolDayStart.AddDate(0, 0, 21), loan.DueAt)

	events, err := tb.engine.Events(ctx, admin, lending.EventFilter{Types: []lending.EventType{lending.EventSettingChanged}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "21", events[0].Attributes["value"])
	assert.Equal(t, uuid.Nil, events[0].SubjectID)
}
