package lending_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/schoollibrary/lendingengine/lending"
)

func Test_SettingsFrom_OverlaysStoredValuesOnDefaults(t *testing.T) {
	// act
	settings := lending.SettingsFrom(map[string]int{
		lending.SettingMaxPersonalLoans: 5,
		"unknown_key":                   99,
		lending.SettingDeviceLoanDays:   0,
	})

	// assert
	assert.Equal(t, 5, settings.MaxPersonalLoans)
	assert.Equal(t, lending.DefaultSettings().LoanPeriodDays, settings.LoanPeriodDays)
	assert.Equal(t, lending.DefaultSettings().DeviceLoanDays, settings.DeviceLoanDays, "invalid stored values fall back to defaults")
}

func Test_Settings_With_RejectsInvalidInput(t *testing.T) {
	settings := lending.DefaultSettings()

	_, unknownErr := settings.With("nope", 1)
	_, negativeErr := settings.With(lending.SettingBlacklistDays, -1)

	assert.ErrorIs(t, unknownErr, lending.ErrUnknownSetting)
	assert.ErrorIs(t, negativeErr, lending.ErrInvalidSetting)
	assert.Len(t, lending.SettingKeys(), 5)
}

func Test_RolePolicy_Principal(t *testing.T) {
	// arrange
	policy := lending.DefaultRolePolicy()
	userID := uuid.New()

	// act
	student := policy.Principal(userID, "Student")
	teacher := policy.Principal(userID, lending.RoleTeacher)
	stranger := policy.Principal(userID, "janitor")

	// assert
	assert.True(t, student.Can(lending.CapBorrow))
	assert.False(t, student.Can(lending.CapClassLoans))
	assert.True(t, teacher.Can(lending.CapClassLoans))
	assert.ErrorIs(t, stranger.Require(lending.CapBorrow), lending.ErrMissingCapability)
	assert.Equal(t, lending.KindForbidden, lending.KindOf(stranger.Require(lending.CapBorrow)))
	assert.True(t, lending.SystemPrincipal().Can(lending.CapRunMaintenance))
	assert.Equal(t, lending.AccessLevelMember, teacher.AccessLevel)
	assert.Equal(t, lending.AccessLevelLibrarian, policy.Principal(userID, lending.RoleLibrarian).AccessLevel)
	assert.Equal(t, lending.AccessLevelAdmin, policy.Principal(userID, " ADMIN ").AccessLevel)
}

func Test_Principal_AccessLevelDoesNotGrantCapabilities(t *testing.T) {
	// arrange
	p := lending.Principal{UserID: uuid.New(), Role: lending.RoleStudent, AccessLevel: lending.AccessLevelAdmin}

	// act
	err := p.Require(lending.CapManageSettings)

	// assert
	assert.ErrorIs(t, err, lending.ErrMissingCapability)
}
