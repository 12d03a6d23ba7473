package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoollibrary/lendingengine/internal/config"
	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/engine"
	"github.com/schoollibrary/lendingengine/lending/sqlengine"
	"github.com/schoollibrary/lendingengine/testutil/fixtures"
)

type cli struct {
	t   *testing.T
	dsn string
}

func newCLI(t *testing.T) *cli {
	t.Helper()

	c := &cli{t: t, dsn: filepath.Join(t.TempDir(), "lending.db")}
	c.mustRun(nil, "migrate")

	return c
}

// run executes one command line as the given user and role.
func (c *cli) run(as *lending.Principal, args ...string) (string, error) {
	c.t.Helper()

	base := []string{"--db-driver", "sqlite", "--db-dsn", c.dsn, "--log-level", "error"}
	if as != nil {
		base = append(base, "--role", as.Role)
		if as.UserID != uuid.Nil {
			base = append(base, "--user", as.UserID.String())
		}
	}

	var stdout, stderr bytes.Buffer
	err := execute(append(base, args...), &stdout, &stderr)

	return stdout.String(), err
}

func (c *cli) mustRun(as *lending.Principal, args ...string) string {
	c.t.Helper()

	out, err := c.run(as, args...)
	require.NoError(c.t, err, "lendingctl %v", args)

	return out
}

// store opens the command line's database directly, for arranging state no command creates.
func (c *cli) store() *sqlengine.Store {
	c.t.Helper()

	db, err := config.OpenSQLite(context.Background(), c.dsn)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { _ = db.Close() })

	store, err := sqlengine.NewStoreFromSQLite(db)
	require.NoError(c.t, err)

	return store
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()

	var v T
	require.NoError(t, json.UnmarshalFromString(out, &v))

	return v
}

func principal(role string) *lending.Principal {
	p := lending.DefaultRolePolicy().Principal(uuid.New(), role)
	return &p
}

func Test_Lendingctl_LoanLifecycle(t *testing.T) {
	// setup
	c := newCLI(t)
	librarian := principal(lending.RoleLibrarian)
	student := principal(lending.RoleStudent)
	admin := principal(lending.RoleAdmin)

	material := decode[engine.MaterialResult](t, c.mustRun(librarian, "material", "add", "--copies", "1"))

	// act
	reserved := decode[engine.ReserveResult](t, c.mustRun(student, "loan", "reserve", material.Material.ID.String()))
	require.NotNil(t, reserved.Loan)
	loanID := reserved.Loan.ID.String()

	queued := decode[engine.ReserveResult](t, c.mustRun(principal(lending.RoleStudent), "loan", "reserve", material.Material.ID.String()))
	pickedUp := decode[engine.LoanResult](t, c.mustRun(librarian, "loan", "pickup", loanID, "--code", reserved.Loan.ReservationCode))
	returned := decode[engine.ReturnResult](t, c.mustRun(librarian, "loan", "return", loanID, "--code", reserved.Loan.ReservationCode))
	mine := decode[[]lending.Loan](t, c.mustRun(student, "loan", "list"))
	waitlist := decode[[]lending.WaitlistEntry](t, c.mustRun(nil, "waitlist", "show", material.Material.ID.String()))
	audit := decode[[]map[string]any](t, c.mustRun(admin, "audit"))

	// assert
	assert.Equal(t, lending.OutcomeGranted, reserved.Outcome)
	assert.Equal(t, lending.OutcomeQueued, queued.Outcome)
	assert.Equal(t, lending.LoanStatePickedUp, pickedUp.Loan.State)
	assert.Equal(t, lending.LoanStateReturned, returned.Loan.State)
	assert.False(t, returned.Late)
	require.NotNil(t, returned.NotifiedEntry)
	require.Len(t, mine, 1)
	assert.Equal(t, student.UserID, mine[0].BorrowerID)
	require.Len(t, waitlist, 1)
	assert.True(t, waitlist[0].Notified)
	assert.Empty(t, audit)
}

func Test_Lendingctl_SystemRoleRunsSweepsWithoutUser(t *testing.T) {
	c := newCLI(t)
	system := &lending.Principal{Role: lending.RoleSystem}

	overdue := decode[engine.SweepReport](t, c.mustRun(system, "sweep", "overdue"))
	expired := decode[engine.SweepReport](t, c.mustRun(system, "sweep", "expired"))

	assert.Zero(t, overdue.Candidates)
	assert.Zero(t, expired.Candidates)
}

func Test_Lendingctl_SettingsAndBlacklist(t *testing.T) {
	// setup
	c := newCLI(t)
	admin := principal(lending.RoleAdmin)
	userID := uuid.New()

	// act
	settings := decode[engine.SettingsResult](t, c.mustRun(admin, "settings", "set", lending.SettingMaxPersonalLoans, "5"))
	status := decode[engine.StatusResult](t, c.mustRun(nil, "blacklist", "status", userID.String()))
	log := decode[[]lending.BlacklistLogEntry](t, c.mustRun(admin, "blacklist", "log", userID.String()))
	events := decode[[]lending.Event](t, c.mustRun(admin, "events", "--type", string(lending.EventSettingChanged)))

	// assert
	assert.Equal(t, 5, settings.Settings.MaxPersonalLoans)
	assert.False(t, status.Banned)
	assert.Empty(t, log)
	require.Len(t, events, 1)
	assert.Equal(t, lending.EventSettingChanged, events[0].Type)
}

func Test_Lendingctl_StatsAndActiveBans(t *testing.T) {
	// setup
	c := newCLI(t)
	librarian := principal(lending.RoleLibrarian)
	banned := uuid.New()

	material := decode[engine.MaterialResult](t, c.mustRun(librarian, "material", "add", "--copies", "2"))
	c.mustRun(principal(lending.RoleStudent), "loan", "reserve", material.Material.ID.String())
	fixtures.GivenBan(t, c.store(), banned, time.Now().Add(72*time.Hour))

	// act
	stats := decode[lending.LoanStatistics](t, c.mustRun(librarian, "stats"))
	bans := decode[[]lending.ActiveBan](t, c.mustRun(librarian, "blacklist", "list"))

	// assert
	assert.Equal(t, 1, stats.ActiveLoans)
	require.Len(t, stats.MonthlyLoans, 1)
	assert.Equal(t, 1, stats.MonthlyLoans[0].Loans)
	require.Len(t, stats.PopularMaterials, 1)
	assert.Equal(t, material.Material.ID, stats.PopularMaterials[0].MaterialID)

	require.Len(t, bans, 1)
	assert.Equal(t, banned, bans[0].Status.UserID)
	assert.Nil(t, bans[0].Sanction)
}

func Test_Lendingctl_Errors(t *testing.T) {
	c := newCLI(t)
	student := principal(lending.RoleStudent)

	testCases := []struct {
		name     string
		as       *lending.Principal
		args     []string
		expected lending.ErrorKind
		exitCode int
	}{
		{"missing user", &lending.Principal{Role: lending.RoleStudent}, []string{"loan", "list"}, lending.KindValidation, 2},
		{"invalid id", student, []string{"loan", "cancel", "not-a-uuid"}, lending.KindValidation, 2},
		{"unknown material", student, []string{"loan", "reserve", uuid.NewString()}, lending.KindNotFound, 3},
		{"missing capability", student, []string{"material", "add"}, lending.KindForbidden, 4},
		{"stats need staff", student, []string{"stats"}, lending.KindForbidden, 4},
		{"ban list needs staff", principal(lending.RoleTeacher), []string{"blacklist", "list"}, lending.KindForbidden, 4},
		{"invalid setting value", principal(lending.RoleAdmin), []string{"settings", "set", lending.SettingLoanPeriodDays, "x"}, lending.KindValidation, 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.run(tc.as, tc.args...)

			require.Error(t, err)
			assert.Equal(t, tc.expected, lending.KindOf(err))
			assert.Equal(t, tc.exitCode, exitCode(err))
		})
	}
}

func Test_ReserveCommand_BuildsClassLoans(t *testing.T) {
	materialID, classID, participant := uuid.New(), uuid.New(), uuid.New()

	personal, personalErr := reserveCommand(materialID.String(), "", nil)
	class, classErr := reserveCommand(materialID.String(), classID.String(), []string{participant.String()})
	_, badErr := reserveCommand(materialID.String(), classID.String(), []string{"nope"})

	require.NoError(t, personalErr)
	assert.Equal(t, lending.LoanKindPersonal, personal.Kind)
	require.NoError(t, classErr)
	assert.Equal(t, lending.LoanKindClass, class.Kind)
	assert.Equal(t, classID, class.ClassID)
	assert.Equal(t, []uuid.UUID{participant}, class.ParticipantIDs)
	assert.ErrorIs(t, badErr, ErrInvalidID)
}
