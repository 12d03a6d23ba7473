// Package fixtures provides principals, a controllable clock and store givens for tests.
package fixtures

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/sqlengine"
)

// Student returns a new student principal.
func Student() lending.Principal {
	return lending.DefaultRolePolicy().Principal(uuid.New(), lending.RoleStudent)
}

// Teacher returns a new teacher principal.
func Teacher() lending.Principal {
	return lending.DefaultRolePolicy().Principal(uuid.New(), lending.RoleTeacher)
}

// Librarian returns a new librarian principal.
func Librarian() lending.Principal {
	return lending.DefaultRolePolicy().Principal(uuid.New(), lending.RoleLibrarian)
}

// Admin returns a new administrator principal.
func Admin() lending.Principal {
	return lending.DefaultRolePolicy().Principal(uuid.New(), lending.RoleAdmin)
}

// Clock is a settable time source for engine.WithClock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at the given time.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current time of the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// AdvanceDays moves the clock forward by whole days.
func (c *Clock) AdvanceDays(days int) {
	c.Advance(time.Duration(days) * 24 * time.Hour)
}

// GivenMaterial stores a material with all copies available.
func GivenMaterial(t testing.TB, store *sqlengine.Store, copiesTotal int) lending.Material {
	t.Helper()

	material, err := lending.NewMaterial(uuid.New(), copiesTotal)
	require.NoError(t, err)

	run(t, store, func(ctx context.Context, tx *sqlengine.Tx) error {
		return tx.InsertMaterial(ctx, material)
	})

	return material
}

// GivenDevice stores an available device.
func GivenDevice(t testing.TB, store *sqlengine.Store, name string) lending.Device {
	t.Helper()

	device := lending.Device{ID: uuid.New(), Name: name, Available: true}

	run(t, store, func(ctx context.Context, tx *sqlengine.Tx) error {
		return tx.InsertDevice(ctx, device)
	})

	return device
}

// GivenBan blacklists the user until expiresAt.
func GivenBan(t testing.TB, store *sqlengine.Store, userID uuid.UUID, expiresAt time.Time) lending.BorrowerStatus {
	t.Helper()

	var saved lending.BorrowerStatus

	run(t, store, func(ctx context.Context, tx *sqlengine.Tx) error {
		current, err := tx.BorrowerStatus(ctx, userID)
		if err != nil {
			return err
		}

		expiry := lending.ToStoredTime(expiresAt)
		updated := current
		updated.Blacklisted = true
		updated.ExpiresAt = &expiry

		saved, err = tx.SaveBorrowerStatus(ctx, current, updated)

		return err
	})

	return saved
}

// GivenReservedLoan takes copies of the material and stores a reserved personal loan for the borrower.
func GivenReservedLoan(
	t testing.TB,
	store *sqlengine.Store,
	materialID uuid.UUID,
	borrowerID uuid.UUID,
	reservedAt time.Time,
	loanDays int,
) lending.Loan {
	t.Helper()

	loan := lending.NewLoan(materialID, borrowerID, lending.LoanKindPersonal, uuid.Nil, nil, 1, reservedAt, loanDays)

	run(t, store, func(ctx context.Context, tx *sqlengine.Tx) error {
		material, err := tx.Material(ctx, materialID)
		if err != nil {
			return err
		}

		reserved, ok := material.Reserve(loan.Copies)
		require.True(t, ok, "material has no free copy")

		if _, err = tx.SaveMaterial(ctx, material, reserved); err != nil {
			return err
		}

		return tx.InsertLoan(ctx, loan)
	})

	return loan
}

// GivenPickedUpLoan is GivenReservedLoan followed by a pickup at reservedAt.
func GivenPickedUpLoan(
	t testing.TB,
	store *sqlengine.Store,
	materialID uuid.UUID,
	borrowerID uuid.UUID,
	reservedAt time.Time,
	loanDays int,
) lending.Loan {
	t.Helper()

	loan := GivenReservedLoan(t, store, materialID, borrowerID, reservedAt, loanDays)

	var pickedUp lending.Loan

	run(t, store, func(ctx context.Context, tx *sqlengine.Tx) error {
		next, err := loan.ConfirmPickup(loan.ReservationCode, uuid.New(), reservedAt)
		if err != nil {
			return err
		}

		pickedUp, err = tx.SaveLoan(ctx, loan, next)

		return err
	})

	return pickedUp
}

func run(t testing.TB, store *sqlengine.Store, fn func(ctx context.Context, tx *sqlengine.Tx) error) {
	t.Helper()
	require.NoError(t, store.RunInTx(context.Background(), "given", fn))
}
