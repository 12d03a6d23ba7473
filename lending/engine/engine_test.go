package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/engine"
	"github.com/schoollibrary/lendingengine/lending/sqlengine"
	"github.com/schoollibrary/lendingengine/testutil/fixtures"
	"github.com/schoollibrary/lendingengine/testutil/sqlitetest"
)

var schoolDayStart = time.Date(2026, time.March, 2, 8, 30, 0, 0, time.UTC)

const day = 24 * time.Hour

type testbed struct {
	engine *engine.Engine
	store  *sqlengine.Store
	clock  *fixtures.Clock
}

func newTestbed(t *testing.T, options ...engine.Option) testbed {
	t.Helper()

	store := sqlitetest.NewStore(t)
	clock := fixtures.NewClock(schoolDayStart)

	options = append([]engine.Option{
		engine.WithClock(clock.Now),
		engine.WithRetryOptions(engine.WithBaseDelay(time.Millisecond)),
	}, options...)

	e, err := engine.New(store, options...)
	require.NoError(t, err)

	return testbed{engine: e, store: store, clock: clock}
}

func (tb testbed) material(t *testing.T, id uuid.UUID) lending.Material {
	t.Helper()

	var material lending.Material

	require.NoError(t, tb.store.RunInTx(context.Background(), "read", func(ctx context.Context, tx *sqlengine.Tx) error {
		var err error
		material, err = tx.Material(ctx, id)

		return err
	}))

	return material
}

func (tb testbed) reservePersonal(t *testing.T, p lending.Principal, materialID uuid.UUID) engine.ReserveResult {
	t.Helper()

	result, err := tb.engine.Reserve(context.Background(), p, engine.ReserveCommand{
		MaterialID: materialID,
		Kind:       lending.LoanKindPersonal,
	})
	require.NoError(t, err)

	return result
}

func (tb testbed) eventTypes(t *testing.T, filter lending.EventFilter) []lending.EventType {
	t.Helper()

	events, err := tb.engine.Events(context.Background(), fixtures.Admin(), filter)
	require.NoError(t, err)

	types := make([]lending.EventType, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}

	return types
}

// requireConsistentInventory fails the test when any material's free copies differ from
// its total minus the copies held by reserved and picked up loans.
func (tb testbed) requireConsistentInventory(t *testing.T) {
	t.Helper()

	discrepancies, err := tb.engine.AuditInventory(context.Background(), lending.SystemPrincipal())
	require.NoError(t, err)
	require.Empty(t, discrepancies, "inventory out of balance")
}

func Test_New_ValidatesInput(t *testing.T) {
	_, nilStoreErr := engine.New(nil)
	_, retryErr := engine.New(sqlitetest.NewStore(t), engine.WithRetryOptions(engine.WithMaxAttempts(0)))

	assert.ErrorIs(t, nilStoreErr, engine.ErrNilStore)
	assert.ErrorIs(t, retryErr, engine.ErrInvalidMaxAttempts)
}

func reserveCommand(materialID uuid.UUID) engine.ReserveCommand {
	return engine.ReserveCommand{MaterialID: materialID, Kind: lending.LoanKindPersonal}
}
