package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/sqlengine"
)

// BorrowingStatus is the check the session layer runs at login. A ban whose expiry has passed
// is cleared on the spot.
func (e *Engine) BorrowingStatus(ctx context.Context, userID uuid.UUID) (StatusResult, error) {
	if userID == uuid.Nil {
		return StatusResult{}, e.reject(ctx, opBorrowingStatus, lending.ErrMissingID)
	}

	var result StatusResult

	execution, err := e.execute(ctx, opBorrowingStatus, func(ctx context.Context, tx *sqlengine.Tx, now time.Time) (lending.Outcome, error) {
		result = StatusResult{}

		cleared, err := clearExpiredBan(ctx, tx, userID, now, "expired")
		if err != nil {
			return "", err
		}

		status, err := tx.BorrowerStatus(ctx, userID)
		if err != nil {
			return "", err
		}

		result = StatusResult{Status: status, Banned: status.BannedAt(now), Cleared: cleared}

		return lending.OutcomeCompleted, nil
	})

	result.Execution = execution

	return result, err
}

// LiftBan removes a ban before its expiry. Lifting a user who is not banned changes nothing.
func (e *Engine) LiftBan(ctx context.Context, p lending.Principal, userID uuid.UUID) (StatusResult, error) {
	if err := p.Require(lending.CapManageBlacklist); err != nil {
		return StatusResult{}, e.reject(ctx, opLiftBan, err)
	}

	var result StatusResult

	execution, err := e.execute(ctx, opLiftBan, func(ctx context.Context, tx *sqlengine.Tx, now time.Time) (lending.Outcome, error) {
		result = StatusResult{}

		status, err := tx.BorrowerStatus(ctx, userID)
		if err != nil {
			return "", err
		}

		if !status.Blacklisted {
			result = StatusResult{Status: status}
			return lending.OutcomeCompleted, nil
		}

		lifted, err := tx.SaveBorrowerStatus(ctx, status, status.Lift())
		if err != nil {
			return "", err
		}

		result = StatusResult{Status: lifted, Cleared: true}

		return lending.OutcomeCompleted, tx.AppendEvents(ctx,
			lending.NewEvent(lending.EventBlacklistCleared, userID, userID, now,
				"reason", "lifted",
				"lifted_by", p.UserID.String()))
	})

	result.Execution = execution

	return result, err
}

// UpdateSetting changes one value of the settings store. It takes effect for every transaction
// that starts after the change commits.
func (e *Engine) UpdateSetting(ctx context.Context, p lending.Principal, key string, value int) (SettingsResult, error) {
	if err := p.Require(lending.CapManageSettings); err != nil {
		return SettingsResult{}, e.reject(ctx, opUpdateSetting, err)
	}

	if _, err := lending.DefaultSettings().With(key, value); err != nil {
		return SettingsResult{}, e.reject(ctx, opUpdateSetting, err)
	}

	var result SettingsResult

	execution, err := e.execute(ctx, opUpdateSetting, func(ctx context.Context, tx *sqlengine.Tx, now time.Time) (lending.Outcome, error) {
		result = SettingsResult{}

		settings, err := tx.Settings(ctx)
		if err != nil {
			return "", err
		}

		updated, err := settings.With(key, value)
		if err != nil {
			return "", err
		}

		if err = tx.SaveSetting(ctx, key, value); err != nil {
			return "", err
		}

		result = SettingsResult{Settings: updated}

		return lending.OutcomeCompleted, tx.AppendEvents(ctx,
			lending.NewEvent(lending.EventSettingChanged, uuid.Nil, uuid.Nil, now,
				"key", key,
				"value", strconv.Itoa(value),
				"changed_by", p.UserID.String()))
	})

	result.Execution = execution

	return result, err
}
