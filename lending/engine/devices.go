package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/sqlengine"
)

// RequestDevice lends a device to the calling principal for days days; zero means device_loan_days.
// Devices have no waitlist, an unavailable device is a Conflict.
func (e *Engine) RequestDevice(ctx context.Context, p lending.Principal, deviceID uuid.UUID, days int) (DeviceLoanResult, error) {
	if err := p.Require(lending.CapBorrow); err != nil {
		return DeviceLoanResult{}, e.reject(ctx, opRequestDevice, err)
	}

	if days < 0 {
		return DeviceLoanResult{}, e.reject(ctx, opRequestDevice, lending.ErrInvalidLoanDays)
	}

	if deviceID == uuid.Nil {
		return DeviceLoanResult{}, e.reject(ctx, opRequestDevice, lending.ErrMissingID)
	}

	var result DeviceLoanResult

	execution, err := e.execute(ctx, opRequestDevice, func(ctx context.Context, tx *sqlengine.Tx, now time.Time) (lending.Outcome, error) {
		result = DeviceLoanResult{}

		settings, err := tx.Settings(ctx)
		if err != nil {
			return "", err
		}

		loanDays := days
		if loanDays == 0 {
			loanDays = settings.DeviceLoanDays
		}

		current, err := tx.BorrowerStatus(ctx, p.UserID)
		if err != nil {
			return "", err
		}

		status, cleared := current.ClearExpired(now)
		if status.BannedAt(now) {
			return "", lending.ErrBorrowerBlacklisted
		}

		device, err := tx.Device(ctx, deviceID)
		if err != nil {
			return "", err
		}

		if !device.Available {
			return "", lending.ErrDeviceUnavailable
		}

		var events []lending.Event

		if _, err = tx.SaveBorrowerStatus(ctx, current, status); err != nil {
			return "", err
		}

		if cleared {
			events = append(events, lending.NewEvent(lending.EventBlacklistCleared, p.UserID, p.UserID, now, "reason", "expired"))
		}

		lent := device
		lent.Available = false
		if _, err = tx.SaveDevice(ctx, device, lent); err != nil {
			return "", err
		}

		deviceLoan := lending.NewDeviceLoan(deviceID, p.UserID, loanDays, now)
		if err = tx.InsertDeviceLoan(ctx, deviceLoan); err != nil {
			return "", err
		}

		events = append(events, lending.NewEvent(lending.EventDeviceLoaned, deviceLoan.ID, p.UserID, now,
			"device_id", deviceID.String(),
			"days", strconv.Itoa(loanDays),
			"due_at", deviceLoan.DueAt.Format(time.RFC3339)))

		result = DeviceLoanResult{Outcome: lending.OutcomeGranted, DeviceLoan: deviceLoan}

		return lending.OutcomeGranted, tx.AppendEvents(ctx, events...)
	})

	result.Execution = execution

	return result, err
}

// ReturnDevice takes a device back. Late device returns are not sanctioned.
func (e *Engine) ReturnDevice(ctx context.Context, p lending.Principal, deviceLoanID uuid.UUID) (DeviceLoanResult, error) {
	if err := p.Require(lending.CapHandleLoans); err != nil {
		return DeviceLoanResult{}, e.reject(ctx, opReturnDevice, err)
	}

	var result DeviceLoanResult

	execution, err := e.execute(ctx, opReturnDevice, func(ctx context.Context, tx *sqlengine.Tx, now time.Time) (lending.Outcome, error) {
		result = DeviceLoanResult{}

		deviceLoan, err := tx.DeviceLoan(ctx, deviceLoanID)
		if err != nil {
			return "", err
		}

		returned, err := deviceLoan.ConfirmReturn(p.UserID, now)
		if err != nil {
			return "", err
		}

		device, err := tx.Device(ctx, deviceLoan.DeviceID)
		if err != nil {
			return "", err
		}

		available := device
		available.Available = true
		if _, err = tx.SaveDevice(ctx, device, available); err != nil {
			return "", err
		}

		if returned, err = tx.SaveDeviceLoan(ctx, deviceLoan, returned); err != nil {
			return "", err
		}

		result = DeviceLoanResult{Outcome: lending.OutcomeCompleted, DeviceLoan: returned}

		return lending.OutcomeCompleted, tx.AppendEvents(ctx,
			lending.NewEvent(lending.EventDeviceReturned, returned.ID, returned.BorrowerID, now,
				"device_id", returned.DeviceID.String(),
				"handled_by", p.UserID.String(),
				"late", strconv.FormatBool(now.After(returned.DueAt))))
	})

	result.Execution = execution

	return result, err
}
