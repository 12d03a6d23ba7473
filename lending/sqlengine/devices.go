package sqlengine

import (
	"context"
	"database/sql"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/sqlengine/internal/adapters"
)

var deviceColumns = []any{"id", "name", "available", "version"}

func scanDevice(rows adapters.DBRows) (lending.Device, error) {
	var d lending.Device
	err := rows.Scan(&d.ID, &d.Name, &d.Available, &d.Version)

	return d, err
}

// Device loads a device. It returns lending.ErrDeviceNotFound when there is none.
func (tx *Tx) Device(ctx context.Context, id uuid.UUID) (lending.Device, error) {
	stmt := tx.builder().
		From(tableDevices).
		Select(deviceColumns...).
		Where(goqu.C("id").Eq(id)).
		Prepared(true)

	var found []lending.Device
	if err := tx.query(ctx, "select_device", stmt, collect(scanDevice, &found)); err != nil {
		return lending.Device{}, err
	}

	if len(found) == 0 {
		return lending.Device{}, lending.ErrDeviceNotFound
	}

	return found[0], nil
}

// InsertDevice stores a new device.
func (tx *Tx) InsertDevice(ctx context.Context, d lending.Device) error {
	stmt := tx.builder().
		Insert(tableDevices).
		Rows(goqu.Record{
			"id":        d.ID,
			"name":      d.Name,
			"available": d.Available,
			"version":   d.Version,
		}).
		Prepared(true)

	_, err := tx.exec(ctx, "insert_device", stmt)

	return err
}

// SaveDevice writes the availability of updated if the row still has the version of current.
func (tx *Tx) SaveDevice(ctx context.Context, current, updated lending.Device) (lending.Device, error) {
	stmt := tx.builder().
		Update(tableDevices).
		Set(goqu.Record{
			"available": updated.Available,
			"version":   current.Version + 1,
		}).
		Where(
			goqu.C("id").Eq(current.ID),
			goqu.C("version").Eq(current.Version),
		).
		Prepared(true)

	if err := tx.execCAS(ctx, "update_device", tableDevices, stmt); err != nil {
		return current, err
	}

	updated.Version = current.Version + 1

	return updated, nil
}

var deviceLoanColumns = []any{
	"id", "device_id", "borrower_id", "state", "loaned_at", "due_at", "returned_at", "handled_by", "version",
}

func scanDeviceLoan(rows adapters.DBRows) (lending.DeviceLoan, error) {
	var (
		dl         lending.DeviceLoan
		state      string
		returnedAt sql.NullTime
		handledBy  uuid.NullUUID
	)

	if err := rows.Scan(&dl.ID, &dl.DeviceID, &dl.BorrowerID, &state, &dl.LoanedAt, &dl.DueAt, &returnedAt, &handledBy, &dl.Version); err != nil {
		return lending.DeviceLoan{}, err
	}

	dl.State = lending.DeviceLoanState(state)
	dl.LoanedAt = lending.ToStoredTime(dl.LoanedAt)
	dl.DueAt = lending.ToStoredTime(dl.DueAt)
	dl.ReturnedAt = timePtr(returnedAt)
	dl.HandledBy = idOrNil(handledBy)

	return dl, nil
}

// DeviceLoan loads a device loan. It returns lending.ErrDeviceLoanNotFound when there is none.
func (tx *Tx) DeviceLoan(ctx context.Context, id uuid.UUID) (lending.DeviceLoan, error) {
	stmt := tx.builder().
		From(tableDeviceLoans).
		Select(deviceLoanColumns...).
		Where(goqu.C("id").Eq(id)).
		Prepared(true)

	var found []lending.DeviceLoan
	if err := tx.query(ctx, "select_device_loan", stmt, collect(scanDeviceLoan, &found)); err != nil {
		return lending.DeviceLoan{}, err
	}

	if len(found) == 0 {
		return lending.DeviceLoan{}, lending.ErrDeviceLoanNotFound
	}

	return found[0], nil
}

// InsertDeviceLoan stores a new device loan.
func (tx *Tx) InsertDeviceLoan(ctx context.Context, dl lending.DeviceLoan) error {
	stmt := tx.builder().
		Insert(tableDeviceLoans).
		Rows(goqu.Record{
			"id":          dl.ID,
			"device_id":   dl.DeviceID,
			"borrower_id": dl.BorrowerID,
			"state":       string(dl.State),
			"loaned_at":   lending.ToStoredTime(dl.LoanedAt),
			"due_at":      lending.ToStoredTime(dl.DueAt),
			"returned_at": storedTimePtr(dl.ReturnedAt),
			"handled_by":  nullableID(dl.HandledBy),
			"version":     dl.Version,
		}).
		Prepared(true)

	_, err := tx.exec(ctx, "insert_device_loan", stmt)

	return err
}

// SaveDeviceLoan writes the lifecycle columns of updated if the row still has the version of current.
func (tx *Tx) SaveDeviceLoan(ctx context.Context, current, updated lending.DeviceLoan) (lending.DeviceLoan, error) {
	stmt := tx.builder().
		Update(tableDeviceLoans).
		Set(goqu.Record{
			"state":       string(updated.State),
			"returned_at": storedTimePtr(updated.ReturnedAt),
			"handled_by":  nullableID(updated.HandledBy),
			"version":     current.Version + 1,
		}).
		Where(
			goqu.C("id").Eq(current.ID),
			goqu.C("version").Eq(current.Version),
		).
		Prepared(true)

	if err := tx.execCAS(ctx, "update_device_loan", tableDeviceLoans, stmt); err != nil {
		return current, err
	}

	updated.Version = current.Version + 1

	return updated, nil
}
