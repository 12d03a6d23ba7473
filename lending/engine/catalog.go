package engine

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/sqlengine"
)

// AddMaterial registers a material with all of its copies available.
// The number of copies is fixed at creation.
func (e *Engine) AddMaterial(ctx context.Context, p lending.Principal, copiesTotal int) (MaterialResult, error) {
	if err := p.Require(lending.CapManageCatalog); err != nil {
		return MaterialResult{}, e.reject(ctx, opAddMaterial, err)
	}

	material, err := lending.NewMaterial(uuid.New(), copiesTotal)
	if err != nil {
		return MaterialResult{}, e.reject(ctx, opAddMaterial, err)
	}

	execution, err := e.execute(ctx, opAddMaterial, func(ctx context.Context, tx *sqlengine.Tx, now time.Time) (lending.Outcome, error) {
		if err := tx.InsertMaterial(ctx, material); err != nil {
			return "", err
		}

		return lending.OutcomeCompleted, tx.AppendEvents(ctx,
			lending.NewEvent(lending.EventMaterialAdded, material.ID, uuid.Nil, now,
				"copies_total", strconv.Itoa(material.CopiesTotal)))
	})

	return MaterialResult{Material: material, Execution: execution}, err
}

// DeleteMaterial removes a material that has no reserved or picked up loans, together with its waitlist.
func (e *Engine) DeleteMaterial(ctx context.Context, p lending.Principal, materialID uuid.UUID) (MaterialResult, error) {
	if err := p.Require(lending.CapManageCatalog); err != nil {
		return MaterialResult{}, e.reject(ctx, opDeleteMaterial, err)
	}

	var result MaterialResult

	execution, err := e.execute(ctx, opDeleteMaterial, func(ctx context.Context, tx *sqlengine.Tx, now time.Time) (lending.Outcome, error) {
		result = MaterialResult{}

		material, err := tx.Material(ctx, materialID)
		if err != nil {
			return "", err
		}

		holding, err := tx.CountHoldingLoansForMaterial(ctx, materialID)
		if err != nil {
			return "", err
		}

		if holding > 0 {
			return "", lending.ErrMaterialHasActiveLoans
		}

		if err = tx.DeleteMaterial(ctx, material); err != nil {
			return "", err
		}

		dropped, err := tx.DeleteWaitlistForMaterial(ctx, materialID)
		if err != nil {
			return "", err
		}

		result = MaterialResult{Material: material, WaitlistDropped: dropped}

		return lending.OutcomeCompleted, tx.AppendEvents(ctx,
			lending.NewEvent(lending.EventMaterialRemoved, materialID, uuid.Nil, now,
				"waitlist_dropped", strconv.FormatInt(dropped, 10)))
	})

	result.Execution = execution

	return result, err
}

// RegisterDevice adds an available device.
func (e *Engine) RegisterDevice(ctx context.Context, p lending.Principal, name string) (DeviceResult, error) {
	if err := p.Require(lending.CapManageCatalog); err != nil {
		return DeviceResult{}, e.reject(ctx, opRegisterDevice, err)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return DeviceResult{}, e.reject(ctx, opRegisterDevice, lending.ErrMissingName)
	}

	device := lending.Device{ID: uuid.New(), Name: name, Available: true}

	execution, err := e.execute(ctx, opRegisterDevice, func(ctx context.Context, tx *sqlengine.Tx, now time.Time) (lending.Outcome, error) {
		if err := tx.InsertDevice(ctx, device); err != nil {
			return "", err
		}

		return lending.OutcomeCompleted, tx.AppendEvents(ctx,
			lending.NewEvent(lending.EventDeviceRegistered, device.ID, uuid.Nil, now, "name", device.Name))
	})

	return DeviceResult{Device: device, Execution: execution}, err
}
