package sqlengine

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/sqlengine/internal/adapters"
)

var materialColumns = []any{"id", "copies_total", "copies_available", "version"}

func scanMaterial(rows adapters.DBRows) (lending.Material, error) {
	var m lending.Material
	err := rows.Scan(&m.ID, &m.CopiesTotal, &m.CopiesAvailable, &m.Version)

	return m, err
}

// Material loads a material. It returns lending.ErrMaterialNotFound when there is none.
func (tx *Tx) Material(ctx context.Context, id uuid.UUID) (lending.Material, error) {
	stmt := tx.builder().
		From(tableMaterials).
		Select(materialColumns...).
		Where(goqu.C("id").Eq(id)).
		Prepared(true)

	var found []lending.Material
	if err := tx.query(ctx, "select_material", stmt, collect(scanMaterial, &found)); err != nil {
		return lending.Material{}, err
	}

	if len(found) == 0 {
		return lending.Material{}, lending.ErrMaterialNotFound
	}

	return found[0], nil
}

// InsertMaterial stores a new material.
func (tx *Tx) InsertMaterial(ctx context.Context, m lending.Material) error {
	stmt := tx.builder().
		Insert(tableMaterials).
		Rows(goqu.Record{
			"id":               m.ID,
			"copies_total":     m.CopiesTotal,
			"copies_available": m.CopiesAvailable,
			"version":          m.Version,
		}).
		Prepared(true)

	_, err := tx.exec(ctx, "insert_material", stmt)

	return err
}

// SaveMaterial writes the counters of updated if the row still has the version of current.
// It returns the stored material with the incremented version.
func (tx *Tx) SaveMaterial(ctx context.Context, current, updated lending.Material) (lending.Material, error) {
	stmt := tx.builder().
		Update(tableMaterials).
		Set(goqu.Record{
			"copies_total":     updated.CopiesTotal,
			"copies_available": updated.CopiesAvailable,
			"version":          current.Version + 1,
		}).
		Where(
			goqu.C("id").Eq(current.ID),
			goqu.C("version").Eq(current.Version),
		).
		Prepared(true)

	if err := tx.execCAS(ctx, "update_material", tableMaterials, stmt); err != nil {
		return current, err
	}

	updated.Version = current.Version + 1

	return updated, nil
}

// DeleteMaterial removes a material if the row still has the version of current.
func (tx *Tx) DeleteMaterial(ctx context.Context, current lending.Material) error {
	stmt := tx.builder().
		Delete(tableMaterials).
		Where(
			goqu.C("id").Eq(current.ID),
			goqu.C("version").Eq(current.Version),
		).
		Prepared(true)

	return tx.execCAS(ctx, "delete_material", tableMaterials, stmt)
}

// MaterialDiscrepancy reports a material whose available counter does not match its holding loans.
type MaterialDiscrepancy struct {
	Material     lending.Material
	HeldCopies   int
	ExpectedFree int
}

// InventoryDiscrepancies lists every material for which
// copies_available != copies_total - sum(copies of reserved and picked up loans),
// or whose counter left the [0, copies_total] range.
func (s *Store) InventoryDiscrepancies(ctx context.Context) ([]MaterialDiscrepancy, error) {
	held := s.builder.
		From(tableLoans).
		Select(goqu.C("material_id"), goqu.SUM("copies").As("held")).
		Where(goqu.C("state").In(string(lending.LoanStateReserved), string(lending.LoanStatePickedUp))).
		GroupBy("material_id").
		As("h")

	stmt := s.builder.
		From(goqu.T(tableMaterials).As("m")).
		LeftJoin(held, goqu.On(goqu.I("h.material_id").Eq(goqu.I("m.id")))).
		Select(
			goqu.I("m.id"),
			goqu.I("m.copies_total"),
			goqu.I("m.copies_available"),
			goqu.I("m.version"),
			goqu.COALESCE(goqu.I("h.held"), 0),
		).
		Order(goqu.I("m.id").Asc()).
		Prepared(true)

	var discrepancies []MaterialDiscrepancy
	err := s.query(ctx, s.db, "audit_inventory", stmt, func(rows adapters.DBRows) error {
		var d MaterialDiscrepancy
		var heldCopies int64
		if err := rows.Scan(&d.Material.ID, &d.Material.CopiesTotal, &d.Material.CopiesAvailable, &d.Material.Version, &heldCopies); err != nil {
			return err
		}

		d.HeldCopies = int(heldCopies)
		d.ExpectedFree = d.Material.CopiesTotal - d.HeldCopies

		if d.ExpectedFree != d.Material.CopiesAvailable || d.Material.CopiesAvailable < 0 || d.Material.CopiesAvailable > d.Material.CopiesTotal {
			discrepancies = append(discrepancies, d)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return discrepancies, nil
}
