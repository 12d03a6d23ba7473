package sqlengine

import (
	"context"

	"github.com/doug-martin/goqu/v9"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/sqlengine/internal/adapters"
)

// Settings reads the settings store. Missing or invalid values fall back to the defaults.
func (tx *Tx) Settings(ctx context.Context) (lending.Settings, error) {
	stored, err := tx.store.storedSettings(ctx, tx.db)
	if err != nil {
		return lending.Settings{}, err
	}

	return lending.SettingsFrom(stored), nil
}

// SaveSetting writes one setting, inserting it when it is not stored yet.
func (tx *Tx) SaveSetting(ctx context.Context, key string, value int) error {
	update := tx.builder().
		Update(tableSettings).
		Set(goqu.Record{"setting_value": value}).
		Where(goqu.C("setting_key").Eq(key)).
		Prepared(true)

	rowsAffected, err := tx.exec(ctx, "update_setting", update)
	if err != nil || rowsAffected > 0 {
		return err
	}

	insert := tx.builder().
		Insert(tableSettings).
		Rows(goqu.Record{"setting_key": key, "setting_value": value}).
		Prepared(true)

	_, err = tx.exec(ctx, "insert_setting", insert)

	return err
}

// Settings reads the settings store outside of a transaction.
func (s *Store) Settings(ctx context.Context) (lending.Settings, error) {
	stored, err := s.storedSettings(ctx, s.db)
	if err != nil {
		return lending.Settings{}, err
	}

	return lending.SettingsFrom(stored), nil
}

func (s *Store) storedSettings(ctx context.Context, q adapters.Querier) (map[string]int, error) {
	stmt := s.builder.
		From(tableSettings).
		Select("setting_key", "setting_value").
		Prepared(true)

	stored := make(map[string]int)
	err := s.query(ctx, q, "select_settings", stmt, func(rows adapters.DBRows) error {
		var (
			key   string
			value int
		)

		if err := rows.Scan(&key, &value); err != nil {
			return err
		}

		stored[key] = value

		return nil
	})

	return stored, err
}
