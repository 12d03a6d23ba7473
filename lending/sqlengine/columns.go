package sqlengine

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/schoollibrary/lendingengine/lending"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// nullableID maps uuid.Nil to NULL.
func nullableID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

// idOrNil maps NULL to uuid.Nil.
func idOrNil(id uuid.NullUUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}

	return id.UUID
}

func storedTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	stored := lending.ToStoredTime(*t)

	return &stored
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	stored := lending.ToStoredTime(t.Time)

	return &stored
}

func encodeIDs(ids []uuid.UUID) (sql.NullString, error) {
	if len(ids) == 0 {
		return sql.NullString{}, nil
	}

	raw, err := json.Marshal(ids)
	if err != nil {
		return sql.NullString{}, err
	}

	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeIDs(raw sql.NullString) ([]uuid.UUID, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}

	var ids []uuid.UUID
	if err := json.Unmarshal([]byte(raw.String), &ids); err != nil {
		return nil, err
	}

	return ids, nil
}

func encodeAttributes(attributes map[string]string) (string, error) {
	if attributes == nil {
		attributes = map[string]string{}
	}

	raw, err := json.Marshal(attributes)
	if err != nil {
		return "", err
	}

	return string(raw), nil
}

func decodeAttributes(raw string) (map[string]string, error) {
	attributes := map[string]string{}
	if raw == "" {
		return attributes, nil
	}

	if err := json.Unmarshal([]byte(raw), &attributes); err != nil {
		return nil, err
	}

	return attributes, nil
}
