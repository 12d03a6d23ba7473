package sqlengine

import (
	"context"
	"errors"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/sqlengine/internal/adapters"
)

// AppendEvents writes journal entries in the given order. Sequence numbers are assigned by the database.
func (tx *Tx) AppendEvents(ctx context.Context, events ...lending.Event) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([]any, 0, len(events))
	for _, event := range events {
		attributes, err := encodeAttributes(event.Attributes)
		if err != nil {
			return errors.Join(ErrEncodingFailed, err)
		}

		rows = append(rows, goqu.Record{
			"event_type":  string(event.Type),
			"occurred_at": lending.ToStoredTime(event.OccurredAt),
			"subject_id":  nullableID(event.SubjectID),
			"borrower_id": nullableID(event.BorrowerID),
			"attributes":  attributes,
		})
	}

	stmt := tx.builder().
		Insert(tableEvents).
		Rows(rows...).
		Prepared(true)

	_, err := tx.exec(ctx, "insert_events", stmt)

	return err
}

// Events reads the journal in sequence order.
func (s *Store) Events(ctx context.Context, filter lending.EventFilter) ([]lending.Event, error) {
	stmt := s.builder.
		From(tableEvents).
		Select("sequence_number", "event_type", "occurred_at", "subject_id", "borrower_id", "attributes").
		Order(goqu.C("sequence_number").Asc())

	if len(filter.Types) > 0 {
		types := make([]string, 0, len(filter.Types))
		for _, eventType := range filter.Types {
			types = append(types, string(eventType))
		}

		stmt = stmt.Where(goqu.C("event_type").In(types))
	}

	if filter.SubjectID != uuid.Nil {
		stmt = stmt.Where(goqu.C("subject_id").Eq(filter.SubjectID))
	}

	if filter.BorrowerID != uuid.Nil {
		stmt = stmt.Where(goqu.C("borrower_id").Eq(filter.BorrowerID))
	}

	if filter.AfterSequence > 0 {
		stmt = stmt.Where(goqu.C("sequence_number").Gt(filter.AfterSequence))
	}

	if !filter.OccurredFrom.IsZero() {
		stmt = stmt.Where(goqu.C("occurred_at").Gte(lending.ToStoredTime(filter.OccurredFrom)))
	}

	if !filter.OccurredUntil.IsZero() {
		stmt = stmt.Where(goqu.C("occurred_at").Lte(lending.ToStoredTime(filter.OccurredUntil)))
	}

	if filter.Limit > 0 {
		stmt = stmt.Limit(uint(filter.Limit))
	}

	var events []lending.Event
	err := s.query(ctx, s.db, "select_events", stmt.Prepared(true), func(rows adapters.DBRows) error {
		var (
			e          lending.Event
			eventType  string
			subjectID  uuid.NullUUID
			borrowerID uuid.NullUUID
			attributes string
		)

		if err := rows.Scan(&e.SequenceNumber, &eventType, &e.OccurredAt, &subjectID, &borrowerID, &attributes); err != nil {
			return err
		}

		decoded, err := decodeAttributes(attributes)
		if err != nil {
			return errors.Join(ErrDecodingFailed, err)
		}

		e.Type = lending.EventType(eventType)
		e.OccurredAt = lending.ToStoredTime(e.OccurredAt)
		e.SubjectID = idOrNil(subjectID)
		e.BorrowerID = idOrNil(borrowerID)
		e.Attributes = decoded
		events = append(events, e)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return events, nil
}
