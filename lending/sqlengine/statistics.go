package sqlengine

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/sqlengine/internal/adapters"
)

// StatisticsWindow bounds the loans LoanStatistics looks at.
type StatisticsWindow struct {
	MonthlySince time.Time
	PopularSince time.Time
	PopularLimit int
}

// LoanStatistics counts the active loans, the loans reserved per month since MonthlySince (oldest
// month first) and the materials reserved most often since PopularSince.
func (s *Store) LoanStatistics(ctx context.Context, window StatisticsWindow) (lending.LoanStatistics, error) {
	var stats lending.LoanStatistics

	activeLoans, err := s.count(ctx, "count_active_loans", s.builder.
		From(tableLoans).
		Select(goqu.COUNT("*")).
		Where(goqu.C("state").In(string(lending.LoanStateReserved), string(lending.LoanStatePickedUp))).
		Prepared(true))
	if err != nil {
		return stats, err
	}

	activeDeviceLoans, err := s.count(ctx, "count_active_device_loans", s.builder.
		From(tableDeviceLoans).
		Select(goqu.COUNT("*")).
		Where(goqu.C("state").Eq(string(lending.DeviceLoanStateActive))).
		Prepared(true))
	if err != nil {
		return stats, err
	}

	stats.ActiveLoans = activeLoans
	stats.ActiveDeviceLoans = activeDeviceLoans

	month := s.reservedMonth()
	monthly := s.builder.
		From(tableLoans).
		Select(month.As("month"), goqu.COUNT("*")).
		Where(goqu.C("reserved_at").Gte(lending.ToStoredTime(window.MonthlySince))).
		GroupBy(month).
		Order(month.Asc()).
		Prepared(true)

	err = s.query(ctx, s.db, "select_monthly_loans", monthly, func(rows adapters.DBRows) error {
		var (
			m     lending.MonthlyLoanCount
			loans int64
		)

		if err := rows.Scan(&m.Month, &loans); err != nil {
			return err
		}

		m.Loans = int(loans)
		stats.MonthlyLoans = append(stats.MonthlyLoans, m)

		return nil
	})
	if err != nil {
		return stats, err
	}

	if window.PopularLimit <= 0 {
		return stats, nil
	}

	popular := s.builder.
		From(tableLoans).
		Select(goqu.C("material_id"), goqu.COUNT("*").As("loan_count")).
		Where(goqu.C("reserved_at").Gte(lending.ToStoredTime(window.PopularSince))).
		GroupBy("material_id").
		Order(goqu.I("loan_count").Desc(), goqu.C("material_id").Asc()).
		Limit(uint(window.PopularLimit)).
		Prepared(true)

	err = s.query(ctx, s.db, "select_popular_materials", popular, func(rows adapters.DBRows) error {
		var (
			m     lending.MaterialLoanCount
			loans int64
		)

		if err := rows.Scan(&m.MaterialID, &loans); err != nil {
			return err
		}

		m.Loans = int(loans)
		stats.PopularMaterials = append(stats.PopularMaterials, m)

		return nil
	})

	return stats, err
}

// reservedMonth renders loans.reserved_at as YYYY-MM in UTC. SQLite keeps timestamps as
// UTC text that starts with the date.
func (s *Store) reservedMonth() exp.LiteralExpression {
	if s.dialect == DialectSQLite {
		return goqu.L("substr(reserved_at, 1, 7)")
	}

	return goqu.L("to_char(reserved_at AT TIME ZONE 'UTC', 'YYYY-MM')")
}

func (s *Store) count(ctx context.Context, action string, stmt sqlBuilder) (int, error) {
	var n int64
	err := s.query(ctx, s.db, action, stmt, func(rows adapters.DBRows) error {
		return rows.Scan(&n)
	})

	return int(n), err
}
