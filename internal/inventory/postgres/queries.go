// internal/inventory/postgres/queries.go
package postgres

import (
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"

	"hdlend/internal/inventory"
)

var dialect = goqu.Dialect("postgres")

func titlesQuery() (string, []any, error) {
	query, args, err := dialect.From("titles").
		Select("id", "name", "slot_capacity", "started_count", "completed_count", "created_at").
		Order(goqu.C("name").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build titles query: %w", err)
	}
	return query, args, nil
}

func unitsQuery(f inventory.UnitFilter) (string, []any, error) {
	ds := dialect.From("units").
		Select("id", "tag", "ready", "available", "created_at").
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).
		Prepared(true)

	if len(f.IDs) > 0 {
		ids := make([]string, len(f.IDs))
		for i, id := range f.IDs {
			ids[i] = id.String()
		}
		ds = ds.Where(goqu.C("id").In(ids))
	}
	if f.Ready != nil {
		ds = ds.Where(goqu.C("ready").Eq(*f.Ready))
	}
	if f.Available != nil {
		ds = ds.Where(goqu.C("available").Eq(*f.Available))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build units query: %w", err)
	}
	return query, args, nil
}

func slotsQuery(f inventory.SlotFilter) (string, []any, error) {
	ds := dialect.From("slots").
		Select("id", "title_id", "slot_index", "unit_id", "started_at", "completed_at", "note", "created_at").
		Order(goqu.C("title_id").Asc(), goqu.C("slot_index").Asc()).
		Prepared(true)

	if f.TitleID != nil {
		ds = ds.Where(goqu.C("title_id").Eq(f.TitleID.String()))
	}
	if f.UnitID != nil {
		ds = ds.Where(goqu.C("unit_id").Eq(f.UnitID.String()))
	}
	if len(f.States) > 0 {
		states := make([]exp.Expression, 0, len(f.States))
		for _, st := range f.States {
			states = append(states, stateCondition(st))
		}
		ds = ds.Where(goqu.Or(states...))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build slots query: %w", err)
	}
	return query, args, nil
}

// stateCondition is the column predicate equivalent of Slot.State.
func stateCondition(st inventory.SlotState) exp.Expression {
	switch st {
	case inventory.StateClosed:
		return goqu.C("completed_at").IsNotNull()
	case inventory.StateActive:
		return goqu.And(
			goqu.C("completed_at").IsNull(),
			goqu.C("started_at").IsNotNull(),
		)
	case inventory.StateAssigned:
		return goqu.And(
			goqu.C("completed_at").IsNull(),
			goqu.C("started_at").IsNull(),
			goqu.C("unit_id").IsNotNull(),
		)
	default:
		return goqu.And(
			goqu.C("completed_at").IsNull(),
			goqu.C("started_at").IsNull(),
			goqu.C("unit_id").IsNull(),
		)
	}
}
