package engine

import (
	"reflect"
	"testing"

	"tablegate/internal/authz"
	"tablegate/internal/metadata"
	"tablegate/internal/store"
)

func queryEntity() *metadata.Entity {
	return &metadata.Entity{
		Name:       "Stock",
		Source:     metadata.Source{Object: "stocks", Type: metadata.SourceTable},
		PrimaryKey: metadata.PrimaryKey{Field: "categoryid", Type: "int"},
		Fields: []metadata.Field{
			{Name: "categoryid", Type: "int"},
			{Name: "pieceid", Type: "int"},
			{Name: "categoryName", Type: "string"},
		},
		Mappings: map[string]string{"categoryName": "category_name"},
	}
}

func TestBuildSelectSQL_FiltersSortsAndPaging(t *testing.T) {
	entity := queryEntity()
	plan := &QueryPlan{
		Entity:  entity,
		Columns: []string{"categoryid", "categoryName"},
		Filters: []WhereClause{
			{Field: "pieceid", Operator: "gte", Value: 5},
			{Field: "categoryName", Operator: "like", Value: "a%"},
		},
		Sorts:   []OrderClause{{Field: "categoryName", Dir: "DESC"}},
		Page:    3,
		PerPage: 10,
	}

	res := BuildSelectSQL(plan, &store.PostgresDialect{})
	want := "SELECT categoryid, category_name AS categoryName FROM stocks" +
		" WHERE pieceid >= $1 AND category_name LIKE $2" +
		" ORDER BY category_name DESC LIMIT $3 OFFSET $4"
	if res.SQL != want {
		t.Errorf("sql:\n got %s\nwant %s", res.SQL, want)
	}
	if !reflect.DeepEqual(res.Params, []any{5, "a%", 10, 20}) {
		t.Errorf("params: %v", res.Params)
	}
}

func TestBuildSelectSQL_PolicySharesParamBuilder(t *testing.T) {
	entity := queryEntity()
	pred, err := authz.ParsePredicate("@item.categoryName ne 'home' and @item.pieceid gt 1")
	if err != nil {
		t.Fatalf("parse policy: %v", err)
	}

	plan := &QueryPlan{
		Entity:  entity,
		Columns: []string{"categoryid"},
		Filters: []WhereClause{{Field: "pieceid", Operator: "eq", Value: 9}},
		Policy:  NewPolicyFragment(pred),
		Page:    1,
		PerPage: 25,
	}

	res := BuildSelectSQL(plan, &store.PostgresDialect{})
	want := "SELECT categoryid FROM stocks" +
		" WHERE pieceid = $1 AND ((category_name != $2 AND pieceid > $3))" +
		" LIMIT $4 OFFSET $5"
	if res.SQL != want {
		t.Errorf("sql:\n got %s\nwant %s", res.SQL, want)
	}
	if !reflect.DeepEqual(res.Params, []any{9, "home", float64(1), 25, 0}) {
		t.Errorf("params: %v", res.Params)
	}
}

func TestBuildCountSQL_MatchesSelectFilters(t *testing.T) {
	entity := queryEntity()
	plan := &QueryPlan{
		Entity:  entity,
		Columns: []string{"categoryid"},
		Filters: []WhereClause{{Field: "pieceid", Operator: "in", Value: []any{1, 2}}},
		Page:    1,
		PerPage: 25,
	}

	res := BuildCountSQL(plan, &store.SQLiteDialect{})
	want := "SELECT COUNT(*) AS count FROM stocks WHERE pieceid IN (?1, ?2)"
	if res.SQL != want {
		t.Errorf("sql: got %s", res.SQL)
	}
	if !reflect.DeepEqual(res.Params, []any{1, 2}) {
		t.Errorf("params: %v", res.Params)
	}
}

func TestParseFilterKey(t *testing.T) {
	if f, op := parseFilterKey("total.gte"); f != "total" || op != "gte" {
		t.Errorf("got %s %s", f, op)
	}
	if f, op := parseFilterKey("status"); f != "status" || op != "eq" {
		t.Errorf("got %s %s", f, op)
	}
}

func TestCoerceValue(t *testing.T) {
	intField := &metadata.Field{Name: "n", Type: "int"}

	v, err := coerceValue(intField, "42", "eq")
	if err != nil || v != 42 {
		t.Errorf("int: got %v, %v", v, err)
	}
	if _, err := coerceValue(intField, "nope", "eq"); err == nil {
		t.Error("bad int should error")
	}

	v, err = coerceValue(intField, "1, 2,3", "in")
	if err != nil || !reflect.DeepEqual(v, []any{1, 2, 3}) {
		t.Errorf("in list: got %v, %v", v, err)
	}

	boolField := &metadata.Field{Name: "b", Type: "boolean"}
	v, err = coerceValue(boolField, "true", "eq")
	if err != nil || v != true {
		t.Errorf("bool: got %v, %v", v, err)
	}
}
