package store

import (
	"errors"
	"fmt"
	"testing"
)

func TestParamBuilder_Placeholders(t *testing.T) {
	pg := (&PostgresDialect{}).NewParamBuilder()
	if ph := pg.Add("a"); ph != "$1" {
		t.Errorf("postgres first placeholder: got %s", ph)
	}
	if ph := pg.Add("b"); ph != "$2" {
		t.Errorf("postgres second placeholder: got %s", ph)
	}

	lite := (&SQLiteDialect{}).NewParamBuilder()
	if ph := lite.Add("a"); ph != "?1" {
		t.Errorf("sqlite first placeholder: got %s", ph)
	}
	if ph := lite.Add("b"); ph != "?2" {
		t.Errorf("sqlite second placeholder: got %s", ph)
	}

	if pg.Count() != 2 || lite.Count() != 2 {
		t.Errorf("counts: pg=%d sqlite=%d", pg.Count(), lite.Count())
	}
	params := pg.Params()
	if len(params) != 2 || params[0] != "a" || params[1] != "b" {
		t.Errorf("params: %v", params)
	}
}

func TestInExpr(t *testing.T) {
	var pg PostgresDialect
	pb := pg.NewParamBuilder()
	expr := pg.InExpr("id", pb, []any{1, 2, 3})
	if expr != "id = ANY($1)" {
		t.Errorf("postgres in: got %q", expr)
	}
	if pb.Count() != 1 {
		t.Errorf("postgres in should bind a single array param, got %d", pb.Count())
	}

	var lite SQLiteDialect
	pb = lite.NewParamBuilder()
	expr = lite.InExpr("id", pb, []any{1, 2, 3})
	if expr != "id IN (?1, ?2, ?3)" {
		t.Errorf("sqlite in: got %q", expr)
	}
	if pb.Count() != 3 {
		t.Errorf("sqlite in should expand the slice, got %d params", pb.Count())
	}

	// Empty lists must stay valid SQL.
	pb = lite.NewParamBuilder()
	if expr := lite.InExpr("id", pb, nil); expr != "1=0" {
		t.Errorf("empty in: got %q", expr)
	}
	pb = lite.NewParamBuilder()
	if expr := lite.NotInExpr("id", pb, nil); expr != "1=1" {
		t.Errorf("empty not in: got %q", expr)
	}
}

func TestSQLiteArrayRoundTrip(t *testing.T) {
	var d SQLiteDialect

	stored := d.ArrayParam([]string{"admin", "editor"})
	roles, err := d.ScanArray(stored)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(roles) != 2 || roles[0] != "admin" || roles[1] != "editor" {
		t.Errorf("roles: %v", roles)
	}

	if d.ArrayParam(nil) != "[]" {
		t.Errorf("nil slice: got %v", d.ArrayParam(nil))
	}
	for _, src := range []any{nil, "", "[]", []byte("[]")} {
		roles, err := d.ScanArray(src)
		if err != nil || len(roles) != 0 {
			t.Errorf("scan %v: got %v, %v", src, roles, err)
		}
	}
}

func TestMapError_UniqueViolation(t *testing.T) {
	var lite SQLiteDialect
	err := lite.MapError(fmt.Errorf("constraint failed: UNIQUE constraint failed: books.title"))
	if !errors.Is(err, ErrUniqueViolation) {
		t.Errorf("sqlite unique violation not mapped: %v", err)
	}
	plain := fmt.Errorf("no such table: books")
	if got := lite.MapError(plain); errors.Is(got, ErrUniqueViolation) {
		t.Errorf("unrelated error must pass through: %v", got)
	}
	if lite.MapError(nil) != nil {
		t.Error("nil error must stay nil")
	}

	var pg PostgresDialect
	err = pg.MapError(fmt.Errorf(`ERROR: duplicate key value violates unique constraint "books_title_key" (SQLSTATE 23505)`))
	if !errors.Is(err, ErrUniqueViolation) {
		t.Errorf("postgres unique violation not mapped: %v", err)
	}
}

func TestDialectSelection(t *testing.T) {
	if NewDialect("sqlite").Name() != "sqlite" {
		t.Error("sqlite dialect not selected")
	}
	if NewDialect("postgres").Name() != "postgres" {
		t.Error("postgres dialect not selected")
	}
	if NewDialect("").Name() != "postgres" {
		t.Error("postgres should be the default dialect")
	}

	if !NewDialect("sqlite").NeedsBoolFix() {
		t.Error("sqlite booleans come back as integers")
	}
	if NewDialect("postgres").NeedsBoolFix() {
		t.Error("postgres booleans scan natively")
	}
}

func TestIntervalDeleteExpr(t *testing.T) {
	pg := &PostgresDialect{}
	pb := pg.NewParamBuilder()
	expr := pg.IntervalDeleteExpr("created_at", pb, "30")
	if expr != "created_at < NOW() - $1::interval" {
		t.Errorf("postgres expr: got %q", expr)
	}
	if params := pb.Params(); len(params) != 1 || params[0] != "30 days" {
		t.Errorf("postgres params: %v", params)
	}

	lite := &SQLiteDialect{}
	pb = lite.NewParamBuilder()
	expr = lite.IntervalDeleteExpr("created_at", pb, "30")
	if expr != "created_at < datetime('now', ?1)" {
		t.Errorf("sqlite expr: got %q", expr)
	}
	if params := pb.Params(); len(params) != 1 || params[0] != "-30 days" {
		t.Errorf("sqlite params: %v", params)
	}
}
