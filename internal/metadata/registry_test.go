package metadata

import (
	"strings"
	"testing"
)

func registryEntity(object string) *Entity {
	return &Entity{
		Source:     Source{Object: object, Type: SourceTable},
		PrimaryKey: PrimaryKey{Field: "id", Type: "int", Generated: true},
		Fields: []Field{
			{Name: "id", Type: "int"},
			{Name: "name", Type: "string"},
		},
		Permissions: []EntityPermission{
			{Role: "anonymous", Actions: []EntityAction{{Action: OperationRead}}},
		},
	}
}

func TestRegistry_LookupIsCaseInsensitive(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Load(map[string]*Entity{"Book": registryEntity("books")}); err != nil {
		t.Fatalf("load: %v", err)
	}

	for _, name := range []string{"Book", "book", "BOOK", "bOoK"} {
		e := reg.GetEntity(name)
		if e == nil {
			t.Fatalf("lookup %q returned nil", name)
		}
		if e.Name != "Book" {
			t.Errorf("lookup %q: exposed name %q", name, e.Name)
		}
	}
	if reg.GetEntity("Books") != nil {
		t.Error("lookup of unknown name should return nil")
	}
}

func TestRegistry_LoadCopiesMapKeyOntoName(t *testing.T) {
	reg := NewRegistry()
	e := registryEntity("books")
	if err := reg.Load(map[string]*Entity{"Book": e}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if e.Name != "Book" {
		t.Errorf("name: got %q", e.Name)
	}
}

func TestRegistry_RelationshipTargetMustExist(t *testing.T) {
	book := registryEntity("books")
	book.Relationships = map[string]Relationship{
		"publisher": {Cardinality: "one", TargetEntity: "Publisher", SourceField: "publisher_id"},
	}

	reg := NewRegistry()
	err := reg.Load(map[string]*Entity{"Book": book})
	if err == nil || !strings.Contains(err.Error(), "unknown entity Publisher") {
		t.Fatalf("expected unknown target error, got %v", err)
	}

	err = reg.Load(map[string]*Entity{
		"Book":      book,
		"Publisher": registryEntity("publishers"),
	})
	if err != nil {
		t.Fatalf("load with target present: %v", err)
	}
}

func TestRegistry_LoadReplacesPreviousEntities(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Load(map[string]*Entity{"Book": registryEntity("books")}); err != nil {
		t.Fatalf("first load: %v", err)
	}
	if err := reg.Load(map[string]*Entity{"Author": registryEntity("authors")}); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if reg.GetEntity("Book") != nil {
		t.Error("entities from the previous load should be gone")
	}
	if got := reg.EntityNames(); len(got) != 1 || got[0] != "Author" {
		t.Errorf("names: got %v", got)
	}
}

func TestEntity_RestMethodAllowed(t *testing.T) {
	e := registryEntity("books")
	for _, m := range []string{"GET", "POST", "PUT", "PATCH", "DELETE"} {
		if !e.RestMethodAllowed(m) {
			t.Errorf("empty methods list should allow %s", m)
		}
	}

	e.Rest.Methods = []string{"get", "Post"}
	if !e.RestMethodAllowed("GET") || !e.RestMethodAllowed("POST") {
		t.Error("method matching should be case-insensitive")
	}
	if e.RestMethodAllowed("DELETE") {
		t.Error("DELETE is not in the methods list")
	}
}

func TestEntity_BackingColumn(t *testing.T) {
	e := registryEntity("books")
	e.Mappings = map[string]string{"name": "book_name"}

	if got := e.BackingColumn("name"); got != "book_name" {
		t.Errorf("mapped field: got %q", got)
	}
	if got := e.BackingColumn("id"); got != "id" {
		t.Errorf("unmapped field: got %q", got)
	}
}

func TestEntity_FieldLookup(t *testing.T) {
	e := registryEntity("books")
	if f := e.GetField("name"); f == nil || f.Type != "string" {
		t.Errorf("field lookup: got %v", f)
	}
	if e.GetField("nope") != nil {
		t.Error("unknown field should return nil")
	}
}
