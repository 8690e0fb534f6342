package metadata

import "strings"

// SourceType identifies what kind of database object backs an entity.
type SourceType string

const (
	SourceTable           SourceType = "table"
	SourceView            SourceType = "view"
	SourceStoredProcedure SourceType = "stored-procedure"
)

// Source describes the database object an entity maps to.
type Source struct {
	Object string     `json:"object" mapstructure:"object"`
	Type   SourceType `json:"type" mapstructure:"type"`
}

// RestOptions controls how an entity is exposed over REST.
type RestOptions struct {
	Enabled *bool    `json:"enabled,omitempty" mapstructure:"enabled"`
	Path    string   `json:"path,omitempty" mapstructure:"path"`
	Methods []string `json:"methods,omitempty" mapstructure:"methods"` // empty means all
}

// GraphQLOptions records the GraphQL exposure settings of an entity. The
// gateway does not run a GraphQL executor; these settings participate in
// config validation and schema naming only.
type GraphQLOptions struct {
	Enabled *bool  `json:"enabled,omitempty" mapstructure:"enabled"`
	Type    string `json:"type,omitempty" mapstructure:"type"`
}

type Entity struct {
	Name          string                  `json:"name" mapstructure:"name"`
	Source        Source                  `json:"source" mapstructure:"source"`
	PrimaryKey    PrimaryKey              `json:"primary_key" mapstructure:"primary_key"`
	Fields        []Field                 `json:"fields" mapstructure:"fields"`
	Permissions   []EntityPermission      `json:"permissions" mapstructure:"permissions"`
	Mappings      map[string]string       `json:"mappings,omitempty" mapstructure:"mappings"`
	Relationships map[string]Relationship `json:"relationships,omitempty" mapstructure:"relationships"`
	Rest          RestOptions             `json:"rest,omitempty" mapstructure:"rest"`
	GraphQL       GraphQLOptions          `json:"graphql,omitempty" mapstructure:"graphql"`
}

type PrimaryKey struct {
	Field     string `json:"field" mapstructure:"field"`
	Type      string `json:"type" mapstructure:"type"` // uuid, int, bigint, string
	Generated bool   `json:"generated" mapstructure:"generated"`
}

// RestEnabled reports whether the entity is exposed over REST. Defaults to true.
func (e *Entity) RestEnabled() bool {
	return e.Rest.Enabled == nil || *e.Rest.Enabled
}

// RestMethodAllowed reports whether the given HTTP method is exposed for this
// entity. An empty methods list exposes everything.
func (e *Entity) RestMethodAllowed(method string) bool {
	if len(e.Rest.Methods) == 0 {
		return true
	}
	for _, m := range e.Rest.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// Table returns the backing database object name.
func (e *Entity) Table() string {
	return e.Source.Object
}

// BackingColumn resolves an exposed field name to its database column,
// honoring the entity's field mappings.
func (e *Entity) BackingColumn(field string) string {
	if col, ok := e.Mappings[field]; ok {
		return col
	}
	return field
}

// GetField returns a pointer to the field with the given name, or nil.
func (e *Entity) GetField(name string) *Field {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i]
		}
	}
	return nil
}

// HasField returns true if the entity has a field with the given name.
func (e *Entity) HasField(name string) bool {
	return e.GetField(name) != nil
}

// FieldNames returns all exposed field names.
func (e *Entity) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return names
}

// WritableFields returns fields that can be set by the client.
// Excludes auto-generated PKs and auto-timestamp fields.
func (e *Entity) WritableFields() []Field {
	var fields []Field
	for _, f := range e.Fields {
		if f.Name == e.PrimaryKey.Field && e.PrimaryKey.Generated {
			continue
		}
		if f.IsAuto() {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

// UpdatableFields returns fields that can be set on UPDATE.
func (e *Entity) UpdatableFields() []Field {
	var fields []Field
	for _, f := range e.Fields {
		if f.Name == e.PrimaryKey.Field {
			continue
		}
		if f.IsAuto() {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}
