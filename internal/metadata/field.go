package metadata

import "fmt"

type Field struct {
	Name      string   `json:"name" mapstructure:"name"`
	Type      string   `json:"type" mapstructure:"type"`
	Required  bool     `json:"required,omitempty" mapstructure:"required"`
	Unique    bool     `json:"unique,omitempty" mapstructure:"unique"`
	Default   any      `json:"default,omitempty" mapstructure:"default"`
	Nullable  bool     `json:"nullable,omitempty" mapstructure:"nullable"`
	Enum      []string `json:"enum,omitempty" mapstructure:"enum"`
	Precision int      `json:"precision,omitempty" mapstructure:"precision"`
	Auto      string   `json:"auto,omitempty" mapstructure:"auto"` // "create" or "update"
}

// PostgresType returns the Postgres DDL type for this field.
func (f Field) PostgresType() string {
	switch f.Type {
	case "string", "text":
		return "TEXT"
	case "int":
		return "INTEGER"
	case "bigint":
		return "BIGINT"
	case "float":
		return "DOUBLE PRECISION"
	case "decimal":
		if f.Precision > 0 {
			return fmt.Sprintf("NUMERIC(18,%d)", f.Precision)
		}
		return "NUMERIC"
	case "boolean":
		return "BOOLEAN"
	case "uuid":
		return "UUID"
	case "timestamp":
		return "TIMESTAMPTZ"
	case "date":
		return "DATE"
	case "json":
		return "JSONB"
	default:
		return "TEXT"
	}
}

// IsAuto returns true if the field is auto-managed by the engine.
func (f Field) IsAuto() bool {
	return f.Auto == "create" || f.Auto == "update"
}
