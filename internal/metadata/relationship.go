package metadata

// Relationship links an entity to a target entity. Cardinality "many" is a
// collection (FK on the target), "one" is a single related record (FK on the
// source). A linking object turns the relationship into many-to-many.
type Relationship struct {
	Cardinality  string `json:"cardinality" mapstructure:"cardinality"` // "one" or "many"
	TargetEntity string `json:"target_entity" mapstructure:"target_entity"`

	// SourceField/TargetField are the join columns. For "many" the target
	// field is the FK pointing back at the source PK; for "one" the source
	// field is the FK pointing at the target PK. Empty values default to the
	// respective primary keys.
	SourceField string `json:"source_field,omitempty" mapstructure:"source_field"`
	TargetField string `json:"target_field,omitempty" mapstructure:"target_field"`

	LinkingObject      string `json:"linking_object,omitempty" mapstructure:"linking_object"`
	LinkingSourceField string `json:"linking_source_field,omitempty" mapstructure:"linking_source_field"`
	LinkingTargetField string `json:"linking_target_field,omitempty" mapstructure:"linking_target_field"`
}

// IsCollection reports whether the relationship resolves to a list of records.
func (r Relationship) IsCollection() bool {
	return r.Cardinality == "many"
}

// IsManyToMany reports whether the relationship goes through a linking object.
func (r Relationship) IsManyToMany() bool {
	return r.LinkingObject != ""
}
