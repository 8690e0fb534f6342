package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"tablegate/internal/metadata"
	"tablegate/internal/store"
)

// WritePlan describes the full set of operations for a write request,
// including nested creates, before any SQL runs.
type WritePlan struct {
	IsCreate bool
	Entity   *metadata.Entity
	Fields   map[string]any
	ID       any // nil for create, set for update
	Children []*ChildWrite
}

// ChildWrite is a nested create under a relationship key in the request body.
type ChildWrite struct {
	Name   string
	Rel    metadata.Relationship
	Entity *metadata.Entity
	Items  []*WritePlan
}

// FieldKeys returns the exposed field names this plan writes, sorted.
func (p *WritePlan) FieldKeys() []string {
	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Walk visits the plan and every nested plan depth-first.
func (p *WritePlan) Walk(fn func(*WritePlan) error) error {
	if err := fn(p); err != nil {
		return err
	}
	for _, child := range p.Children {
		for _, item := range child.Items {
			if err := item.Walk(fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// PlanWrite builds a WritePlan from the request body without executing any
// SQL. Keys matching a relationship become nested creates; nested writes are
// only accepted on create.
func PlanWrite(entity *metadata.Entity, reg *metadata.Registry, body map[string]any, existingID any) (*WritePlan, []ErrorDetail) {
	isCreate := existingID == nil

	fields := map[string]any{}
	var children []*ChildWrite
	var errs []ErrorDetail

	for key, val := range body {
		if entity.HasField(key) {
			fields[key] = val
			continue
		}
		if rel, ok := entity.Relationships[key]; ok {
			if !isCreate {
				errs = append(errs, ErrorDetail{
					Field:   key,
					Rule:    "nested_write",
					Message: fmt.Sprintf("Nested writes are only supported on create: %s", key),
				})
				continue
			}
			child, childErrs := planChildWrite(entity, reg, key, rel, val)
			if len(childErrs) > 0 {
				errs = append(errs, childErrs...)
				continue
			}
			children = append(children, child)
			continue
		}
		errs = append(errs, ErrorDetail{
			Field:   key,
			Rule:    "unknown",
			Message: fmt.Sprintf("Unknown field or relation: %s", key),
		})
	}

	if len(errs) > 0 {
		return nil, errs
	}

	if validationErrs := validateFields(entity, fields, isCreate); len(validationErrs) > 0 {
		return nil, validationErrs
	}

	return &WritePlan{
		IsCreate: isCreate,
		Entity:   entity,
		Fields:   fields,
		ID:       existingID,
		Children: children,
	}, nil
}

func planChildWrite(parent *metadata.Entity, reg *metadata.Registry, name string, rel metadata.Relationship, val any) (*ChildWrite, []ErrorDetail) {
	target := reg.GetEntity(rel.TargetEntity)
	if target == nil {
		return nil, []ErrorDetail{{
			Field:   name,
			Rule:    "unknown",
			Message: fmt.Sprintf("Unknown target entity for relation %s", name),
		}}
	}

	var bodies []map[string]any
	if rel.IsCollection() {
		items, ok := val.([]any)
		if !ok {
			return nil, []ErrorDetail{{
				Field:   name,
				Rule:    "type",
				Message: fmt.Sprintf("Relation %s expects an array", name),
			}}
		}
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, []ErrorDetail{{
					Field:   name,
					Rule:    "type",
					Message: fmt.Sprintf("Relation %s expects an array of objects", name),
				}}
			}
			bodies = append(bodies, m)
		}
	} else {
		m, ok := val.(map[string]any)
		if !ok {
			return nil, []ErrorDetail{{
				Field:   name,
				Rule:    "type",
				Message: fmt.Sprintf("Relation %s expects an object", name),
			}}
		}
		bodies = append(bodies, m)
	}

	child := &ChildWrite{Name: name, Rel: rel, Entity: target}
	for _, body := range bodies {
		plan, errs := PlanWrite(target, reg, body, nil)
		if len(errs) > 0 {
			return nil, errs
		}
		child.Items = append(child.Items, plan)
	}
	return child, nil
}

func validateFields(entity *metadata.Entity, fields map[string]any, isCreate bool) []ErrorDetail {
	var errs []ErrorDetail

	if isCreate {
		for _, f := range entity.WritableFields() {
			if !f.Required || f.Default != nil {
				continue
			}
			if v, ok := fields[f.Name]; !ok || v == nil {
				errs = append(errs, ErrorDetail{
					Field:   f.Name,
					Rule:    "required",
					Message: fmt.Sprintf("Field %s is required", f.Name),
				})
			}
		}
	}

	for name, val := range fields {
		f := entity.GetField(name)
		if f == nil {
			continue
		}
		if val == nil {
			if !f.Nullable && f.Required {
				errs = append(errs, ErrorDetail{
					Field:   name,
					Rule:    "required",
					Message: fmt.Sprintf("Field %s cannot be null", name),
				})
			}
			continue
		}
		if len(f.Enum) > 0 {
			s := fmt.Sprintf("%v", val)
			found := false
			for _, allowed := range f.Enum {
				if s == allowed {
					found = true
					break
				}
			}
			if !found {
				errs = append(errs, ErrorDetail{
					Field:   name,
					Rule:    "enum",
					Message: fmt.Sprintf("Field %s must be one of: %s", name, strings.Join(f.Enum, ", ")),
				})
			}
		}
	}

	return errs
}

// ExecuteWritePlan runs the planned operations inside a single transaction
// and returns the written parent record. Any failure rolls back every nested
// insert with it.
func ExecuteWritePlan(ctx context.Context, s *store.Store, plan *WritePlan) (map[string]any, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	parentID, err := executePlan(ctx, tx, s.Dialect, plan)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return FetchRecord(ctx, s.DB, s.Dialect, plan.Entity, parentID, nil)
}

func executePlan(ctx context.Context, q store.Querier, dialect store.Dialect, plan *WritePlan) (any, error) {
	// Relations with the FK on this entity are created first so the FK value
	// exists before the parent row is inserted.
	for _, child := range plan.Children {
		if child.Rel.IsCollection() || child.Rel.IsManyToMany() {
			continue
		}
		item := child.Items[0]
		targetID, err := executePlan(ctx, q, dialect, item)
		if err != nil {
			return nil, fmt.Errorf("nested create %s: %w", child.Name, err)
		}
		fk := child.Rel.SourceField
		if fk == "" {
			fk = child.Entity.PrimaryKey.Field
		}
		plan.Fields[fk] = targetID
	}

	var parentID any
	if plan.IsCreate {
		sqlStr, params := BuildInsertSQL(plan.Entity, plan.Fields, dialect)
		row, err := store.QueryRow(ctx, q, sqlStr, params...)
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", plan.Entity.Table(), err)
		}
		parentID = row[plan.Entity.PrimaryKey.Field]
	} else {
		parentID = plan.ID
		sqlStr, params := BuildUpdateSQL(plan.Entity, plan.ID, plan.Fields, dialect)
		if sqlStr != "" {
			if _, err := store.Exec(ctx, q, sqlStr, params...); err != nil {
				return nil, fmt.Errorf("update %s: %w", plan.Entity.Table(), err)
			}
		}
	}

	for _, child := range plan.Children {
		if !child.Rel.IsCollection() && !child.Rel.IsManyToMany() {
			continue
		}
		for _, item := range child.Items {
			if child.Rel.IsManyToMany() {
				targetID, err := executePlan(ctx, q, dialect, item)
				if err != nil {
					return nil, fmt.Errorf("nested create %s: %w", child.Name, err)
				}
				if err := insertLinkRow(ctx, q, dialect, child.Rel, parentID, targetID); err != nil {
					return nil, fmt.Errorf("link %s: %w", child.Name, err)
				}
				continue
			}
			fk := child.Rel.TargetField
			if fk == "" {
				fk = plan.Entity.PrimaryKey.Field
			}
			item.Fields[fk] = parentID
			if _, err := executePlan(ctx, q, dialect, item); err != nil {
				return nil, fmt.Errorf("nested create %s: %w", child.Name, err)
			}
		}
	}

	return parentID, nil
}

func insertLinkRow(ctx context.Context, q store.Querier, dialect store.Dialect, rel metadata.Relationship, sourceID, targetID any) error {
	pb := dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
		rel.LinkingObject, rel.LinkingSourceField, rel.LinkingTargetField,
		pb.Add(sourceID), pb.Add(targetID))
	_, err := store.Exec(ctx, q, sqlStr, pb.Params()...)
	return err
}

// BuildInsertSQL builds a parameterized INSERT returning the primary key.
// Columns follow field declaration order for stable SQL.
func BuildInsertSQL(entity *metadata.Entity, fields map[string]any, dialect store.Dialect) (string, []any) {
	pb := dialect.NewParamBuilder()

	var cols, phs []string
	for _, f := range entity.Fields {
		val, ok := fields[f.Name]
		if !ok {
			continue
		}
		cols = append(cols, entity.BackingColumn(f.Name))
		phs = append(phs, pb.Add(val))
	}

	pkCol := entity.BackingColumn(entity.PrimaryKey.Field)
	returning := pkCol
	if pkCol != entity.PrimaryKey.Field {
		returning += " AS " + entity.PrimaryKey.Field
	}

	sqlStr := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		entity.Table(), strings.Join(cols, ", "), strings.Join(phs, ", "), returning)
	return sqlStr, pb.Params()
}

// BuildUpdateSQL builds a parameterized UPDATE by primary key. Returns an
// empty statement when no updatable field is present.
func BuildUpdateSQL(entity *metadata.Entity, id any, fields map[string]any, dialect store.Dialect) (string, []any) {
	pb := dialect.NewParamBuilder()

	var sets []string
	for _, f := range entity.UpdatableFields() {
		val, ok := fields[f.Name]
		if !ok {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = %s", entity.BackingColumn(f.Name), pb.Add(val)))
	}
	if len(sets) == 0 {
		return "", nil
	}

	sqlStr := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		entity.Table(), strings.Join(sets, ", "),
		entity.BackingColumn(entity.PrimaryKey.Field), pb.Add(id))
	return sqlStr, pb.Params()
}

// FetchRecord loads a single record by primary key, optionally constrained by
// a pre-rendered policy fragment produced with the same param builder.
func FetchRecord(ctx context.Context, q store.Querier, dialect store.Dialect, entity *metadata.Entity, id any, policy *PolicyFragment) (map[string]any, error) {
	pb := dialect.NewParamBuilder()

	sqlStr := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		selectList(entity, entity.FieldNames()), entity.Table(),
		entity.BackingColumn(entity.PrimaryKey.Field), pb.Add(id))
	if policy != nil {
		sqlStr += " AND (" + policy.Render(entity, pb) + ")"
	}

	return store.QueryRow(ctx, q, sqlStr, pb.Params()...)
}
