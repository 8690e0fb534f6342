package engine

import (
	"context"
	"fmt"

	"tablegate/internal/metadata"
	"tablegate/internal/store"
)

// IncludeAuthorizer resolves what the caller may read from a related entity:
// the allowed columns and the row filter, or an error when the entity is not
// readable in the caller's role context.
type IncludeAuthorizer func(target *metadata.Entity) ([]string, *PolicyFragment, error)

// LoadIncludes fetches related data and attaches it to the parent rows under
// the relationship name. Related rows are subject to the target entity's own
// authorization: projection and row filters of the caller's role apply.
func LoadIncludes(ctx context.Context, q store.Querier, dialect store.Dialect, reg *metadata.Registry, entity *metadata.Entity, rows []map[string]any, includes []string, authorize IncludeAuthorizer) error {
	if len(rows) == 0 || len(includes) == 0 {
		return nil
	}

	for _, name := range includes {
		rel, ok := entity.Relationships[name]
		if !ok {
			continue
		}
		target := reg.GetEntity(rel.TargetEntity)
		if target == nil {
			return fmt.Errorf("unknown target entity: %s", rel.TargetEntity)
		}

		columns, policy, err := authorize(target)
		if err != nil {
			return err
		}

		if rel.IsManyToMany() {
			if err := loadManyToMany(ctx, q, dialect, entity, target, rel, rows, name, columns, policy); err != nil {
				return err
			}
			continue
		}
		if rel.IsCollection() {
			if err := loadCollection(ctx, q, dialect, entity, target, rel, rows, name, columns, policy); err != nil {
				return err
			}
			continue
		}
		if err := loadReference(ctx, q, dialect, entity, target, rel, rows, name, columns, policy); err != nil {
			return err
		}
	}

	return nil
}

// loadCollection loads "many" children keyed by a FK on the target.
func loadCollection(ctx context.Context, q store.Querier, dialect store.Dialect, parent, target *metadata.Entity, rel metadata.Relationship, rows []map[string]any, name string, columns []string, policy *PolicyFragment) error {
	sourceField := rel.SourceField
	if sourceField == "" {
		sourceField = parent.PrimaryKey.Field
	}
	targetField := rel.TargetField
	if targetField == "" {
		targetField = parent.PrimaryKey.Field
	}

	parentIDs := collectValues(rows, sourceField)
	if len(parentIDs) == 0 {
		return nil
	}

	fkCol := target.BackingColumn(targetField)
	pb := dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT %s, %s AS __fk FROM %s WHERE %s",
		selectList(target, columns), fkCol, target.Table(),
		dialect.InExpr(fkCol, pb, parentIDs))
	if policy != nil {
		sqlStr += " AND (" + policy.Render(target, pb) + ")"
	}

	childRows, err := store.QueryRows(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("load include %s: %w", name, err)
	}

	grouped := make(map[string][]map[string]any)
	for _, child := range childRows {
		fk := fmt.Sprintf("%v", child["__fk"])
		delete(child, "__fk")
		grouped[fk] = append(grouped[fk], child)
	}

	for _, row := range rows {
		key := fmt.Sprintf("%v", row[sourceField])
		if children, ok := grouped[key]; ok {
			row[name] = children
		} else {
			row[name] = []map[string]any{}
		}
	}
	return nil
}

// loadReference loads a "one" relation keyed by a FK on the parent.
func loadReference(ctx context.Context, q store.Querier, dialect store.Dialect, parent, target *metadata.Entity, rel metadata.Relationship, rows []map[string]any, name string, columns []string, policy *PolicyFragment) error {
	sourceField := rel.SourceField
	if sourceField == "" {
		sourceField = target.PrimaryKey.Field
	}
	targetField := rel.TargetField
	if targetField == "" {
		targetField = target.PrimaryKey.Field
	}

	fkValues := collectValues(rows, sourceField)
	if len(fkValues) == 0 {
		for _, row := range rows {
			row[name] = nil
		}
		return nil
	}

	keyCol := target.BackingColumn(targetField)
	pb := dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT %s, %s AS __key FROM %s WHERE %s",
		selectList(target, columns), keyCol, target.Table(),
		dialect.InExpr(keyCol, pb, fkValues))
	if policy != nil {
		sqlStr += " AND (" + policy.Render(target, pb) + ")"
	}

	targetRows, err := store.QueryRows(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("load include %s: %w", name, err)
	}

	byKey := make(map[string]map[string]any, len(targetRows))
	for _, tr := range targetRows {
		key := fmt.Sprintf("%v", tr["__key"])
		delete(tr, "__key")
		byKey[key] = tr
	}

	for _, row := range rows {
		fk := fmt.Sprintf("%v", row[sourceField])
		if t, ok := byKey[fk]; ok {
			row[name] = t
		} else {
			row[name] = nil
		}
	}
	return nil
}

func loadManyToMany(ctx context.Context, q store.Querier, dialect store.Dialect, parent, target *metadata.Entity, rel metadata.Relationship, rows []map[string]any, name string, columns []string, policy *PolicyFragment) error {
	parentIDs := collectValues(rows, parent.PrimaryKey.Field)
	if len(parentIDs) == 0 {
		return nil
	}

	pb := dialect.NewParamBuilder()
	joinSQL := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s",
		rel.LinkingSourceField, rel.LinkingTargetField, rel.LinkingObject,
		dialect.InExpr(rel.LinkingSourceField, pb, parentIDs))
	joinRows, err := store.QueryRows(ctx, q, joinSQL, pb.Params()...)
	if err != nil {
		return fmt.Errorf("load linking object %s: %w", rel.LinkingObject, err)
	}

	if len(joinRows) == 0 {
		for _, row := range rows {
			row[name] = []map[string]any{}
		}
		return nil
	}

	var targetIDs []any
	seen := make(map[string]bool)
	for _, jr := range joinRows {
		tid := fmt.Sprintf("%v", jr[rel.LinkingTargetField])
		if !seen[tid] {
			seen[tid] = true
			targetIDs = append(targetIDs, jr[rel.LinkingTargetField])
		}
	}

	pkCol := target.BackingColumn(target.PrimaryKey.Field)
	pb = dialect.NewParamBuilder()
	targetSQL := fmt.Sprintf("SELECT %s, %s AS __pk FROM %s WHERE %s",
		selectList(target, columns), pkCol, target.Table(),
		dialect.InExpr(pkCol, pb, targetIDs))
	if policy != nil {
		targetSQL += " AND (" + policy.Render(target, pb) + ")"
	}
	targetRows, err := store.QueryRows(ctx, q, targetSQL, pb.Params()...)
	if err != nil {
		return fmt.Errorf("load targets for %s: %w", name, err)
	}

	targetByPK := make(map[string]map[string]any, len(targetRows))
	for _, tr := range targetRows {
		pk := fmt.Sprintf("%v", tr["__pk"])
		delete(tr, "__pk")
		targetByPK[pk] = tr
	}

	sourceToTargets := make(map[string][]map[string]any)
	for _, jr := range joinRows {
		sid := fmt.Sprintf("%v", jr[rel.LinkingSourceField])
		tid := fmt.Sprintf("%v", jr[rel.LinkingTargetField])
		if t, ok := targetByPK[tid]; ok {
			sourceToTargets[sid] = append(sourceToTargets[sid], t)
		}
	}

	for _, row := range rows {
		pk := fmt.Sprintf("%v", row[parent.PrimaryKey.Field])
		if targets, ok := sourceToTargets[pk]; ok {
			row[name] = targets
		} else {
			row[name] = []map[string]any{}
		}
	}
	return nil
}

func collectValues(rows []map[string]any, field string) []any {
	seen := make(map[string]bool)
	var values []any
	for _, row := range rows {
		v := row[field]
		if v == nil {
			continue
		}
		s := fmt.Sprintf("%v", v)
		if !seen[s] {
			seen[s] = true
			values = append(values, v)
		}
	}
	return values
}
