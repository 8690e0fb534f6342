package authz

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr/vm"

	"tablegate/internal/metadata"
)

// Resolver answers authorization questions from a permission index built once
// from the registry: entity -> role -> operation -> allowed columns and
// policies. It is immutable after construction and safe for concurrent use.
type Resolver struct {
	reg      *metadata.Registry
	entities map[string]map[string]map[metadata.Operation]*operationPermission
}

type operationPermission struct {
	columns map[string]struct{}

	databasePolicyRaw string
	databasePolicy    *Predicate // parsed eagerly when the policy has no claim refs

	requestPolicy *vm.Program
}

// NewResolver builds the permission index. Invalid policy expressions and
// duplicate role definitions are configuration errors surfaced at startup.
func NewResolver(reg *metadata.Registry) (*Resolver, error) {
	r := &Resolver{
		reg:      reg,
		entities: make(map[string]map[string]map[metadata.Operation]*operationPermission),
	}

	for _, entity := range reg.AllEntities() {
		roles := make(map[string]map[metadata.Operation]*operationPermission)
		for _, perm := range entity.Permissions {
			roleKey := strings.ToLower(perm.Role)
			if _, dup := roles[roleKey]; dup {
				return nil, fmt.Errorf("entity %s: role %s defined more than once", entity.Name, perm.Role)
			}
			ops := make(map[metadata.Operation]*operationPermission)
			for _, action := range perm.Actions {
				opPerm, err := buildOperationPermission(entity, perm.Role, action)
				if err != nil {
					return nil, err
				}
				for _, op := range action.ExpandedOperations() {
					if _, dup := ops[op]; dup {
						return nil, fmt.Errorf("entity %s: role %s: operation %s granted more than once",
							entity.Name, perm.Role, op)
					}
					ops[op] = opPerm
				}
			}
			roles[roleKey] = ops
		}
		r.entities[strings.ToLower(entity.Name)] = roles
	}
	return r, nil
}

func buildOperationPermission(entity *metadata.Entity, role string, action metadata.EntityAction) (*operationPermission, error) {
	opPerm := &operationPermission{columns: resolveColumns(entity, action.Fields)}

	if action.Policy != nil && action.Policy.Database != "" {
		opPerm.databasePolicyRaw = action.Policy.Database
		if !strings.Contains(action.Policy.Database, "@claims.") {
			pred, err := ParsePredicate(action.Policy.Database)
			if err != nil {
				return nil, fmt.Errorf("entity %s: role %s: database policy: %w", entity.Name, role, err)
			}
			if err := pred.Validate(entity); err != nil {
				return nil, fmt.Errorf("entity %s: role %s: database policy: %w", entity.Name, role, err)
			}
			opPerm.databasePolicy = pred
		}
	}

	if action.Policy != nil && action.Policy.Request != "" {
		prog, err := CompileRequestPolicy(action.Policy.Request)
		if err != nil {
			return nil, fmt.Errorf("entity %s: role %s: request policy: %w", entity.Name, role, err)
		}
		opPerm.requestPolicy = prog
	}
	return opPerm, nil
}

// resolveColumns materializes the allowed column set for an action: the
// include list (nil or "*" meaning every declared field) minus the exclude
// list. Exclude always wins.
func resolveColumns(entity *metadata.Entity, fields *metadata.ActionFields) map[string]struct{} {
	columns := make(map[string]struct{})

	includeAll := fields == nil || len(fields.Include) == 0
	if !includeAll {
		for _, f := range fields.Include {
			if f == "*" {
				includeAll = true
				break
			}
		}
	}
	if includeAll {
		for _, name := range entity.FieldNames() {
			columns[name] = struct{}{}
		}
	} else {
		for _, f := range fields.Include {
			columns[f] = struct{}{}
		}
	}

	if fields != nil {
		for _, f := range fields.Exclude {
			if f == "*" {
				return make(map[string]struct{})
			}
			delete(columns, f)
		}
	}
	return columns
}

func (r *Resolver) operation(entityName, role string, op metadata.Operation) *operationPermission {
	roles, ok := r.entities[strings.ToLower(entityName)]
	if !ok {
		return nil
	}
	ops, ok := roles[strings.ToLower(role)]
	if !ok {
		return nil
	}
	return ops[op]
}

// IsValidRoleContext reports whether the role has any permission defined for
// the entity. A request arriving under an unconfigured role is rejected
// before any operation-level evaluation happens.
func (r *Resolver) IsValidRoleContext(entityName, role string) bool {
	roles, ok := r.entities[strings.ToLower(entityName)]
	if !ok {
		return false
	}
	_, ok = roles[strings.ToLower(role)]
	return ok
}

// AreRoleAndOperationDefinedForEntity reports whether the role is granted the
// operation on the entity.
func (r *Resolver) AreRoleAndOperationDefinedForEntity(entityName, role string, op metadata.Operation) bool {
	return r.operation(entityName, role, op) != nil
}

// AreColumnsAllowedForOperation returns true only if every requested column
// is within the role's permitted column set for the operation. Delete
// operations carry no column-level input, so the check is bypassed for them
// (authorization happened at the entity level already).
func (r *Resolver) AreColumnsAllowedForOperation(entityName, role string, op metadata.Operation, columns []string) bool {
	opPerm := r.operation(entityName, role, op)
	if opPerm == nil {
		return false
	}
	if op == metadata.OperationDelete {
		return true
	}
	for _, col := range columns {
		if _, ok := opPerm.columns[col]; !ok {
			return false
		}
	}
	return true
}

// AllowedColumns returns the permitted columns for the operation in the
// entity's declared field order. Used to restrict read projections.
func (r *Resolver) AllowedColumns(entityName, role string, op metadata.Operation) []string {
	opPerm := r.operation(entityName, role, op)
	if opPerm == nil {
		return nil
	}
	entity := r.reg.GetEntity(entityName)
	if entity == nil {
		return nil
	}
	var cols []string
	for _, name := range entity.FieldNames() {
		if _, ok := opPerm.columns[name]; ok {
			cols = append(cols, name)
		}
	}
	return cols
}

// DatabasePolicy returns the parsed row-level predicate for the operation,
// with @claims references substituted from the caller's claims. Returns nil
// when no policy is configured.
func (r *Resolver) DatabasePolicy(entityName, role string, op metadata.Operation, claims map[string]any) (*Predicate, error) {
	opPerm := r.operation(entityName, role, op)
	if opPerm == nil || opPerm.databasePolicyRaw == "" {
		return nil, nil
	}
	if opPerm.databasePolicy != nil {
		return opPerm.databasePolicy, nil
	}

	substituted, err := SubstituteClaims(opPerm.databasePolicyRaw, claims)
	if err != nil {
		return nil, err
	}
	pred, err := ParsePredicate(substituted)
	if err != nil {
		return nil, err
	}
	entity := r.reg.GetEntity(entityName)
	if entity != nil {
		if err := pred.Validate(entity); err != nil {
			return nil, err
		}
	}
	return pred, nil
}

// RequestPolicyAllowed evaluates the operation's request policy against the
// caller's claims. Operations without a request policy always pass.
func (r *Resolver) RequestPolicyAllowed(entityName, role string, op metadata.Operation, claims map[string]any) (bool, error) {
	opPerm := r.operation(entityName, role, op)
	if opPerm == nil {
		return false, nil
	}
	if opPerm.requestPolicy == nil {
		return true, nil
	}
	return EvalRequestPolicy(opPerm.requestPolicy, claims)
}
