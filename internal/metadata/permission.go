package metadata

import "strings"

// Operation is a CRUD operation named in an entity permission.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"

	// OperationAll is the wildcard that expands to all CRUD operations.
	OperationAll Operation = "*"
)

// Operations lists the concrete CRUD operations in a stable order.
var Operations = []Operation{OperationCreate, OperationRead, OperationUpdate, OperationDelete}

// System roles available without any configuration.
const (
	RoleAnonymous     = "anonymous"
	RoleAuthenticated = "authenticated"
)

// EntityPermission grants a role a set of actions on one entity.
type EntityPermission struct {
	Role    string         `json:"role" mapstructure:"role"`
	Actions []EntityAction `json:"actions" mapstructure:"actions"`
}

// EntityAction is one permitted operation, optionally restricted to a column
// subset and guarded by request/database policies.
type EntityAction struct {
	Action Operation     `json:"action" mapstructure:"action"`
	Fields *ActionFields `json:"fields,omitempty" mapstructure:"fields"`
	Policy *ActionPolicy `json:"policy,omitempty" mapstructure:"policy"`
}

// ActionFields narrows the columns an action may touch. Exclude wins over
// Include; an Include of "*" means every declared field.
type ActionFields struct {
	Include []string `json:"include,omitempty" mapstructure:"include"`
	Exclude []string `json:"exclude,omitempty" mapstructure:"exclude"`
}

// ActionPolicy carries predicate expressions. Request is evaluated in-process
// against the caller's claims before the operation runs; Database is compiled
// into the SQL WHERE clause of the generated query.
type ActionPolicy struct {
	Request  string `json:"request,omitempty" mapstructure:"request"`
	Database string `json:"database,omitempty" mapstructure:"database"`
}

// IsValidOperation reports whether s names a CRUD operation or the wildcard.
func IsValidOperation(s string) bool {
	switch Operation(strings.ToLower(s)) {
	case OperationCreate, OperationRead, OperationUpdate, OperationDelete, OperationAll:
		return true
	}
	return false
}

// ExpandedOperations returns the concrete operations this action covers,
// expanding the wildcard.
func (a EntityAction) ExpandedOperations() []Operation {
	if a.Action == OperationAll {
		return Operations
	}
	return []Operation{Operation(strings.ToLower(string(a.Action)))}
}
