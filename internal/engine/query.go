package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"tablegate/internal/metadata"
	"tablegate/internal/store"
)

type QueryPlan struct {
	Entity   *metadata.Entity
	Columns  []string // exposed field names the caller may read
	Filters  []WhereClause
	Policy   *PolicyFragment // row filter from the database policy, if any
	Sorts    []OrderClause
	Page     int
	PerPage  int
	Includes []string
}

type WhereClause struct {
	Field    string
	Operator string
	Value    any
}

type OrderClause struct {
	Field string
	Dir   string // ASC or DESC
}

type QueryResult struct {
	SQL    string
	Params []any
}

// ParseQueryParams parses Fiber query parameters into a QueryPlan. Filter and
// sort fields must be readable by the caller; referencing a field outside the
// allowed set is an authorization failure, not a bad request.
func ParseQueryParams(c *fiber.Ctx, entity *metadata.Entity, allowed []string) (*QueryPlan, error) {
	plan := &QueryPlan{
		Entity:  entity,
		Columns: allowed,
		Page:    1,
		PerPage: 25,
	}

	allowedSet := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = struct{}{}
	}

	// filter[field]=val or filter[field.op]=val
	for key, val := range c.Queries() {
		if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") {
			continue
		}
		inner := key[7 : len(key)-1]
		field, op := parseFilterKey(inner)

		if !entity.HasField(field) {
			return nil, BadRequestError(fmt.Sprintf("Unknown filter field: %s", field))
		}
		if _, ok := allowedSet[field]; !ok {
			return nil, UnauthorizedFieldsError()
		}

		coerced, err := coerceValue(entity.GetField(field), val, op)
		if err != nil {
			return nil, BadRequestError(fmt.Sprintf("Invalid filter value for %s: %v", field, err))
		}

		plan.Filters = append(plan.Filters, WhereClause{Field: field, Operator: op, Value: coerced})
	}

	// sort=-created_at,name
	if sortParam := c.Query("sort"); sortParam != "" {
		for _, part := range strings.Split(sortParam, ",") {
			part = strings.TrimSpace(part)
			dir := "ASC"
			field := part
			if strings.HasPrefix(part, "-") {
				dir = "DESC"
				field = part[1:]
			}
			if !entity.HasField(field) {
				return nil, BadRequestError(fmt.Sprintf("Unknown sort field: %s", field))
			}
			if _, ok := allowedSet[field]; !ok {
				return nil, UnauthorizedFieldsError()
			}
			plan.Sorts = append(plan.Sorts, OrderClause{Field: field, Dir: dir})
		}
	}

	// $select=field1,field2 narrows the projection within the allowed set.
	if sel := c.Query("$select"); sel != "" {
		var cols []string
		for _, part := range strings.Split(sel, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if !entity.HasField(part) {
				return nil, BadRequestError(fmt.Sprintf("Unknown field: %s", part))
			}
			if _, ok := allowedSet[part]; !ok {
				return nil, UnauthorizedFieldsError()
			}
			cols = append(cols, part)
		}
		if len(cols) > 0 {
			plan.Columns = cols
		}
	}

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			plan.Page = v
		}
	}
	if pp := c.Query("per_page"); pp != "" {
		if v, err := strconv.Atoi(pp); err == nil && v > 0 {
			plan.PerPage = v
			if plan.PerPage > 100 {
				plan.PerPage = 100
			}
		}
	}

	// include=rel1,rel2
	if inc := c.Query("include"); inc != "" {
		for _, name := range strings.Split(inc, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, ok := entity.Relationships[name]; !ok {
				return nil, BadRequestError(fmt.Sprintf("Unknown include: %s", name))
			}
			plan.Includes = append(plan.Includes, name)
		}
	}

	return plan, nil
}

// selectList renders the projection, aliasing backing columns to their
// exposed field names where mappings differ.
func selectList(entity *metadata.Entity, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		col := entity.BackingColumn(f)
		if col != f {
			parts[i] = col + " AS " + f
		} else {
			parts[i] = col
		}
	}
	return strings.Join(parts, ", ")
}

// BuildSelectSQL builds a parameterized SELECT statement from the query plan.
func BuildSelectSQL(plan *QueryPlan, dialect store.Dialect) QueryResult {
	pb := dialect.NewParamBuilder()
	entity := plan.Entity

	where := buildWhere(plan, dialect, pb)

	sqlStr := fmt.Sprintf("SELECT %s FROM %s", selectList(entity, plan.Columns), entity.Table())
	if len(where) > 0 {
		sqlStr += " WHERE " + strings.Join(where, " AND ")
	}

	if len(plan.Sorts) > 0 {
		var orderParts []string
		for _, s := range plan.Sorts {
			orderParts = append(orderParts, fmt.Sprintf("%s %s", entity.BackingColumn(s.Field), s.Dir))
		}
		sqlStr += " ORDER BY " + strings.Join(orderParts, ", ")
	}

	limit := pb.Add(plan.PerPage)
	offset := pb.Add((plan.Page - 1) * plan.PerPage)
	sqlStr += fmt.Sprintf(" LIMIT %s OFFSET %s", limit, offset)

	return QueryResult{SQL: sqlStr, Params: pb.Params()}
}

// BuildCountSQL builds a COUNT query with the same filters as the select.
func BuildCountSQL(plan *QueryPlan, dialect store.Dialect) QueryResult {
	pb := dialect.NewParamBuilder()

	where := buildWhere(plan, dialect, pb)

	sqlStr := fmt.Sprintf("SELECT COUNT(*) AS count FROM %s", plan.Entity.Table())
	if len(where) > 0 {
		sqlStr += " WHERE " + strings.Join(where, " AND ")
	}

	return QueryResult{SQL: sqlStr, Params: pb.Params()}
}

func buildWhere(plan *QueryPlan, dialect store.Dialect, pb store.ParamBuilder) []string {
	var where []string
	for _, f := range plan.Filters {
		where = append(where, buildWhereClause(plan.Entity, f, dialect, pb))
	}
	if plan.Policy != nil {
		where = append(where, "("+plan.Policy.Render(plan.Entity, pb)+")")
	}
	return where
}

func buildWhereClause(entity *metadata.Entity, f WhereClause, dialect store.Dialect, pb store.ParamBuilder) string {
	col := entity.BackingColumn(f.Field)
	switch f.Operator {
	case "eq", "":
		return fmt.Sprintf("%s = %s", col, pb.Add(f.Value))
	case "neq":
		return fmt.Sprintf("%s != %s", col, pb.Add(f.Value))
	case "gt":
		return fmt.Sprintf("%s > %s", col, pb.Add(f.Value))
	case "gte":
		return fmt.Sprintf("%s >= %s", col, pb.Add(f.Value))
	case "lt":
		return fmt.Sprintf("%s < %s", col, pb.Add(f.Value))
	case "lte":
		return fmt.Sprintf("%s <= %s", col, pb.Add(f.Value))
	case "in":
		values, _ := f.Value.([]any)
		return dialect.InExpr(col, pb, values)
	case "not_in":
		values, _ := f.Value.([]any)
		return dialect.NotInExpr(col, pb, values)
	case "like":
		return fmt.Sprintf("%s LIKE %s", col, pb.Add(f.Value))
	default:
		return fmt.Sprintf("%s = %s", col, pb.Add(f.Value))
	}
}

// parseFilterKey splits "total.gte" into ("total", "gte") or "status" into ("status", "eq").
func parseFilterKey(key string) (string, string) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return key, "eq"
}

// coerceValue converts string query param values based on field metadata.
func coerceValue(field *metadata.Field, val string, op string) (any, error) {
	if op == "in" || op == "not_in" {
		parts := strings.Split(val, ",")
		coerced := make([]any, len(parts))
		for i, p := range parts {
			v, err := coerceSingleValue(field, strings.TrimSpace(p))
			if err != nil {
				return nil, err
			}
			coerced[i] = v
		}
		return coerced, nil
	}
	return coerceSingleValue(field, val)
}

func coerceSingleValue(field *metadata.Field, val string) (any, error) {
	switch field.Type {
	case "int", "integer":
		return strconv.Atoi(val)
	case "bigint":
		return strconv.ParseInt(val, 10, 64)
	case "float", "decimal":
		return strconv.ParseFloat(val, 64)
	case "boolean":
		return strconv.ParseBool(val)
	default:
		return val, nil
	}
}
