package engine

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"tablegate/internal/audit"
	"tablegate/internal/authz"
	"tablegate/internal/metadata"
	"tablegate/internal/store"
)

type Handler struct {
	store    *store.Store
	registry *metadata.Registry
	resolver *authz.Resolver
}

func NewHandler(s *store.Store, reg *metadata.Registry, res *authz.Resolver) *Handler {
	return &Handler{store: s, registry: reg, resolver: res}
}

// PolicyFragment defers rendering of a row-filter predicate so it shares the
// param builder of the statement it is embedded in.
type PolicyFragment struct {
	pred *authz.Predicate
}

func NewPolicyFragment(pred *authz.Predicate) *PolicyFragment {
	if pred == nil {
		return nil
	}
	return &PolicyFragment{pred: pred}
}

func (p *PolicyFragment) Render(entity *metadata.Entity, pb store.ParamBuilder) string {
	return p.pred.SQL(entity, pb)
}

// List handles GET /:entity
func (h *Handler) List(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	user := getUser(c)
	if err := h.authorize(c, entity, user, metadata.OperationRead); err != nil {
		return err
	}

	allowed := h.resolver.AllowedColumns(entity.Name, user.Role, metadata.OperationRead)
	if len(allowed) == 0 {
		return ForbiddenError("No readable fields for this role")
	}

	plan, err := ParseQueryParams(c, entity, allowed)
	if err != nil {
		return err
	}

	pred, err := h.databasePolicy(entity, user, metadata.OperationRead)
	if err != nil {
		return err
	}
	plan.Policy = NewPolicyFragment(pred)

	qr := BuildSelectSQL(plan, h.store.Dialect)
	rows, err := store.QueryRows(c.Context(), h.store.DB, qr.SQL, qr.Params...)
	if err != nil {
		return h.databaseError(fmt.Errorf("list %s: %w", entity.Name, err))
	}

	cr := BuildCountSQL(plan, h.store.Dialect)
	countRow, err := store.QueryRow(c.Context(), h.store.DB, cr.SQL, cr.Params...)
	if err != nil {
		return h.databaseError(fmt.Errorf("count %s: %w", entity.Name, err))
	}

	h.fixBooleans(entity, rows)

	if len(plan.Includes) > 0 {
		err := LoadIncludes(c.Context(), h.store.DB, h.store.Dialect, h.registry,
			entity, rows, plan.Includes, h.includeAuthorizer(user))
		if err != nil {
			return h.includeError(err)
		}
	}

	if rows == nil {
		rows = []map[string]any{}
	}

	return c.JSON(fiber.Map{
		"data": rows,
		"meta": fiber.Map{
			"page":     plan.Page,
			"per_page": plan.PerPage,
			"total":    countRow["count"],
		},
	})
}

// GetByPK handles GET /:entity/:pk/:value
func (h *Handler) GetByPK(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	user := getUser(c)
	if err := h.authorize(c, entity, user, metadata.OperationRead); err != nil {
		return err
	}

	id, err := h.primaryKeyValue(c, entity)
	if err != nil {
		return err
	}

	pred, err := h.databasePolicy(entity, user, metadata.OperationRead)
	if err != nil {
		return err
	}

	row, err := FetchRecord(c.Context(), h.store.DB, h.store.Dialect, entity, id, NewPolicyFragment(pred))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(entity.Name, c.Params("value"))
		}
		return h.databaseError(fmt.Errorf("get %s: %w", entity.Name, err))
	}

	allowed := h.resolver.AllowedColumns(entity.Name, user.Role, metadata.OperationRead)
	row = projectRecord(row, allowed)
	h.fixBooleans(entity, []map[string]any{row})

	if includes := parseIncludes(c, entity); len(includes) > 0 {
		rows := []map[string]any{row}
		err := LoadIncludes(c.Context(), h.store.DB, h.store.Dialect, h.registry,
			entity, rows, includes, h.includeAuthorizer(user))
		if err != nil {
			return h.includeError(err)
		}
		row = rows[0]
	}

	return c.JSON(fiber.Map{"data": row})
}

// Create handles POST /:entity
func (h *Handler) Create(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	user := getUser(c)
	if err := h.authorize(c, entity, user, metadata.OperationCreate); err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return BadRequestError("Invalid JSON body")
	}

	plan, validationErrs := PlanWrite(entity, h.registry, body, nil)
	if len(validationErrs) > 0 {
		return ValidationError(validationErrs)
	}

	// Column authorization covers the whole plan, nested creates included,
	// before any statement runs.
	if err := h.authorizeWritePlan(c, plan, user); err != nil {
		return err
	}

	record, err := ExecuteWritePlan(c.Context(), h.store, plan)
	if err != nil {
		return h.writeError(err)
	}

	h.fixBooleans(entity, []map[string]any{record})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"data": h.responseProjection(entity, user, record, plan),
	})
}

// Update handles PUT /:entity/:pk/:value (full replace).
func (h *Handler) Update(c *fiber.Ctx) error {
	return h.update(c, true)
}

// Patch handles PATCH /:entity/:pk/:value (partial update).
func (h *Handler) Patch(c *fiber.Ctx) error {
	return h.update(c, false)
}

func (h *Handler) update(c *fiber.Ctx, fullReplace bool) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	user := getUser(c)
	if err := h.authorize(c, entity, user, metadata.OperationUpdate); err != nil {
		return err
	}

	id, err := h.primaryKeyValue(c, entity)
	if err != nil {
		return err
	}

	// The row filter gates visibility: a record outside the policy is
	// indistinguishable from a missing one.
	pred, err := h.databasePolicy(entity, user, metadata.OperationUpdate)
	if err != nil {
		return err
	}
	if _, err := FetchRecord(c.Context(), h.store.DB, h.store.Dialect, entity, id, NewPolicyFragment(pred)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(entity.Name, c.Params("value"))
		}
		return h.databaseError(fmt.Errorf("fetch %s: %w", entity.Name, err))
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return BadRequestError("Invalid JSON body")
	}

	plan, validationErrs := PlanWrite(entity, h.registry, body, id)
	if len(validationErrs) > 0 {
		return ValidationError(validationErrs)
	}
	if fullReplace {
		if errs := validateFields(entity, plan.Fields, true); len(errs) > 0 {
			return ValidationError(errs)
		}
	}

	if err := h.authorizeWritePlan(c, plan, user); err != nil {
		return err
	}

	record, err := ExecuteWritePlan(c.Context(), h.store, plan)
	if err != nil {
		return h.writeError(err)
	}

	h.fixBooleans(entity, []map[string]any{record})
	return c.JSON(fiber.Map{
		"data": h.responseProjection(entity, user, record, plan),
	})
}

// Delete handles DELETE /:entity/:pk/:value
func (h *Handler) Delete(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	user := getUser(c)
	if err := h.authorize(c, entity, user, metadata.OperationDelete); err != nil {
		return err
	}

	id, err := h.primaryKeyValue(c, entity)
	if err != nil {
		return err
	}

	pred, err := h.databasePolicy(entity, user, metadata.OperationDelete)
	if err != nil {
		return err
	}
	if _, err := FetchRecord(c.Context(), h.store.DB, h.store.Dialect, entity, id, NewPolicyFragment(pred)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(entity.Name, c.Params("value"))
		}
		return h.databaseError(fmt.Errorf("fetch %s: %w", entity.Name, err))
	}

	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		entity.Table(), entity.BackingColumn(entity.PrimaryKey.Field), pb.Add(id))
	affected, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return h.databaseError(fmt.Errorf("delete %s: %w", entity.Name, err))
	}
	if affected == 0 {
		return NotFoundError(entity.Name, c.Params("value"))
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// --- authorization flow ---

// authorize runs the role and request-policy stages. Column and row stages
// run per operation at their call sites.
func (h *Handler) authorize(c *fiber.Ctx, entity *metadata.Entity, user *metadata.UserContext, op metadata.Operation) error {
	if !h.resolver.IsValidRoleContext(entity.Name, user.Role) {
		return h.denied(c, entity, user, op, ForbiddenError("Role is not defined for this entity"))
	}
	if !h.resolver.AreRoleAndOperationDefinedForEntity(entity.Name, user.Role, op) {
		return h.denied(c, entity, user, op, ForbiddenError(fmt.Sprintf("Operation %s is not permitted for role %s", op, user.Role)))
	}

	allowed, err := h.resolver.RequestPolicyAllowed(entity.Name, user.Role, op, user.Claims)
	if err != nil {
		return h.denied(c, entity, user, op, ForbiddenError("Request policy evaluation failed"))
	}
	if !allowed {
		return h.denied(c, entity, user, op, ForbiddenError("Request blocked by policy"))
	}
	return nil
}

func (h *Handler) authorizeWritePlan(c *fiber.Ctx, plan *WritePlan, user *metadata.UserContext) error {
	op := metadata.OperationUpdate
	if plan.IsCreate {
		op = metadata.OperationCreate
	}
	return plan.Walk(func(node *WritePlan) error {
		nodeOp := op
		if node != plan {
			nodeOp = metadata.OperationCreate
		}
		if !h.resolver.AreRoleAndOperationDefinedForEntity(node.Entity.Name, user.Role, nodeOp) {
			return h.denied(c, node.Entity, user, nodeOp, ForbiddenError(fmt.Sprintf("Operation %s is not permitted for role %s", nodeOp, user.Role)))
		}
		if !h.resolver.AreColumnsAllowedForOperation(node.Entity.Name, user.Role, nodeOp, node.FieldKeys()) {
			return h.denied(c, node.Entity, user, nodeOp, UnauthorizedFieldsError())
		}
		return nil
	})
}

// denied records the authorization failure before it travels back to the
// client. Recording is buffered and never blocks the request.
func (h *Handler) denied(c *fiber.Ctx, entity *metadata.Entity, user *metadata.UserContext, op metadata.Operation, appErr *AppError) error {
	audit.FromContext(c.UserContext()).Record(audit.Event{
		Entity:    entity.Name,
		Operation: string(op),
		Role:      user.Role,
		UserID:    user.ID,
		Status:    appErr.Status,
		SubStatus: string(appErr.SubStatus),
		Message:   appErr.Message,
		Method:    c.Method(),
		Path:      c.Path(),
	})
	return appErr
}

func (h *Handler) databasePolicy(entity *metadata.Entity, user *metadata.UserContext, op metadata.Operation) (*authz.Predicate, error) {
	pred, err := h.resolver.DatabasePolicy(entity.Name, user.Role, op, user.Claims)
	if err != nil {
		if errors.Is(err, authz.ErrClaimNotFound) {
			return nil, ForbiddenError("Policy references a claim not present in the request")
		}
		return nil, NewAppError(fiber.StatusInternalServerError, SubStatusUnexpected, "Policy evaluation failed")
	}
	return pred, nil
}

// includeAuthorizer gates related entities by the caller's read permissions
// on each target.
func (h *Handler) includeAuthorizer(user *metadata.UserContext) IncludeAuthorizer {
	return func(target *metadata.Entity) ([]string, *PolicyFragment, error) {
		if !h.resolver.AreRoleAndOperationDefinedForEntity(target.Name, user.Role, metadata.OperationRead) {
			return nil, nil, ForbiddenError(fmt.Sprintf("Entity %s is not readable for role %s", target.Name, user.Role))
		}
		columns := h.resolver.AllowedColumns(target.Name, user.Role, metadata.OperationRead)
		if len(columns) == 0 {
			return nil, nil, ForbiddenError(fmt.Sprintf("Entity %s is not readable for role %s", target.Name, user.Role))
		}
		pred, err := h.resolver.DatabasePolicy(target.Name, user.Role, metadata.OperationRead, user.Claims)
		if err != nil {
			if errors.Is(err, authz.ErrClaimNotFound) {
				return nil, nil, ForbiddenError("Policy references a claim not present in the request")
			}
			return nil, nil, NewAppError(fiber.StatusInternalServerError, SubStatusUnexpected, "Policy evaluation failed")
		}
		return columns, NewPolicyFragment(pred), nil
	}
}

// --- helpers ---

func (h *Handler) resolveEntity(c *fiber.Ctx) (*metadata.Entity, error) {
	name := c.Params("entity")
	entity := h.registry.GetEntity(name)
	if entity == nil {
		entity = h.findByRestPath(name)
	}
	if entity == nil {
		return nil, UnknownEntityError(name)
	}
	if !entity.RestEnabled() {
		return nil, UnknownEntityError(name)
	}
	if !entity.RestMethodAllowed(c.Method()) {
		return nil, MethodNotAllowedError(entity.Name, c.Method())
	}
	return entity, nil
}

func (h *Handler) findByRestPath(segment string) *metadata.Entity {
	for _, e := range h.registry.AllEntities() {
		p := strings.TrimPrefix(e.Rest.Path, "/")
		if p != "" && strings.EqualFold(p, segment) {
			return e
		}
	}
	return nil
}

// primaryKeyValue validates the :pk/:value pair and coerces the value to the
// primary key's type.
func (h *Handler) primaryKeyValue(c *fiber.Ctx, entity *metadata.Entity) (any, error) {
	pkName := c.Params("pk")
	if !strings.EqualFold(pkName, entity.PrimaryKey.Field) {
		return nil, BadRequestError(fmt.Sprintf("Unknown primary key column: %s", pkName))
	}

	raw := c.Params("value")
	switch entity.PrimaryKey.Type {
	case "int", "integer", "bigint":
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, BadRequestError(fmt.Sprintf("Invalid primary key value: %s", raw))
		}
		return v, nil
	default:
		return raw, nil
	}
}

// responseProjection limits the write response to fields the caller can read,
// falling back to the written fields plus primary key when the role has no
// read grant.
func (h *Handler) responseProjection(entity *metadata.Entity, user *metadata.UserContext, record map[string]any, plan *WritePlan) map[string]any {
	if h.resolver.AreRoleAndOperationDefinedForEntity(entity.Name, user.Role, metadata.OperationRead) {
		return projectRecord(record, h.resolver.AllowedColumns(entity.Name, user.Role, metadata.OperationRead))
	}
	cols := append(plan.FieldKeys(), entity.PrimaryKey.Field)
	return projectRecord(record, cols)
}

func projectRecord(record map[string]any, allowed []string) map[string]any {
	out := make(map[string]any, len(allowed))
	for _, col := range allowed {
		if v, ok := record[col]; ok {
			out[col] = v
		}
	}
	return out
}

func (h *Handler) fixBooleans(entity *metadata.Entity, rows []map[string]any) {
	if !h.store.Dialect.NeedsBoolFix() {
		return
	}
	var boolFields []string
	for _, f := range entity.Fields {
		if f.Type == "boolean" {
			boolFields = append(boolFields, f.Name)
		}
	}
	if len(boolFields) > 0 {
		store.NormalizeBooleans(rows, boolFields)
	}
}

func (h *Handler) writeError(err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if mapped := store.MapError(h.store.Dialect, err); errors.Is(mapped, store.ErrUniqueViolation) {
		return ConflictError("A record with this value already exists")
	}
	return h.databaseError(err)
}

func (h *Handler) databaseError(err error) error {
	log.Printf("database error: %v", err)
	return DatabaseError()
}

func (h *Handler) includeError(err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return h.databaseError(err)
}

func getUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	if user == nil {
		return metadata.Anonymous()
	}
	return user
}

func parseIncludes(c *fiber.Ctx, entity *metadata.Entity) []string {
	inc := c.Query("include")
	if inc == "" {
		return nil
	}
	var includes []string
	for _, name := range strings.Split(inc, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := entity.Relationships[name]; ok {
			includes = append(includes, name)
		}
	}
	return includes
}
