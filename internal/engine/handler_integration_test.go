package engine_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"

	"tablegate/internal/audit"
	"tablegate/internal/auth"
	"tablegate/internal/authz"
	"tablegate/internal/config"
	"tablegate/internal/engine"
	"tablegate/internal/metadata"
	"tablegate/internal/store"
)

func boolPtr(b bool) *bool { return &b }

func testEntities() map[string]*metadata.Entity {
	return map[string]*metadata.Entity{
		"Stock": {
			Source:     metadata.Source{Object: "stocks", Type: metadata.SourceTable},
			PrimaryKey: metadata.PrimaryKey{Field: "categoryid", Type: "int"},
			Fields: []metadata.Field{
				{Name: "categoryid", Type: "int", Required: true},
				{Name: "pieceid", Type: "int"},
				{Name: "categoryName", Type: "string", Required: true},
				{Name: "piecesAvailable", Type: "int"},
			},
			Mappings: map[string]string{
				"categoryName": "category_name",
			},
			Permissions: []metadata.EntityPermission{
				{
					Role: "anonymous",
					Actions: []metadata.EntityAction{
						{Action: metadata.OperationRead},
						{
							Action: metadata.OperationCreate,
							Fields: &metadata.ActionFields{Exclude: []string{"piecesAvailable"}},
						},
						{
							Action: metadata.OperationUpdate,
							Fields: &metadata.ActionFields{Exclude: []string{"piecesAvailable"}},
						},
						{Action: metadata.OperationDelete},
					},
				},
				{
					Role:    "authenticated",
					Actions: []metadata.EntityAction{{Action: metadata.OperationAll}},
				},
				{
					Role: "policy_tester_01",
					Actions: []metadata.EntityAction{
						{
							Action: metadata.OperationRead,
							Policy: &metadata.ActionPolicy{Database: "@item.pieceid ne 1"},
						},
					},
				},
			},
		},
		"Book": {
			Source:     metadata.Source{Object: "books", Type: metadata.SourceTable},
			PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "int", Generated: true},
			Fields: []metadata.Field{
				{Name: "id", Type: "int"},
				{Name: "title", Type: "string", Required: true, Unique: true},
				{Name: "publisher_id", Type: "int"},
			},
			Relationships: map[string]metadata.Relationship{
				"publisher": {
					Cardinality:  "one",
					TargetEntity: "Publisher",
					SourceField:  "publisher_id",
					TargetField:  "id",
				},
			},
			Permissions: []metadata.EntityPermission{
				{
					Role:    "authenticated",
					Actions: []metadata.EntityAction{{Action: metadata.OperationAll}},
				},
				{
					Role:    "editor",
					Actions: []metadata.EntityAction{{Action: metadata.OperationAll}},
				},
			},
		},
		"Publisher": {
			Source:     metadata.Source{Object: "publishers", Type: metadata.SourceTable},
			PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "int", Generated: true},
			Fields: []metadata.Field{
				{Name: "id", Type: "int"},
				{Name: "name", Type: "string", Required: true},
			},
			Permissions: []metadata.EntityPermission{
				{
					Role: "authenticated",
					Actions: []metadata.EntityAction{
						{Action: metadata.OperationRead},
						{
							Action: metadata.OperationCreate,
							Fields: &metadata.ActionFields{Exclude: []string{"name"}},
						},
					},
				},
				{
					Role:    "editor",
					Actions: []metadata.EntityAction{{Action: metadata.OperationAll}},
				},
			},
		},
		"Sensor": {
			Source:     metadata.Source{Object: "sensors", Type: metadata.SourceTable},
			PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "int", Generated: true},
			Fields: []metadata.Field{
				{Name: "id", Type: "int"},
				{Name: "ratio", Type: "float"},
				{Name: "tag", Type: "uuid"},
				{Name: "seen_at", Type: "timestamp"},
				{Name: "note", Type: "string"},
			},
			Permissions: []metadata.EntityPermission{
				{
					Role:    "anonymous",
					Actions: []metadata.EntityAction{{Action: metadata.OperationAll}},
				},
			},
		},
		"Catalog": {
			Source:     metadata.Source{Object: "catalogs", Type: metadata.SourceTable},
			PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "int", Generated: true},
			Rest:       metadata.RestOptions{Methods: []string{"GET"}},
			Fields: []metadata.Field{
				{Name: "id", Type: "int"},
				{Name: "label", Type: "string"},
			},
			Permissions: []metadata.EntityPermission{
				{
					Role:    "anonymous",
					Actions: []metadata.EntityAction{{Action: metadata.OperationAll}},
				},
			},
		},
		"Hidden": {
			Source:     metadata.Source{Object: "hidden_items", Type: metadata.SourceTable},
			PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "int", Generated: true},
			Rest:       metadata.RestOptions{Enabled: boolPtr(false)},
			Fields: []metadata.Field{
				{Name: "id", Type: "int"},
				{Name: "label", Type: "string"},
			},
			Permissions: []metadata.EntityPermission{
				{
					Role:    "anonymous",
					Actions: []metadata.EntityAction{{Action: metadata.OperationAll}},
				},
			},
		},
	}
}

func testGateway(t *testing.T, cfg *config.Config, recs ...audit.Recorder) (*fiber.App, *store.Store) {
	t.Helper()
	ctx := context.Background()

	s, err := store.New(ctx, config.DataSource{
		DatabaseType:     "sqlite",
		ConnectionString: "file:" + filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(s.Close)

	reg := metadata.NewRegistry()
	if err := reg.Load(testEntities()); err != nil {
		t.Fatalf("load entities: %v", err)
	}
	if err := s.EnsureEntityTables(ctx, reg); err != nil {
		t.Fatalf("ensure tables: %v", err)
	}

	resolver, err := authz.NewResolver(reg)
	if err != nil {
		t.Fatalf("build resolver: %v", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var appErr *engine.AppError
			if errors.As(err, &appErr) {
				return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
			}
			return c.Status(500).SendString(err.Error())
		},
	})
	app.Use(auth.Middleware(config.AuthOptions{Provider: config.ProviderStaticWebApps}))
	app.Use(auth.RoleMiddleware())
	for _, rec := range recs {
		app.Use(audit.Middleware(rec))
	}
	engine.RegisterRoutes(app, cfg, engine.NewHandler(s, reg, resolver))
	return app, s
}

func restConfig(enabled bool) *config.Config {
	return &config.Config{
		Runtime: config.Runtime{
			Rest: config.RestRuntime{Enabled: &enabled, Path: "/api"},
		},
	}
}

func principalHeader(t *testing.T, roles ...string) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"identityProvider": "github",
		"userId":           "user-1",
		"userRoles":        roles,
	})
	if err != nil {
		t.Fatalf("marshal principal: %v", err)
	}
	return base64.StdEncoding.EncodeToString(b)
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("execute request: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, resp *http.Response) *engine.AppError {
	t.Helper()
	body, _ := io.ReadAll(resp.Body)
	var errResp engine.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == nil {
		t.Fatalf("expected error envelope, got: %s", body)
	}
	return errResp.Error
}

func decodeData(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	body, _ := io.ReadAll(resp.Body)
	var out struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode response: %v: %s", err, body)
	}
	return out.Data
}

func decodeList(t *testing.T, resp *http.Response) []map[string]any {
	t.Helper()
	body, _ := io.ReadAll(resp.Body)
	var out struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode response: %v: %s", err, body)
	}
	return out.Data
}

func TestCreate_ExcludedFieldRejectedWithFixedMessage(t *testing.T) {
	app, _ := testGateway(t, restConfig(true))

	resp := doRequest(t, app, "POST", "/api/Stock", map[string]any{
		"categoryid":      1,
		"pieceid":         1,
		"categoryName":    "xyz",
		"piecesAvailable": 0,
	}, nil)
	if resp.StatusCode != 403 {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	appErr := decodeError(t, resp)
	if appErr.SubStatus != engine.SubStatusAuthorizationCheckFailed {
		t.Errorf("code: got %s", appErr.SubStatus)
	}
	if appErr.Message != engine.MessageUnauthorizedFields {
		t.Errorf("message: got %q, want %q", appErr.Message, engine.MessageUnauthorizedFields)
	}
}

func TestCreate_WithoutExcludedFieldSucceeds(t *testing.T) {
	app, _ := testGateway(t, restConfig(true))

	resp := doRequest(t, app, "POST", "/api/Stock", map[string]any{
		"categoryid":   2,
		"pieceid":      1,
		"categoryName": "xyz",
	}, nil)
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	data := decodeData(t, resp)
	if data["categoryName"] != "xyz" {
		t.Errorf("created record: %v", data)
	}
}

func TestUpdate_ExcludedFieldRejected(t *testing.T) {
	app, _ := testGateway(t, restConfig(true))

	resp := doRequest(t, app, "POST", "/api/Stock", map[string]any{
		"categoryid":   3,
		"pieceid":      1,
		"categoryName": "before",
	}, nil)
	if resp.StatusCode != 201 {
		t.Fatalf("seed create: got %d", resp.StatusCode)
	}

	resp = doRequest(t, app, "PATCH", "/api/Stock/categoryid/3", map[string]any{
		"piecesAvailable": 7,
	}, nil)
	if resp.StatusCode != 403 {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if msg := decodeError(t, resp).Message; msg != engine.MessageUnauthorizedFields {
		t.Errorf("message: got %q", msg)
	}

	resp = doRequest(t, app, "PATCH", "/api/Stock/categoryid/3", map[string]any{
		"categoryName": "after",
	}, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("allowed update: expected 200, got %d", resp.StatusCode)
	}
	if data := decodeData(t, resp); data["categoryName"] != "after" {
		t.Errorf("updated record: %v", data)
	}
}

func TestDelete_AllowedDespiteColumnExclusions(t *testing.T) {
	app, _ := testGateway(t, restConfig(true))

	resp := doRequest(t, app, "POST", "/api/Stock", map[string]any{
		"categoryid":   4,
		"pieceid":      1,
		"categoryName": "to-delete",
	}, nil)
	if resp.StatusCode != 201 {
		t.Fatalf("seed create: got %d", resp.StatusCode)
	}

	resp = doRequest(t, app, "DELETE", "/api/Stock/categoryid/4", nil, nil)
	if resp.StatusCode != 204 {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp = doRequest(t, app, "GET", "/api/Stock/categoryid/4", nil, nil)
	if resp.StatusCode != 404 {
		t.Fatalf("deleted record should 404, got %d", resp.StatusCode)
	}
}

func TestDatabasePolicy_FiltersRows(t *testing.T) {
	app, _ := testGateway(t, restConfig(true))

	for _, stock := range []map[string]any{
		{"categoryid": 10, "pieceid": 1, "categoryName": "filtered-out"},
		{"categoryid": 11, "pieceid": 2, "categoryName": "visible"},
	} {
		resp := doRequest(t, app, "POST", "/api/Stock", stock, nil)
		if resp.StatusCode != 201 {
			t.Fatalf("seed create: got %d", resp.StatusCode)
		}
	}

	headers := map[string]string{
		auth.ClientPrincipalHeader: principalHeader(t, "anonymous", "authenticated", "policy_tester_01"),
		auth.ClientRoleHeader:      "policy_tester_01",
	}

	resp := doRequest(t, app, "GET", "/api/Stock", nil, headers)
	if resp.StatusCode != 200 {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	rows := decodeList(t, resp)
	if len(rows) != 1 || rows[0]["categoryName"] != "visible" {
		t.Errorf("policy should filter pieceid=1 rows, got %v", rows)
	}

	// A row outside the policy is indistinguishable from a missing one.
	resp = doRequest(t, app, "GET", "/api/Stock/categoryid/10", nil, headers)
	if resp.StatusCode != 404 {
		t.Fatalf("policy-hidden record should 404, got %d", resp.StatusCode)
	}
	if sub := decodeError(t, resp).SubStatus; sub != engine.SubStatusItemNotFound {
		t.Errorf("code: got %s", sub)
	}

	// Without the policy role the same row is visible.
	resp = doRequest(t, app, "GET", "/api/Stock/categoryid/10", nil, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("anonymous read should see the row, got %d", resp.StatusCode)
	}
}

func TestList_FilterAndMappings(t *testing.T) {
	app, _ := testGateway(t, restConfig(true))

	for _, stock := range []map[string]any{
		{"categoryid": 20, "pieceid": 5, "categoryName": "aaa"},
		{"categoryid": 21, "pieceid": 6, "categoryName": "bbb"},
	} {
		resp := doRequest(t, app, "POST", "/api/Stock", stock, nil)
		if resp.StatusCode != 201 {
			t.Fatalf("seed create: got %d", resp.StatusCode)
		}
	}

	resp := doRequest(t, app, "GET", "/api/Stock?filter[pieceid.gte]=6", nil, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	rows := decodeList(t, resp)
	if len(rows) != 1 || rows[0]["categoryName"] != "bbb" {
		t.Errorf("filter result: %v", rows)
	}

	resp = doRequest(t, app, "GET", "/api/Stock?filter[nosuch]=1", nil, nil)
	if resp.StatusCode != 400 {
		t.Fatalf("unknown filter field: expected 400, got %d", resp.StatusCode)
	}
}

func TestUnknownEntity_Returns404(t *testing.T) {
	app, _ := testGateway(t, restConfig(true))

	resp := doRequest(t, app, "GET", "/api/Nope", nil, nil)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if sub := decodeError(t, resp).SubStatus; sub != engine.SubStatusEntityNotFound {
		t.Errorf("code: got %s", sub)
	}
}

func TestEntityRestDisabled_Returns404(t *testing.T) {
	app, _ := testGateway(t, restConfig(true))

	resp := doRequest(t, app, "GET", "/api/Hidden", nil, nil)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestMethodNotExposed_Returns405(t *testing.T) {
	app, _ := testGateway(t, restConfig(true))

	resp := doRequest(t, app, "GET", "/api/Catalog", nil, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("GET should be exposed, got %d", resp.StatusCode)
	}

	resp = doRequest(t, app, "POST", "/api/Catalog", map[string]any{"label": "x"}, nil)
	if resp.StatusCode != 405 {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	if sub := decodeError(t, resp).SubStatus; sub != engine.SubStatusNotSupported {
		t.Errorf("code: got %s", sub)
	}
}

func TestGlobalRestDisabled_Returns404WithSubStatus(t *testing.T) {
	app, _ := testGateway(t, restConfig(false))

	resp := doRequest(t, app, "GET", "/api/Stock", nil, nil)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if sub := decodeError(t, resp).SubStatus; sub != engine.SubStatusGlobalRestDisabled {
		t.Errorf("code: got %s", sub)
	}
}

func TestCreateDuplicate_Returns409(t *testing.T) {
	app, _ := testGateway(t, restConfig(true))

	headers := map[string]string{
		auth.ClientPrincipalHeader: principalHeader(t, "anonymous", "authenticated"),
	}

	resp := doRequest(t, app, "POST", "/api/Book", map[string]any{"title": "Dup"}, headers)
	if resp.StatusCode != 201 {
		t.Fatalf("first create: got %d", resp.StatusCode)
	}
	resp = doRequest(t, app, "POST", "/api/Book", map[string]any{"title": "Dup"}, headers)
	if resp.StatusCode != 409 {
		t.Fatalf("duplicate create: expected 409, got %d", resp.StatusCode)
	}
	if sub := decodeError(t, resp).SubStatus; sub != engine.SubStatusConflict {
		t.Errorf("code: got %s", sub)
	}
}

func TestOperationNotGranted_Returns403(t *testing.T) {
	app, _ := testGateway(t, restConfig(true))

	// Book grants nothing to anonymous.
	resp := doRequest(t, app, "GET", "/api/Book", nil, nil)
	if resp.StatusCode != 403 {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if sub := decodeError(t, resp).SubStatus; sub != engine.SubStatusAuthorizationCheckFailed {
		t.Errorf("code: got %s", sub)
	}
}

func TestNestedCreate_AuthorizedPerEntity(t *testing.T) {
	app, _ := testGateway(t, restConfig(true))

	editor := map[string]string{
		auth.ClientPrincipalHeader: principalHeader(t, "anonymous", "authenticated", "editor"),
		auth.ClientRoleHeader:      "editor",
	}
	resp := doRequest(t, app, "POST", "/api/Book", map[string]any{
		"title":     "Nested",
		"publisher": map[string]any{"name": "Acme Press"},
	}, editor)
	if resp.StatusCode != 201 {
		t.Fatalf("nested create as editor: expected 201, got %d", resp.StatusCode)
	}
	data := decodeData(t, resp)
	if data["publisher_id"] == nil {
		t.Errorf("nested create should link the publisher: %v", data)
	}
}

func TestNestedCreate_DeniedBeforeAnySQL(t *testing.T) {
	app, _ := testGateway(t, restConfig(true))

	authn := map[string]string{
		auth.ClientPrincipalHeader: principalHeader(t, "anonymous", "authenticated"),
	}

	// Publisher.name is excluded for authenticated, so the nested create must
	// fail the column check and leave no partial book behind.
	resp := doRequest(t, app, "POST", "/api/Book", map[string]any{
		"title":     "Orphan",
		"publisher": map[string]any{"name": "Blocked"},
	}, authn)
	if resp.StatusCode != 403 {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if msg := decodeError(t, resp).Message; msg != engine.MessageUnauthorizedFields {
		t.Errorf("message: got %q", msg)
	}

	resp = doRequest(t, app, "GET", "/api/Book", nil, authn)
	if resp.StatusCode != 200 {
		t.Fatalf("list: got %d", resp.StatusCode)
	}
	if rows := decodeList(t, resp); len(rows) != 0 {
		t.Errorf("denied nested create must not insert the parent, got %v", rows)
	}
}

func TestInclude_AppliesTargetEntityPermissions(t *testing.T) {
	app, _ := testGateway(t, restConfig(true))

	editor := map[string]string{
		auth.ClientPrincipalHeader: principalHeader(t, "anonymous", "authenticated", "editor"),
		auth.ClientRoleHeader:      "editor",
	}
	resp := doRequest(t, app, "POST", "/api/Book", map[string]any{
		"title":     "With Publisher",
		"publisher": map[string]any{"name": "Acme Press"},
	}, editor)
	if resp.StatusCode != 201 {
		t.Fatalf("seed create: got %d", resp.StatusCode)
	}

	resp = doRequest(t, app, "GET", "/api/Book?include=publisher", nil, editor)
	if resp.StatusCode != 200 {
		t.Fatalf("list with include: got %d", resp.StatusCode)
	}
	rows := decodeList(t, resp)
	if len(rows) != 1 {
		t.Fatalf("rows: %v", rows)
	}
	pub, ok := rows[0]["publisher"].(map[string]any)
	if !ok || pub["name"] != "Acme Press" {
		t.Errorf("include result: %v", rows[0]["publisher"])
	}
}

type captureRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *captureRecorder) Record(e audit.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *captureRecorder) all() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Event(nil), r.events...)
}

func TestAuthorizationDenial_Recorded(t *testing.T) {
	rec := &captureRecorder{}
	app, _ := testGateway(t, restConfig(true), rec)

	resp := doRequest(t, app, "POST", "/api/Stock", map[string]any{
		"categoryid":      7,
		"categoryName":    "audited",
		"piecesAvailable": 3,
	}, nil)
	if resp.StatusCode != 403 {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	e := events[0]
	if e.Entity != "Stock" || e.Operation != string(metadata.OperationCreate) {
		t.Errorf("entity/operation: %s/%s", e.Entity, e.Operation)
	}
	if e.Role != "anonymous" || e.Status != 403 {
		t.Errorf("role/status: %s/%d", e.Role, e.Status)
	}
	if e.SubStatus != string(engine.SubStatusAuthorizationCheckFailed) {
		t.Errorf("sub status: %s", e.SubStatus)
	}
	if e.Message != engine.MessageUnauthorizedFields {
		t.Errorf("message: %q", e.Message)
	}

	resp = doRequest(t, app, "POST", "/api/Stock", map[string]any{
		"categoryid":   8,
		"categoryName": "allowed",
	}, nil)
	if resp.StatusCode != 201 {
		t.Fatalf("allowed create: got %d", resp.StatusCode)
	}
	if events := rec.all(); len(events) != 1 {
		t.Errorf("allowed request must not record events, got %d", len(events))
	}
}

func TestScalarRoundTrip(t *testing.T) {
	app, _ := testGateway(t, restConfig(true))

	sent := map[string]any{
		"ratio":   1e-8,
		"tag":     "D1D024F9-37C5-4E4C-AD75-19A77A8FA161",
		"seen_at": "2024-01-02T03:04:05Z",
		"note":    "2024-01-02 03:04:05",
	}
	resp := doRequest(t, app, "POST", "/api/Sensor", sent, nil)
	if resp.StatusCode != 201 {
		t.Fatalf("create: got %d", resp.StatusCode)
	}
	created := decodeData(t, resp)
	id, ok := created["id"].(float64)
	if !ok {
		t.Fatalf("created record has no id: %v", created)
	}

	resp = doRequest(t, app, "GET", fmt.Sprintf("/api/Sensor/id/%d", int(id)), nil, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("get: got %d", resp.StatusCode)
	}
	got := decodeData(t, resp)

	if ratio, _ := got["ratio"].(float64); ratio != 1e-8 {
		t.Errorf("ratio: got %v, want 1e-8", got["ratio"])
	}
	if got["tag"] != sent["tag"] {
		t.Errorf("tag: got %v, want %v", got["tag"], sent["tag"])
	}
	if got["seen_at"] != sent["seen_at"] {
		t.Errorf("seen_at: got %v, want %v", got["seen_at"], sent["seen_at"])
	}
	if got["note"] != sent["note"] {
		t.Errorf("note: got %v, want %v", got["note"], sent["note"])
	}
}
