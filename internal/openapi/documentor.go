package openapi

import (
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2"

	"tablegate/internal/config"
	"tablegate/internal/engine"
	"tablegate/internal/metadata"
)

const specVersion = "3.0.1"

// Documentor builds the OpenAPI description for every REST-exposed entity.
// The document is created once; a second create attempt is a conflict.
type Documentor struct {
	mu  sync.Mutex
	cfg *config.Config
	reg *metadata.Registry
	doc map[string]any
}

func NewDocumentor(cfg *config.Config, reg *metadata.Registry) *Documentor {
	return &Documentor{cfg: cfg, reg: reg}
}

// CreateDocument builds the document. Calling it again after a successful
// build returns a conflict.
func (d *Documentor) CreateDocument() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.doc != nil {
		return engine.NewAppError(fiber.StatusConflict, engine.SubStatusOpenApiDocumentExists,
			"OpenAPI document already generated")
	}

	doc, err := d.build()
	if err != nil {
		return engine.NewAppError(fiber.StatusInternalServerError, engine.SubStatusOpenApiCreationFailed,
			fmt.Sprintf("OpenAPI document generation failed: %v", err))
	}

	d.doc = doc
	return nil
}

// Document returns the generated document, or false when none exists yet.
func (d *Documentor) Document() (map[string]any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return nil, false
	}
	return d.doc, true
}

// RegisterRoutes serves the document under the REST base path. Register
// before the dynamic entity routes so the literal segment wins.
func RegisterRoutes(app *fiber.App, cfg *config.Config, d *Documentor) {
	app.Get(cfg.Runtime.Rest.BasePath()+"/openapi", func(c *fiber.Ctx) error {
		doc, ok := d.Document()
		if !ok {
			return engine.NewAppError(fiber.StatusNotFound, SubStatusDocumentMissing,
				"OpenAPI document has not been generated")
		}
		return c.JSON(doc)
	})
}

// SubStatusDocumentMissing is returned when the document is requested before
// generation ran.
const SubStatusDocumentMissing engine.SubStatus = "OpenApiDocumentNotFound"

func (d *Documentor) build() (map[string]any, error) {
	paths := map[string]any{}
	schemas := map[string]any{}
	var tags []map[string]any

	for _, entity := range d.reg.AllEntities() {
		if !entity.RestEnabled() {
			continue
		}
		if entity.Source.Type == metadata.SourceStoredProcedure {
			continue
		}

		full, noPK, err := entitySchemas(entity)
		if err != nil {
			return nil, err
		}
		schemas[entity.Name] = full
		schemas[entity.Name+"_NoPK"] = noPK

		collectionPath, itemPath := entityPaths(entity)
		paths[entityBasePath(entity)] = collectionPath
		paths[entityItemPath(entity)] = itemPath

		tags = append(tags, map[string]any{"name": entity.Name})
	}

	return map[string]any{
		"openapi": specVersion,
		"info": map[string]any{
			"title":   "tablegate",
			"version": "1.0.0",
		},
		"servers": []map[string]any{
			{"url": d.cfg.Runtime.Rest.BasePath()},
		},
		"paths": paths,
		"components": map[string]any{
			"schemas": schemas,
		},
		"tags": tags,
	}, nil
}

func entityBasePath(entity *metadata.Entity) string {
	if entity.Rest.Path != "" {
		p := entity.Rest.Path
		if p[0] != '/' {
			p = "/" + p
		}
		return p
	}
	return "/" + entity.Name
}

func entityItemPath(entity *metadata.Entity) string {
	pk := entity.PrimaryKey.Field
	return fmt.Sprintf("%s/%s/{%s}", entityBasePath(entity), pk, pk)
}

func entitySchemas(entity *metadata.Entity) (map[string]any, map[string]any, error) {
	fullProps := map[string]any{}
	noPKProps := map[string]any{}
	var required []string

	for _, f := range entity.Fields {
		prop, err := fieldSchema(f)
		if err != nil {
			return nil, nil, fmt.Errorf("entity %s field %s: %w", entity.Name, f.Name, err)
		}
		fullProps[f.Name] = prop
		if f.Name != entity.PrimaryKey.Field {
			noPKProps[f.Name] = prop
			if f.Required && f.Default == nil {
				required = append(required, f.Name)
			}
		}
	}

	full := map[string]any{
		"type":       "object",
		"properties": fullProps,
	}
	noPK := map[string]any{
		"type":       "object",
		"properties": noPKProps,
	}
	if len(required) > 0 {
		noPK["required"] = required
	}
	return full, noPK, nil
}

func fieldSchema(f metadata.Field) (map[string]any, error) {
	var prop map[string]any
	switch f.Type {
	case "string", "text":
		prop = map[string]any{"type": "string"}
	case "uuid":
		prop = map[string]any{"type": "string", "format": "uuid"}
	case "int", "integer":
		prop = map[string]any{"type": "integer", "format": "int32"}
	case "bigint":
		prop = map[string]any{"type": "integer", "format": "int64"}
	case "float", "decimal":
		prop = map[string]any{"type": "number", "format": "double"}
	case "boolean":
		prop = map[string]any{"type": "boolean"}
	case "timestamp":
		prop = map[string]any{"type": "string", "format": "date-time"}
	case "date":
		prop = map[string]any{"type": "string", "format": "date"}
	case "json":
		prop = map[string]any{"type": "object"}
	default:
		return nil, fmt.Errorf("unknown field type: %s", f.Type)
	}
	if f.Nullable {
		prop["nullable"] = true
	}
	if len(f.Enum) > 0 {
		prop["enum"] = f.Enum
	}
	return prop, nil
}

func entityPaths(entity *metadata.Entity) (map[string]any, map[string]any) {
	name := entity.Name
	ref := map[string]any{"$ref": "#/components/schemas/" + name}
	refNoPK := map[string]any{"$ref": "#/components/schemas/" + name + "_NoPK"}

	jsonContent := func(schema map[string]any) map[string]any {
		return map[string]any{
			"application/json": map[string]any{"schema": schema},
		}
	}

	okResponse := map[string]any{
		"description": "OK",
		"content":     jsonContent(ref),
	}
	errorResponses := map[string]any{
		"400": map[string]any{"description": "Bad Request"},
		"401": map[string]any{"description": "Unauthorized"},
		"403": map[string]any{"description": "Forbidden"},
		"404": map[string]any{"description": "Not Found"},
	}

	responses := func(extra map[string]any) map[string]any {
		out := map[string]any{}
		for k, v := range errorResponses {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}

	collection := map[string]any{}
	if entity.RestMethodAllowed(fiber.MethodGet) {
		collection["get"] = map[string]any{
			"tags":        []string{name},
			"operationId": "list" + name,
			"responses":   responses(map[string]any{"200": okResponse}),
		}
	}
	if entity.RestMethodAllowed(fiber.MethodPost) && entity.Source.Type == metadata.SourceTable {
		collection["post"] = map[string]any{
			"tags":        []string{name},
			"operationId": "create" + name,
			"requestBody": map[string]any{
				"required": true,
				"content":  jsonContent(refNoPK),
			},
			"responses": responses(map[string]any{
				"201": map[string]any{"description": "Created", "content": jsonContent(ref)},
				"409": map[string]any{"description": "Conflict"},
			}),
		}
	}

	pkParam := map[string]any{
		"name":     entity.PrimaryKey.Field,
		"in":       "path",
		"required": true,
		"schema":   pkSchema(entity),
	}

	item := map[string]any{}
	if entity.RestMethodAllowed(fiber.MethodGet) {
		item["get"] = map[string]any{
			"tags":        []string{name},
			"operationId": "get" + name + "ById",
			"parameters":  []map[string]any{pkParam},
			"responses":   responses(map[string]any{"200": okResponse}),
		}
	}
	if entity.Source.Type == metadata.SourceTable {
		if entity.RestMethodAllowed(fiber.MethodPut) {
			item["put"] = map[string]any{
				"tags":        []string{name},
				"operationId": "replace" + name,
				"parameters":  []map[string]any{pkParam},
				"requestBody": map[string]any{
					"required": true,
					"content":  jsonContent(refNoPK),
				},
				"responses": responses(map[string]any{"200": okResponse}),
			}
		}
		if entity.RestMethodAllowed(fiber.MethodPatch) {
			item["patch"] = map[string]any{
				"tags":        []string{name},
				"operationId": "update" + name,
				"parameters":  []map[string]any{pkParam},
				"requestBody": map[string]any{
					"required": true,
					"content":  jsonContent(refNoPK),
				},
				"responses": responses(map[string]any{"200": okResponse}),
			}
		}
		if entity.RestMethodAllowed(fiber.MethodDelete) {
			item["delete"] = map[string]any{
				"tags":        []string{name},
				"operationId": "delete" + name,
				"parameters":  []map[string]any{pkParam},
				"responses": responses(map[string]any{
					"204": map[string]any{"description": "No Content"},
				}),
			}
		}
	}

	return collection, item
}

func pkSchema(entity *metadata.Entity) map[string]any {
	switch entity.PrimaryKey.Type {
	case "int", "integer":
		return map[string]any{"type": "integer", "format": "int32"}
	case "bigint":
		return map[string]any{"type": "integer", "format": "int64"}
	case "uuid":
		return map[string]any{"type": "string", "format": "uuid"}
	default:
		return map[string]any{"type": "string"}
	}
}
