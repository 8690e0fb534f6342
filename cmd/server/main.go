package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"tablegate/internal/audit"
	"tablegate/internal/auth"
	"tablegate/internal/authz"
	"tablegate/internal/config"
	"tablegate/internal/engine"
	"tablegate/internal/metadata"
	"tablegate/internal/openapi"
	"tablegate/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, db: %s)", cfg.Server.Port, cfg.DataSource.DatabaseType)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.DataSource)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Bootstrap system tables
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap system tables: %v", err)
	}

	// 4. Load entity metadata
	reg := metadata.NewRegistry()
	if err := reg.Load(cfg.Entities); err != nil {
		log.Fatalf("Failed to load entities: %v", err)
	}
	if err := db.EnsureEntityTables(ctx, reg); err != nil {
		log.Fatalf("Failed to create entity tables: %v", err)
	}
	log.Printf("Entities ready: %v", reg.EntityNames())

	// 5. Build the permission resolver
	resolver, err := authz.NewResolver(reg)
	if err != nil {
		log.Fatalf("Invalid permissions: %v", err)
	}

	// 6. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 7. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 8. Token endpoints (before auth middleware)
	authOpts := cfg.Runtime.Host.Authentication
	if authOpts.Provider == config.ProviderJwt {
		auth.RegisterRoutes(app, auth.NewHandler(db, authOpts.Jwt))
	}

	// 9. Authentication and role resolution for everything below
	app.Use(auth.Middleware(authOpts))
	app.Use(auth.RoleMiddleware())

	// 10. Audit trail for authorization denials
	var recorder audit.Recorder = &audit.Noop{}
	if cfg.Runtime.Audit.Enabled {
		auditLog := audit.NewLog(db.DB, db.Dialect, cfg.Runtime.Audit.BufferSize, cfg.Runtime.Audit.FlushIntervalMs)
		defer auditLog.Stop()
		audit.Cleanup(ctx, db.DB, db.Dialect, cfg.Runtime.Audit.RetentionDays)
		recorder = auditLog
	}
	app.Use(audit.Middleware(recorder))

	// 11. OpenAPI document, served under the REST base path
	documentor := openapi.NewDocumentor(cfg, reg)
	if cfg.Runtime.Rest.On() {
		if err := documentor.CreateDocument(); err != nil {
			log.Fatalf("Failed to generate OpenAPI document: %v", err)
		}
		openapi.RegisterRoutes(app, cfg, documentor)
	}

	// 12. Dynamic entity routes
	engineHandler := engine.NewHandler(db, reg, resolver)
	engine.RegisterRoutes(app, cfg, engineHandler)

	// 13. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(app.Listen(addr))
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	var appErr *engine.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(engine.ErrorResponse{
		Error: &engine.AppError{
			Status:    code,
			SubStatus: engine.SubStatusUnexpected,
			Message:   "Internal server error",
		},
	})
}
