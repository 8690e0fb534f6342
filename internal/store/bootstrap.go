package store

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"tablegate/internal/metadata"
)

// Bootstrap creates the gateway's system tables and seeds a default user for
// the local credential endpoints.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}
	if err := s.seedAdminUser(ctx); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	return nil
}

func (s *Store) seedAdminUser(ctx context.Context) error {
	var count int
	err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM _users").Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO _users (id, email, password_hash, roles) VALUES (%s, %s, %s, %s)",
		pb.Add(uuid.New().String()),
		pb.Add("admin@localhost"),
		pb.Add(string(hashBytes)),
		pb.Add(s.Dialect.ArrayParam([]string{"admin"})),
	)
	if _, err := s.DB.ExecContext(ctx, sqlStr, pb.Params()...); err != nil {
		return err
	}

	log.Println("WARNING: Default admin user created (admin@localhost / changeme) — change the password immediately.")
	return nil
}

// EnsureEntityTables creates backing tables for entities that do not exist
// yet. Views and stored procedures are assumed to be managed outside the
// gateway and are skipped.
func (s *Store) EnsureEntityTables(ctx context.Context, reg *metadata.Registry) error {
	for _, entity := range reg.AllEntities() {
		if entity.Source.Type != "" && entity.Source.Type != metadata.SourceTable {
			continue
		}
		exists, err := s.Dialect.TableExists(ctx, s.DB, entity.Table())
		if err != nil {
			return fmt.Errorf("check table %s: %w", entity.Table(), err)
		}
		if exists {
			continue
		}
		if err := s.createEntityTable(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) createEntityTable(ctx context.Context, entity *metadata.Entity) error {
	var cols []string
	for _, f := range entity.Fields {
		cols = append(cols, s.buildColumnDef(entity, &f))
	}

	sqlStr := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", entity.Table(), strings.Join(cols, ",\n  "))
	if _, err := s.DB.ExecContext(ctx, sqlStr); err != nil {
		return fmt.Errorf("create table %s: %w", entity.Table(), err)
	}

	for _, f := range entity.Fields {
		if !f.Unique || f.Name == entity.PrimaryKey.Field {
			continue
		}
		col := entity.BackingColumn(f.Name)
		idx := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)",
			entity.Table(), col, entity.Table(), col)
		if _, err := s.DB.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("create index on %s.%s: %w", entity.Table(), col, err)
		}
	}
	return nil
}

func (s *Store) buildColumnDef(entity *metadata.Entity, f *metadata.Field) string {
	col := entity.BackingColumn(f.Name)
	def := col + " " + s.Dialect.ColumnType(f.Type, f.Precision)

	if f.Name == entity.PrimaryKey.Field {
		def += " PRIMARY KEY"
		if entity.PrimaryKey.Generated {
			switch entity.PrimaryKey.Type {
			case "uuid":
				if d := s.Dialect.UUIDDefault(); d != "" {
					def += " " + d
				}
			case "int", "bigint":
				if s.Dialect.Name() == "postgres" {
					def = col + " BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY"
				} else {
					def = col + " INTEGER PRIMARY KEY AUTOINCREMENT"
				}
			}
		}
		return def
	}

	if f.Required && !f.Nullable {
		def += " NOT NULL"
	}
	if f.Auto != "" {
		def += " DEFAULT (" + s.Dialect.NowExpr() + ")"
	}
	return def
}
