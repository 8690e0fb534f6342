package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"tablegate/internal/metadata"
)

// Config is the runtime configuration of the gateway: one data source, the
// runtime options, and the entity map. It is read once at startup and never
// mutated afterwards.
type Config struct {
	Schema     string                      `json:"$schema,omitempty" mapstructure:"$schema"`
	DataSource DataSource                  `json:"data-source" mapstructure:"data-source"`
	Runtime    Runtime                     `json:"runtime" mapstructure:"runtime"`
	Entities   map[string]*metadata.Entity `json:"entities" mapstructure:"entities"`
	Server     ServerConfig                `json:"server,omitempty" mapstructure:"server"`
}

type ServerConfig struct {
	Port int `json:"port" mapstructure:"port"`
}

type DataSource struct {
	DatabaseType     string `json:"database-type" mapstructure:"database-type"` // postgres or sqlite
	ConnectionString string `json:"connection-string" mapstructure:"connection-string"`
	PoolSize         int    `json:"pool-size,omitempty" mapstructure:"pool-size"`
}

// IsSQLite returns true if the data source is sqlite.
func (d DataSource) IsSQLite() bool {
	return d.DatabaseType == "sqlite"
}

type Runtime struct {
	Rest    RestRuntime    `json:"rest" mapstructure:"rest"`
	GraphQL GraphQLRuntime `json:"graphql" mapstructure:"graphql"`
	Host    HostRuntime    `json:"host" mapstructure:"host"`
	Audit   AuditRuntime   `json:"audit,omitempty" mapstructure:"audit"`
}

// AuditRuntime configures the audit trail of authorization denials.
type AuditRuntime struct {
	Enabled         bool `json:"enabled,omitempty" mapstructure:"enabled"`
	BufferSize      int  `json:"buffer-size,omitempty" mapstructure:"buffer-size"`
	FlushIntervalMs int  `json:"flush-interval-ms,omitempty" mapstructure:"flush-interval-ms"`
	RetentionDays   int  `json:"retention-days,omitempty" mapstructure:"retention-days"`
}

type RestRuntime struct {
	Enabled *bool  `json:"enabled,omitempty" mapstructure:"enabled"`
	Path    string `json:"path,omitempty" mapstructure:"path"`
}

// On reports whether the global REST endpoint is enabled. Defaults to true.
func (r RestRuntime) On() bool { return r.Enabled == nil || *r.Enabled }

// BasePath returns the REST route prefix, defaulting to /api.
func (r RestRuntime) BasePath() string {
	if r.Path == "" {
		return "/api"
	}
	return "/" + strings.Trim(r.Path, "/")
}

type GraphQLRuntime struct {
	Enabled *bool  `json:"enabled,omitempty" mapstructure:"enabled"`
	Path    string `json:"path,omitempty" mapstructure:"path"`
}

type HostRuntime struct {
	Mode           string      `json:"mode,omitempty" mapstructure:"mode"` // development or production
	Cors           CorsOptions `json:"cors,omitempty" mapstructure:"cors"`
	Authentication AuthOptions `json:"authentication" mapstructure:"authentication"`
}

// IsDevelopment reports whether the host runs in development mode, which
// enables the Simulator authentication provider.
func (h HostRuntime) IsDevelopment() bool {
	return strings.EqualFold(h.Mode, "development")
}

type CorsOptions struct {
	Origins          []string `json:"origins,omitempty" mapstructure:"origins"`
	AllowCredentials bool     `json:"allow-credentials,omitempty" mapstructure:"allow-credentials"`
}

// Authentication providers supported by the host.
const (
	ProviderStaticWebApps = "StaticWebApps"
	ProviderAppService    = "AppService"
	ProviderJwt           = "Jwt"
	ProviderSimulator     = "Simulator"
)

type AuthOptions struct {
	Provider string     `json:"provider,omitempty" mapstructure:"provider"`
	Jwt      JwtOptions `json:"jwt,omitempty" mapstructure:"jwt"`
}

type JwtOptions struct {
	Issuer   string `json:"issuer,omitempty" mapstructure:"issuer"`
	Audience string `json:"audience,omitempty" mapstructure:"audience"`
	Secret   string `json:"secret,omitempty" mapstructure:"secret"`
}

// Load reads the runtime config file (tablegate.json) from the usual
// locations, applies defaults and env overrides, and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("tablegate")
	v.SetConfigType("json")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../..")

	setDefaults(v)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return unmarshal(v)
}

// LoadFile reads a runtime config from an explicit path. Used by tests and
// the -config flag.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return unmarshal(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("data-source.database-type", "postgres")
	v.SetDefault("data-source.pool-size", 10)
	v.SetDefault("runtime.rest.path", "/api")
	v.SetDefault("runtime.graphql.path", "/graphql")
	v.SetDefault("runtime.host.mode", "production")
	v.SetDefault("runtime.audit.buffer-size", 100)
	v.SetDefault("runtime.audit.flush-interval-ms", 1000)
	v.SetDefault("runtime.audit.retention-days", 30)
	v.SetDefault("runtime.host.authentication.provider", ProviderStaticWebApps)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the parts of the config that cannot be verified lazily.
// A config that passes Validate can always be loaded into a Registry.
func (c *Config) Validate() error {
	switch c.DataSource.DatabaseType {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("data-source: unsupported database-type %q", c.DataSource.DatabaseType)
	}
	if c.DataSource.ConnectionString == "" {
		return fmt.Errorf("data-source: connection-string is required")
	}
	if len(c.Entities) == 0 {
		return fmt.Errorf("entities: at least one entity is required")
	}

	switch prov := c.Runtime.Host.Authentication.Provider; prov {
	case ProviderStaticWebApps, ProviderAppService, ProviderSimulator:
	case ProviderJwt:
		if c.Runtime.Host.Authentication.Jwt.Secret == "" {
			return fmt.Errorf("runtime.host.authentication: Jwt provider requires a secret")
		}
	default:
		return fmt.Errorf("runtime.host.authentication: unknown provider %q", prov)
	}
	if c.Runtime.Host.Authentication.Provider == ProviderSimulator && !c.Runtime.Host.IsDevelopment() {
		return fmt.Errorf("runtime.host.authentication: Simulator provider requires development mode")
	}

	restPaths := make(map[string]string)
	for name, e := range c.Entities {
		if err := validateEntity(name, e); err != nil {
			return err
		}
		if e.Rest.Path != "" {
			p := strings.ToLower(e.Rest.Path)
			if other, dup := restPaths[p]; dup {
				return fmt.Errorf("entity %s: rest path %q already used by entity %s", name, e.Rest.Path, other)
			}
			restPaths[p] = name
		}
	}
	return nil
}

func validateEntity(name string, e *metadata.Entity) error {
	if e == nil {
		return fmt.Errorf("entity %s: empty definition", name)
	}
	if e.Source.Object == "" {
		return fmt.Errorf("entity %s: source object is required", name)
	}
	if len(e.Fields) == 0 {
		return fmt.Errorf("entity %s: at least one field is required", name)
	}
	if e.PrimaryKey.Field == "" {
		return fmt.Errorf("entity %s: primary key field is required", name)
	}
	if e.GetField(e.PrimaryKey.Field) == nil {
		return fmt.Errorf("entity %s: primary key %s is not a declared field", name, e.PrimaryKey.Field)
	}
	for exposed := range e.Mappings {
		if !e.HasField(exposed) {
			return fmt.Errorf("entity %s: mapping for undeclared field %s", name, exposed)
		}
	}

	for _, perm := range e.Permissions {
		if perm.Role == "" {
			return fmt.Errorf("entity %s: permission with empty role", name)
		}
		if len(perm.Actions) == 0 {
			return fmt.Errorf("entity %s: role %s grants no actions", name, perm.Role)
		}
		for _, action := range perm.Actions {
			if !metadata.IsValidOperation(string(action.Action)) {
				return fmt.Errorf("entity %s: role %s: invalid action %q", name, perm.Role, action.Action)
			}
			if action.Fields == nil {
				continue
			}
			for _, f := range action.Fields.Include {
				if f != "*" && !e.HasField(f) {
					return fmt.Errorf("entity %s: role %s: include references unknown field %s", name, perm.Role, f)
				}
			}
			for _, f := range action.Fields.Exclude {
				if f != "*" && !e.HasField(f) {
					return fmt.Errorf("entity %s: role %s: exclude references unknown field %s", name, perm.Role, f)
				}
			}
		}
	}
	return nil
}
