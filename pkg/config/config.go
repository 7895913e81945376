// Package config loads the TableSpec server configuration from a YAML file
// with environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/bitechdev/TableSpec/pkg/category"
	"github.com/bitechdev/TableSpec/pkg/common/adapters/database"
	"github.com/bitechdev/TableSpec/pkg/querybuilder"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultExtension = "yaml"
	defaultTagName   = "yaml"

	// EnvPrefix prefixes every environment override, e.g. TABLESPEC_DATABASE_DSN.
	EnvPrefix = "TABLESPEC"
)

type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Registry Registry `yaml:"registry"`
	Query    Query    `yaml:"query"`
	Upload   Upload   `yaml:"upload"`
	Log      Log      `yaml:"log"`
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Server),
		validation.Field(&c.Database),
		validation.Field(&c.Registry),
		validation.Field(&c.Query),
		validation.Field(&c.Upload),
		validation.Field(&c.Log),
	)
}

type Server struct {
	Address             string `yaml:"address"`
	Router              string `yaml:"router"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	MaxUploadBytes      int64  `yaml:"max_upload_bytes"`
}

func (s Server) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Address, validation.Required),
		validation.Field(&s.Router, validation.Required, validation.In("mux", "bunrouter")),
		validation.Field(&s.ReadTimeoutSeconds, validation.Min(0)),
		validation.Field(&s.WriteTimeoutSeconds, validation.Min(0)),
		validation.Field(&s.MaxUploadBytes, validation.Min(int64(0))),
	)
}

func (s Server) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

func (s Server) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

type Database struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	Schema                 string `yaml:"schema"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
	SlowQueryMS            int    `yaml:"slow_query_ms"`
	Migrate                bool   `yaml:"migrate"`
}

func (d Database) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required, validation.In("postgres", "sqlite")),
		validation.Field(&d.DSN, validation.Required),
		validation.Field(&d.MaxOpenConns, validation.Min(0)),
		validation.Field(&d.MaxIdleConns, validation.Min(0)),
		validation.Field(&d.ConnMaxLifetimeSeconds, validation.Min(0)),
		validation.Field(&d.SlowQueryMS, validation.Min(0)),
	)
}

// Options converts the section into database.Open options.
func (d Database) Options() database.Options {
	return database.Options{
		Driver:          d.Driver,
		DSN:             d.DSN,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: time.Duration(d.ConnMaxLifetimeSeconds) * time.Second,
		SlowThreshold:   time.Duration(d.SlowQueryMS) * time.Millisecond,
	}
}

// Registry names the category registry tables and columns.
type Registry struct {
	CategoryTable           string `yaml:"category_table"`
	CategoryNameColumn      string `yaml:"category_name_column"`
	CategoryTableColumn     string `yaml:"category_table_column"`
	SubcategoryTable        string `yaml:"subcategory_table"`
	SubcategoryNameColumn   string `yaml:"subcategory_name_column"`
	SubcategoryParentColumn string `yaml:"subcategory_parent_column"`
	SubcategoryTableColumn  string `yaml:"subcategory_table_column"`
}

func (r Registry) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CategoryTable, validation.Required),
		validation.Field(&r.CategoryNameColumn, validation.Required),
		validation.Field(&r.CategoryTableColumn, validation.Required),
		validation.Field(&r.SubcategoryTable, validation.Required),
		validation.Field(&r.SubcategoryNameColumn, validation.Required),
		validation.Field(&r.SubcategoryParentColumn, validation.Required),
		validation.Field(&r.SubcategoryTableColumn, validation.Required),
	)
}

func (r Registry) Category() category.Registry {
	return category.Registry{
		CategoryTable:           r.CategoryTable,
		CategoryNameColumn:      r.CategoryNameColumn,
		CategoryTableColumn:     r.CategoryTableColumn,
		SubcategoryTable:        r.SubcategoryTable,
		SubcategoryNameColumn:   r.SubcategoryNameColumn,
		SubcategoryParentColumn: r.SubcategoryParentColumn,
		SubcategoryTableColumn:  r.SubcategoryTableColumn,
	}
}

type Query struct {
	DefaultLimit int    `yaml:"default_limit"`
	MaxLimit     int    `yaml:"max_limit"`
	SearchMode   string `yaml:"search_mode"`
}

func (q Query) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.DefaultLimit, validation.Required, validation.Min(1), validation.Max(q.MaxLimit)),
		validation.Field(&q.MaxLimit, validation.Required, validation.Min(1)),
		validation.Field(&q.SearchMode, validation.In(string(querybuilder.SearchByName), string(querybuilder.SearchText))),
	)
}

func (q Query) Limits() querybuilder.Limits {
	return querybuilder.Limits{Default: q.DefaultLimit, Max: q.MaxLimit}
}

type Upload struct {
	BatchSize int `yaml:"batch_size"`
}

func (u Upload) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.BatchSize, validation.Required, validation.Min(1)),
	)
}

type Log struct {
	Dev   bool   `yaml:"dev"`
	Level string `yaml:"level"`
}

func (l Log) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
	)
}

// Default returns a configuration that runs against a local SQLite file.
func Default() Config {
	reg := category.DefaultRegistry()
	return Config{
		Server: Server{
			Address:             ":8080",
			Router:              "mux",
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 60,
			MaxUploadBytes:      32 << 20,
		},
		Database: Database{
			Driver:                 "sqlite",
			DSN:                    "tablespec.db",
			MaxOpenConns:           10,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
			SlowQueryMS:            500,
			Migrate:                true,
		},
		Registry: Registry{
			CategoryTable:           reg.CategoryTable,
			CategoryNameColumn:      reg.CategoryNameColumn,
			CategoryTableColumn:     reg.CategoryTableColumn,
			SubcategoryTable:        reg.SubcategoryTable,
			SubcategoryNameColumn:   reg.SubcategoryNameColumn,
			SubcategoryParentColumn: reg.SubcategoryParentColumn,
			SubcategoryTableColumn:  reg.SubcategoryTableColumn,
		},
		Query: Query{
			DefaultLimit: querybuilder.DefaultLimit,
			MaxLimit:     querybuilder.MaxLimit,
			SearchMode:   string(querybuilder.SearchByName),
		},
		Upload: Upload{BatchSize: 1000},
		Log:    Log{Level: "info"},
	}
}

// Load reads the YAML file at path on top of Default. Every key can be
// overridden from the environment, e.g. TABLESPEC_SERVER_ADDRESS. An empty
// path loads defaults and environment only.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType(defaultExtension)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // So that env vars are translated properly
	v.AutomaticEnv()

	// Defaults register every key, which AutomaticEnv needs to see it.
	defaults := map[string]interface{}{}
	enc, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: defaultTagName, Result: &defaults})
	if err != nil {
		return Config{}, fmt.Errorf("encode defaults: %w", err)
	}
	if err := enc.Decode(Default()); err != nil {
		return Config{}, fmt.Errorf("encode defaults: %w", err)
	}
	setDefaults(v, "", defaults)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	err = v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = defaultTagName
	})
	if err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, prefix string, values map[string]interface{}) {
	for key, value := range values {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			setDefaults(v, full, nested)
			continue
		}
		v.SetDefault(full, value)
	}
}
