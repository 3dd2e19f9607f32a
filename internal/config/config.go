package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/opexledger/internal/db"
	"github.com/rpattn/opexledger/internal/logger"
	"github.com/rpattn/opexledger/internal/sources"
)

// ErrMissingDestination is returned when the warehouse credentials are not set.
var ErrMissingDestination = errors.New("destination database is not configured")

// Config is the full pipeline and API configuration.
type Config struct {
	Destination db.Config
	Connections map[string]sources.Connection
	Sources     []sources.Descriptor
	Loader      LoaderConfig
	Classifier  ClassifierConfig
	Server      ServerConfig
	Log         logger.Options
}

// LoaderConfig tunes the refresh job.
type LoaderConfig struct {
	Strategy        string `mapstructure:"strategy"`
	ChunkSize       int    `mapstructure:"chunk_size"`
	CarryOverManual bool   `mapstructure:"carry_over_manual"`
}

// ClassifierConfig tunes the classification job.
type ClassifierConfig struct {
	ModelDir             string `mapstructure:"model_dir"`
	ChunkSize            int    `mapstructure:"chunk_size"`
	ConsistencyChunkSize int    `mapstructure:"consistency_chunk_size"`
	Schedule             string `mapstructure:"schedule"`
}

// ServerConfig tunes the consumer API.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	MaxRows        int           `mapstructure:"max_rows"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// Load reads path, a config file or a directory holding config.yaml, and
// applies environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	switch ext := strings.ToLower(filepath.Ext(path)); {
	case ext == ".yaml" || ext == ".yml":
		v.SetConfigFile(path)
	default:
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if path != "" {
			v.AddConfigPath(path)
		}
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	bindDestinationEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := Config{
		Destination: destination(v),
		Log: logger.Options{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	connections, err := loadConnections(v)
	if err != nil {
		return Config{}, err
	}
	cfg.Connections = connections

	if err := v.UnmarshalKey("sources", &cfg.Sources); err != nil {
		return Config{}, fmt.Errorf("failed to decode sources: %w", err)
	}
	for i := range cfg.Sources {
		cfg.Sources[i].Connection = strings.ToLower(strings.TrimSpace(cfg.Sources[i].Connection))
	}
	cfg.Loader = LoaderConfig{
		Strategy:        v.GetString("loader.strategy"),
		ChunkSize:       v.GetInt("loader.chunk_size"),
		CarryOverManual: v.GetBool("loader.carry_over_manual"),
	}
	cfg.Classifier = ClassifierConfig{
		ModelDir:             v.GetString("classifier.model_dir"),
		ChunkSize:            v.GetInt("classifier.chunk_size"),
		ConsistencyChunkSize: v.GetInt("classifier.consistency_chunk_size"),
		Schedule:             v.GetString("classifier.schedule"),
	}
	cfg.Server = ServerConfig{
		Addr:           v.GetString("server.addr"),
		MaxRows:        v.GetInt("server.max_rows"),
		AllowedOrigins: v.GetStringSlice("server.allowed_origins"),
		RedisAddr:      v.GetString("server.redis_addr"),
		CacheTTL:       v.GetDuration("server.cache_ttl"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("destination.port", 5432)
	v.SetDefault("destination.sslmode", "disable")
	v.SetDefault("loader.strategy", "full_rebuild")
	v.SetDefault("loader.chunk_size", 50000)
	v.SetDefault("classifier.model_dir", "models")
	v.SetDefault("classifier.chunk_size", 50000)
	v.SetDefault("classifier.consistency_chunk_size", 5000)
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.max_rows", 50000)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.cache_ttl", "5m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// The warehouse credentials follow the PG_* variables of the deployment.
func bindDestinationEnv(v *viper.Viper) {
	_ = v.BindEnv("destination.host", "PG_HOST")
	_ = v.BindEnv("destination.port", "PG_PORT")
	_ = v.BindEnv("destination.user", "PG_USER")
	_ = v.BindEnv("destination.password", "PG_PASS")
	_ = v.BindEnv("destination.dbname", "PG_DB")
	_ = v.BindEnv("destination.sslmode", "PG_SSLMODE")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("server.redis_addr", "REDIS_ADDR")
}

func destination(v *viper.Viper) db.Config {
	cfg := db.DefaultConfig()
	if v.IsSet("destination.host") {
		cfg.Host = v.GetString("destination.host")
	}
	if v.IsSet("destination.port") {
		cfg.Port = v.GetInt("destination.port")
	}
	if v.IsSet("destination.user") {
		cfg.User = v.GetString("destination.user")
	}
	if v.IsSet("destination.password") {
		cfg.Password = v.GetString("destination.password")
	}
	if v.IsSet("destination.dbname") {
		cfg.DBName = v.GetString("destination.dbname")
	}
	if v.IsSet("destination.sslmode") {
		cfg.SSLMode = v.GetString("destination.sslmode")
	}
	if v.IsSet("destination.max_conns") {
		cfg.MaxConns = v.GetInt32("destination.max_conns")
	}
	return cfg
}

// loadConnections decodes the source servers and overlays <PREFIX>_HOST,
// _PORT, _USER, _PASS and _DB from the environment.
func loadConnections(v *viper.Viper) (map[string]sources.Connection, error) {
	connections := map[string]sources.Connection{}
	if err := v.UnmarshalKey("connections", &connections); err != nil {
		return nil, fmt.Errorf("failed to decode connections: %w", err)
	}

	for name, conn := range connections {
		conn.Name = name
		if conn.EnvPrefix != "" {
			key := "connections." + name + "."
			_ = v.BindEnv(key+"host", conn.EnvPrefix+"_HOST")
			_ = v.BindEnv(key+"port", conn.EnvPrefix+"_PORT")
			_ = v.BindEnv(key+"user", conn.EnvPrefix+"_USER")
			_ = v.BindEnv(key+"password", conn.EnvPrefix+"_PASS")
			_ = v.BindEnv(key+"database", conn.EnvPrefix+"_DB")

			if v.IsSet(key + "host") {
				conn.Host = v.GetString(key + "host")
			}
			if v.IsSet(key + "port") {
				conn.Port = v.GetInt(key + "port")
			}
			if v.IsSet(key + "user") {
				conn.User = v.GetString(key + "user")
			}
			if v.IsSet(key + "password") {
				conn.Password = v.GetString(key + "password")
			}
			if v.IsSet(key + "database") {
				conn.Database = v.GetString(key + "database")
			}
		}
		connections[name] = conn
	}
	return connections, nil
}

// RequireDestination fails when the warehouse credentials are incomplete.
func (c Config) RequireDestination() error {
	var missing []string
	for _, field := range []struct{ value, env string }{
		{c.Destination.Host, "PG_HOST"},
		{c.Destination.User, "PG_USER"},
		{c.Destination.Password, "PG_PASS"},
		{c.Destination.DBName, "PG_DB"},
	} {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: set %s", ErrMissingDestination, strings.Join(missing, ", "))
	}
	return nil
}

// Validate checks that every source names a known connection and renders.
func (c Config) Validate() error {
	var problems []error
	seen := map[string]struct{}{}
	for _, desc := range c.Sources {
		if _, dup := seen[desc.Name]; dup {
			problems = append(problems, fmt.Errorf("source %s: declared twice", desc.Name))
		}
		seen[desc.Name] = struct{}{}

		if err := desc.Validate(); err != nil {
			problems = append(problems, fmt.Errorf("source %s: %w", desc.Name, err))
			continue
		}
		if _, ok := c.Connections[desc.Connection]; !ok {
			problems = append(problems, fmt.Errorf("source %s: unknown connection %q", desc.Name, desc.Connection))
		}
	}

	return errors.Join(problems...)
}
