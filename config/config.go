package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/redis/go-redis/v9"
)

const (
	ModeLocal  = "local"
	ModeRemote = "remote"

	EnvConfigFile = "TODO_CONFIG"
)

type Storage struct {
	ConnectionString string `toml:"connection_string"`
	TodosTable       string `toml:"todos_table"`
	UsersTable       string `toml:"users_table"`
	EventsQueue      string `toml:"events_queue"`
	Provision        bool   `toml:"provision"`
}

type Redis struct {
	ConnectionString string        `toml:"connection_string"`
	CacheTTL         time.Duration `toml:"cache_ttl"`
	DeduperTTL       time.Duration `toml:"deduper_ttl"`
}

type Auth struct {
	SigningSecret string        `toml:"signing_secret"`
	TokenTTL      time.Duration `toml:"token_ttl"`
	JWKSURL       string        `toml:"jwks_url"`
	Audience      string        `toml:"audience"`
	Issuer        string        `toml:"issuer"`
	BcryptCost    int           `toml:"bcrypt_cost"`
}

type Events struct {
	Workers        int           `toml:"workers"`
	Buffer         int           `toml:"buffer"`
	HandoffTimeout time.Duration `toml:"handoff_timeout"`
	PublishTimeout time.Duration `toml:"publish_timeout"`
}

// Config is the service configuration.
type Config struct {
	Mode           string `toml:"mode"`
	LocalStorePath string `toml:"local_store_path"`
	ListenPort     string `toml:"listen_port"`
	BodyLimit      string `toml:"body_limit"`
	Debug          bool   `toml:"debug"`

	Storage Storage `toml:"storage"`
	Redis   Redis   `toml:"redis"`
	Auth    Auth    `toml:"auth"`
	Events  Events  `toml:"events"`
}

func setDefaults(cfg *Config) {
	cfg.Mode = ModeLocal
	cfg.LocalStorePath = "todos.json"
	cfg.ListenPort = "8080"
	cfg.BodyLimit = "64K"
	cfg.Storage.TodosTable = "todos"
	cfg.Storage.UsersTable = "users"
	cfg.Redis.CacheTTL = 5 * time.Minute
	cfg.Redis.DeduperTTL = 24 * time.Hour
	cfg.Auth.TokenTTL = time.Hour
	cfg.Auth.BcryptCost = 12
	cfg.Events.Workers = 4
	cfg.Events.Buffer = 1024
	cfg.Events.HandoffTimeout = 15 * time.Millisecond
	cfg.Events.PublishTimeout = 30 * time.Second
}

// Load builds the configuration from defaults, the optional TOML file named by
// TODO_CONFIG and then environment variables, in increasing priority.
func Load() (*Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	setDefaults(cfg)

	if path, ok := lookup(EnvConfigFile); ok && path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := loadFromEnv(cfg, lookup); err != nil {
		return nil, err
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				errs = append(errs, fmt.Errorf("invalid %s: must be a positive integer", name))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d < 0 {
				errs = append(errs, fmt.Errorf("invalid %s: %q", name, v))
				return
			}
			*dst = d
		}
	}

	str("STORE_MODE", &cfg.Mode)
	str("LOCAL_STORE_PATH", &cfg.LocalStorePath)
	str("LISTEN_PORT", &cfg.ListenPort)
	str("BODY_LIMIT", &cfg.BodyLimit)
	boolean("DEBUG", &cfg.Debug)

	str("STORAGE_CONNECTION_STRING", &cfg.Storage.ConnectionString)
	str("TODOS_TABLE", &cfg.Storage.TodosTable)
	str("USERS_TABLE", &cfg.Storage.UsersTable)
	str("EVENTS_QUEUE", &cfg.Storage.EventsQueue)
	boolean("PROVISION_STORAGE", &cfg.Storage.Provision)

	str("REDIS_CONNECTION_STRING", &cfg.Redis.ConnectionString)
	duration("CACHE_TTL", &cfg.Redis.CacheTTL)
	duration("DEDUPER_TTL", &cfg.Redis.DeduperTTL)

	str("AUTH_SIGNING_SECRET", &cfg.Auth.SigningSecret)
	duration("TOKEN_TTL", &cfg.Auth.TokenTTL)
	str("AUTH_JWKS_URL", &cfg.Auth.JWKSURL)
	str("AUTH_AUDIENCE", &cfg.Auth.Audience)
	str("AUTH_ISSUER", &cfg.Auth.Issuer)
	integer("AUTH_BCRYPT_COST", &cfg.Auth.BcryptCost)

	integer("EVENTS_WORKERS", &cfg.Events.Workers)
	integer("EVENTS_BUFFER", &cfg.Events.Buffer)
	duration("EVENTS_HANDOFF_TIMEOUT", &cfg.Events.HandoffTimeout)
	duration("EVENTS_PUBLISH_TIMEOUT", &cfg.Events.PublishTimeout)

	// the Functions host injects the port under its own name
	str("FUNCTIONS_CUSTOMHANDLER_PORT", &cfg.ListenPort)

	return errors.Join(errs...)
}

// Validate reports missing settings for the selected mode.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLocal:
		if c.LocalStorePath == "" {
			return errors.New("missing local store path")
		}
	case ModeRemote:
		if c.Storage.ConnectionString == "" || c.Storage.TodosTable == "" || c.Storage.UsersTable == "" {
			return errors.New("missing storage config")
		}
		if c.Auth.SigningSecret == "" {
			return errors.New("missing auth signing secret")
		}
		if c.Auth.TokenTTL <= 0 {
			return errors.New("token ttl must be positive")
		}
	default:
		return fmt.Errorf("unsupported store mode %q", c.Mode)
	}
	if c.ListenPort == "" {
		return errors.New("missing listen port")
	}
	return nil
}

// ListenAddr returns the address for the HTTP server.
func (c *Config) ListenAddr() string {
	return ":" + c.ListenPort
}

// RedisOptions parses the redis connection string. It accepts a redis:// URL or
// the "host:port,password=...,ssl=true" form. It returns nil when redis is not
// configured.
func (c *Config) RedisOptions() *redis.Options {
	conn := c.Redis.ConnectionString
	if conn == "" {
		return nil
	}
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
