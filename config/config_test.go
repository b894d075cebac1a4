package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(lookupFrom(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeLocal || cfg.LocalStorePath != "todos.json" || cfg.ListenAddr() != ":8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Redis.CacheTTL != 5*time.Minute || cfg.Events.Workers != 4 || cfg.Auth.TokenTTL != time.Hour {
		t.Fatalf("unexpected nested defaults: %+v", cfg)
	}
	if cfg.RedisOptions() != nil {
		t.Fatalf("redis must be optional")
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "todo.toml")
	file := `
mode = "remote"
listen_port = "9000"

[storage]
connection_string = "UseDevelopmentStorage=true"
todos_table = "filetodos"

[redis]
cache_ttl = "2m"

[auth]
signing_secret = "from-file"

[events]
workers = 8
`
	if err := os.WriteFile(path, []byte(file), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := load(lookupFrom(map[string]string{
		EnvConfigFile:         path,
		"TODOS_TABLE":         "envtodos",
		"AUTH_SIGNING_SECRET": "from-env",
		"EVENTS_BUFFER":       "16",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeRemote || cfg.ListenPort != "9000" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Storage.TodosTable != "envtodos" || cfg.Auth.SigningSecret != "from-env" {
		t.Fatalf("env must override file: %+v", cfg)
	}
	if cfg.Storage.UsersTable != "users" {
		t.Fatalf("defaults must survive a partial file: %+v", cfg.Storage)
	}
	if cfg.Redis.CacheTTL != 2*time.Minute || cfg.Events.Workers != 8 || cfg.Events.Buffer != 16 {
		t.Fatalf("unexpected merged values: %+v %+v", cfg.Redis, cfg.Events)
	}
}

func TestLoadFunctionsPort(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{"LISTEN_PORT": "9000", "FUNCTIONS_CUSTOMHANDLER_PORT": "7071"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr() != ":7071" {
		t.Fatalf("unexpected listen addr %s", cfg.ListenAddr())
	}
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad mode", map[string]string{"STORE_MODE": "cloud"}, "unsupported store mode"},
		{"remote without storage", map[string]string{"STORE_MODE": "remote"}, "missing storage config"},
		{"remote without secret", map[string]string{"STORE_MODE": "remote", "STORAGE_CONNECTION_STRING": "x"}, "missing auth signing secret"},
		{"bad duration", map[string]string{"CACHE_TTL": "soon"}, "invalid CACHE_TTL"},
		{"bad int", map[string]string{"EVENTS_WORKERS": "0"}, "invalid EVENTS_WORKERS"},
		{"bad bool", map[string]string{"DEBUG": "maybe"}, "invalid DEBUG"},
		{"missing file", map[string]string{EnvConfigFile: "/does/not/exist.toml"}, "loading config file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(lookupFrom(tc.env))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestRedisOptions(t *testing.T) {
	cfg := &Config{Redis: Redis{ConnectionString: "cache.example:6380,password=secret,ssl=True,abortConnect=False"}}
	opts := cfg.RedisOptions()
	if opts.Addr != "cache.example:6380" || opts.Password != "secret" || opts.TLSConfig == nil {
		t.Fatalf("unexpected options: %+v", opts)
	}

	cfg.Redis.ConnectionString = "redis://:pw@localhost:6379/2"
	opts = cfg.RedisOptions()
	if opts.Addr != "localhost:6379" || opts.Password != "pw" || opts.DB != 2 {
		t.Fatalf("unexpected url options: %+v", opts)
	}
}
