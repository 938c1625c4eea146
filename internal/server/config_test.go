package server

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// TestNewConfig tests the configuration creation function.
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	if cfg.Server.Port != ":8080" {
		t.Errorf("Expected default port :8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.MaxMessageSize != 4096 {
		t.Errorf("Expected max message size 4096, got %d", cfg.Server.MaxMessageSize)
	}
	if cfg.Server.RateLimit.Burst != 10 || cfg.Server.RateLimit.RefillInterval != time.Second {
		t.Errorf("Unexpected rate limit defaults: %+v", cfg.Server.RateLimit)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.URL != "formsync.db" {
		t.Errorf("Unexpected database defaults: %+v", cfg.Database)
	}
	if !cfg.Sync.TerminateOnError || cfg.Sync.UnknownUserLabel != "Unknown User" {
		t.Errorf("Unexpected sync defaults: %+v", cfg.Sync)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	v, err := NewViper("")
	if err != nil {
		t.Fatalf("NewViper: %v", err)
	}
	cfg, err := LoadConfig(v)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if !reflect.DeepEqual(cfg, NewConfig()) {
		t.Errorf("Loaded config differs from defaults:\n got %+v\nwant %+v", cfg, NewConfig())
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("FORMSYNC_SERVER_PORT", ":9000")
	t.Setenv("FORMSYNC_SERVER_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("FORMSYNC_SERVER_RATE_LIMIT_REFILL_INTERVAL", "250ms")
	t.Setenv("FORMSYNC_DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/forms")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("FORMSYNC_SYNC_TERMINATE_ON_ERROR", "false")
	t.Setenv("FORMSYNC_LOGGING_LEVEL", "debug")

	cfg, err := NewConfigFromEnv()
	if err != nil {
		t.Fatalf("NewConfigFromEnv: %v", err)
	}

	if cfg.Server.Port != ":9000" {
		t.Errorf("port = %s", cfg.Server.Port)
	}
	if want := []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(cfg.Server.AllowedOrigins, want) {
		t.Errorf("allowed origins = %q, want %q", cfg.Server.AllowedOrigins, want)
	}
	if cfg.Server.RateLimit.RefillInterval != 250*time.Millisecond {
		t.Errorf("refill interval = %v", cfg.Server.RateLimit.RefillInterval)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.URL != "postgres://localhost/forms" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.Sync.TerminateOnError {
		t.Error("terminate_on_error should be false")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level = %q", cfg.Logging.Level)
	}
}

func TestLoadConfigPlainServerEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":7070")
	t.Setenv("ALLOWED_ORIGINS", "http://one.test,*")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("RATE_LIMIT_BURST", "3")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "5")

	cfg, err := NewConfigFromEnv()
	if err != nil {
		t.Fatalf("NewConfigFromEnv: %v", err)
	}

	if cfg.Server.Port != ":7070" {
		t.Errorf("port = %s", cfg.Server.Port)
	}
	if want := []string{"http://one.test", "*"}; !reflect.DeepEqual(cfg.Server.AllowedOrigins, want) {
		t.Errorf("allowed origins = %q", cfg.Server.AllowedOrigins)
	}
	if cfg.Server.MaxMessageSize != 2048 {
		t.Errorf("max message size = %d", cfg.Server.MaxMessageSize)
	}
	if cfg.Server.RateLimit.Burst != 3 || cfg.Server.RateLimit.RefillInterval != 5*time.Second {
		t.Errorf("rate limit = %+v", cfg.Server.RateLimit)
	}
}

func TestLoadConfigIgnoresInvalidPlainEnv(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "-1")
	t.Setenv("RATE_LIMIT_BURST", "lots")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "0")

	cfg, err := NewConfigFromEnv()
	if err != nil {
		t.Fatalf("NewConfigFromEnv: %v", err)
	}
	d := NewConfig()
	if cfg.Server.MaxMessageSize != d.Server.MaxMessageSize ||
		cfg.Server.RateLimit != d.Server.RateLimit {
		t.Errorf("invalid values were applied: %+v", cfg.Server)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "formsync.yaml")
	content := `
server:
  port: ":8181"
  max_message_size: 1024
database:
  driver: sqlite
  url: /var/lib/formsync/forms.db
sync:
  unknown_user_label: Guest
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	v, err := NewViper(path)
	if err != nil {
		t.Fatalf("NewViper: %v", err)
	}
	cfg, err := LoadConfig(v)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.Port != ":8181" || cfg.Server.MaxMessageSize != 1024 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Database.URL != "/var/lib/formsync/forms.db" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
	if cfg.Sync.UnknownUserLabel != "Guest" {
		t.Errorf("unknown user label = %q", cfg.Sync.UnknownUserLabel)
	}
	if cfg.Server.RateLimit.Burst != 10 {
		t.Errorf("unset keys should keep defaults, burst = %d", cfg.Server.RateLimit.Burst)
	}
}

func TestNewViperMissingFile(t *testing.T) {
	if _, err := NewViper(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestSanitizeConfig(t *testing.T) {
	cfg := sanitizeConfig(Config{
		Server: ServerConfig{
			AllowedOrigins: []string{" http://a.test ", ""},
			RateLimit:      RateLimitConfig{Burst: -1},
		},
		Database: DatabaseConfig{Driver: " SQLite ", URL: "x.db"},
	})

	d := NewConfig()
	if cfg.Server.Port != d.Server.Port || cfg.Server.MaxMessageSize != d.Server.MaxMessageSize {
		t.Errorf("server defaults not applied: %+v", cfg.Server)
	}
	if cfg.Server.RateLimit != d.Server.RateLimit {
		t.Errorf("rate limit = %+v", cfg.Server.RateLimit)
	}
	if !reflect.DeepEqual(cfg.Server.AllowedOrigins, []string{"http://a.test"}) {
		t.Errorf("allowed origins = %q", cfg.Server.AllowedOrigins)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if cfg.Sync.UnknownUserLabel != d.Sync.UnknownUserLabel {
		t.Errorf("unknown user label = %q", cfg.Sync.UnknownUserLabel)
	}
	if cfg.Tracing.ServiceName != d.Tracing.ServiceName {
		t.Errorf("tracing service name = %q", cfg.Tracing.ServiceName)
	}
}

func TestLoadTracingConfig(t *testing.T) {
	t.Setenv("FORMSYNC_TRACING_ENABLED", "true")
	t.Setenv("FORMSYNC_TRACING_SAMPLE_RATIO", "0.25")

	cfg, err := NewConfigFromEnv()
	if err != nil {
		t.Fatalf("NewConfigFromEnv: %v", err)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.SampleRatio != 0.25 {
		t.Errorf("tracing = %+v", cfg.Tracing)
	}

	t.Setenv("FORMSYNC_TRACING_SAMPLE_RATIO", "7")
	cfg, err = NewConfigFromEnv()
	if err != nil {
		t.Fatalf("NewConfigFromEnv: %v", err)
	}
	if cfg.Tracing.SampleRatio != 1 {
		t.Errorf("out-of-range sample ratio = %v, want 1", cfg.Tracing.SampleRatio)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := NewConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}

	cfg.Database.Driver = "mysql"
	cfg.Database.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error")
	}
}
