package configuration_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"Parley/internal/configuration"

	"go.uber.org/zap"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"identity":"alice","broker":{"url":"tcp://localhost:1883"}}`)

	cfg, err := configuration.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Broker.Kind != "mqtt" || cfg.Mongo.ChatsCollection != "chats" || cfg.Server.SocketRoute != "bridge" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Server.AppPort == 0 || cfg.Server.SocketPort == 0 {
		t.Fatalf("ports not defaulted: %+v", cfg.Server)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, `{"identity":"alice","server":{"app_port":9000}}`)
	t.Setenv("PARLEY_IDENTITY", "bob")
	t.Setenv("PARLEY_BROKER_URL", "tcp://broker:1883")
	t.Setenv("PARLEY_APP_PORT", "9100")

	cfg, err := configuration.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Identity != "bob" || cfg.Broker.Url != "tcp://broker:1883" || cfg.Server.AppPort != 9100 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadConfigRequiresIdentity(t *testing.T) {
	path := writeConfig(t, `{"identity":"  "}`)
	if _, err := configuration.LoadConfig(path); !errors.Is(err, configuration.ErrMissingIdentity) {
		t.Fatalf("expected ErrMissingIdentity, got %v", err)
	}
}

func TestLoadConfigRejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, `{"identity":`)
	if _, err := configuration.LoadConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := configuration.NewLogger(configuration.LogConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	logger, err := configuration.NewLogger(configuration.LogConfig{Level: "debug", Development: true})
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Fatalf("debug level should be enabled")
	}
}
