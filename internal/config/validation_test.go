package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Daemon: DaemonConfig{
			BaseURL:       "http://127.0.0.1:4110",
			Username:      "pum",
			TimeoutSec:    30,
			RetryCount:    3,
			RatePerSecond: 5,
		},
		Worker:  WorkerConfig{Workers: 2, QueueSize: 64, FullPolicy: "reject"},
		Loops:   LoopsConfig{QueueSize: 256},
		Sync:    SyncConfig{PollInterval: time.Second},
		Store:   StoreConfig{Backend: "sqlite", Path: "tokens.db"},
		Server:  ServerConfig{Port: "8080", ClientBuffer: 16},
		Logging: LoggingConfig{Level: "info"},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected no error for valid config, got: %v", err)
	}
}

func TestValidate_InvalidPolicy(t *testing.T) {
	cfg := validConfig()
	cfg.Worker.FullPolicy = "drop"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid policy")
	}
	if !strings.Contains(err.Error(), "worker.full_policy") || !strings.Contains(err.Error(), "block, reject") {
		t.Errorf("error should name the field and valid values, got: %v", err)
	}
}

func TestValidate_StorePathRequired(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing store path")
	}

	cfg.Store.Backend = "none"
	if err := cfg.Validate(); err != nil {
		t.Errorf("none backend needs no path, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Daemon.Username = ""
	cfg.Daemon.BaseURL = "not a url"
	cfg.Worker.Workers = 0
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected *ValidationErrors, got %T", err)
	}
	if len(verrs.Fields) != 4 {
		t.Errorf("expected 4 field errors, got %d: %v", len(verrs.Fields), err)
	}

	want := []string{"daemon.username", "daemon.base_url", "worker.workers", "logging.level"}
	for i, f := range want {
		if verrs.Fields[i].Field != f {
			t.Errorf("field %d: expected %s, got %s", i, f, verrs.Fields[i].Field)
		}
	}
}

func TestValidate_LogLevelCaseInsensitive(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "DEBUG"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected uppercase level to pass, got: %v", err)
	}
}
