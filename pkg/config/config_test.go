package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type agentConfig struct {
	MaxCycles  int           `envconfig:"MAX_CYCLES" default:"5"`
	Timeout    time.Duration `envconfig:"TURN_TIMEOUT" default:"60s"`
	ReminderTo string        `envconfig:"REMINDER_URL"`
}

type requiredConfig struct {
	Token string `envconfig:"TOKEN" required:"true"`
}

// These tests mutate the process environment and must not run in parallel.

func TestProcessAppliesDefaultsAndOverrides(t *testing.T) {
	t.Setenv("CFGTEST_MAX_CYCLES", "3")

	conf, err := Process[agentConfig]("CFGTEST")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if conf.MaxCycles != 3 {
		t.Fatalf("expected override 3, got %d", conf.MaxCycles)
	}
	if conf.Timeout != time.Minute {
		t.Fatalf("expected default 60s, got %s", conf.Timeout)
	}
}

func TestProcessReportsMissingRequired(t *testing.T) {
	if _, err := Process[requiredConfig]("CFGMISSING"); err == nil {
		t.Fatalf("expected error for missing required field")
	}
}

func TestExportEnvironmentKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "CFGFILE_MAX_CYCLES=4\nCFGFILE_REMINDER_URL=https://hooks.example/reminder\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("CFGFILE_MAX_CYCLES", "2")
	t.Setenv("CFGFILE_REMINDER_URL", "")
	os.Unsetenv("CFGFILE_REMINDER_URL")

	if err := exportEnvironment(path); err != nil {
		t.Fatalf("exportEnvironment: %v", err)
	}
	conf, err := Process[agentConfig]("CFGFILE")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if conf.MaxCycles != 2 {
		t.Fatalf("expected process env to win, got %d", conf.MaxCycles)
	}
	if conf.ReminderTo != "https://hooks.example/reminder" {
		t.Fatalf("expected value from file, got %q", conf.ReminderTo)
	}
}

func TestExportEnvironmentIfExistsIgnoresMissingFile(t *testing.T) {
	if err := exportEnvironmentIfExists(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("expected nil for missing file, got %v", err)
	}
}
