package main

import (
	"testing"
)

func resetFlags() {
	flagConfig = ""
	flagOutDir = "."
	flagBaseURL = ""
	flagAPIKey = ""
	flagDBPath = ""
	flagLogLevel = ""
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	cmd := newRootCmd()
	want := map[string]bool{"batch": false, "key": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	resetFlags()
	defer resetFlags()
	t.Setenv("IMGBOT_CONFIG_DIR", t.TempDir())

	flagBaseURL = "https://gen.example.com"
	flagAPIKey = "sk-flag"
	flagDBPath = "/tmp/runs.db"
	flagLogLevel = "debug"

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.API.BaseURL != "https://gen.example.com" || cfg.API.APIKey != "sk-flag" {
		t.Errorf("api = %+v", cfg.API)
	}
	if cfg.History.DBPath != "/tmp/runs.db" || cfg.Log.Level != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadConfig_MissingKeyFails(t *testing.T) {
	resetFlags()
	defer resetFlags()
	t.Setenv("IMGBOT_CONFIG_DIR", t.TempDir())
	t.Setenv("IMGBOT_API_KEY", "")
	t.Setenv("IMGBOT_API_BASE_URL", "")

	flagBaseURL = "https://gen.example.com"
	if _, err := loadConfig(); err == nil {
		t.Error("loadConfig() without a key should fail")
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("info"); err != nil {
		t.Errorf("newLogger(info) error = %v", err)
	}
	if _, err := newLogger("loud"); err == nil {
		t.Error("newLogger(loud) should fail")
	}
}
