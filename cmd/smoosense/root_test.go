package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smoosense.yaml")
	body := "root_dir: /from/file\nhttp:\n  addr: \":7000\"\n  url_prefix: /file\nlogging:\n  level: warn\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	env := envFrom(map[string]string{
		"SMOOSENSE_HTTP_ADDR": ":7100",
		"SMOOSENSE_LOG_LEVEL": "error",
	})
	cfg, err := loadConfig(options{configFile: path, logLevel: "debug", grpcAddr: ":9100", noHistory: true}, env)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if cfg.RootDir != "/from/file" {
		t.Errorf("RootDir = %q, want /from/file", cfg.RootDir)
	}
	if cfg.HTTP.URLPrefix != "/file" {
		t.Errorf("URLPrefix = %q, want /file", cfg.HTTP.URLPrefix)
	}
	if cfg.HTTP.Addr != ":7100" {
		t.Errorf("Addr = %q, want env value :7100", cfg.HTTP.Addr)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want flag value debug", cfg.Logging.Level)
	}
	if !cfg.GRPC.Enabled || cfg.GRPC.Addr != ":9100" {
		t.Errorf("GRPC = %+v, want enabled on :9100", cfg.GRPC)
	}
	if cfg.History.Enabled {
		t.Error("History still enabled with --no-history")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(options{root: "data", prefix: "/smoo"}, envFrom(nil))
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.RootDir != "data" || cfg.HTTP.URLPrefix != "/smoo" {
		t.Errorf("RootDir = %q, URLPrefix = %q", cfg.RootDir, cfg.HTTP.URLPrefix)
	}
	if cfg.HTTP.Addr != ":8001" {
		t.Errorf("Addr = %q, want default :8001", cfg.HTTP.Addr)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := loadConfig(options{configFile: filepath.Join(t.TempDir(), "nope.yaml")}, envFrom(nil)); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "smoosense version dev") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRootCommand_RejectsExtraArgs(t *testing.T) {
	if code := execute([]string{"a", "b"}); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}
