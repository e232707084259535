package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("logging defaults: %+v", cfg.Logging)
	}
	if cfg.Client.DialTimeout != 5*time.Second {
		t.Errorf("dial timeout default: %v", cfg.Client.DialTimeout)
	}
	if cfg.Host.Listen == "" {
		t.Error("host listen default missing")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
logging:
  level: debug
  format: json
client:
  host: "remote:4444"
  share: projects
  mountpoint: /mnt/projects
host:
  listen: "127.0.0.1:4444"
  shares:
    projects: /srv/projects
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging: %+v", cfg.Logging)
	}
	if cfg.Client.Host != "remote:4444" || cfg.Client.Share != "projects" {
		t.Errorf("client: %+v", cfg.Client)
	}
	if cfg.Host.Shares["projects"] != "/srv/projects" {
		t.Errorf("host shares: %v", cfg.Host.Shares)
	}

	if err := ValidateClient(cfg); err != nil {
		t.Errorf("ValidateClient: %v", err)
	}
	if err := ValidateHost(cfg); err != nil {
		t.Errorf("ValidateHost: %v", err)
	}
}

func TestValidateClientRequiresShare(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if err := ValidateClient(cfg); err == nil {
		t.Fatal("empty share and mountpoint should not validate")
	}
}

func TestValidateHostRequiresShares(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if err := ValidateHost(cfg); err == nil {
		t.Fatal("no shares should not validate")
	}
}

func TestLoadRejectsMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("explicit missing file should fail")
	}
}
