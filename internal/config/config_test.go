package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "h2k.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "memory" || cfg.Queue.Driver != "memory" {
		t.Fatalf("unexpected drivers: %s / %s", cfg.Storage.Driver, cfg.Queue.Driver)
	}
	if cfg.Queue.Workers != 2 || cfg.Queue.Buffer != 64 {
		t.Fatalf("unexpected queue defaults: %+v", cfg.Queue)
	}
	if cfg.Decision.Provider != "script" {
		t.Fatalf("unexpected decision provider: %s", cfg.Decision.Provider)
	}
	if cfg.Workflow.MaxIterations != 10 ||
		cfg.Workflow.RiskThreshold != 3.0 ||
		cfg.Workflow.MinAPYGain != 0.02 ||
		cfg.Workflow.TestCap != 100 {
		t.Fatalf("unexpected workflow defaults: %+v", cfg.Workflow)
	}
	if cfg.Chain.ChainID != 11155111 {
		t.Fatalf("unexpected chain id: %d", cfg.Chain.ChainID)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}

	baseDir := filepath.Dir(path)
	if cfg.Runtime.DataDir != filepath.Join(baseDir, "data") {
		t.Fatalf("unexpected data dir: %s", cfg.Runtime.DataDir)
	}
	if cfg.Storage.Path != filepath.Join(baseDir, "data", "h2k.db") {
		t.Fatalf("unexpected storage path: %s", cfg.Storage.Path)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `{
		"storage": {"driver": "sqlite", "path": "state/h2k.db"},
		"catalog": {"path": "protocols.yaml"},
		"runtime": {"data_dir": "run"}
	}`)
	baseDir := filepath.Dir(path)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Path != filepath.Join(baseDir, "state", "h2k.db") {
		t.Fatalf("storage path not resolved: %s", cfg.Storage.Path)
	}
	if cfg.Catalog.Path != filepath.Join(baseDir, "protocols.yaml") {
		t.Fatalf("catalog path not resolved: %s", cfg.Catalog.Path)
	}
	if cfg.Runtime.DataDir != filepath.Join(baseDir, "run") {
		t.Fatalf("data dir not resolved: %s", cfg.Runtime.DataDir)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"address": ":9090"},
		"decision": {"provider": "gemini", "model": "gemini-2.0-flash", "timeout_seconds": 15},
		"workflow": {"max_iterations": 5, "quorum_roles": ["strategy_agent"]}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("override not applied: %s", cfg.Server.Address)
	}
	if cfg.Decision.DecisionTimeout() != 15*time.Second {
		t.Fatalf("unexpected decision timeout: %s", cfg.Decision.DecisionTimeout())
	}
	if cfg.Workflow.MaxIterations != 5 {
		t.Fatalf("unexpected max iterations: %d", cfg.Workflow.MaxIterations)
	}
	if len(cfg.Workflow.QuorumRoles) != 1 || cfg.Workflow.QuorumRoles[0] != "strategy_agent" {
		t.Fatalf("unexpected quorum roles: %v", cfg.Workflow.QuorumRoles)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := Load("/nonexistent/h2k.json"); err == nil {
		t.Fatalf("expected error for missing file")
	}
	path := writeConfig(t, `{broken`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for malformed json")
	}
}

func TestDecisionTimeoutZeroWhenUnset(t *testing.T) {
	var dc DecisionConfig
	if dc.DecisionTimeout() != 0 {
		t.Fatalf("unset timeout should be zero")
	}
}
