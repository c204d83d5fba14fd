package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T) string {
	return writeConfigFor(t, "http://127.0.0.1:1")
}

func writeConfigFor(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	yaml := fmt.Sprintf(`
upstream:
  base_url: %q
mailer:
  mode: sandbox
  sandbox:
    path: %q
ledger:
  path: %q
recipients:
  allow_list: ["mailinator.com"]
`, baseURL, filepath.Join(dir, "sandbox.db"), filepath.Join(dir, "ledger.db"))

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, "notifier version dev") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigValidate(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "config", "validate", "-c", path)
	if err != nil {
		t.Fatalf("config validate error = %v", err)
	}
	if !strings.Contains(out, "Configuration is valid") || !strings.Contains(out, "mailinator.com") {
		t.Errorf("output = %q", out)
	}
}

func TestLedgerCommands(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "ledger", "list", "-c", path)
	if err != nil {
		t.Fatalf("ledger list error = %v", err)
	}
	if !strings.Contains(out, "Ledger is empty") {
		t.Errorf("list output = %q", out)
	}

	out, err = execute(t, "ledger", "check", "42", "reminder", "-c", path)
	if err != nil {
		t.Fatalf("ledger check error = %v", err)
	}
	if !strings.Contains(out, "Tournament 42: not notified reminder") {
		t.Errorf("check output = %q", out)
	}

	if _, err := execute(t, "ledger", "check", "42", "digest", "-c", path); err == nil {
		t.Error("expected error for unknown kind")
	}

	if _, err := execute(t, "ledger", "clear", "-c", path); err == nil {
		t.Error("expected clear without --yes to fail")
	}

	out, err = execute(t, "ledger", "clear", "--yes", "-c", path)
	if err != nil {
		t.Fatalf("ledger clear error = %v", err)
	}
	if !strings.Contains(out, "Deleted 0 entries") {
		t.Errorf("clear output = %q", out)
	}
}

func TestSandboxListEmpty(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "sandbox", "list", "-c", path)
	if err != nil {
		t.Fatalf("sandbox list error = %v", err)
	}
	if !strings.Contains(out, "No captured messages") {
		t.Errorf("output = %q", out)
	}
}

func TestRunRejectsUnknownJob(t *testing.T) {
	path := writeConfig(t)

	if _, err := execute(t, "run", "cleanup", "-c", path); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestTournamentsList(t *testing.T) {
	start := time.Now().Add(8 * time.Hour).UTC().Format(time.RFC3339)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"result": []map[string]any{
			{"tournament_ID": 5, "name": "Night Cup", "full_name": start + ", Night Cup"},
			{"tournament_ID": 6, "name": "Broken Cup", "full_name": "soon"},
		}})
	}))
	defer srv.Close()

	out, err := execute(t, "tournaments", "list", "-c", writeConfigFor(t, srv.URL))
	if err != nil {
		t.Fatalf("tournaments list error = %v", err)
	}
	if !strings.Contains(out, "Night Cup") || !strings.Contains(out, "Broken Cup") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "Total: 2") {
		t.Errorf("output = %q", out)
	}
}
