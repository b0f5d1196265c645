package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/gray-logic-hap/internal/api"
	"github.com/nerrad567/gray-logic-hap/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hap/internal/rules"
)

const testJWTSecret = "test-secret-for-development-only-0123456789"

// writeConfig writes a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, options{configPath: "/nonexistent/path/config.yaml"})
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %v, want loading config failure", err)
	}
}

// TestRun_MissingRulesFile verifies run fails before connecting anywhere
// when the rule table cannot be loaded.
func TestRun_MissingRulesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
site:
  id: test-site
database:
  path: "`+filepath.Join(dir, "hap.db")+`"
mapping:
  rules_file: "`+filepath.Join(dir, "missing.yaml")+`"
logging:
  level: error
  format: text
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, options{configPath: path})
	if err == nil {
		t.Fatal("run() should fail with a missing rules file")
	}
	if !strings.Contains(err.Error(), "loading rules") {
		t.Errorf("error = %v, want loading rules failure", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "hap.db")); !os.IsNotExist(statErr) {
		t.Errorf("database was created before rules were loaded")
	}
}

// TestGetConfigPath covers flag, environment and default precedence.
func TestGetConfigPath(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")
	if got := getConfigPath(""); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("GRAYLOGIC_CONFIG", "/custom/path/config.yaml")
	if got := getConfigPath(""); got != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env override", got)
	}
	if got := getConfigPath("/flag/config.yaml"); got != "/flag/config.yaml" {
		t.Errorf("getConfigPath() = %q, want flag value", got)
	}
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-c", "site.yaml", "--print-token", "installer"}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags() error: %v", err)
	}
	if opts.configPath != "site.yaml" || opts.printToken != "installer" || opts.showVersion {
		t.Errorf("opts = %+v", opts)
	}

	if _, err := parseFlags([]string{"--help"}, io.Discard); !errors.Is(err, pflag.ErrHelp) {
		t.Errorf("--help error = %v, want pflag.ErrHelp", err)
	}
	if _, err := parseFlags([]string{"--bogus"}, io.Discard); err == nil {
		t.Error("unknown flag should fail")
	}
	if _, err := parseFlags([]string{"extra"}, io.Discard); err == nil {
		t.Error("positional argument should fail")
	}
}

func TestPrintToken(t *testing.T) {
	path := writeConfig(t, `
site:
  id: test-site
security:
  jwt:
    secret: "`+testJWTSecret+`"
    access_token_ttl: 5
`)

	var out bytes.Buffer
	if err := printToken(options{configPath: path, printToken: "installer"}, &out); err != nil {
		t.Fatalf("printToken() error: %v", err)
	}
	token := strings.SplitN(out.String(), "\n", 2)[0]
	claims, err := api.ParseToken(config.JWTConfig{Secret: testJWTSecret}, token)
	if err != nil {
		t.Fatalf("printed token does not parse: %v", err)
	}
	if claims.Subject != "installer" {
		t.Errorf("subject = %q, want installer", claims.Subject)
	}
}

func TestPrintToken_NoSecret(t *testing.T) {
	path := writeConfig(t, "site:\n  id: test-site\n")
	err := printToken(options{configPath: path, printToken: "installer"}, io.Discard)
	if !errors.Is(err, api.ErrNoSecret) {
		t.Errorf("printToken() error = %v, want ErrNoSecret", err)
	}
}

func TestStaticDescriptor(t *testing.T) {
	sd := config.StaticDevice{
		ID:           "hall-lamp",
		Name:         "Hall Lamp",
		Class:        "light",
		Zone:         "Hall",
		Capabilities: []string{"onoff", "dim"},
		UI:           []config.StaticUI{{ID: "main", Capabilities: []string{"onoff"}}},
		Values:       map[string]any{"onoff": true},
	}
	desc := staticDescriptor(sd)
	if err := desc.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if desc.ID != "hall-lamp" || desc.Zone != "Hall" || len(desc.UI) != 1 || desc.UI[0].ID != "main" {
		t.Errorf("descriptor = %+v", desc)
	}

	sd.Capabilities[0] = "changed"
	if desc.Capabilities[0] != "onoff" {
		t.Error("descriptor shares the config capability slice")
	}
}

func TestMappingOptions(t *testing.T) {
	cfg := config.MappingConfig{
		Observer:          config.ObserverConfig{InitialDelayMS: 500, MaxDelayMS: 4000, MaxRetries: 2},
		State:             config.StateConfig{MaxErrors: 3, RetryDelayMS: 250},
		VariantMarker:     "-improved",
		Incompatibilities: []config.IncompatibilityConfig{{Secondary: "speaker", PrimaryContains: "sonos"}},
	}
	opts := mappingOptions(cfg, rules.NewRegistry(), nil)

	if opts.ObserverRetry.InitialDelay != 500*time.Millisecond ||
		opts.ObserverRetry.MaxDelay != 4*time.Second ||
		opts.ObserverRetry.MaxRetries != 2 {
		t.Errorf("ObserverRetry = %+v", opts.ObserverRetry)
	}
	if opts.MaxErrors != 3 || opts.RetryDelay != 250*time.Millisecond {
		t.Errorf("state options = %d %v", opts.MaxErrors, opts.RetryDelay)
	}
	if len(opts.Incompatibilities) != 1 || opts.Incompatibilities[0].PrimaryContains != "sonos" {
		t.Errorf("Incompatibilities = %+v", opts.Incompatibilities)
	}
	if opts.VariantMarker != "-improved" || opts.Rules == nil {
		t.Errorf("opts = %+v", opts)
	}
}

// TestShippedConfig verifies the config and rule table in configs/ load.
func TestShippedConfig(t *testing.T) {
	root := filepath.Join("..", "..")
	cfg, err := config.Load(filepath.Join(root, defaultConfigPath))
	if err != nil {
		t.Fatalf("config.Load() error: %v", err)
	}
	reg := rules.NewRegistry()
	n, err := rules.LoadInto(reg, filepath.Join(root, cfg.Mapping.RulesFile))
	if err != nil {
		t.Fatalf("LoadInto() error: %v", err)
	}
	if n == 0 {
		t.Error("shipped rule table is empty")
	}
	for _, sd := range cfg.Devices.Static {
		if err := staticDescriptor(sd).Validate(); err != nil {
			t.Errorf("static device %s: %v", sd.ID, err)
		}
	}
}
