package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ggoodman/mcp-coffee-shop/internal/config"
)

func TestApplyFlags_OverridesOnlyChangedFlags(t *testing.T) {
	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{"--log-level=debug", "--sequential", "--max-message-bytes=2048"}); err != nil {
		t.Fatal(err)
	}
	cfg := config.Config{LogLevel: "info", LogFormat: "json", MenuFile: "menu.yaml", MaxMessageBytes: 4096, ServerName: "x"}
	f := rootFlags{logLevel: "debug", sequential: true, maxMessageBytes: 2048}
	applyFlags(cmd, f, &cfg)

	want := config.Config{LogLevel: "debug", LogFormat: "json", MenuFile: "menu.yaml", Sequential: true, MaxMessageBytes: 2048, ServerName: "x"}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMenu(t *testing.T) {
	m, err := loadMenu(config.Config{})
	if err != nil {
		t.Fatalf("built-in menu: %v", err)
	}
	if _, ok := m.Drink("latte"); !ok {
		t.Fatal("built-in menu has no latte")
	}

	path := filepath.Join(t.TempDir(), "menu.yaml")
	if err := os.WriteFile(path, []byte("drinks:\n  - name: cortado\n    price: 3.2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err = loadMenu(config.Config{MenuFile: path})
	if err != nil {
		t.Fatalf("file menu: %v", err)
	}
	if _, ok := m.Drink("cortado"); !ok {
		t.Fatal("file menu not used")
	}

	if _, err := loadMenu(config.Config{MenuFile: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Fatal("expected error for a missing menu file")
	}
}
