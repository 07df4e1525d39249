package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPendingMigrations(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"002_lead_follow_ups.up.sql",
		"001_task_notifications.up.sql",
		"001_task_notifications.down.sql",
		"README.md",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "003_dir.up.sql"), 0o755); err != nil {
		t.Fatal(err)
	}

	names, err := pendingMigrations(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"001_task_notifications.up.sql", "002_lead_follow_ups.up.sql"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], names[i])
		}
	}
}

func TestPendingMigrations_MissingDir(t *testing.T) {
	if _, err := pendingMigrations(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing directory")
	}
}
