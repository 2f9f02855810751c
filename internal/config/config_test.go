package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MinPatients != 5 {
		t.Errorf("default min_patients = %d, want 5", cfg.MinPatients)
	}
	if len(cfg.FilterWindows()) != 6 {
		t.Errorf("default windows = %d, want 6", len(cfg.FilterWindows()))
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
postgres: postgres://db:5432/pathways
min_patients: 10
workers: 2
windows:
  - name: all
  - name: recent
    active_within_months: 3
s3:
  bucket: pathway-snapshots
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MinPatients != 10 || cfg.Workers != 2 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	// Untouched fields keep their defaults.
	if cfg.MatchBatchSize != 500 {
		t.Errorf("match_batch_size = %d, want default 500", cfg.MatchBatchSize)
	}
	if cfg.S3.Bucket != "pathway-snapshots" || cfg.S3.Region != "us-east-1" {
		t.Errorf("s3 = %+v", cfg.S3)
	}

	windows := cfg.FilterWindows()
	if len(windows) != 2 {
		t.Fatalf("windows = %d, want 2", len(windows))
	}
	if windows[1].Name != "recent" || windows[1].ActiveWithinMonths != 3 {
		t.Errorf("window[1] = %+v", windows[1])
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"zero min_patients", "min_patients: 0"},
		{"duplicate window", "windows:\n  - name: all\n  - name: all"},
		{"unnamed window", "windows:\n  - active_within_months: 6"},
		{"negative bound", "windows:\n  - name: w\n    initiated_within_months: -1"},
		{"bad yaml", "windows: ["},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
