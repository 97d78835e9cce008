// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dataDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hal9999.yaml")
	doc := "data_dir: " + dataDir + "\npoll_interval: 1s\nstale_task_max: 1m\n"
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestConfigFlagsLoadPrefersExplicitPath(t *testing.T) {
	path := writeConfig(t, t.TempDir())
	t.Setenv("HAL_CONFIG", "/nonexistent/should-not-be-read.yaml")

	cfg, err := ConfigFlags{Path: path}.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir == "" {
		t.Error("DataDir is empty")
	}
}

func TestConfigFlagsLoadFallsBackToEnv(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfig(t, dataDir)
	t.Setenv("HAL_CONFIG", path)

	cfg, err := ConfigFlags{}.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != dataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, dataDir)
	}
}

func TestConfigFlagsLoadErrorsWithNeitherSet(t *testing.T) {
	t.Setenv("HAL_CONFIG", "")

	if _, err := (ConfigFlags{}).Load(); err == nil {
		t.Fatal("Load() succeeded with neither --config nor HAL_CONFIG set")
	}
}
