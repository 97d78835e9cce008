// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testSlotsDoc = `{
  "slots": [
    {
      // production GPU boxes, keep warm a long time
      "name": "gpu-small",
      "provider": "local",
      "snapshotId": "base-v3",
      "maxPoolSize": 3
    },
    // {"name": "disabled-slot", "provider": "aws"},
    {
      "name": "cloud-burst",
      "provider": "aws",
      "snapshotId": "ami-123",
      "region": "us-east-1",
      "plan": "t3.medium",
      "maxPoolSize": 10,
      "idleTimeoutS": 120,
      "minReady": 1
    }
  ]
}`

func TestLoadSlotsStripsCommentsAndAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slots.jsonc")
	if err := os.WriteFile(path, []byte(testSlotsDoc), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	slots, err := LoadSlots(path)
	if err != nil {
		t.Fatalf("LoadSlots: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("len(slots) = %d, want 2 (commented-out slot must not appear)", len(slots))
	}

	local := slots[0]
	if local.Name != "gpu-small" || local.MaxPoolSize != 3 {
		t.Errorf("local slot = %+v", local)
	}
	if local.IdleTimeout != 1800*time.Second {
		t.Errorf("local.IdleTimeout = %v, want 1800s default for local provider", local.IdleTimeout)
	}

	cloud := slots[1]
	if cloud.IdleTimeout != 120*time.Second {
		t.Errorf("cloud.IdleTimeout = %v, want 120s from file", cloud.IdleTimeout)
	}
	if cloud.MinReady != 1 {
		t.Errorf("cloud.MinReady = %d, want 1", cloud.MinReady)
	}
}

func TestLoadSlotsEnvOverridesWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slots.jsonc")
	if err := os.WriteFile(path, []byte(testSlotsDoc), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	for k, v := range map[string]string{
		"HAL_AWS_SNAPSHOT_ID":   "ami-999",
		"HAL_AWS_MAX_POOL_SIZE": "2",
		"HAL_SSH_KEY_ID":        "shared-key",
	} {
		t.Setenv(k, v)
	}

	slots, err := LoadSlots(path)
	if err != nil {
		t.Fatalf("LoadSlots: %v", err)
	}

	var cloud Slot
	for _, s := range slots {
		if s.Name == "cloud-burst" {
			cloud = s
		}
	}
	if cloud.SnapshotID != "ami-999" {
		t.Errorf("SnapshotID = %q, want env override ami-999", cloud.SnapshotID)
	}
	if cloud.MaxPoolSize != 2 {
		t.Errorf("MaxPoolSize = %d, want env override 2", cloud.MaxPoolSize)
	}
	if cloud.SSHKeyID != "shared-key" {
		t.Errorf("SSHKeyID = %q, want shared-key", cloud.SSHKeyID)
	}
}

func TestDefaultIdleTimeoutS(t *testing.T) {
	if got := defaultIdleTimeoutS("local"); got != 1800 {
		t.Errorf("defaultIdleTimeoutS(local) = %d, want 1800", got)
	}
	if got := defaultIdleTimeoutS("aws"); got != 300 {
		t.Errorf("defaultIdleTimeoutS(aws) = %d, want 300", got)
	}
}
