// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// Slot is one entry in the provider-slots document: a named backend
// the pool manager can provision instances from (spec.md §3's "slot",
// §6's per-provider environment overrides).
type Slot struct {
	Name        string        `json:"name"`
	Provider    string        `json:"provider"`
	SnapshotID  string        `json:"snapshotId"`
	Region      string        `json:"region"`
	Plan        string        `json:"plan"`
	MaxPoolSize int           `json:"maxPoolSize"`
	IdleTimeout time.Duration `json:"-"`
	MinReady    int           `json:"minReady"`
	SSHKeyID    string        `json:"sshKeyId"`
}

type slotsDocument struct {
	Slots []rawSlot `json:"slots"`
}

type rawSlot struct {
	Name         string `json:"name"`
	Provider     string `json:"provider"`
	SnapshotID   string `json:"snapshotId"`
	Region       string `json:"region"`
	Plan         string `json:"plan"`
	MaxPoolSize  int    `json:"maxPoolSize"`
	IdleTimeoutS int    `json:"idleTimeoutS"`
	MinReady     int    `json:"minReady"`
	SSHKeyID     string `json:"sshKeyId"`
}

// LoadSlots reads a commented JSONC provider-slots file (comments are
// stripped by github.com/tidwall/jsonc before encoding/json parses
// it, letting an operator disable a slot with "//" instead of
// deleting and re-adding it) and applies the HAL_<PROV>_* environment
// overrides from spec.md §6, which always win over the file.
func LoadSlots(path string) ([]Slot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading slots file %s: %w", path, err)
	}

	var doc slotsDocument
	if err := json.Unmarshal(jsonc.ToJSON(raw), &doc); err != nil {
		return nil, fmt.Errorf("config: parsing slots file %s: %w", path, err)
	}

	slots := make([]Slot, 0, len(doc.Slots))
	for _, r := range doc.Slots {
		slot := Slot{
			Name:        r.Name,
			Provider:    r.Provider,
			SnapshotID:  r.SnapshotID,
			Region:      r.Region,
			Plan:        r.Plan,
			MaxPoolSize: r.MaxPoolSize,
			MinReady:    r.MinReady,
			SSHKeyID:    r.SSHKeyID,
		}
		if slot.MaxPoolSize <= 0 {
			slot.MaxPoolSize = 5
		}
		idleS := r.IdleTimeoutS
		if idleS <= 0 {
			idleS = defaultIdleTimeoutS(slot.Provider)
		}
		slot.IdleTimeout = time.Duration(idleS) * time.Second

		applyEnvOverrides(&slot)
		slots = append(slots, slot)
	}
	return slots, nil
}

// defaultIdleTimeoutS mirrors spec.md §6's stated defaults: a local
// VM-tooling backend keeps its warm pool around much longer than a
// billed cloud instance.
func defaultIdleTimeoutS(provider string) int {
	if provider == "local" {
		return 1800
	}
	return 300
}

// applyEnvOverrides mutates slot in place from HAL_<PROV>_* variables,
// where <PROV> is the slot's provider name upper-cased. The
// environment always wins over the file, matching the credential
// oracle's precedence rule (spec.md §9).
func applyEnvOverrides(slot *Slot) {
	prefix := "HAL_" + strings.ToUpper(slot.Provider) + "_"

	if v := os.Getenv(prefix + "SNAPSHOT_ID"); v != "" {
		slot.SnapshotID = v
	}
	if v := os.Getenv(prefix + "REGION"); v != "" {
		slot.Region = v
	}
	if v := os.Getenv(prefix + "PLAN"); v != "" {
		slot.Plan = v
	}
	if v := os.Getenv(prefix + "MAX_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			slot.MaxPoolSize = n
		}
	}
	if v := os.Getenv(prefix + "IDLE_TIMEOUT_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			slot.IdleTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv(prefix + "MIN_READY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			slot.MinReady = n
		}
	}
	if v := os.Getenv("HAL_SSH_KEY_ID"); v != "" {
		slot.SSHKeyID = v
	}
}
