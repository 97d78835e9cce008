// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"
	"os"
	"strings"

	"github.com/hal9999/orchestrator/lib/sealed"
	"github.com/hal9999/orchestrator/lib/secret"
)

// loadOrCreateKeypair loads the age keypair that protects the
// credential store at path, generating and persisting a fresh one on
// first run. lib/sealed deliberately leaves key custody to its
// callers; this is hal9999's custody policy — a single file, root-only
// permissions, two lines (public then private).
func loadOrCreateKeypair(path string) (*sealed.Keypair, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		lines := strings.SplitN(strings.TrimSpace(string(raw)), "\n", 2)
		if len(lines) != 2 {
			return nil, fmt.Errorf("service: %s: expected two lines (public key, private key)", path)
		}
		priv, err := secret.NewFromBytes([]byte(strings.TrimSpace(lines[1])))
		if err != nil {
			return nil, fmt.Errorf("service: protecting private key from %s: %w", path, err)
		}
		return &sealed.Keypair{PublicKey: strings.TrimSpace(lines[0]), PrivateKey: priv}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("service: reading %s: %w", path, err)
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("service: generating credential keypair: %w", err)
	}
	contents := keypair.PublicKey + "\n" + keypair.PrivateKey.String() + "\n"
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		return nil, fmt.Errorf("service: writing %s: %w", path, err)
	}
	return keypair, nil
}
