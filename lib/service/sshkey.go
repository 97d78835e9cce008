// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// loadSSHSigner parses the private key at path into a signer the
// orchestrator authenticates every wrapper-protocol SSH session with.
func loadSSHSigner(path string) (ssh.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("service: reading ssh private key %s: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("service: parsing ssh private key %s: %w", path, err)
	}
	return signer, nil
}
