// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential implements the credential oracle the wrapper
// protocol draws from: ANTHROPIC_API_KEY, CLAUDE_CODE_OAUTH_TOKEN,
// OPENAI_API_KEY, GITHUB_TOKEN, DO_API_TOKEN, and git-credentials
// (spec.md §4.G/§6). The core treats this as an opaque Get(key) call;
// precedence between the process environment and the persistent
// store is a property of this package, not of the caller.
//
// The persistent store is an age-encrypted JSON blob on disk (grounded
// on lib/sealed's x25519 encrypt/decrypt, itself wrapping
// filippo.io/age), decrypted into lib/secret.Buffer-backed memory so
// plaintext credential values never live on the Go heap longer than
// the single Get call that needs them.
package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/hal9999/orchestrator/lib/sealed"
	"github.com/hal9999/orchestrator/lib/secret"
)

// Oracle resolves credential keys to values: the environment wins
// over the persistent store, matching spec.md §9's precedence rule.
type Oracle struct {
	store *Store
}

// NewOracle wraps a Store. store may be nil, in which case every
// lookup falls through to the environment only.
func NewOracle(store *Store) *Oracle {
	return &Oracle{store: store}
}

// Get resolves key, preferring the environment. Returns ok=false if
// neither source has it.
func (o *Oracle) Get(key string) (value string, ok bool) {
	if v := os.Getenv(key); v != "" {
		return v, true
	}
	if o.store == nil {
		return "", false
	}
	return o.store.get(key)
}

// Store is the persistent half of the oracle: a small set of
// credential keys, encrypted at rest with age and decrypted on demand
// into locked memory.
type Store struct {
	mu      sync.Mutex
	path    string
	keypair *sealed.Keypair
	values  map[string]*secret.Buffer
}

type storedBlob struct {
	// Ciphertext is the age-encrypted JSON of map[string]string,
	// base64-encoded by lib/sealed.
	Ciphertext string `json:"ciphertext"`
}

// OpenStore loads the store file at path, decrypting it with keypair's
// private key and re-encrypting future writes to keypair's public key.
// A missing file is treated as an empty store so a fresh install has
// nothing to migrate.
func OpenStore(path string, keypair *sealed.Keypair) (*Store, error) {
	s := &Store{path: path, keypair: keypair, values: make(map[string]*secret.Buffer)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credential: reading %s: %w", path, err)
	}

	var blob storedBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("credential: parsing %s: %w", path, err)
	}
	plaintext, err := sealed.Decrypt(blob.Ciphertext, keypair.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("credential: decrypting %s: %w", path, err)
	}
	defer plaintext.Close()

	var kv map[string]string
	if err := json.Unmarshal(plaintext.Bytes(), &kv); err != nil {
		return nil, fmt.Errorf("credential: parsing decrypted store: %w", err)
	}
	for k, v := range kv {
		buf, err := secret.NewFromBytes([]byte(v))
		if err != nil {
			return nil, fmt.Errorf("credential: protecting %s: %w", k, err)
		}
		s.values[k] = buf
	}
	return s, nil
}

func (s *Store) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.values[key]
	if !ok {
		return "", false
	}
	return buf.String(), true
}

// Set stores a credential value in memory and persists the whole
// store, re-encrypted, back to disk.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, err := secret.NewFromBytes([]byte(value))
	if err != nil {
		return fmt.Errorf("credential: protecting %s: %w", key, err)
	}
	if old, exists := s.values[key]; exists {
		old.Close()
	}
	s.values[key] = buf
	return s.flush()
}

func (s *Store) flush() error {
	kv := make(map[string]string, len(s.values))
	for k, buf := range s.values {
		kv[k] = buf.String()
	}
	plaintext, err := json.Marshal(kv)
	if err != nil {
		return fmt.Errorf("credential: marshaling store: %w", err)
	}
	ciphertext, err := sealed.Encrypt(plaintext, []string{s.keypair.PublicKey})
	if err != nil {
		return fmt.Errorf("credential: encrypting store: %w", err)
	}
	blob, err := json.Marshal(storedBlob{Ciphertext: ciphertext})
	if err != nil {
		return fmt.Errorf("credential: marshaling blob: %w", err)
	}
	if err := os.WriteFile(s.path, blob, 0600); err != nil {
		return fmt.Errorf("credential: writing %s: %w", s.path, err)
	}
	return nil
}

// Close releases every decrypted value's locked memory.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, buf := range s.values {
		buf.Close()
	}
	return nil
}
