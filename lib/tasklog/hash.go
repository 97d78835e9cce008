// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tasklog

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures the same bytes hash differently across contexts
// so a log hash and an event-stream hash can never collide.
type domainKey [32]byte

var (
	logDomainKey = domainKey{
		'h', 'a', 'l', '9', '9', '9', '9', '.', 't', 'a', 's', 'k', 'l', 'o', 'g', '.',
		'l', 'o', 'g', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
	eventsDomainKey = domainKey{
		'h', 'a', 'l', '9', '9', '9', '9', '.', 't', 'a', 's', 'k', 'l', 'o', 'g', '.',
		'e', 'v', 'e', 'n', 't', 's', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// HashLog computes the log-domain BLAKE3 keyed hash of a finalized
// per-task log's bytes.
func HashLog(data []byte) Hash {
	return keyedHash(logDomainKey, data)
}

// HashEvents computes the events-domain BLAKE3 keyed hash of a
// finalized per-task event stream's bytes.
func HashEvents(data []byte) Hash {
	return keyedHash(eventsDomainKey, data)
}

// FormatHash returns the hex-encoded string representation of a hash.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("tasklog: parsing hash: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("tasklog: hash is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}

func keyedHash(key domainKey, data []byte) Hash {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("tasklog: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}
