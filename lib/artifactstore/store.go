// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifactstore

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// Hash is a domain-separated BLAKE3 digest, the same construction
// lib/tasklog uses for logs and event streams.
type Hash [32]byte

var artifactDomainKey = [32]byte{'h', 'a', 'l', '9', '9', '9', '9', '.', 'a', 'r', 't', 'i', 'f', 'a', 'c', 't', 's', 't', 'o', 'r', 'e', '.', 'b', 'l', 'o', 'b'}

func hashBlob(data []byte) Hash {
	hasher, err := blake3.NewKeyed(artifactDomainKey[:])
	if err != nil {
		panic(err)
	}
	hasher.Write(data)
	var out Hash
	copy(out[:], hasher.Sum(nil))
	return out
}

// FormatHash renders a hash as lowercase hex.
func FormatHash(h Hash) string { return hex.EncodeToString(h[:]) }

// Store persists task artifacts as single compressed blobs under
// dir/<taskId>/<name>.blob.
type Store struct {
	dir string
}

// Open returns a Store rooted at dir, creating it if necessary.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("artifactstore: creating %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// blobHeaderSize is tag(1) + uncompressedSize(8) + hash(32).
const blobHeaderSize = 1 + 8 + 32

func (s *Store) blobPath(taskID, name string) string {
	return filepath.Join(s.dir, taskID, name+".blob")
}

// Put compresses data with the algorithm selected for name and writes
// it as a single blob. Returns the content hash of the uncompressed
// data for the caller to record on the task row.
func (s *Store) Put(taskID, name string, data []byte) (Hash, error) {
	tag := selectCompression(name)
	compressed, err := compress(data, tag)
	if err != nil {
		return Hash{}, fmt.Errorf("artifactstore: compressing %s/%s: %w", taskID, name, err)
	}
	if len(compressed) == len(data) {
		// compress fell back to the raw bytes; tag them as such so Get
		// does not try to decompress them.
		tag = CompressionNone
	}
	hash := hashBlob(data)

	path := s.blobPath(taskID, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Hash{}, fmt.Errorf("artifactstore: creating %s: %w", filepath.Dir(path), err)
	}

	header := make([]byte, blobHeaderSize)
	header[0] = byte(tag)
	binary.BigEndian.PutUint64(header[1:9], uint64(len(data)))
	copy(header[9:], hash[:])

	blob := make([]byte, 0, len(header)+len(compressed))
	blob = append(blob, header...)
	blob = append(blob, compressed...)

	if err := os.WriteFile(path, blob, 0644); err != nil {
		return Hash{}, fmt.Errorf("artifactstore: writing %s: %w", path, err)
	}
	return hash, nil
}

// Get reads back and decompresses the blob stored for taskID/name.
func (s *Store) Get(taskID, name string) ([]byte, Hash, error) {
	path := s.blobPath(taskID, name)
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, Hash{}, fmt.Errorf("artifactstore: reading %s: %w", path, err)
	}
	if len(blob) < blobHeaderSize {
		return nil, Hash{}, fmt.Errorf("artifactstore: %s: truncated header", path)
	}

	tag := CompressionTag(blob[0])
	uncompressedSize := binary.BigEndian.Uint64(blob[1:9])
	var wantHash Hash
	copy(wantHash[:], blob[9:blobHeaderSize])

	data, err := decompress(blob[blobHeaderSize:], tag, int(uncompressedSize))
	if err != nil {
		return nil, Hash{}, fmt.Errorf("artifactstore: decompressing %s: %w", path, err)
	}
	if hashBlob(data) != wantHash {
		return nil, Hash{}, fmt.Errorf("artifactstore: %s: content hash mismatch", path)
	}
	return data, wantHash, nil
}

// Exists reports whether an artifact is present without reading it.
func (s *Store) Exists(taskID, name string) bool {
	_, err := os.Stat(s.blobPath(taskID, name))
	return err == nil
}
