// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tasklog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// sentinelFormat is the exact marker every finalized task log ends with.
// Tail readers stop at the first line matching this pattern.
const sentinelFormat = "\n---HAL9999-DONE exit=%d---\n"

// LogWriter is the single writer of a task's append-only text log.
// Its methods serialize on an internal mutex; the orchestrator also
// gives each task a single writer at the executor level.
type LogWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	finished bool
}

// logPath returns the plain-text log path for a task under dir (the
// data root's logs/ directory).
func logPath(dir, taskID string) string {
	return filepath.Join(dir, taskID+".log")
}

// OpenLogWriter creates (or reopens, for orchestrator restart
// recovery) the append-only log file for taskID under dir.
func OpenLogWriter(dir, taskID string) (*LogWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("tasklog: creating %s: %w", dir, err)
	}
	path := logPath(dir, taskID)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("tasklog: opening %s: %w", path, err)
	}
	return &LogWriter{path: path, file: file}, nil
}

// Append writes text to the log, unmodified. Callers are responsible
// for newline discipline; the wrapper protocol's output events are
// captured with their own trailing newlines already present.
func (w *LogWriter) Append(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return fmt.Errorf("tasklog: append to finalized log %s", w.path)
	}
	_, err := w.file.WriteString(text)
	return err
}

// Finalize writes the sentinel line recording exitCode, closes the
// file, gzip-compresses it in place, and returns the BLAKE3 hash of
// the finalized (pre-compression) plaintext content.
func (w *LogWriter) Finalize(exitCode int) (Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finished {
		return Hash{}, fmt.Errorf("tasklog: log %s already finalized", w.path)
	}
	if _, err := fmt.Fprintf(w.file, sentinelFormat, exitCode); err != nil {
		return Hash{}, fmt.Errorf("tasklog: writing sentinel: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return Hash{}, fmt.Errorf("tasklog: closing %s: %w", w.path, err)
	}
	w.finished = true

	plaintext, err := os.ReadFile(w.path)
	if err != nil {
		return Hash{}, fmt.Errorf("tasklog: reading %s for hashing: %w", w.path, err)
	}
	hash := HashLog(plaintext)

	if err := compress(w.path, plaintext); err != nil {
		return hash, fmt.Errorf("tasklog: compressing %s: %w", w.path, err)
	}
	return hash, nil
}

// compress writes plaintext gzip-compressed to path+".gz" and removes
// the plain-text original.
func compress(path string, plaintext []byte) error {
	gzPath := path + ".gz"
	out, err := os.OpenFile(gzPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	writer := gzip.NewWriter(out)
	if _, err := writer.Write(plaintext); err != nil {
		writer.Close()
		out.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// OpenReader opens taskID's log for reading, transparently
// decompressing if only the gzip-compacted form remains on disk.
func OpenReader(dir, taskID string) (io.ReadCloser, error) {
	plain := logPath(dir, taskID)
	if file, err := os.Open(plain); err == nil {
		return file, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("tasklog: opening %s: %w", plain, err)
	}

	gzPath := plain + ".gz"
	file, err := os.Open(gzPath)
	if err != nil {
		return nil, fmt.Errorf("tasklog: opening %s: %w", gzPath, err)
	}
	reader, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("tasklog: reading gzip header of %s: %w", gzPath, err)
	}
	return &gzipReadCloser{reader: reader, file: file}, nil
}

// gzipReadCloser closes both the gzip reader and the underlying file.
type gzipReadCloser struct {
	reader *gzip.Reader
	file   *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.reader.Read(p) }

func (g *gzipReadCloser) Close() error {
	err := g.reader.Close()
	if closeErr := g.file.Close(); err == nil {
		err = closeErr
	}
	return err
}
