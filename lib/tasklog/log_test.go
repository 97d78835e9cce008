// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tasklog

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogWriterAppendAndFinalize(t *testing.T) {
	dir := t.TempDir()
	writer, err := OpenLogWriter(dir, "task-1")
	if err != nil {
		t.Fatalf("OpenLogWriter: %v", err)
	}

	if err := writer.Append("hello\n"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := writer.Append("world\n"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	hash, err := writer.Finalize(0)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if hash == (Hash{}) {
		t.Error("Finalize returned zero hash")
	}

	if _, err := os.Stat(filepath.Join(dir, "task-1.log")); !os.IsNotExist(err) {
		t.Error("plaintext log should be removed after compaction")
	}
	if _, err := os.Stat(filepath.Join(dir, "task-1.log.gz")); err != nil {
		t.Errorf("expected compacted log: %v", err)
	}

	reader, err := OpenReader(dir, "task-1")
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()
	content, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !strings.Contains(string(content), "hello\nworld\n") {
		t.Errorf("content = %q, missing appended lines", content)
	}
	if !strings.Contains(string(content), "---HAL9999-DONE exit=0---") {
		t.Errorf("content missing sentinel: %q", content)
	}
}

func TestLogWriterAppendAfterFinalizeFails(t *testing.T) {
	dir := t.TempDir()
	writer, err := OpenLogWriter(dir, "task-2")
	if err != nil {
		t.Fatalf("OpenLogWriter: %v", err)
	}
	if _, err := writer.Finalize(1); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := writer.Append("too late"); err == nil {
		t.Error("Append after Finalize should fail")
	}
}

func TestOpenReaderPrefersPlaintext(t *testing.T) {
	dir := t.TempDir()
	writer, err := OpenLogWriter(dir, "task-3")
	if err != nil {
		t.Fatalf("OpenLogWriter: %v", err)
	}
	if err := writer.Append("still running\n"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	reader, err := OpenReader(dir, "task-3")
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()
	content, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(content) != "still running\n" {
		t.Errorf("content = %q, want %q", content, "still running\n")
	}
}
