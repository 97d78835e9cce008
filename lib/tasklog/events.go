// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tasklog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// EventType is the discriminator for TaskEvent's tagged union.
type EventType string

const (
	EventTaskStart  EventType = "task_start"
	EventVMAcquired EventType = "vm_acquired"
	EventPhase      EventType = "phase"
	EventOutput     EventType = "output"
	EventTaskEnd    EventType = "task_end"
)

// Phase names recognized in a phase event, per the orchestrator's
// setup/poll/collect pipeline.
const (
	PhaseVMAcquire    = "vm_acquire"
	PhaseSSHWait      = "ssh_wait"
	PhaseClone        = "clone"
	PhaseAgentInstall = "agent_install"
	PhaseBranchSetup  = "branch_setup"
	PhaseAgentLaunch  = "agent_launch"
	PhaseAgentRun     = "agent_run"
)

// OutputStream distinguishes stdout from stderr in an output event.
type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

// TaskStatus is the terminal status carried by a task_end event.
type TaskStatus string

const (
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// TaskEvent is the tagged union of everything that can appear in a
// task's event stream. Only the fields relevant to Type are set;
// json:"omitempty" keeps irrelevant fields out of the serialized form.
type TaskEvent struct {
	Type EventType `json:"type"`

	// task_start
	RepoURL string `json:"repoUrl,omitempty"`
	Context string `json:"context,omitempty"`
	Agent   string `json:"agent,omitempty"`

	// vm_acquired
	VMID     string `json:"vmId,omitempty"`
	Provider string `json:"provider,omitempty"`
	IP       string `json:"ip,omitempty"`

	// phase
	Name string `json:"name,omitempty"`

	// output
	Stream OutputStream `json:"stream,omitempty"`
	Text   string       `json:"text,omitempty"`

	// task_end
	Status   TaskStatus `json:"status,omitempty"`
	ExitCode *int       `json:"exitCode,omitempty"`
	Error    string     `json:"error,omitempty"`
	PRUrl    string     `json:"prUrl,omitempty"`
}

// envelope is the on-disk JSONL record: one per line.
type envelope struct {
	TaskID    string    `json:"taskId"`
	Timestamp time.Time `json:"timestamp"`
	Seq       int64     `json:"seq"`
	Event     TaskEvent `json:"event"`
}

// EventWriter is the single writer of a task's JSONL event stream. It
// enforces the monotone-seq invariant (P5) and the at-most-one
// task_end invariant (P6).
type EventWriter struct {
	mu       sync.Mutex
	taskID   string
	path     string
	file     *os.File
	seq      int64
	ended    bool
	now      func() time.Time
}

func eventsPath(dir, taskID string) string {
	return filepath.Join(dir, taskID+".jsonl")
}

// OpenEventWriter creates (or reopens) the event stream for taskID
// under dir.
func OpenEventWriter(dir, taskID string) (*EventWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("tasklog: creating %s: %w", dir, err)
	}
	path := eventsPath(dir, taskID)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("tasklog: opening %s: %w", path, err)
	}
	return &EventWriter{taskID: taskID, path: path, file: file, now: time.Now}, nil
}

// Emit appends event to the stream, assigning it the next sequence
// number. Emitting after a task_end has already been written returns
// an error rather than silently violating P6.
func (w *EventWriter) Emit(event TaskEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ended {
		return fmt.Errorf("tasklog: emit after task_end for task %s", w.taskID)
	}
	record := envelope{
		TaskID:    w.taskID,
		Timestamp: w.now().UTC(),
		Seq:       w.seq,
		Event:     event,
	}
	w.seq++

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("tasklog: marshaling event: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.file.Write(line); err != nil {
		return fmt.Errorf("tasklog: writing event: %w", err)
	}
	if event.Type == EventTaskEnd {
		w.ended = true
	}
	return nil
}

// Finalize closes the event file, gzip-compresses it in place, and
// returns the BLAKE3 hash of the finalized plaintext. Must be called
// after a task_end event has been emitted.
func (w *EventWriter) Finalize() (Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.ended {
		return Hash{}, fmt.Errorf("tasklog: finalizing event stream %s before task_end", w.path)
	}
	if err := w.file.Close(); err != nil {
		return Hash{}, fmt.Errorf("tasklog: closing %s: %w", w.path, err)
	}

	plaintext, err := os.ReadFile(w.path)
	if err != nil {
		return Hash{}, fmt.Errorf("tasklog: reading %s for hashing: %w", w.path, err)
	}
	hash := HashEvents(plaintext)

	if err := compress(w.path, plaintext); err != nil {
		return hash, fmt.Errorf("tasklog: compressing %s: %w", w.path, err)
	}
	return hash, nil
}

// ReadEvents reads and decodes every event envelope for taskID under
// dir, transparently decompressing if only the gzip-compacted form
// remains.
func ReadEvents(dir, taskID string) ([]envelope, error) {
	path := eventsPath(dir, taskID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		data, err = readGzip(path + ".gz")
	}
	if err != nil {
		return nil, fmt.Errorf("tasklog: reading events for %s: %w", taskID, err)
	}

	var records []envelope
	decoder := json.NewDecoder(bytes.NewReader(data))
	for decoder.More() {
		var record envelope
		if err := decoder.Decode(&record); err != nil {
			return nil, fmt.Errorf("tasklog: decoding event for %s: %w", taskID, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func readGzip(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	reader, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
