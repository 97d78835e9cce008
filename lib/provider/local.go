// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hal9999/orchestrator/lib/hal9999errors"
)

// Local is a reference Provider backend for single-host operation and
// integration tests: each "instance" is an OS process reachable over
// loopback SSH, standing in for a real cloud VM. It never leaves the
// host, so region/plan/snapshot are recorded but not interpreted.
//
// Instances are represented by a long-lived placeholder process
// (started with its own process group, the same idiom the teacher
// uses for pipeline steps) so that DestroyInstance has something real
// to signal and StopInstance/StartInstance have observable effect.
type Local struct {
	// SSHPort is the loopback SSH port every instance reports — the
	// caller is expected to already have an SSH server listening
	// there (a devbox, a container, a test fixture).
	SSHPort int

	mu        sync.Mutex
	instances map[string]*localInstance
	nextID    atomic.Uint64
}

type localInstance struct {
	instance Instance
	label    string
	cmd      *exec.Cmd
}

// NewLocal returns a Local provider whose instances all report the
// given loopback SSH port.
func NewLocal(sshPort int) *Local {
	return &Local{
		SSHPort:   sshPort,
		instances: make(map[string]*localInstance),
	}
}

func (p *Local) CreateInstance(ctx context.Context, opts CreateOptions) (Instance, error) {
	id := fmt.Sprintf("local-%d", p.nextID.Add(1))

	cmd := exec.Command("sleep", "infinity")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return Instance{}, &hal9999errors.ProviderError{Provider: "local", Op: "CreateInstance", Cause: err}
	}
	go cmd.Wait() // reap without blocking; DestroyInstance signals it directly

	inst := Instance{ID: id, IP: "127.0.0.1", SSHPort: p.SSHPort, Status: StatusActive}

	p.mu.Lock()
	p.instances[id] = &localInstance{instance: inst, label: opts.Label, cmd: cmd}
	p.mu.Unlock()

	return inst, nil
}

func (p *Local) WaitForReady(ctx context.Context, id string, timeout time.Duration) (Instance, error) {
	deadline := time.Now().Add(timeout)
	for {
		inst, err := p.GetInstance(ctx, id)
		if err != nil {
			return Instance{}, err
		}
		if inst.Status == StatusActive && inst.IP != "" {
			return inst, nil
		}
		if time.Now().After(deadline) {
			return Instance{}, &hal9999errors.TimeoutError{Op: "WaitForReady", Elapsed: timeout.String()}
		}
		select {
		case <-ctx.Done():
			return Instance{}, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (p *Local) GetInstance(ctx context.Context, id string) (Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	li, ok := p.instances[id]
	if !ok {
		return Instance{}, &hal9999errors.ProviderNotFound{Provider: "local", InstanceID: id}
	}
	return li.instance, nil
}

func (p *Local) ListInstances(ctx context.Context, labelFilter string) ([]Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Instance
	for _, li := range p.instances {
		if labelFilter != "" && li.label != labelFilter {
			continue
		}
		out = append(out, li.instance)
	}
	return out, nil
}

func (p *Local) DestroyInstance(ctx context.Context, id string) error {
	p.mu.Lock()
	li, ok := p.instances[id]
	if ok {
		delete(p.instances, id)
	}
	p.mu.Unlock()

	if !ok {
		return &hal9999errors.ProviderNotFound{Provider: "local", InstanceID: id}
	}
	if li.cmd.Process != nil {
		_ = syscall.Kill(-li.cmd.Process.Pid, syscall.SIGKILL)
	}
	return nil
}

func (p *Local) StartInstance(ctx context.Context, id string) error {
	return p.setStatus(id, StatusActive)
}

func (p *Local) StopInstance(ctx context.Context, id string) error {
	return p.setStatus(id, StatusStopped)
}

func (p *Local) setStatus(id string, status InstanceStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	li, ok := p.instances[id]
	if !ok {
		return &hal9999errors.ProviderNotFound{Provider: "local", InstanceID: id}
	}
	li.instance.Status = status
	return nil
}
