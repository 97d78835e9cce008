// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/hal9999/orchestrator/lib/artifactstore"
	"github.com/hal9999/orchestrator/lib/clock"
	"github.com/hal9999/orchestrator/lib/config"
	"github.com/hal9999/orchestrator/lib/credential"
	"github.com/hal9999/orchestrator/lib/orchestrator"
	"github.com/hal9999/orchestrator/lib/pool"
	"github.com/hal9999/orchestrator/lib/provider"
	"github.com/hal9999/orchestrator/lib/store"
	"github.com/hal9999/orchestrator/lib/taskmanager"
)

// Result is everything Bootstrap assembled, for a binary's main loop
// to drive directly rather than re-deriving from Config.
type Result struct {
	Config *config.Config
	Logger *slog.Logger
	Clock  clock.Clock

	Store        *store.Store
	Pool         *pool.Manager
	Tasks        *taskmanager.Manager
	Artifacts    *artifactstore.Store
	Credentials  *credential.Oracle
	Orchestrator *orchestrator.Executor
}

// Bootstrap loads every backing store and service named by cfg and
// wires them into a ready-to-run Executor. It is the single place
// cmd/hal9999d and cmd/hal both call into, so the two binaries can
// never disagree about how a config file turns into a running system.
//
// The returned close function releases every resource Bootstrap
// opened (the store, the credential store) in reverse order; callers
// should defer it immediately.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Result, func(), error) {
	logger := NewLogger(ParseLevel(cfg.Log.Level))

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("service: preparing data dir: %w", err)
	}

	db, err := store.Open(ctx, store.Config{
		Path:   filepath.Join(cfg.DataDir, "hal9999.db"),
		Logger: logger.With("component", "store"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("service: opening store: %w", err)
	}
	closers := []func() error{db.Close}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("service: cleanup step failed", "error", err)
			}
		}
	}

	sshSigner, err := loadSSHSigner(cfg.SSHPrivateKeyPath)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var oracle *credential.Oracle
	if cfg.CredentialStorePath != "" {
		keypairPath := cfg.CredentialStorePath + ".keypair"
		keypair, err := loadOrCreateKeypair(keypairPath)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		credStore, err := credential.OpenStore(cfg.CredentialStorePath, keypair)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("service: opening credential store: %w", err)
		}
		closers = append(closers, credStore.Close)
		oracle = credential.NewOracle(credStore)
	} else {
		oracle = credential.NewOracle(nil)
	}

	var slots []config.Slot
	if cfg.SlotsFile != "" {
		slots, err = config.LoadSlots(cfg.SlotsFile)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("service: loading slots: %w", err)
		}
	}
	providers, err := buildProviders(slots)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	artifacts, err := artifactstore.Open(filepath.Join(cfg.DataDir, "artifacts"))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("service: opening artifact store: %w", err)
	}

	realClock := clock.Real()
	tasks := taskmanager.New(db, realClock, rand.New(rand.NewSource(time.Now().UnixNano())))
	poolMgr := pool.New(pool.Config{
		Store:             db,
		Providers:         providers,
		Slots:             slots,
		Clock:             realClock,
		StaleTaskMax:      cfg.StaleTaskMax,
		StaleProvisionMax: cfg.StaleProvisionMax,
		Logger:            logger.With("component", "pool"),
	})

	exec := orchestrator.New(orchestrator.Config{
		Pool:         poolMgr,
		Tasks:        tasks,
		Artifacts:    artifacts,
		Credentials:  oracle,
		Clock:        realClock,
		Logger:       logger.With("component", "orchestrator"),
		LogsDir:      filepath.Join(cfg.DataDir, "logs"),
		EventsDir:    filepath.Join(cfg.DataDir, "events"),
		SSHUser:      cfg.SSHUser,
		SSHSigner:    sshSigner,
		Agent:        cfg.Agent,
		AgentTimeout: cfg.AgentTimeout,
		GitUserName:  cfg.GitUserName,
		GitUserEmail: cfg.GitUserEmail,
	})

	return &Result{
		Config:       cfg,
		Logger:       logger,
		Clock:        realClock,
		Store:        db,
		Pool:         poolMgr,
		Tasks:        tasks,
		Artifacts:    artifacts,
		Credentials:  oracle,
		Orchestrator: exec,
	}, cleanup, nil
}

// buildProviders maps every distinct provider name named by slots to
// its implementation. Only "local" ships (spec.md §4.B treats cloud
// credentials as pass-through agent secrets, not a provider backend);
// an unrecognized provider name fails fast rather than leaving a slot
// that can never provision.
func buildProviders(slots []config.Slot) (map[string]provider.Provider, error) {
	providers := make(map[string]provider.Provider)
	for _, slot := range slots {
		if _, ok := providers[slot.Provider]; ok {
			continue
		}
		switch slot.Provider {
		case "local":
			providers[slot.Provider] = provider.NewLocal(0)
		default:
			return nil, fmt.Errorf("service: slot %q names unsupported provider %q", slot.Name, slot.Provider)
		}
	}
	return providers, nil
}
