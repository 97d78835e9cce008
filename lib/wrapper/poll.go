// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wrapper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hal9999/orchestrator/lib/clock"
	"github.com/hal9999/orchestrator/lib/remoteshell"
)

// PollInterval is how often the poll loop issues its combined
// sentinel-and-size SSH round trip (spec.md §4.G poll phase).
const PollInterval = 5 * time.Second

// pollProbeCommand both checks the done sentinel and reports
// output.log's current size in a single SSH round trip — spec.md is
// explicit that these must share one round trip, not two.
const pollProbeCommand = `cd %s && (test -f .hal/done && echo HAL:DONE || echo HAL:WAITING); stat -c%%s .hal/output.log 2>/dev/null || echo 0`

// PollOutcome reports how the poll loop ended.
type PollOutcome int

const (
	// PollDone means the sentinel file appeared within the timeout.
	PollDone PollOutcome = iota
	// PollTimedOut means the agent's wall-clock budget elapsed; the
	// loop has already attempted the pkill/timeout-sentinel fallback.
	PollTimedOut
)

// PollCallbacks lets the caller react to poll-loop events without
// the loop itself depending on tasklog or taskmanager directly.
type PollCallbacks struct {
	// OnOutput is called with each newly observed chunk of
	// output.log, in order, already appended past the previous
	// offset.
	OnOutput func(chunk []byte)
	// OnHeartbeat is called once per successful probe round trip,
	// the liveness signal the stale-task reaper watches.
	OnHeartbeat func()
}

// Poll runs the 5-second probe loop against workDir until the done
// sentinel appears or timeout elapses. offset is the byte count of
// output.log already captured locally (0 for a fresh task, non-zero
// when resuming after a crash).
//
// A transport failure during a probe (ssh connection drop, command
// error) is treated as retryable up to the overall timeout: the VM
// may simply be between SSH sessions, and killing the task over one
// flaky round trip would discard real agent progress. A transport
// failure persisting until the deadline surfaces as PollTimedOut, the
// same outcome as the agent itself overrunning its budget — both mean
// "we ran out of time waiting to hear back".
func Poll(ctx context.Context, client *remoteshell.Client, c clock.Clock, workDir string, offset int64, timeout time.Duration, cb PollCallbacks) (PollOutcome, int64, error) {
	deadline := c.Now().Add(timeout)
	ticker := c.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return PollTimedOut, offset, ctx.Err()
		case <-ticker.C:
		}

		if c.Now().After(deadline) {
			killAgent(ctx, client, workDir)
			return PollTimedOut, offset, nil
		}

		done, size, err := probe(ctx, client, workDir)
		if err != nil {
			// Retryable: keep polling until the deadline.
			continue
		}
		if cb.OnHeartbeat != nil {
			cb.OnHeartbeat()
		}

		if size > offset {
			delta, err := fetchDelta(ctx, client, workDir, offset, size-offset)
			if err == nil {
				if cb.OnOutput != nil {
					cb.OnOutput(delta)
				}
				offset = size
			}
		}

		if done {
			return PollDone, offset, nil
		}
	}
}

// probe issues the combined sentinel-and-size round trip.
func probe(ctx context.Context, client *remoteshell.Client, workDir string) (done bool, size int64, err error) {
	result, err := client.Run(ctx, fmt.Sprintf(pollProbeCommand, shQuote(workDir)))
	if err != nil {
		return false, 0, err
	}
	lines := strings.SplitN(strings.TrimSpace(result.Stdout), "\n", 2)
	if len(lines) < 2 {
		return false, 0, errors.New("wrapper: malformed poll probe output")
	}
	done = strings.TrimSpace(lines[0]) == "HAL:DONE"
	size, convErr := strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64)
	if convErr != nil {
		size = 0
	}
	return done, size, nil
}

// fetchDelta reads n bytes of output.log starting just past offset.
func fetchDelta(ctx context.Context, client *remoteshell.Client, workDir string, offset, n int64) ([]byte, error) {
	cmd := fmt.Sprintf("cd %s && tail -c +%d .hal/output.log | head -c %d", shQuote(workDir), offset+1, n)
	result, err := client.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return []byte(result.Stdout), nil
}

// killAgent best-effort-kills the wrapper process and forces the done
// sentinel so a subsequent collect phase always finds something to
// parse, even when the agent is hung.
func killAgent(ctx context.Context, client *remoteshell.Client, workDir string) {
	cmd := fmt.Sprintf("cd %s && pkill -f run.sh; echo timeout > .hal/done", shQuote(workDir))
	_, _ = client.Run(ctx, cmd)
}
