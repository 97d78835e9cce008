// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wrapper implements the fire-and-forget executor: the
// script that runs detached on an acquired VM, and the three SSH
// round trips the orchestrator makes around it (setup, poll,
// collect).
//
// The wrapper script itself never talks back to the orchestrator —
// it writes everything it needs to say to files under /workspace/.hal/
// and exits. The orchestrator polls those files over SSH; there is no
// callback, webhook, or open connection between launch and collect.
package wrapper
