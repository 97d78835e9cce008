// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wrapper

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/hal9999/orchestrator/lib/gitutil"
	"github.com/hal9999/orchestrator/lib/hal9999errors"
	"github.com/hal9999/orchestrator/lib/remoteshell"
)

// sshProbeConnectTimeout, sshProbeBudget and sshProbeBackoff implement
// spec.md §4.G step 2:
// ConnectTimeout=10s per attempt, 180s overall budget, 5s backoff
// between attempts.
const (
	sshProbeConnectTimeout = 10 * time.Second
	sshProbeBudget         = 180 * time.Second
	sshProbeBackoff        = 5 * time.Second
)

// WaitForSSH dials addr:port repeatedly until a connection succeeds or
// the overall probe budget is exhausted, waiting sshProbeBackoff
// between attempts.
func WaitForSSH(ctx context.Context, addr string, port int, user string, signer ssh.Signer) (*remoteshell.Client, error) {
	deadline := time.Now().Add(sshProbeBudget)
	for {
		client, err := remoteshell.Dial(ctx, addr, port, user, signer, sshProbeConnectTimeout)
		if err == nil {
			return client, nil
		}
		if time.Now().After(deadline) {
			return nil, &hal9999errors.TimeoutError{Op: "ssh probe " + addr, Elapsed: sshProbeBudget.String()}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sshProbeBackoff):
		}
	}
}

// CloneConfig describes the repository setup step.
type CloneConfig struct {
	RepoURL    string
	GitHubToken string // empty if no token configured
	WorkDir    string // e.g. /workspace/myrepo
}

// Clone cleans /workspace, clones RepoURL (URL rewritten to carry
// GitHubToken for the clone transport only, per spec.md §4.G step 4),
// and leaves the caller positioned to run the install script.
func Clone(ctx context.Context, client *remoteshell.Client, cfg CloneConfig) error {
	if _, err := client.Run(ctx, "rm -rf /workspace/* /workspace/.hal 2>/dev/null; mkdir -p /workspace"); err != nil {
		return &hal9999errors.SetupError{Phase: "clean_workspace", Cause: err}
	}

	cloneURL, err := gitutil.WithToken(cfg.RepoURL, cfg.GitHubToken)
	if err != nil {
		return &hal9999errors.SetupError{Phase: "clone", Cause: err}
	}
	cmd := fmt.Sprintf("cd /workspace && git clone %s %s 2>&1", shQuote(cloneURL), shQuote(cfg.WorkDir))
	result, err := client.Run(ctx, cmd)
	if err != nil {
		return &hal9999errors.SetupError{Phase: "clone", Cause: err}
	}
	if result.ExitCode != 0 {
		return &hal9999errors.SetupError{Phase: "clone", Cause: fmt.Errorf("git clone exited %d: %s", result.ExitCode, result.Stdout)}
	}
	return nil
}

// RunInstallScript runs script (if non-empty) inside workDir. Only
// PATH is forwarded to the install command — no secrets, matching
// spec.md §4.G step 5's "idempotent, PATH only" contract.
func RunInstallScript(ctx context.Context, client *remoteshell.Client, workDir, script string) error {
	if strings.TrimSpace(script) == "" {
		return nil
	}
	cmd := fmt.Sprintf("cd %s && env -i PATH=\"$PATH\" bash -c %s 2>&1", shQuote(workDir), shQuote(script))
	result, err := client.Run(ctx, cmd)
	if err != nil {
		return &hal9999errors.SetupError{Phase: "agent_install", Cause: err}
	}
	if result.ExitCode != 0 {
		return &hal9999errors.SetupError{Phase: "agent_install", Cause: fmt.Errorf("install script exited %d: %s", result.ExitCode, result.Stdout)}
	}
	return nil
}

// BranchResult reports what SetupBranch discovered and chose.
type BranchResult struct {
	Branch        string
	DefaultBranch string
}

// SetupBranch detects the remote's default branch (used later as the
// PR base), creates and checks out the feature branch, and sets a
// commit identity for the wrapper script's later commit step.
func SetupBranch(ctx context.Context, client *remoteshell.Client, workDir, branch, gitUserName, gitUserEmail string) (BranchResult, error) {
	defaultBranchResult, err := client.Run(ctx, fmt.Sprintf("cd %s && git symbolic-ref refs/remotes/origin/HEAD 2>/dev/null | sed 's@^refs/remotes/origin/@@'", shQuote(workDir)))
	if err != nil {
		return BranchResult{}, &hal9999errors.SetupError{Phase: "branch_setup", Cause: err}
	}
	defaultBranch := strings.TrimSpace(defaultBranchResult.Stdout)
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	cmd := fmt.Sprintf(
		"cd %s && git checkout -b %s && git config user.name %s && git config user.email %s",
		shQuote(workDir), shQuote(branch), shQuote(gitUserName), shQuote(gitUserEmail),
	)
	result, err := client.Run(ctx, cmd)
	if err != nil {
		return BranchResult{}, &hal9999errors.SetupError{Phase: "branch_setup", Cause: err}
	}
	if result.ExitCode != 0 {
		return BranchResult{}, &hal9999errors.SetupError{Phase: "branch_setup", Cause: fmt.Errorf("branch setup exited %d: %s", result.ExitCode, result.Stdout)}
	}
	return BranchResult{Branch: branch, DefaultBranch: defaultBranch}, nil
}

// UploadAndLaunch base64-encodes script, pipes it to
// workDir/.hal/run.sh (a separate SSH round trip from Launch so the
// binary-safe upload never shares stdin with the launch command), and
// fires the detached launch. The agent's lifetime must outlive this
// SSH session, so Launch deliberately does not wait for run.sh to
// finish.
//
// Once the agent has been launched against the live script, run.sh is
// replaced on disk with Redacted(script, credentials) so the
// credential heredoc never lingers in plaintext past the launch. The
// replacement is a rename over a freshly uploaded file rather than a
// truncate-in-place: the running bash process still holds its open
// file descriptor on the original inode, so the swap is invisible to
// it, while any later `cat run.sh` sees the scrubbed copy.
func UploadAndLaunch(ctx context.Context, client *remoteshell.Client, workDir, script string, credentials map[string]string) error {
	halDir := workDir + "/.hal"
	if _, err := client.Run(ctx, fmt.Sprintf("mkdir -p %s/result", shQuote(halDir))); err != nil {
		return &hal9999errors.RemoteLaunchError{Cause: err}
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(script))
	uploadCmd := fmt.Sprintf("base64 -d > %s/run.sh", shQuote(halDir))
	if _, err := client.Pipe(ctx, uploadCmd, strings.NewReader(encoded)); err != nil {
		return &hal9999errors.RemoteLaunchError{Cause: err}
	}

	if _, err := client.Run(ctx, fmt.Sprintf("chmod +x %s/run.sh", shQuote(halDir))); err != nil {
		return &hal9999errors.RemoteLaunchError{Cause: err}
	}

	// The explicit </dev/null and trailing exit 0 are required:
	// without them OpenSSH keeps the session open waiting on
	// inherited descriptors, turning a fire-and-forget launch into a
	// hang.
	launchCmd := fmt.Sprintf("cd %s && nohup bash run.sh </dev/null >/dev/null 2>&1 & exit 0", shQuote(halDir))
	if err := client.Detach(ctx, launchCmd); err != nil {
		return &hal9999errors.RemoteLaunchError{Cause: err}
	}

	redactedEncoded := base64.StdEncoding.EncodeToString([]byte(Redacted(script, credentials)))
	redactedUploadCmd := fmt.Sprintf("base64 -d > %s/run.sh.redacted", shQuote(halDir))
	if _, err := client.Pipe(ctx, redactedUploadCmd, strings.NewReader(redactedEncoded)); err != nil {
		return &hal9999errors.RemoteLaunchError{Cause: err}
	}
	if _, err := client.Run(ctx, fmt.Sprintf("mv -f %s/run.sh.redacted %s/run.sh", shQuote(halDir), shQuote(halDir))); err != nil {
		return &hal9999errors.RemoteLaunchError{Cause: err}
	}
	return nil
}
