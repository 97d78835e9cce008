// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/hal9999/orchestrator/internal/ids"
	"github.com/hal9999/orchestrator/lib/artifactstore"
	"github.com/hal9999/orchestrator/lib/clock"
	"github.com/hal9999/orchestrator/lib/config"
	"github.com/hal9999/orchestrator/lib/credential"
	"github.com/hal9999/orchestrator/lib/gitutil"
	"github.com/hal9999/orchestrator/lib/pool"
	"github.com/hal9999/orchestrator/lib/remoteshell"
	"github.com/hal9999/orchestrator/lib/store"
	"github.com/hal9999/orchestrator/lib/taskmanager"
	"github.com/hal9999/orchestrator/lib/tasklog"
	"github.com/hal9999/orchestrator/lib/wrapper"
)

// defaultVMWaitTimeout bounds how long AcquireVM waits for a freshly
// provisioned instance to report ready. Not named by spec.md, which
// leaves exact provisioning-wait budgets to the implementer; chosen
// generous enough for real cloud boots without stalling a task
// indefinitely on a wedged provider.
const defaultVMWaitTimeout = 120 * time.Second

// credentialKeys are the env vars the wrapper script's secrets
// heredoc may carry, in the order spec.md §4.G/§6 lists them.
var credentialKeys = []string{
	"ANTHROPIC_API_KEY",
	"CLAUDE_CODE_OAUTH_TOKEN",
	"OPENAI_API_KEY",
	"GITHUB_TOKEN",
	"DO_API_TOKEN",
}

// Executor runs tasks end to end: acquire a VM, run the wrapper
// protocol's three SSH phases against it, collect results, release
// the VM. One Executor serves every task in a process; each task gets
// its own goroutine via StartTask.
type Executor struct {
	pool        *pool.Manager
	tasks       *taskmanager.Manager
	artifacts   *artifactstore.Store
	credentials *credential.Oracle
	clock       clock.Clock
	logger      *slog.Logger

	logsDir   string
	eventsDir string

	sshUser   string
	sshSigner ssh.Signer

	agent        config.AgentConfig
	agentTimeout time.Duration
	gitUserName  string
	gitUserEmail string
}

// Config configures New.
type Config struct {
	Pool        *pool.Manager
	Tasks       *taskmanager.Manager
	Artifacts   *artifactstore.Store
	Credentials *credential.Oracle
	Clock       clock.Clock
	Logger      *slog.Logger

	LogsDir   string
	EventsDir string

	SSHUser   string
	SSHSigner ssh.Signer

	Agent        config.AgentConfig
	AgentTimeout time.Duration
	GitUserName  string
	GitUserEmail string
}

// New returns an Executor over cfg.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{
		pool:         cfg.Pool,
		tasks:        cfg.Tasks,
		artifacts:    cfg.Artifacts,
		credentials:  cfg.Credentials,
		clock:        cfg.Clock,
		logger:       logger,
		logsDir:      cfg.LogsDir,
		eventsDir:    cfg.EventsDir,
		sshUser:      cfg.SSHUser,
		sshSigner:    cfg.SSHSigner,
		agent:        cfg.Agent,
		agentTimeout: cfg.AgentTimeout,
		gitUserName:  cfg.GitUserName,
		gitUserEmail: cfg.GitUserEmail,
	}
}

// StartTask creates a new pending task and launches its executor on
// an independent goroutine, detached from ctx's lifetime — the task
// must outlive the request that started it, the same fire-and-forget
// contract the wrapper script itself follows on the VM. The returned
// task is the freshly created pending row; callers observe progress
// by re-reading it from the store.
func (e *Executor) StartTask(ctx context.Context, repoURL, taskContext string) (store.Task, error) {
	task, err := e.tasks.Create(ctx, repoURL, taskContext)
	if err != nil {
		return store.Task{}, fmt.Errorf("orchestrator: creating task: %w", err)
	}
	go e.runInBackground(task.ID)
	return task, nil
}

// RunTask creates a new task and blocks until it finishes, for
// callers that want the result inline (the CLI's `task run`) rather
// than a task id to poll (`task start`). It shares StartTask's
// pipeline; the only difference is whether the caller waits.
func (e *Executor) RunTask(ctx context.Context, repoURL, taskContext string) (store.Task, error) {
	task, err := e.tasks.Create(ctx, repoURL, taskContext)
	if err != nil {
		return store.Task{}, fmt.Errorf("orchestrator: creating task: %w", err)
	}
	e.execute(ctx, task)
	final, err := e.tasks.Get(ctx, task.ID)
	if err != nil {
		return store.Task{}, fmt.Errorf("orchestrator: loading finished task: %w", err)
	}
	return final, nil
}

// runInBackground loads a task by id and runs it to completion,
// detached from whatever request spawned the goroutine. Any failure
// force-fails the task row instead of surfacing anywhere else, per
// spec.md §7's fire-and-forget propagation policy.
func (e *Executor) runInBackground(taskID string) {
	ctx := context.Background()
	task, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		e.logger.Error("orchestrator: loading task for run", "task", taskID, "error", err)
		return
	}
	e.execute(ctx, task)
}

// Recover is the crash-recovery pass run once at process start, before
// the reconcile loop begins ticking. It first runs a pool reconcile so
// VM status reflects provider truth, then walks every task left
// assigned or running by whatever process held the store before this
// one started:
//
//   - assigned: setup never reached "running", so there is no agent to
//     resume. The task is force-failed and its VM released.
//   - running, VM missing or not live: the VM backing the run is gone,
//     so there is nothing left to poll. Force-failed.
//   - running, VM still live: the agent may still be executing on the
//     VM. Resume polling and collecting only — setup already ran
//     before the crash and must not run again.
//
// Returns the number of tasks resumed onto a background goroutine
// (the assigned and dead-VM cases are resolved synchronously, not
// counted).
func (e *Executor) Recover(ctx context.Context) (int, error) {
	if _, err := e.pool.Reconcile(ctx); err != nil {
		return 0, fmt.Errorf("orchestrator: reconcile during recovery: %w", err)
	}

	inFlight, err := e.tasks.ListInFlight(ctx)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: listing in-flight tasks: %w", err)
	}

	resumed := 0
	for _, task := range inFlight {
		switch task.Status {
		case store.TaskAssigned:
			e.logger.Warn("orchestrator: failing task stuck before launch", "task", task.ID)
			e.forceFail(ctx, task, fmt.Errorf("process restarted before setup completed"))

		case store.TaskRunning:
			vm, err := e.liveVM(ctx, task.VMID)
			if err != nil {
				e.logger.Warn("orchestrator: failing task with no live vm", "task", task.ID, "vm", task.VMID, "error", err)
				e.forceFail(ctx, task, fmt.Errorf("vm %s is no longer available: %w", task.VMID, err))
				continue
			}
			e.logger.Info("orchestrator: resuming poll and collect", "task", task.ID, "vm", vm.ID)
			go e.resume(task, vm)
			resumed++

		default:
			e.logger.Warn("orchestrator: in-flight task with unexpected status", "task", task.ID, "status", task.Status)
		}
	}
	return resumed, nil
}

// liveVM looks up a task's bound VM and rejects it if the VM is
// missing or in a terminal/unusable state — the condition under which
// recovery must force-fail rather than resume.
func (e *Executor) liveVM(ctx context.Context, vmID string) (store.VM, error) {
	if vmID == "" {
		return store.VM{}, fmt.Errorf("no vm recorded")
	}
	vm, err := e.pool.GetVM(ctx, vmID)
	if err != nil {
		return store.VM{}, err
	}
	if vm.Status == store.VMDestroyed || vm.Status == store.VMError {
		return store.VM{}, fmt.Errorf("vm is %s", vm.Status)
	}
	return vm, nil
}

// forceFail releases a task's VM, if any, and marks the task failed
// without attempting to run or resume it. Used by Recover's two
// no-resume branches.
func (e *Executor) forceFail(ctx context.Context, task store.Task, cause error) {
	if task.VMID != "" {
		if err := e.pool.ReleaseVM(ctx, task.VMID); err != nil {
			e.logger.Warn("orchestrator: releasing vm on forced failure", "task", task.ID, "vm", task.VMID, "error", err)
		}
	}
	if err := e.tasks.Fail(ctx, task.ID, store.FinishResult{Result: cause.Error(), ExitCode: 1}); err != nil {
		e.logger.Error("orchestrator: marking task failed during recovery", "task", task.ID, "error", err)
	}
}

// executionResult carries what collect produced, for finish to turn
// into a FinishResult.
type executionResult struct {
	ExitCode  int
	DiffStat  string
	PlanTitle string
	Branch    string
	PRUrl     string
}

// execute runs a freshly created or pending task through the full
// setup → launch → poll → collect pipeline and records the outcome.
func (e *Executor) execute(ctx context.Context, task store.Task) {
	logWriter, eventWriter, err := e.openWriters(task.ID)
	if err != nil {
		return
	}
	emit(eventWriter, tasklog.TaskEvent{Type: tasklog.EventTaskStart, RepoURL: task.RepoURL, Context: task.Context, Agent: e.agent.Command})

	result, failErr := e.run(ctx, task, logWriter, eventWriter)
	e.finish(ctx, task, result, failErr, logWriter, eventWriter)
}

// resume continues a task recovered mid-run: setup already completed
// before the crash, so this jumps straight to polling the agent and
// collecting its result over a freshly dialed SSH connection. The log
// and event files are opened in append mode, so output from before
// the crash is preserved and no second task_start is emitted.
func (e *Executor) resume(task store.Task, vm store.VM) {
	ctx := context.Background()
	logWriter, eventWriter, err := e.openWriters(task.ID)
	if err != nil {
		return
	}

	client, err := wrapper.WaitForSSH(ctx, vm.IP, sshPortOf(vm), e.sshUser, e.sshSigner)
	if err != nil {
		e.finish(ctx, task, executionResult{}, fmt.Errorf("redialing vm after recovery: %w", err), logWriter, eventWriter)
		return
	}
	defer client.Close()
	defer func() {
		if err := e.pool.ReleaseVM(context.Background(), vm.ID); err != nil {
			e.logger.Error("orchestrator: releasing vm", "task", task.ID, "vm", vm.ID, "error", err)
		}
	}()

	repoName, err := gitutil.RepoName(task.RepoURL)
	if err != nil {
		e.finish(ctx, task, executionResult{}, fmt.Errorf("deriving repo name: %w", err), logWriter, eventWriter)
		return
	}
	workDir := "/workspace/" + repoName

	emit(eventWriter, tasklog.TaskEvent{Type: tasklog.EventPhase, Name: tasklog.PhaseAgentRun})
	result, failErr := e.pollAndCollect(ctx, task, client, workDir, task.Branch, logWriter, eventWriter)
	e.finish(ctx, task, result, failErr, logWriter, eventWriter)
}

// openWriters opens a task's log and event files, logging (and
// returning a non-nil error) if either fails — there is no useful
// recovery from a task whose result can't be recorded.
func (e *Executor) openWriters(taskID string) (*tasklog.LogWriter, *tasklog.EventWriter, error) {
	logWriter, err := tasklog.OpenLogWriter(e.logsDir, taskID)
	if err != nil {
		e.logger.Error("orchestrator: opening log writer", "task", taskID, "error", err)
		return nil, nil, err
	}
	eventWriter, err := tasklog.OpenEventWriter(e.eventsDir, taskID)
	if err != nil {
		e.logger.Error("orchestrator: opening event writer", "task", taskID, "error", err)
		return nil, nil, err
	}
	return logWriter, eventWriter, nil
}

// finish is the common tail of execute and resume: record the
// outcome on the task row, emit task_end, and finalize both writers
// with the sentinel exit code.
func (e *Executor) finish(ctx context.Context, task store.Task, result executionResult, failErr error, logWriter *tasklog.LogWriter, eventWriter *tasklog.EventWriter) {
	var exitCode *int
	status := tasklog.StatusCompleted
	if failErr != nil {
		status = tasklog.StatusFailed
		code := 1
		exitCode = &code
		if markErr := e.tasks.Fail(ctx, task.ID, store.FinishResult{Result: failErr.Error(), ExitCode: 1}); markErr != nil {
			e.logger.Error("orchestrator: marking task failed", "task", task.ID, "error", markErr)
		}
	} else {
		exitCode = &result.ExitCode
		finishResult := store.FinishResult{
			Result:   resultSummary(result),
			ExitCode: result.ExitCode,
			Branch:   result.Branch,
			PRUrl:    result.PRUrl,
		}
		if result.ExitCode != 0 {
			status = tasklog.StatusFailed
			if markErr := e.tasks.Fail(ctx, task.ID, finishResult); markErr != nil {
				e.logger.Error("orchestrator: marking task failed", "task", task.ID, "error", markErr)
			}
		} else if markErr := e.tasks.Complete(ctx, task.ID, finishResult); markErr != nil {
			e.logger.Error("orchestrator: marking task completed", "task", task.ID, "error", markErr)
		}
	}

	endEvent := tasklog.TaskEvent{Type: tasklog.EventTaskEnd, Status: status, ExitCode: exitCode}
	if failErr != nil {
		endEvent.Error = failErr.Error()
	} else {
		endEvent.PRUrl = result.PRUrl
	}
	emit(eventWriter, endEvent)

	finalExit := 1
	if exitCode != nil {
		finalExit = *exitCode
	}
	if _, err := logWriter.Finalize(finalExit); err != nil {
		e.logger.Error("orchestrator: finalizing log", "task", task.ID, "error", err)
	}
	if _, err := eventWriter.Finalize(); err != nil {
		e.logger.Error("orchestrator: finalizing events", "task", task.ID, "error", err)
	}
}

// run implements the full setup → launch → poll → collect pipeline
// for a task that has not yet acquired a VM.
func (e *Executor) run(ctx context.Context, task store.Task, logWriter *tasklog.LogWriter, eventWriter *tasklog.EventWriter) (executionResult, error) {
	vm, client, workDir, branchName, err := e.setup(ctx, task, eventWriter)
	if err != nil {
		return executionResult{}, err
	}
	defer client.Close()
	defer func() {
		if err := e.pool.ReleaseVM(context.Background(), vm.ID); err != nil {
			e.logger.Error("orchestrator: releasing vm", "task", task.ID, "vm", vm.ID, "error", err)
		}
	}()

	return e.pollAndCollect(ctx, task, client, workDir, branchName, logWriter, eventWriter)
}

// setup acquires a VM, runs the wrapper protocol's setup and launch
// phases against it over SSH, and marks the task running. The
// returned client is left open for the caller to poll with.
func (e *Executor) setup(ctx context.Context, task store.Task, eventWriter *tasklog.EventWriter) (vm store.VM, client *remoteshell.Client, workDir, branchName string, err error) {
	emit(eventWriter, tasklog.TaskEvent{Type: tasklog.EventPhase, Name: tasklog.PhaseVMAcquire})
	vm, err = e.pool.AcquireVM(ctx, task.ID, defaultVMWaitTimeout)
	if err != nil {
		return store.VM{}, nil, "", "", fmt.Errorf("acquiring vm: %w", err)
	}
	released := false
	releaseOnError := func() {
		if !released {
			if releaseErr := e.pool.ReleaseVM(context.Background(), vm.ID); releaseErr != nil {
				e.logger.Error("orchestrator: releasing vm after setup failure", "task", task.ID, "vm", vm.ID, "error", releaseErr)
			}
			released = true
		}
	}

	if err = e.tasks.AssignVM(ctx, task.ID, vm.ID); err != nil {
		releaseOnError()
		return store.VM{}, nil, "", "", fmt.Errorf("recording vm assignment: %w", err)
	}
	emit(eventWriter, tasklog.TaskEvent{Type: tasklog.EventVMAcquired, VMID: vm.ID, Provider: vm.Provider, IP: vm.IP})

	emit(eventWriter, tasklog.TaskEvent{Type: tasklog.EventPhase, Name: tasklog.PhaseSSHWait})
	client, err = wrapper.WaitForSSH(ctx, vm.IP, sshPortOf(vm), e.sshUser, e.sshSigner)
	if err != nil {
		releaseOnError()
		return store.VM{}, nil, "", "", fmt.Errorf("waiting for ssh: %w", err)
	}
	closeOnError := func() {
		client.Close()
		releaseOnError()
	}

	repoName, err := gitutil.RepoName(task.RepoURL)
	if err != nil {
		closeOnError()
		return store.VM{}, nil, "", "", fmt.Errorf("deriving repo name: %w", err)
	}
	workDir = "/workspace/" + repoName

	githubToken, _ := e.credentials.Get("GITHUB_TOKEN")

	emit(eventWriter, tasklog.TaskEvent{Type: tasklog.EventPhase, Name: tasklog.PhaseClone})
	if err = wrapper.Clone(ctx, client, wrapper.CloneConfig{RepoURL: task.RepoURL, GitHubToken: githubToken, WorkDir: workDir}); err != nil {
		closeOnError()
		return store.VM{}, nil, "", "", fmt.Errorf("cloning repository: %w", err)
	}

	emit(eventWriter, tasklog.TaskEvent{Type: tasklog.EventPhase, Name: tasklog.PhaseAgentInstall})
	if err = wrapper.RunInstallScript(ctx, client, workDir, e.agent.InstallScript); err != nil {
		closeOnError()
		return store.VM{}, nil, "", "", fmt.Errorf("running install script: %w", err)
	}

	branchName = fmt.Sprintf("hal/%s", ids.Short(task.ID))
	emit(eventWriter, tasklog.TaskEvent{Type: tasklog.EventPhase, Name: tasklog.PhaseBranchSetup})
	if _, err = wrapper.SetupBranch(ctx, client, workDir, branchName, e.gitUserName, e.gitUserEmail); err != nil {
		closeOnError()
		return store.VM{}, nil, "", "", fmt.Errorf("setting up branch: %w", err)
	}
	if err = e.tasks.SetBranch(ctx, task.ID, branchName); err != nil {
		closeOnError()
		return store.VM{}, nil, "", "", fmt.Errorf("recording branch: %w", err)
	}

	credentials := make(map[string]string, len(credentialKeys))
	for _, key := range credentialKeys {
		if value, ok := e.credentials.Get(key); ok {
			credentials[key] = value
		}
	}
	pushURL, err := gitutil.WithToken(task.RepoURL, githubToken)
	if err != nil {
		closeOnError()
		return store.VM{}, nil, "", "", fmt.Errorf("building push url: %w", err)
	}

	script, err := wrapper.Render(wrapper.Params{
		WorkDir:        workDir,
		Branch:         branchName,
		PushURL:        pushURL,
		GitUserName:    e.gitUserName,
		GitUserEmail:   e.gitUserEmail,
		AgentCommand:   e.agent.Command,
		PlanFirst:      e.agent.PlanFirst,
		PlanContext:    task.Context,
		ExecuteContext: task.Context,
		NoPR:           e.agent.NoPR,
		Credentials:    credentials,
	})
	if err != nil {
		closeOnError()
		return store.VM{}, nil, "", "", fmt.Errorf("rendering wrapper script: %w", err)
	}

	emit(eventWriter, tasklog.TaskEvent{Type: tasklog.EventPhase, Name: tasklog.PhaseAgentLaunch})
	if err = wrapper.UploadAndLaunch(ctx, client, workDir, script, credentials); err != nil {
		closeOnError()
		return store.VM{}, nil, "", "", fmt.Errorf("launching wrapper: %w", err)
	}
	if err = e.tasks.MarkRunning(ctx, task.ID); err != nil {
		closeOnError()
		return store.VM{}, nil, "", "", fmt.Errorf("marking task running: %w", err)
	}

	return vm, client, workDir, branchName, nil
}

// pollAndCollect drives the wrapper protocol's poll and collect
// phases against an already-launched agent and persists whatever
// artifacts it produced. Shared by a fresh run and a recovered one —
// neither acquires anything here, so both can call it the same way.
func (e *Executor) pollAndCollect(ctx context.Context, task store.Task, client *remoteshell.Client, workDir, branchName string, logWriter *tasklog.LogWriter, eventWriter *tasklog.EventWriter) (executionResult, error) {
	emit(eventWriter, tasklog.TaskEvent{Type: tasklog.EventPhase, Name: tasklog.PhaseAgentRun})
	_, _, err := wrapper.Poll(ctx, client, e.clock, workDir, 0, e.agentTimeout, wrapper.PollCallbacks{
		OnOutput: func(chunk []byte) {
			if len(chunk) == 0 {
				return
			}
			if err := logWriter.Append(string(chunk)); err != nil {
				e.logger.Error("orchestrator: appending log", "task", task.ID, "error", err)
			}
			emit(eventWriter, tasklog.TaskEvent{Type: tasklog.EventOutput, Stream: tasklog.StreamStdout, Text: string(chunk)})
		},
		OnHeartbeat: func() {
			if err := e.tasks.Heartbeat(ctx, task.ID); err != nil {
				e.logger.Warn("orchestrator: heartbeat", "task", task.ID, "error", err)
			}
		},
	})
	if err != nil {
		return executionResult{}, fmt.Errorf("polling: %w", err)
	}

	collected, err := wrapper.Collect(ctx, client, workDir)
	if err != nil {
		return executionResult{}, fmt.Errorf("collecting results: %w", err)
	}

	if len(collected.PlanMD) > 0 {
		if _, err := e.artifacts.Put(task.ID, "plan.md", collected.PlanMD); err != nil {
			e.logger.Warn("orchestrator: storing plan.md", "task", task.ID, "error", err)
		}
	}
	if len(collected.DiffPatch) > 0 {
		if _, err := e.artifacts.Put(task.ID, "diff.patch", collected.DiffPatch); err != nil {
			e.logger.Warn("orchestrator: storing diff.patch", "task", task.ID, "error", err)
		}
	}
	if collected.DiffStat != "" {
		if _, err := e.artifacts.Put(task.ID, "diff-stat.txt", []byte(collected.DiffStat)); err != nil {
			e.logger.Warn("orchestrator: storing diff-stat.txt", "task", task.ID, "error", err)
		}
	}

	return executionResult{
		ExitCode:  collected.ExitCode,
		DiffStat:  collected.DiffStat,
		PlanTitle: collected.PlanTitle,
		Branch:    branchName,
		PRUrl:     collected.PRUrl,
	}, nil
}

// resultSummary prefixes a completed task's diff-stat line with its
// plan title, when the agent produced one, so the stored result reads
// as "add retry backoff: 3 files changed" instead of a bare diffstat.
func resultSummary(result executionResult) string {
	if result.PlanTitle == "" {
		return result.DiffStat
	}
	return fmt.Sprintf("%s: %s", result.PlanTitle, result.DiffStat)
}

// sshPortOf returns a VM's recorded SSH port, falling back to 22 when
// the provider left it unset.
func sshPortOf(vm store.VM) int {
	if vm.SSHPort == 0 {
		return 22
	}
	return vm.SSHPort
}

// emit logs an event-writer failure instead of propagating it: the
// event stream is a diagnostic side channel, not something a task
// should fail over.
func emit(w *tasklog.EventWriter, event tasklog.TaskEvent) {
	if err := w.Emit(event); err != nil {
		slog.Default().Warn("orchestrator: emitting event", "error", err)
	}
}
