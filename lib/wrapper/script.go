// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wrapper

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/hal9999/orchestrator/lib/gitutil"
)

// credsStartMarker and credsEndMarker bound the credential heredoc in
// a rendered script. Redacted locates them by exact string match, so
// changing the heredoc delimiter in scriptTemplate must update these
// too.
const (
	credsStartMarker = "cat > .hal/env.secrets <<'HAL9999_CREDS_EOF'\n"
	credsEndMarker   = "HAL9999_CREDS_EOF\n"
)

// Params is the full tuple a wrapper script is rendered from. Two
// Params with identical field values render byte-identical scripts
// (the round-trip law the task lifecycle depends on for recovery after
// a crash between render and upload).
type Params struct {
	WorkDir      string // e.g. /workspace/myrepo
	Branch       string
	PushURL      string // origin URL, credential embedded if applicable
	GitUserName  string
	GitUserEmail string

	AgentCommand string // shell command invoking the agent, reads its context from $1
	PlanFirst    bool
	PlanContext    string // only used when PlanFirst
	ExecuteContext string

	NoPR bool

	// Credentials are exported as shell variables inside the
	// heredoc-sourced-then-deleted secrets file. Keys are env var
	// names (ANTHROPIC_API_KEY, CLAUDE_CODE_OAUTH_TOKEN,
	// OPENAI_API_KEY, GITHUB_TOKEN, DO_API_TOKEN); empty values are
	// omitted entirely rather than exported empty.
	Credentials map[string]string
}

// scriptTemplate is the wrapper script laid out at /workspace/.hal/run.sh.
// strict mode (set -e) is deliberately never turned on for the
// cleanup tail: the done sentinel must be written even when the agent,
// the commit, or the push failed.
const scriptTemplate = `#!/bin/bash
set -uo pipefail
cd {{.WorkDir | shQuote}}
export PATH="$PATH"
mkdir -p .hal/result

cat > .hal/env.secrets <<'HAL9999_CREDS_EOF'
{{range $k, $v := .SortedCredentials}}export {{$v.Key}}={{$v.Value | shQuote}}
{{end}}HAL9999_CREDS_EOF
chmod 600 .hal/env.secrets
source .hal/env.secrets
rm -f .hal/env.secrets

run_agent() {
	local context_file="$1"
	{{.AgentCommand}} </dev/null >>.hal/output.log 2>&1
}

EXIT_CODE=0
{{if .PlanFirst -}}
cat > .hal/plan-context.txt <<'HAL9999_CTX_EOF'
{{.PlanContext}}
HAL9999_CTX_EOF
run_agent .hal/plan-context.txt
if [ -f .hal/plan.md ]; then
	git checkout -- . >/dev/null 2>&1 || true
	git clean -fd >/dev/null 2>&1 || true
else
	echo "hal9999: plan.md not produced, falling back to single-shot run" >>.hal/output.log
fi
{{end -}}
cat > .hal/execute-context.txt <<'HAL9999_CTX_EOF'
{{.ExecuteContext}}
HAL9999_CTX_EOF
run_agent .hal/execute-context.txt
EXIT_CODE=$?

git config user.name {{.GitUserName | shQuote}}
git config user.email {{.GitUserEmail | shQuote}}

if [ -n "$(git status --porcelain 2>/dev/null)" ]; then
	git add -A
	git commit -m {{.CommitMessage | shQuote}} >/dev/null 2>&1 || true
fi
git push {{.PushURL | shQuote}} {{.Branch | shQuote}} >/dev/null 2>&1 || true

{{if not .NoPR -}}
if command -v gh >/dev/null 2>&1; then
	gh pr view --json url -q .url >.hal/result/pr-url.txt 2>/dev/null || true
fi
{{end -}}
git diff --stat HEAD 2>/dev/null | head -n 20 >.hal/result/diff-stat.txt || true
git diff HEAD >.hal/result/diff.patch 2>/dev/null || true

echo "$EXIT_CODE" >.hal/done
`

// credential is one sorted (name, value) pair for deterministic
// rendering — map iteration order is not stable, and R2 (byte-identical
// scripts from identical params) depends on it.
type credential struct {
	Key   string
	Value string
}

// renderParams augments Params with template-only derived fields.
type renderParams struct {
	Params
	CommitMessage     string
	SortedCredentials []credential
}

var scriptFuncs = template.FuncMap{
	"shQuote": shQuote,
}

var compiledTemplate = template.Must(template.New("run.sh").Funcs(scriptFuncs).Parse(scriptTemplate))

// shQuote wraps s in single quotes, escaping any embedded single
// quote the POSIX-portable way: close the quote, emit an escaped
// quote, reopen.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Render produces the wrapper script for params. Identical params
// always produce identical output: Credentials is sorted by key
// before it reaches the template, and no field is derived from
// wall-clock time or randomness.
func Render(params Params) (string, error) {
	sorted := make([]credential, 0, len(params.Credentials))
	for k, v := range params.Credentials {
		if v == "" {
			continue
		}
		sorted = append(sorted, credential{Key: k, Value: v})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	rp := renderParams{
		Params:            params,
		CommitMessage:     fmt.Sprintf("hal9999: agent changes for %s", params.Branch),
		SortedCredentials: sorted,
	}

	var buf bytes.Buffer
	if err := compiledTemplate.Execute(&buf, rp); err != nil {
		return "", fmt.Errorf("wrapper: rendering script: %w", err)
	}
	return buf.String(), nil
}

// Redacted returns script with the credential heredoc body blanked
// and every known credential value scrubbed from the rest of the
// script (the push URL, in particular, may carry a token embedded by
// gitutil.WithToken). Used for any on-disk or logged copy of the
// script kept outside the single in-memory buffer that gets piped
// over SSH — the transported copy is never redacted, since the VM
// needs the real values to run.
func Redacted(script string, credentials map[string]string) string {
	start := strings.Index(script, credsStartMarker)
	if start >= 0 {
		bodyStart := start + len(credsStartMarker)
		end := strings.Index(script[bodyStart:], credsEndMarker)
		if end >= 0 {
			script = script[:bodyStart] + "[REDACTED]\n" + script[bodyStart+end:]
		}
	}
	for _, v := range credentials {
		script = gitutil.ScrubToken(script, v)
	}
	return script
}
