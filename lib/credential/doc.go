// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential implements the credential oracle described by
// the orchestrator's wrapper protocol: a single Get(key) call that
// resolves ANTHROPIC_API_KEY, CLAUDE_CODE_OAUTH_TOKEN, OPENAI_API_KEY,
// GITHUB_TOKEN, DO_API_TOKEN, git-credentials, and HAL_SSH_KEY_ID.
//
// The core and the wrapper protocol treat the oracle as opaque; they
// never know or care whether a value came from the environment or the
// store. Precedence (environment wins) is a property of this package.
//
// The persistent half of the oracle is a single age-encrypted JSON
// file on disk (lib/sealed wraps filippo.io/age), decrypted into
// lib/secret.Buffer-backed memory so plaintext values are locked
// against swap and zeroed as soon as they are no longer needed.
package credential
