// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wrapper

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// planSummary walks plan.md's markdown AST and returns the text of
// its first heading, for a one-line result summary an operator can
// read without opening the full plan. Returns "" if the document has
// no heading (plain prose, or empty).
func planSummary(planMD []byte) string {
	if len(planMD) == 0 {
		return ""
	}

	reader := text.NewReader(planMD)
	doc := goldmark.New().Parser().Parse(reader)

	var heading string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		heading = strings.TrimSpace(string(h.Text(planMD)))
		return ast.WalkStop, nil
	})
	return heading
}
