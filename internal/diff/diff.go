// Package diff renders unified diffs between two encoded manifests (or any
// other text). It uses github.com/pmezard/go-difflib/difflib to produce
// classic unified patches (---/+++ headers, @@ hunks, lines prefixed with
// ' ', '-', '+').
package diff

import (
	"fmt"
	"strings"

	difflib "github.com/pmezard/go-difflib/difflib"

	"asset-sync/internal/manifest"
)

// Options controls patch generation behavior.
type Options struct {
	// MaxBytes is a guardrail on input size (old+new). When exceeded,
	// a minimal placeholder patch is returned and oversize=true.
	// 0 means "no limit".
	MaxBytes int

	// Context controls the number of context lines in unified hunks.
	// If 0, default to 3.
	Context int
}

// Unified produces a unified patch for a↦b. It returns the patch body
// ("" when the inputs are equal) and a flag indicating it was omitted due
// to size.
func Unified(aName, bName string, a, b []byte, opt Options) (body string, oversize bool, err error) {
	if opt.MaxBytes > 0 && (len(a)+len(b)) > opt.MaxBytes {
		return omitted(aName, bName), true, nil
	}
	ctx := opt.Context
	if ctx <= 0 {
		ctx = 3
	}
	s, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLinesKeepNL(string(a)),
		B:        splitLinesKeepNL(string(b)),
		FromFile: aName,
		ToFile:   bName,
		Context:  ctx,
	})
	if err != nil {
		return "", false, err
	}
	return s, false, nil
}

// Manifests diffs the indented JSON forms of two manifests. A nil prev
// diffs against /dev/null.
func Manifests(prev, curr manifest.Manifest, opt Options) (string, bool, error) {
	aName := "a/manifest.json"
	var a []byte
	if prev == nil {
		aName = "/dev/null"
	} else {
		a = prev.EncodeIndent()
	}
	return Unified(aName, "b/manifest.json", a, curr.EncodeIndent(), opt)
}

// splitLinesKeepNL splits into lines and keeps newline characters,
// which produces better unified hunks.
func splitLinesKeepNL(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.SplitAfter(s, "\n")
}

// omitted returns a compact placeholder when size limits are exceeded.
func omitted(aName, bName string) string {
	return fmt.Sprintf("--- %s\n+++ %s\n@@\n# diff omitted (oversize)\n", aName, bName)
}
