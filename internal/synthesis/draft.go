package synthesis

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/p-blackswan/project-analyzer/internal/event"
)

// DefaultDraftMaxChars bounds the composed draft.
const DefaultDraftMaxChars = 300

type stackRule struct {
	suffixes []string
	label    string
}

// stackRules are checked in order; the first whose suffix matches any
// result path names the stack.
var stackRules = []stackRule{
	{[]string{"setup.py", "pyproject.toml"}, "Python package"},
	{[]string{"package.json"}, "Node.js project"},
	{[]string{"dockerfile"}, "Containerized service"},
	{[]string{"go.mod"}, "Go module"},
	{[]string{"pom.xml"}, "Java Maven project"},
	{[]string{"cargo.toml"}, "Rust crate"},
}

const unknownStack = "Unknown or mixed-language project"

// GuessStack infers a project type from file names.
func GuessStack(results []event.FileAnalysisResult) string {
	for _, rule := range stackRules {
		if anySuffix(results, rule.suffixes...) {
			return rule.label
		}
	}
	return unknownStack
}

// DominantKind returns the most frequent kind and its count. Ties go to the
// kind seen first. With no results it returns unknown and 0.
func DominantKind(results []event.FileAnalysisResult) (event.Kind, int) {
	counts := make(map[event.Kind]int)
	var order []event.Kind
	for _, r := range results {
		if counts[r.Kind] == 0 {
			order = append(order, r.Kind)
		}
		counts[r.Kind]++
	}
	best, bestN := event.KindUnknown, 0
	for _, k := range order {
		if counts[k] > bestN {
			best, bestN = k, counts[k]
		}
	}
	return best, bestN
}

// ReadmeLine returns the summary of the first top-level README analysed as
// text, normalized to end with a single period.
func ReadmeLine(results []event.FileAnalysisResult) (string, bool) {
	for _, r := range results {
		if strings.HasPrefix(strings.ToLower(r.RelPath), "readme") && r.Kind == event.KindText {
			return strings.TrimRight(r.Summary, ".") + ".", true
		}
	}
	return "", false
}

// Draft composes the heuristic project summary, truncated to maxChars runes.
func Draft(results []event.FileAnalysisResult, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultDraftMaxChars
	}

	var parts []string
	if line, ok := ReadmeLine(results); ok {
		parts = append(parts, line)
	}
	kind, n := DominantKind(results)
	parts = append(parts, fmt.Sprintf("The dominant file type is %s (count: %d).", kind, n))
	parts = append(parts, fmt.Sprintf("Inferred tech stack: %s.", GuessStack(results)))

	if anySuffix(results, "dockerfile") {
		parts = append(parts, "Presence of a Dockerfile suggests containerized deployment.")
	}
	if anySuffix(results, "setup.py", "pyproject.toml") {
		parts = append(parts, "Packaging metadata indicates a Python package.")
	}
	if anySuffix(results, "package.json") {
		parts = append(parts, "Including 'package.json' reveals a Node.js component.")
	}

	draft := strings.Join(parts, " ")
	if utf8.RuneCountInString(draft) > maxChars {
		draft = strings.TrimRight(string([]rune(draft)[:maxChars-1]), " \t\n") + "…"
	}
	return draft
}

func anySuffix(results []event.FileAnalysisResult, suffixes ...string) bool {
	for _, r := range results {
		p := strings.ToLower(r.RelPath)
		for _, s := range suffixes {
			if strings.HasSuffix(p, s) {
				return true
			}
		}
	}
	return false
}
