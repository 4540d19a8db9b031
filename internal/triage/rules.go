// Package triage decides which discovered files get analyzed and in what order.
package triage

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/project-analyzer/internal/content"
)

// Rule matches a file by stem or extension. Stems and extensions are
// compared case-insensitively; extensions include the leading dot.
type Rule struct {
	Name       string   `yaml:"name"`
	Score      int      `yaml:"score"`
	Stems      []string `yaml:"stems,omitempty"`
	Extensions []string `yaml:"extensions,omitempty"`
}

// Rules is the serializable rule table. Rules are evaluated top-down and the
// first match wins; DefaultScore applies when nothing matches.
type Rules struct {
	Rules          []Rule   `yaml:"rules"`
	DefaultScore   int      `yaml:"default_score"`
	SkipExtensions []string `yaml:"skip_extensions"`
}

// DefaultRules returns the built-in table.
func DefaultRules() Rules {
	return Rules{
		Rules: []Rule{
			{
				Name:  "high-signal",
				Score: 100,
				Stems: []string{
					"readme", "license", "setup", "pyproject", "package", "requirements",
					"dockerfile", "compose", "makefile", "main", "app",
				},
			},
			{
				Name:       "source-config",
				Score:      80,
				Extensions: []string{".py", ".js", ".json", ".yml", ".yaml", ".toml", ".sh"},
			},
			{
				Name:       "docs",
				Score:      70,
				Extensions: []string{".md", ".rst", ".txt"},
			},
		},
		DefaultScore: 10,
		SkipExtensions: []string{
			// images
			".png", ".jpg", ".jpeg", ".gif", ".bmp", ".ico", ".webp", ".tif", ".tiff", ".psd",
			// fonts
			".woff", ".woff2", ".ttf", ".otf", ".eot",
			// archives
			".zip", ".tar", ".gz", ".tgz", ".bz2", ".xz", ".7z", ".rar", ".jar", ".war",
			// media
			".mp3", ".mp4", ".wav", ".flac", ".ogg", ".avi", ".mov", ".mkv", ".webm",
			// documents and binaries
			".pdf", ".exe", ".dll", ".so", ".dylib", ".a", ".o", ".bin", ".wasm",
			".pyc", ".pyo", ".class", ".db", ".sqlite", ".sqlite3", ".pkl", ".npy",
		},
	}
}

// LoadRules reads a YAML rule table. Unknown fields are rejected.
func LoadRules(p string) (Rules, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return Rules{}, fmt.Errorf("reading triage rules: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var r Rules
	if err := dec.Decode(&r); err != nil {
		return Rules{}, fmt.Errorf("parsing triage rules %s: %w", p, err)
	}
	if len(r.Rules) == 0 {
		return Rules{}, fmt.Errorf("triage rules %s: no rules defined", p)
	}
	return r, nil
}

// Table is a compiled Rules value. It is read-only and safe for concurrent use.
type Table struct {
	rules []compiledRule
	def   int
	skip  map[string]bool
}

type compiledRule struct {
	name  string
	score int
	stems map[string]bool
	exts  map[string]bool
}

// Compile normalizes and indexes the table.
func (r Rules) Compile() (*Table, error) {
	t := &Table{def: r.DefaultScore, skip: make(map[string]bool, len(r.SkipExtensions))}
	for i, rule := range r.Rules {
		if len(rule.Stems) == 0 && len(rule.Extensions) == 0 {
			return nil, fmt.Errorf("rule %d (%s): needs stems or extensions", i, rule.Name)
		}
		cr := compiledRule{
			name:  rule.Name,
			score: rule.Score,
			stems: make(map[string]bool, len(rule.Stems)),
			exts:  make(map[string]bool, len(rule.Extensions)),
		}
		for _, s := range rule.Stems {
			cr.stems[strings.ToLower(s)] = true
		}
		for _, e := range rule.Extensions {
			cr.exts[normalizeExt(e)] = true
		}
		t.rules = append(t.rules, cr)
	}
	for _, e := range r.SkipExtensions {
		t.skip[normalizeExt(e)] = true
	}
	return t, nil
}

// Score is a pure function of the file name: no I/O.
func (t *Table) Score(relPath string) int {
	stem, ext := content.SplitName(path.Base(relPath))
	for _, r := range t.rules {
		if r.stems[stem] || (ext != "" && r.exts[ext]) {
			return r.score
		}
	}
	return t.def
}

// SkipExtension reports whether relPath has a known non-text extension.
func (t *Table) SkipExtension(relPath string) (string, bool) {
	_, ext := content.SplitName(path.Base(relPath))
	return ext, ext != "" && t.skip[ext]
}

func normalizeExt(e string) string {
	e = strings.ToLower(strings.TrimSpace(e))
	if e != "" && !strings.HasPrefix(e, ".") {
		e = "." + e
	}
	return e
}
