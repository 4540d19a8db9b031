package main

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/project-analyzer/internal/event"
	"github.com/p-blackswan/project-analyzer/internal/pipeline"
)

func testEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("POLISH_MODEL", "none")
	t.Setenv("WORK_ROOT", t.TempDir())
	t.Setenv("TRIAGE_RULES_PATH", "")
}

func writeArchive(t *testing.T, files map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "project.zip")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

var sampleProject = map[string]string{
	"README.md":   "# Sample\n\nDoes sample things.\n",
	"pkg/util.py": "import os\n\ndef helper():\n    return os.sep\n",
}

func TestAnalyze_JSON(t *testing.T) {
	testEnv(t)
	out, err := execute(t, "analyze", "--json", writeArchive(t, sampleProject))
	require.NoError(t, err)

	var art pipeline.Artifacts
	require.NoError(t, json.Unmarshal([]byte(out), &art))
	require.Len(t, art.FileSummaries, 2)
	assert.Equal(t, "README.md", art.FileSummaries[0].RelPath)
	assert.Equal(t, event.KindPython, art.FileSummaries[1].Kind)
	assert.Contains(t, art.TreeText, "pkg/")
	assert.Contains(t, art.ProjectSummary, "Sample")
	assert.False(t, art.Polished)
}

func TestAnalyze_PolishUsesConfiguredSampling(t *testing.T) {
	type request struct {
		Model       string  `json:"model"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float64 `json:"temperature"`
	}
	requests := make(chan request, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body request
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			requests <- body
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"granite",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Polished overview."}}],
			"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`))
	}))
	defer srv.Close()

	testEnv(t)
	t.Setenv("POLISH_MODEL", "compat/granite")
	t.Setenv("OPENAI_BASE_URL", srv.URL)
	t.Setenv("POLISH_MAX_TOKENS", "77")
	t.Setenv("POLISH_TEMPERATURE", "0.05")

	out, err := execute(t, "analyze", "--json", writeArchive(t, sampleProject))
	require.NoError(t, err)

	var art pipeline.Artifacts
	require.NoError(t, json.Unmarshal([]byte(out), &art))
	assert.True(t, art.Polished)
	assert.Equal(t, "Polished overview.", art.ProjectSummary)

	require.Len(t, requests, 1)
	got := <-requests
	assert.Equal(t, "granite", got.Model)
	assert.Equal(t, 77, got.MaxTokens)
	assert.InDelta(t, 0.05, got.Temperature, 1e-9)
}

func TestAnalyze_TextReport(t *testing.T) {
	testEnv(t)
	out, err := execute(t, "analyze", writeArchive(t, sampleProject))
	require.NoError(t, err)

	assert.Contains(t, out, "Project tree")
	assert.Contains(t, out, "Files (2 analysed)")
	assert.Contains(t, out, "pkg/util.py")
	assert.Contains(t, out, "(draft, not polished)")
	assert.NotContains(t, out, "\x1b[", "no colour when writing to a buffer")
}

func TestAnalyze_RejectsInvalidArchive(t *testing.T) {
	testEnv(t)
	p := filepath.Join(t.TempDir(), "bogus.zip")
	require.NoError(t, os.WriteFile(p, []byte("plain text"), 0o644))

	_, err := execute(t, "analyze", p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive rejected")
	assert.Contains(t, err.Error(), "Not a ZIP archive")
}

func TestAnalyze_RequiresOneArgument(t *testing.T) {
	testEnv(t)
	_, err := execute(t, "analyze")
	assert.Error(t, err)
}

func TestAnalyze_BadRulesPath(t *testing.T) {
	testEnv(t)
	t.Setenv("TRIAGE_RULES_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := execute(t, "analyze", writeArchive(t, sampleProject))
	assert.Error(t, err)
}

func TestRenderReport_Color(t *testing.T) {
	art := &pipeline.Artifacts{
		TreeText: "proj/\n├── src/\n│   └── a.py\n└── README.md\n",
		FileSummaries: []event.FileAnalysisResult{
			{RelPath: "README.md", Kind: event.KindText, Summary: strings.Repeat("word ", 40), Lines: 3, SizeBytes: 2048},
		},
		ProjectSummary: "A project.",
		Polished:       true,
	}

	var plain bytes.Buffer
	require.NoError(t, renderReport(&plain, art, false))
	assert.Contains(t, plain.String(), "2.0 kB")
	assert.Contains(t, plain.String(), "...")
	assert.NotContains(t, plain.String(), "(draft, not polished)")
	assert.NotContains(t, plain.String(), "\x1b[")

	var colored bytes.Buffer
	require.NoError(t, renderReport(&colored, art, true))
	assert.Contains(t, colored.String(), "\x1b[34m├── src/\x1b[0m")
	assert.Contains(t, colored.String(), "\x1b[1mProject summary")
	assert.NotContains(t, colored.String(), "\x1b[34m│   └── a.py", "files stay unstyled")
}
