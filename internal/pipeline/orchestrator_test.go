package pipeline

import (
	"archive/zip"
	"context"
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/project-analyzer/internal/archive"
	"github.com/p-blackswan/project-analyzer/internal/content"
	perrors "github.com/p-blackswan/project-analyzer/internal/errors"
	"github.com/p-blackswan/project-analyzer/internal/event"
	"github.com/p-blackswan/project-analyzer/internal/metrics"
	"github.com/p-blackswan/project-analyzer/internal/triage"
)

var pngHeader = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00"

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) observe(ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type()
	}
	return out
}

func (r *recorder) count(t event.Type) int {
	n := 0
	for _, got := range r.types() {
		if got == t {
			n++
		}
	}
	return n
}

type fakePolisher struct {
	out   string
	err   error
	calls int
}

func (f *fakePolisher) Polish(_ context.Context, _, draft string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.out == "" {
		return "Polished: " + draft, nil
	}
	return f.out, nil
}

func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "project.zip")
	f, err := os.Create(p)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return p
}

func testConfig(t *testing.T) Config {
	return Config{
		Limits:          archive.Limits{MaxArchiveBytes: 10 << 20, MaxMemberBytes: 1 << 20},
		WorkRoot:        t.TempDir(),
		DeleteWorkDir:   true,
		Triage:          triage.Options{SampleBytes: 1024, BinaryThreshold: 0.30, MaxFiles: 500},
		Content:         content.DefaultOptions(),
		DraftMaxChars:   300,
		AnalysisWorkers: 3,
	}
}

func threeFileArchive(t *testing.T) string {
	return writeZip(t, map[string]string{
		"README.md": "# Title\n\nSome words about the project.\n",
		"main.py":   "def run():\n    return 1\n",
		"logo.png":  pngHeader,
	})
}

func TestRun_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	m := metrics.New()
	o, err := New(cfg, nil, zerolog.Nop(), WithMetrics(m))
	require.NoError(t, err)

	rec := &recorder{}
	out, err := o.Run(context.Background(), threeFileArchive(t), rec.observe)
	require.NoError(t, err)

	require.Len(t, out.FileSummaries, 2)
	assert.Equal(t, "README.md", out.FileSummaries[0].RelPath)
	assert.Equal(t, event.KindText, out.FileSummaries[0].Kind)
	assert.Equal(t, "Title", out.FileSummaries[0].Summary)
	assert.Equal(t, "main.py", out.FileSummaries[1].RelPath)
	assert.Equal(t, event.KindPython, out.FileSummaries[1].Kind)

	for _, name := range []string{"README.md", "main.py", "logo.png"} {
		assert.Contains(t, out.TreeText, name)
	}

	assert.Contains(t, out.Draft, "Title")
	assert.Contains(t, out.Draft, "dominant file type is")
	assert.Equal(t, out.Draft, out.ProjectSummary)
	assert.False(t, out.Polished)
	assert.NotEmpty(t, out.RunID)

	types := rec.types()
	assert.Equal(t, event.TypeNewUpload, types[0])
	assert.Equal(t, event.TypeZipValid, types[1])
	assert.Equal(t, 3, rec.count(event.TypeFileDiscovered))
	assert.Equal(t, 1, rec.count(event.TypeFileSkipped))
	assert.Equal(t, 2, rec.count(event.TypeFileForAnalysis))
	assert.Equal(t, 2, rec.count(event.TypeFileAnalysed))
	assert.Equal(t, 1, rec.count(event.TypeTreeBuilt))
	assert.Equal(t, 1, rec.count(event.TypeProjectDraft))
	assert.Equal(t, event.TypeSummaryPolished, types[len(types)-1])

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(metrics.OutcomeCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilesTotal.WithLabelValues(metrics.FileSkipped, "")))
}

func TestRun_AnalysisCompleteFollowsLastFileAnalysed(t *testing.T) {
	o, err := New(testConfig(t), nil, zerolog.Nop())
	require.NoError(t, err)

	rec := &recorder{}
	_, err = o.Run(context.Background(), threeFileArchive(t), rec.observe)
	require.NoError(t, err)

	lastAnalysed, complete := -1, -1
	for i, typ := range rec.types() {
		switch typ {
		case event.TypeFileAnalysed:
			lastAnalysed = i
		case event.TypeAnalysisComplete:
			complete = i
		}
	}
	require.NotEqual(t, -1, complete)
	assert.Greater(t, complete, lastAnalysed)
}

func TestRun_PolishedSummary(t *testing.T) {
	p := &fakePolisher{out: "A tidy project."}
	o, err := New(testConfig(t), p, zerolog.Nop())
	require.NoError(t, err)

	out, err := o.Run(context.Background(), threeFileArchive(t), nil)
	require.NoError(t, err)
	assert.True(t, out.Polished)
	assert.Equal(t, "A tidy project.", out.ProjectSummary)
	assert.NotEqual(t, out.Draft, out.ProjectSummary)
	assert.Equal(t, 1, p.calls)
}

func TestRun_PolishFailureFallsBackToDraft(t *testing.T) {
	p := &fakePolisher{err: perrors.NewAPIError("openai", 500, "boom")}
	o, err := New(testConfig(t), p, zerolog.Nop())
	require.NoError(t, err)

	out, err := o.Run(context.Background(), threeFileArchive(t), nil)
	require.NoError(t, err)
	assert.False(t, out.Polished)
	assert.Equal(t, out.Draft, out.ProjectSummary)
}

func TestRun_CorruptArchiveStopsAfterZipInvalid(t *testing.T) {
	p := filepath.Join(t.TempDir(), "corrupt.zip")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.CreateRaw(&zip.FileHeader{
		Name:               "broken.txt",
		Method:             zip.Store,
		CRC32:              crc32.ChecksumIEEE([]byte("other")),
		CompressedSize64:   5,
		UncompressedSize64: 5,
	})
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	o, err := New(testConfig(t), nil, zerolog.Nop())
	require.NoError(t, err)

	rec := &recorder{}
	out, err := o.Run(context.Background(), p, rec.observe)
	assert.Nil(t, out)

	var vErr *perrors.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Contains(t, vErr.Reason, "broken.txt")

	types := rec.types()
	require.Len(t, types, 2)
	assert.Equal(t, event.TypeZipInvalid, types[1])
	invalid := rec.events[1].(event.ZipInvalid)
	assert.Contains(t, invalid.Reason, "broken.txt")
}

func TestRun_ZipSlipFailsFast(t *testing.T) {
	cfg := testConfig(t)
	o, err := New(cfg, nil, zerolog.Nop())
	require.NoError(t, err)

	archivePath := writeZip(t, map[string]string{
		"ok.txt":           "fine",
		"../../etc/passed": "owned",
	})

	rec := &recorder{}
	out, err := o.Run(context.Background(), archivePath, rec.observe)
	assert.Nil(t, out)

	var xErr *perrors.ExtractionError
	require.True(t, errors.As(err, &xErr))
	assert.Equal(t, "../../etc/passed", xErr.Member)
	assert.True(t, perrors.IsFatal(err))

	assert.Equal(t, 0, rec.count(event.TypeFileDiscovered))
	assert.Equal(t, 1, rec.count(event.TypeExtractionFailed))

	entries, err := os.ReadDir(cfg.WorkRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_RemovesWorkingDirectory(t *testing.T) {
	cfg := testConfig(t)
	o, err := New(cfg, nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = o.Run(context.Background(), threeFileArchive(t), nil)
	require.NoError(t, err)

	entries, err := os.ReadDir(cfg.WorkRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_KeepsWorkingDirectoryWhenConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.DeleteWorkDir = false
	o, err := New(cfg, nil, zerolog.Nop())
	require.NoError(t, err)

	out, err := o.Run(context.Background(), threeFileArchive(t), nil)
	require.NoError(t, err)

	entries, err := os.ReadDir(cfg.WorkRoot)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(out.TreeText, entries[0].Name()+"/"))
}

func TestRun_BudgetLimitsAnalysedFiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Triage.MaxFiles = 1
	o, err := New(cfg, nil, zerolog.Nop())
	require.NoError(t, err)

	rec := &recorder{}
	out, err := o.Run(context.Background(), writeZip(t, map[string]string{
		"README.md":    "# Demo\n",
		"notes.md":     "Notes.",
		"src/util.txt": "Utility text.",
	}), rec.observe)
	require.NoError(t, err)

	require.Len(t, out.FileSummaries, 1)
	assert.Equal(t, "README.md", out.FileSummaries[0].RelPath)
	assert.Equal(t, 2, rec.count(event.TypeFileSkipped))
	assert.Contains(t, out.TreeText, "src/")
}

func TestRun_DeterministicArtifacts(t *testing.T) {
	archivePath := writeZip(t, map[string]string{
		"README.md":       "# Demo\n",
		"setup.py":        "def setup():\n    pass\n",
		"pkg/config.json": `{"a":1,"b":2}`,
		"pkg/app.yaml":    "name: demo\nport: 80\n",
		"docs/guide.md":   "A guide. More text.",
	})

	var first *Artifacts
	for i := 0; i < 5; i++ {
		o, err := New(testConfig(t), nil, zerolog.Nop())
		require.NoError(t, err)
		out, err := o.Run(context.Background(), archivePath, nil)
		require.NoError(t, err)
		out.RunID = ""
		if first == nil {
			first = out
			continue
		}
		assert.Equal(t, first.FileSummaries, out.FileSummaries)
		assert.Equal(t, first.Draft, out.Draft)
	}
	assert.Contains(t, first.Draft, "Python package")
}

func TestRun_MissingArchive(t *testing.T) {
	o, err := New(testConfig(t), nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = o.Run(context.Background(), filepath.Join(t.TempDir(), "nope.zip"), nil)
	var vErr *perrors.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "File does not exist", vErr.Reason)
}
