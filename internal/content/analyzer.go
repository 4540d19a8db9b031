// Package content classifies a single file and produces a one-line summary.
//
// Format dispatch is a priority chain evaluated by extension: asset, JSON,
// YAML, Python, then generic text. A structured parser that fails hands the
// file to the next step instead of surfacing an error, so Analyze is total
// over arbitrary bytes.
package content

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	perrors "github.com/p-blackswan/project-analyzer/internal/errors"
	"github.com/p-blackswan/project-analyzer/internal/event"
)

const (
	maxListedKeys    = 5
	maxListedSymbols = 3

	AssetSummary      = "(binary skipped)"
	EmptySummary      = "(empty file)"
	UnreadableSummary = "(unreadable file)"
)

// structuredExts are parsed in full; other files are read up to ReadMaxBytes.
var structuredExts = map[string]bool{
	".json": true, ".yml": true, ".yaml": true, ".py": true,
}

// assetExts never have their content read.
var assetExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".pdf": true, ".mp4": true, ".ico": true,
}

var (
	headingRe     = regexp.MustCompile(`^#{1,6}\s+(.+)`)
	sentenceEndRe = regexp.MustCompile(`[.!?]\s`)
)

// Options bounds how much of a file is read and how long summaries get.
// ReadMaxBytes applies to files summarized as text. JSON, YAML and Python
// files are parsed whole; the extractor's per-member cap bounds their size.
type Options struct {
	ReadMaxBytes    int
	SentenceWindow  int
	SummaryMaxChars int
}

// DefaultOptions returns the stock bounds.
func DefaultOptions() Options {
	return Options{
		ReadMaxBytes:    64 * 1024,
		SentenceWindow:  160,
		SummaryMaxChars: 500,
	}
}

// Analyzer is stateless apart from its options and may be shared by workers.
type Analyzer struct {
	opts   Options
	logger zerolog.Logger
}

// New creates an Analyzer. Zero-valued options fall back to the defaults.
func New(opts Options, logger zerolog.Logger) *Analyzer {
	def := DefaultOptions()
	if opts.ReadMaxBytes <= 0 {
		opts.ReadMaxBytes = def.ReadMaxBytes
	}
	if opts.SentenceWindow <= 0 {
		opts.SentenceWindow = def.SentenceWindow
	}
	if opts.SummaryMaxChars <= 0 {
		opts.SummaryMaxChars = def.SummaryMaxChars
	}
	return &Analyzer{
		opts:   opts,
		logger: logger.With().Str("component", "content_analyzer").Logger(),
	}
}

// Analyze classifies f and always returns a result. The same file contents
// always produce the same result.
func (a *Analyzer) Analyze(f event.DiscoveredFile) event.FileAnalysisResult {
	_, ext := SplitName(path.Base(f.RelPath))
	res := event.FileAnalysisResult{RelPath: f.RelPath, Kind: event.KindText}

	if assetExts[ext] {
		if fi, err := os.Stat(f.AbsPath); err == nil {
			res.SizeBytes = fi.Size()
		}
		res.Kind, res.Summary = event.KindAsset, AssetSummary
		return res
	}

	limit := a.opts.ReadMaxBytes
	if structuredExts[ext] {
		limit = 0
	}
	data, size, lines, err := readWindow(f.AbsPath, limit)
	res.SizeBytes, res.Lines = size, lines
	if err != nil {
		a.logger.Warn().Err(&perrors.AnalysisError{Path: f.RelPath, Err: err}).Msg("read failed, using placeholder summary")
		res.Summary = UnreadableSummary
		return res
	}

	text := Decode(data, size > int64(len(data)))
	res.Kind, res.Summary = a.dispatch(f.RelPath, ext, text)
	res.Summary = capRunes(oneLine(res.Summary), a.opts.SummaryMaxChars)

	a.logger.Debug().Str("path", f.RelPath).Str("kind", string(res.Kind)).Msg("file analysed")
	return res
}

func (a *Analyzer) dispatch(rel, ext, text string) (event.Kind, string) {
	fallthroughTo := func(err error) {
		a.logger.Debug().Err(&perrors.AnalysisError{Path: rel, Err: err}).Msg("structured parse failed, using text summary")
	}

	switch ext {
	case ".json":
		s, err := summarizeJSON(text)
		if err == nil {
			return event.KindJSON, s
		}
		fallthroughTo(err)
	case ".yml", ".yaml":
		s, err := summarizeYAML(text)
		if err == nil {
			return event.KindYAML, s
		}
		fallthroughTo(err)
	case ".py":
		syms, err := scanPython(text)
		if err == nil {
			return event.KindPython, summarizePython(syms)
		}
		fallthroughTo(err)
	}
	if len(text) > a.opts.ReadMaxBytes {
		text = strings.ToValidUTF8(text[:a.opts.ReadMaxBytes], "")
	}
	return event.KindText, SummarizeText(text, a.opts.SentenceWindow)
}

func summarizeJSON(text string) (string, error) {
	if !gjson.Valid(text) {
		return "", fmt.Errorf("invalid JSON")
	}
	doc := gjson.Parse(text)
	switch {
	case doc.IsObject():
		var keys []string
		doc.ForEach(func(k, _ gjson.Result) bool {
			keys = append(keys, k.String())
			return len(keys) < maxListedKeys
		})
		return "JSON with keys: " + listOrNone(keys), nil
	case doc.IsArray():
		return fmt.Sprintf("JSON array with %d items", doc.Get("#").Int()), nil
	}
	return "", fmt.Errorf("top-level JSON %s has no keys", doc.Type)
}

func summarizeYAML(text string) (string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return "", err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return "", fmt.Errorf("top-level YAML is not a mapping")
	}
	m := doc.Content[0]
	var keys []string
	for i := 0; i+1 < len(m.Content) && len(keys) < maxListedKeys; i += 2 {
		keys = append(keys, m.Content[i].Value)
	}
	return "YAML with keys: " + listOrNone(keys), nil
}

func summarizePython(syms pySymbols) string {
	parts := []string{"Python"}
	if len(syms.classes) > 0 {
		parts = append(parts, "classes="+strings.Join(head(syms.classes, maxListedSymbols), ", "))
	}
	if len(syms.funcs) > 0 {
		parts = append(parts, "funcs="+strings.Join(head(syms.funcs, maxListedSymbols), ", "))
	}
	return strings.Join(parts, "; ")
}

// SummarizeText returns a markdown heading on the first non-blank line, or
// the first sentence if it ends within window runes, or the text truncated
// to window runes with an ellipsis.
func SummarizeText(text string, window int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return EmptySummary
	}
	if m := headingRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := sentenceEndRe.FindStringIndex(text); loc != nil && utf8.RuneCountInString(text[:loc[0]]) < window {
		return strings.TrimSpace(text[:loc[1]])
	}
	if utf8.RuneCountInString(text) > window {
		return string([]rune(text)[:window]) + "…"
	}
	return text
}

// readWindow reads at most limit bytes for analysis, or the whole file when
// limit is 0, and counts lines over the whole file.
func readWindow(p string, limit int) ([]byte, int64, int, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, int64(limit))
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, 0, err
	}
	size := int64(len(data))
	lines := bytes.Count(data, []byte{'\n'})
	last := byte('\n')
	if len(data) > 0 {
		last = data[len(data)-1]
	}

	if limit > 0 && len(data) == limit {
		buf := make([]byte, 32*1024)
		for {
			n, rerr := f.Read(buf)
			if n > 0 {
				size += int64(n)
				lines += bytes.Count(buf[:n], []byte{'\n'})
				last = buf[n-1]
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				return nil, 0, 0, rerr
			}
		}
	}
	if size > 0 && last != '\n' {
		lines++
	}
	return data, size, lines, nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func capRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
