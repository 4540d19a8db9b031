package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/project-analyzer/internal/errors"
	"github.com/p-blackswan/project-analyzer/internal/event"
)

const maxLinkTargetBytes = 4096

var windowsVolume = regexp.MustCompile(`^[A-Za-z]:`)

// Extractor writes a validated archive into a fresh working directory.
type Extractor struct {
	workRoot string
	limits   Limits
	logger   zerolog.Logger
}

// NewExtractor creates an Extractor. An empty workRoot means os.TempDir().
func NewExtractor(workRoot string, limits Limits, logger zerolog.Logger) *Extractor {
	return &Extractor{
		workRoot: workRoot,
		limits:   limits,
		logger:   logger.With().Str("component", "extractor").Logger(),
	}
}

type plannedMember struct {
	file   *zip.File
	target string
	isDir  bool
	link   string // symlink text, written as a regular file
}

// Extract checks every member for size and confinement before writing any
// bytes, then extracts. On failure the working directory is removed and an
// *errors.ExtractionError naming the offending member is returned.
func (x *Extractor) Extract(ctx context.Context, archivePath string) (string, error) {
	r, err := openZip(archivePath)
	if err != nil {
		return "", &perrors.ExtractionError{Reason: "cannot open archive", Err: err}
	}
	defer r.Close()

	workDir, err := os.MkdirTemp(x.workRoot, "analysis-")
	if err != nil {
		return "", &perrors.ExtractionError{Reason: "cannot create working directory", Err: err}
	}
	if resolved, err := filepath.EvalSymlinks(workDir); err == nil {
		workDir = resolved
	}
	if abs, err := filepath.Abs(workDir); err == nil {
		workDir = abs
	}

	fail := func(err error) (string, error) {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			x.logger.Error().Err(rmErr).Str("dir", workDir).Msg("failed to remove working directory")
		}
		x.logger.Warn().Err(err).Str("archive", archivePath).Msg("extraction aborted")
		return "", err
	}

	plan := make([]plannedMember, 0, len(r.File))
	for _, f := range r.File {
		m, err := x.check(workDir, f)
		if err != nil {
			return fail(err)
		}
		plan = append(plan, m)
	}

	x.logger.Debug().Int("members", len(plan)).Str("dir", workDir).Msg("all members passed size and confinement checks")

	for _, m := range plan {
		if err := ctx.Err(); err != nil {
			return fail(&perrors.ExtractionError{Reason: "extraction cancelled", Err: err})
		}
		if err := x.write(m); err != nil {
			return fail(err)
		}
	}

	x.logger.Info().Str("dir", workDir).Int("members", len(plan)).Msg("extraction completed")
	return workDir, nil
}

// check applies the per-member rules in order: declared size, then path confinement.
func (x *Extractor) check(root string, f *zip.File) (plannedMember, error) {
	if x.limits.MaxMemberBytes > 0 && f.UncompressedSize64 > uint64(x.limits.MaxMemberBytes) {
		return plannedMember{}, &perrors.ExtractionError{
			Member: f.Name,
			Reason: fmt.Sprintf("size %d bytes exceeds %s", f.UncompressedSize64, formatLimit(x.limits.MaxMemberBytes)),
		}
	}

	target, err := confine(root, f.Name)
	if err != nil {
		return plannedMember{}, &perrors.ExtractionError{Member: f.Name, Reason: err.Error()}
	}

	m := plannedMember{file: f, target: target, isDir: f.FileInfo().IsDir()}
	if target == root && !m.isDir {
		return plannedMember{}, &perrors.ExtractionError{Member: f.Name, Reason: "illegal member path"}
	}

	if f.Mode()&fs.ModeSymlink != 0 {
		link, err := readLink(f)
		if err != nil {
			return plannedMember{}, &perrors.ExtractionError{Member: f.Name, Reason: "unreadable symlink", Err: err}
		}
		if !linkConfined(root, target, link) {
			return plannedMember{}, &perrors.ExtractionError{Member: f.Name, Reason: "symlink escapes working directory"}
		}
		m.link = link
	}
	return m, nil
}

// confine resolves name against root and rejects anything that is not a
// descendant of root. Both separators are treated as path separators so the
// check is the same on every OS.
func confine(root, name string) (string, error) {
	clean := strings.ReplaceAll(name, `\`, "/")
	if strings.TrimSpace(clean) == "" {
		return "", fmt.Errorf("empty member name")
	}
	if strings.HasPrefix(clean, "/") || windowsVolume.MatchString(clean) {
		return "", fmt.Errorf("absolute member path")
	}
	target := filepath.Join(root, filepath.FromSlash(clean))
	if !within(root, target) {
		return "", fmt.Errorf("illegal member path")
	}
	return target, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func linkConfined(root, target, link string) bool {
	link = strings.ReplaceAll(link, `\`, "/")
	if strings.HasPrefix(link, "/") || windowsVolume.MatchString(link) {
		return false
	}
	return within(root, filepath.Join(filepath.Dir(target), filepath.FromSlash(link)))
}

func readLink(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, maxLinkTargetBytes))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (x *Extractor) write(m plannedMember) error {
	if m.isDir {
		if err := os.MkdirAll(m.target, 0o755); err != nil {
			return &perrors.ExtractionError{Member: m.file.Name, Reason: "cannot create directory", Err: err}
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(m.target), 0o755); err != nil {
		return &perrors.ExtractionError{Member: m.file.Name, Reason: "cannot create directory", Err: err}
	}
	out, err := os.OpenFile(m.target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &perrors.ExtractionError{Member: m.file.Name, Reason: "cannot create file", Err: err}
	}
	defer out.Close()

	if m.link != "" {
		if _, err := io.WriteString(out, m.link); err != nil {
			return &perrors.ExtractionError{Member: m.file.Name, Reason: "write failed", Err: err}
		}
		return nil
	}

	rc, err := m.file.Open()
	if err != nil {
		return &perrors.ExtractionError{Member: m.file.Name, Reason: "corrupt member", Err: err}
	}
	defer rc.Close()

	var src io.Reader = rc
	if x.limits.MaxMemberBytes > 0 {
		src = io.LimitReader(rc, x.limits.MaxMemberBytes+1)
	}
	n, err := io.Copy(out, src)
	if err != nil {
		return &perrors.ExtractionError{Member: m.file.Name, Reason: "corrupt member", Err: err}
	}
	if x.limits.MaxMemberBytes > 0 && n > x.limits.MaxMemberBytes {
		return &perrors.ExtractionError{
			Member: m.file.Name,
			Reason: fmt.Sprintf("decompressed size exceeds %s", formatLimit(x.limits.MaxMemberBytes)),
		}
	}
	return nil
}

// Discover walks workDir in lexical order and calls fn once per regular file.
// Directories are not reported. It returns the number of files reported.
func Discover(workDir string, fn func(event.DiscoveredFile) error) (int, error) {
	count := 0
	err := filepath.WalkDir(workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(workDir, path)
		if err != nil {
			return err
		}
		count++
		return fn(event.DiscoveredFile{AbsPath: path, RelPath: filepath.ToSlash(rel)})
	})
	return count, err
}
