// Package archive validates untrusted ZIP uploads and extracts them into an
// exclusively owned working directory.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-analyzer/internal/event"
)

// Limits bounds what the validator and extractor accept.
type Limits struct {
	MaxArchiveBytes int64 // compressed archive size
	MaxMemberBytes  int64 // declared uncompressed size of one member
}

// Verdict is the outcome of Validate. Reason is set only when Valid is false.
type Verdict struct {
	ArchivePath string
	Valid       bool
	Reason      string
}

// Event converts the verdict to ZipValid or ZipInvalid.
func (v Verdict) Event() event.Event {
	if v.Valid {
		return event.ZipValid{ArchivePath: v.ArchivePath}
	}
	return event.ZipInvalid{ArchivePath: v.ArchivePath, Reason: v.Reason}
}

// Validator inspects a candidate archive without writing anything.
type Validator struct {
	limits Limits
	logger zerolog.Logger
}

// NewValidator creates a Validator.
func NewValidator(limits Limits, logger zerolog.Logger) *Validator {
	return &Validator{
		limits: limits,
		logger: logger.With().Str("component", "zip_validator").Logger(),
	}
}

// Validate runs the checks in order and stops at the first failure:
// existence, compressed size, container format, per-member CRC.
func (v *Validator) Validate(path string) Verdict {
	invalid := func(reason string) Verdict {
		v.logger.Warn().Str("archive", path).Str("reason", reason).Msg("archive rejected")
		return Verdict{ArchivePath: path, Reason: reason}
	}

	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return invalid("File does not exist")
	}
	if err != nil {
		return invalid(fmt.Sprintf("Cannot read archive: %v", err))
	}

	if v.limits.MaxArchiveBytes > 0 && fi.Size() > v.limits.MaxArchiveBytes {
		return invalid(fmt.Sprintf("Archive exceeds %s (%d bytes)", formatLimit(v.limits.MaxArchiveBytes), fi.Size()))
	}

	r, err := openZip(path)
	if err != nil {
		return invalid("Not a ZIP archive")
	}
	defer r.Close()

	if bad, err := v.firstCorrupt(r); bad != "" {
		v.logger.Debug().Err(err).Str("member", bad).Msg("integrity scan failed")
		return invalid(fmt.Sprintf("CRC error in member: %s", bad))
	}

	v.logger.Debug().Str("archive", path).Int("members", len(r.File)).Msg("archive valid")
	return Verdict{ArchivePath: path, Valid: true}
}

// firstCorrupt reads every member to EOF so archive/zip verifies its CRC-32.
// Members declared larger than the per-member cap are not read; the extractor
// rejects them before any write.
func (v *Validator) firstCorrupt(r *zip.ReadCloser) (string, error) {
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if v.limits.MaxMemberBytes > 0 && f.UncompressedSize64 > uint64(v.limits.MaxMemberBytes) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return f.Name, err
		}
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return f.Name, err
		}
	}
	return "", nil
}

// openZip tolerates zip.ErrInsecurePath: confinement is enforced per member by
// the extractor, which can name the offending entry.
func openZip(path string) (*zip.ReadCloser, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, zip.ErrInsecurePath) && r != nil {
			return r, nil
		}
		return nil, err
	}
	return r, nil
}

func formatLimit(n int64) string {
	const mb = 1_048_576
	if n >= mb && n%mb == 0 {
		return fmt.Sprintf("%d MB", n/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}
