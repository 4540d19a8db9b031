// Package cleanup removes working directories and uploads that outlived the
// runs that created them, e.g. after a crash or a killed worker.
package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-analyzer/internal/metrics"
)

// Entry kinds, used as the metrics label.
const (
	KindWorkDir = "work_dir"
	KindUpload  = "upload"
)

// Target is one directory to sweep and the entry names that belong to us.
type Target struct {
	Dir    string
	Prefix string
	Kind   string
	// DirsOnly restricts the sweep to directories; otherwise only regular
	// files are considered.
	DirsOnly bool
}

// Config holds sweeper settings.
type Config struct {
	Interval   time.Duration
	StaleAfter time.Duration
	Targets    []Target
}

// Sweeper periodically removes entries older than StaleAfter.
type Sweeper struct {
	cfg     Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewSweeper creates a Sweeper. m may be nil.
func NewSweeper(cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Hour
	}
	return &Sweeper{
		cfg:     cfg,
		metrics: m,
		logger:  logger.With().Str("component", "cleanup").Logger(),
		now:     time.Now,
	}
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.SweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce removes stale entries from every target and returns how many
// were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	cutoff := s.now().Add(-s.cfg.StaleAfter)
	total := 0
	for _, t := range s.cfg.Targets {
		if ctx.Err() != nil {
			return total
		}
		n, err := s.sweep(ctx, t, cutoff)
		if err != nil {
			s.logger.Warn().Err(err).Str("dir", t.Dir).Msg("sweep failed")
		}
		s.metrics.RecordSwept(t.Kind, n)
		total += n
	}
	if total > 0 {
		s.logger.Info().Int("removed", total).Msg("stale entries swept")
	} else {
		s.logger.Debug().Msg("nothing to sweep")
	}
	return total
}

func (s *Sweeper) sweep(ctx context.Context, t Target, cutoff time.Time) (int, error) {
	dir := t.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if !strings.HasPrefix(e.Name(), t.Prefix) || e.IsDir() != t.DirsOnly {
			continue
		}
		if !t.DirsOnly && !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		p := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(p); err != nil {
			s.logger.Warn().Err(err).Str("path", p).Msg("failed to remove stale entry")
			continue
		}
		removed++
		s.logger.Info().
			Str("path", p).
			Str("kind", t.Kind).
			Time("modified", info.ModTime()).
			Msg("stale entry removed")
	}
	return removed, nil
}
