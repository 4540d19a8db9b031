package triage

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-analyzer/internal/content"
	"github.com/p-blackswan/project-analyzer/internal/event"
)

// ReasonBudget is the skip reason for files past the analysis budget.
const ReasonBudget = "analysis budget exhausted"

// Options configures the binary sniff and the analysis budget.
type Options struct {
	SampleBytes     int
	BinaryThreshold float64
	MaxFiles        int // 0 means unlimited
}

// Scorer consumes FileDiscovered events and, once extraction is done, emits
// the analysis queue in priority order.
type Scorer struct {
	table  *Table
	opts   Options
	logger zerolog.Logger
}

// NewScorer creates a Scorer.
func NewScorer(table *Table, opts Options, logger zerolog.Logger) *Scorer {
	if opts.SampleBytes <= 0 {
		opts.SampleBytes = 1024
	}
	if opts.BinaryThreshold <= 0 {
		opts.BinaryThreshold = 0.30
	}
	return &Scorer{
		table:  table,
		opts:   opts,
		logger: logger.With().Str("component", "triage").Logger(),
	}
}

type entry struct {
	file  event.DiscoveredFile
	score int
	seq   int
}

// Classify returns a skip reason, or the priority score when the file should
// be analyzed.
func (s *Scorer) Classify(f event.DiscoveredFile) (score int, skipReason string) {
	if ext, skip := s.table.SkipExtension(f.RelPath); skip {
		return 0, fmt.Sprintf("asset extension %s", ext)
	}
	if content.LooksBinary(f.AbsPath, s.opts.SampleBytes, s.opts.BinaryThreshold) {
		return 0, "binary content"
	}
	return s.table.Score(f.RelPath), ""
}

// Run scores files as they arrive. Skipped files are reported immediately.
// On ExtractionDone, or when in is closed, the queue is emitted sorted by
// score descending with ties kept in discovery order, followed by one
// TriageComplete. Emit errors stop the stage.
func (s *Scorer) Run(ctx context.Context, in <-chan event.Event, emit func(event.Event) error) error {
	var (
		queue   []entry
		skipped int
		seq     int
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return s.drain(queue, skipped, emit)
			}
			switch ev := ev.(type) {
			case event.FileDiscovered:
				score, reason := s.Classify(ev.File)
				if reason != "" {
					skipped++
					s.logger.Debug().Str("path", ev.File.RelPath).Str("reason", reason).Msg("file skipped")
					if err := emit(event.FileSkipped{Path: ev.File.RelPath, Reason: reason}); err != nil {
						return err
					}
					continue
				}
				queue = append(queue, entry{file: ev.File, score: score, seq: seq})
				seq++
			case event.ExtractionDone:
				return s.drain(queue, skipped, emit)
			default:
				return event.Unexpected("triage", ev)
			}
		}
	}
}

func (s *Scorer) drain(queue []entry, skipped int, emit func(event.Event) error) error {
	sort.SliceStable(queue, func(i, j int) bool {
		if queue[i].score != queue[j].score {
			return queue[i].score > queue[j].score
		}
		return queue[i].seq < queue[j].seq
	})

	queued := 0
	for rank, e := range queue {
		if s.opts.MaxFiles > 0 && rank >= s.opts.MaxFiles {
			skipped++
			if err := emit(event.FileSkipped{Path: e.file.RelPath, Reason: ReasonBudget}); err != nil {
				return err
			}
			continue
		}
		queued++
		if err := emit(event.FileForAnalysis{File: e.file, Score: e.score, Rank: rank}); err != nil {
			return err
		}
	}

	s.logger.Info().Int("queued", queued).Int("skipped", skipped).Msg("triage complete")
	return emit(event.TriageComplete{Queued: queued, Skipped: skipped})
}
