// Package synthesis joins the tree and analysis branches and composes the
// project summary.
package synthesis

import (
	"sync"

	"github.com/p-blackswan/project-analyzer/internal/event"
)

// FinalizeFunc receives the tree text and the per-file results once both
// are available.
type FinalizeFunc func(treeText string, results []event.FileAnalysisResult)

// Barrier is a two-latch join. Each latch can be set once, from any
// goroutine, in either order. The finalize function runs exactly once, on
// the goroutine that sets the second latch, outside the lock.
type Barrier struct {
	mu           sync.Mutex
	treeReady    bool
	analysisDone bool
	fired        bool
	treeText     string
	results      []event.FileAnalysisResult
	finalize     FinalizeFunc
}

// NewBarrier creates a Barrier.
func NewBarrier(finalize FinalizeFunc) *Barrier {
	return &Barrier{finalize: finalize}
}

// SetTree latches the tree. It reports whether this call ran finalize.
// Calls after the first are ignored.
func (b *Barrier) SetTree(treeText string) bool {
	b.mu.Lock()
	if b.treeReady {
		b.mu.Unlock()
		return false
	}
	b.treeReady, b.treeText = true, treeText
	return b.tryFire()
}

// SetAnalysis latches the analysis results. It reports whether this call ran
// finalize. Calls after the first are ignored.
func (b *Barrier) SetAnalysis(results []event.FileAnalysisResult) bool {
	b.mu.Lock()
	if b.analysisDone {
		b.mu.Unlock()
		return false
	}
	b.analysisDone = true
	b.results = append([]event.FileAnalysisResult(nil), results...)
	return b.tryFire()
}

// tryFire must be called with mu held; it releases it.
func (b *Barrier) tryFire() bool {
	if !b.treeReady || !b.analysisDone || b.fired {
		b.mu.Unlock()
		return false
	}
	b.fired = true
	tree, results := b.treeText, b.results
	b.mu.Unlock()

	if b.finalize != nil {
		b.finalize(tree, results)
	}
	return true
}

// Fired reports whether finalize has run or is running.
func (b *Barrier) Fired() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fired
}
