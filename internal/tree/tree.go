// Package tree assembles discovered paths into a directory hierarchy and
// renders it as indented text.
package tree

import (
	"context"
	"errors"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-analyzer/internal/event"
)

// Node is one entry in the hierarchy. Children keep insertion order.
type Node struct {
	Label    string
	Dir      bool
	Children []*Node

	index map[string]*Node
}

func newDir(label string) *Node {
	return &Node{Label: label, Dir: true, index: make(map[string]*Node)}
}

func (n *Node) child(segment string, dir bool) *Node {
	if c, ok := n.index[segment]; ok {
		return c
	}
	var c *Node
	if dir {
		c = newDir(segment + "/")
	} else {
		c = &Node{Label: segment}
	}
	n.index[segment] = c
	n.Children = append(n.Children, c)
	return c
}

// Build creates the hierarchy for slash-separated relative paths. Paths are
// ordered by (depth, base name) so a parent always exists before its
// children; equal keys keep their input order.
func Build(rootName string, relPaths []string) *Node {
	sorted := make([]string, len(relPaths))
	copy(sorted, relPaths)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := strings.Count(sorted[i], "/"), strings.Count(sorted[j], "/")
		if di != dj {
			return di < dj
		}
		return path.Base(sorted[i]) < path.Base(sorted[j])
	})

	root := newDir(rootName + "/")
	for _, rel := range sorted {
		parts := strings.Split(rel, "/")
		node := root
		for i, part := range parts {
			leaf := i == len(parts)-1
			node = node.child(part, !leaf)
			if !node.Dir {
				break
			}
		}
	}
	return root
}

// Render draws the hierarchy with box-drawing guides.
func (n *Node) Render() string {
	var b strings.Builder
	b.WriteString(n.Label)
	n.renderChildren(&b, "")
	return b.String()
}

func (n *Node) renderChildren(b *strings.Builder, prefix string) {
	for i, c := range n.Children {
		last := i == len(n.Children)-1
		branch, indent := "├── ", "│   "
		if last {
			branch, indent = "└── ", "    "
		}
		b.WriteByte('\n')
		b.WriteString(prefix)
		b.WriteString(branch)
		b.WriteString(c.Label)
		c.renderChildren(b, prefix+indent)
	}
}

// Assembler collects FileDiscovered events and builds the tree once
// extraction completes.
type Assembler struct {
	logger zerolog.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(logger zerolog.Logger) *Assembler {
	return &Assembler{logger: logger.With().Str("component", "tree_builder").Logger()}
}

// ErrIncomplete is returned when the input ends without ExtractionDone.
var ErrIncomplete = errors.New("tree: input closed before extraction completed")

// Run consumes in until ExtractionDone and returns the rendered tree.
func (a *Assembler) Run(ctx context.Context, in <-chan event.Event) (event.TreeBuilt, error) {
	var paths []string
	for {
		select {
		case <-ctx.Done():
			return event.TreeBuilt{}, ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return event.TreeBuilt{}, ErrIncomplete
			}
			switch ev := ev.(type) {
			case event.FileDiscovered:
				paths = append(paths, ev.File.RelPath)
			case event.ExtractionDone:
				root := Build(filepath.Base(ev.WorkingDir), paths)
				a.logger.Debug().Int("files", len(paths)).Msg("tree built")
				return event.TreeBuilt{TreeText: root.Render()}, nil
			default:
				return event.TreeBuilt{}, event.Unexpected("tree", ev)
			}
		}
	}
}
