package tree

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/project-analyzer/internal/event"
)

func TestBuild_Render(t *testing.T) {
	root := Build("analysis-123", []string{
		"src/pkg/util.py",
		"README.md",
		"src/main.py",
		"logo.png",
	})

	want := "analysis-123/\n" +
		"├── README.md\n" +
		"├── logo.png\n" +
		"└── src/\n" +
		"    ├── main.py\n" +
		"    └── pkg/\n" +
		"        └── util.py"
	assert.Equal(t, want, root.Render())
}

func TestBuild_DirectoriesCreatedOnce(t *testing.T) {
	root := Build("w", []string{"a/x.txt", "a/y.txt", "a/b/z.txt"})

	require.Len(t, root.Children, 1)
	a := root.Children[0]
	assert.Equal(t, "a/", a.Label)
	assert.True(t, a.Dir)
	require.Len(t, a.Children, 3)
	assert.Equal(t, "x.txt", a.Children[0].Label)
	assert.Equal(t, "y.txt", a.Children[1].Label)
	assert.Equal(t, "b/", a.Children[2].Label)
}

func TestBuild_OrderIndependentOfInput(t *testing.T) {
	paths := []string{"b/2.txt", "a.txt", "b/1.txt", "c.txt"}
	reversed := []string{"c.txt", "b/1.txt", "a.txt", "b/2.txt"}

	assert.Equal(t, Build("w", paths).Render(), Build("w", reversed).Render())
}

func TestBuild_LeafPerFile(t *testing.T) {
	root := Build("w", []string{"one", "two/three", "two/four/five"})
	var leaves int
	var walk func(n *Node)
	walk = func(n *Node) {
		if !n.Dir {
			leaves++
			assert.NotContains(t, n.Label, "/")
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	assert.Equal(t, 3, leaves)
}

func TestBuild_Empty(t *testing.T) {
	assert.Equal(t, "w/", Build("w", nil).Render())
}

func TestAssembler_Run(t *testing.T) {
	in := make(chan event.Event, 4)
	in <- event.FileDiscovered{File: event.DiscoveredFile{RelPath: "README.md"}}
	in <- event.FileDiscovered{File: event.DiscoveredFile{RelPath: "main.py"}}
	in <- event.FileDiscovered{File: event.DiscoveredFile{RelPath: "logo.png"}}
	in <- event.ExtractionDone{WorkingDir: "/tmp/analysis-42", Files: 3}

	got, err := NewAssembler(zerolog.Nop()).Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "analysis-42/\n├── README.md\n├── logo.png\n└── main.py", got.TreeText)
}

func TestAssembler_IncompleteInput(t *testing.T) {
	in := make(chan event.Event)
	close(in)
	_, err := NewAssembler(zerolog.Nop()).Run(context.Background(), in)
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestAssembler_UnexpectedEvent(t *testing.T) {
	in := make(chan event.Event, 1)
	in <- event.TriageComplete{}
	_, err := NewAssembler(zerolog.Nop()).Run(context.Background(), in)
	assert.EqualError(t, err, "tree: unexpected event TriageComplete")
}
