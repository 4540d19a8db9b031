// Package event defines the closed set of messages exchanged between pipeline
// stages. Every stage matches on concrete types; the unexported marker method
// keeps the set closed to this package.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies an event on the wire.
type Type string

// Event types, one per payload struct below.
const (
	TypeNewUpload        Type = "NewUpload"
	TypeZipValid         Type = "ZipValid"
	TypeZipInvalid       Type = "ZipInvalid"
	TypeFileDiscovered   Type = "FileDiscovered"
	TypeExtractionFailed Type = "ExtractionFailed"
	TypeExtractionDone   Type = "ExtractionDone"
	TypeFileSkipped      Type = "FileSkipped"
	TypeFileForAnalysis  Type = "FileForAnalysis"
	TypeTriageComplete   Type = "TriageComplete"
	TypeFileAnalysed     Type = "FileAnalysed"
	TypeAnalysisComplete Type = "AnalysisComplete"
	TypeTreeBuilt        Type = "TreeBuilt"
	TypeProjectDraft     Type = "ProjectDraft"
	TypeSummaryPolished  Type = "SummaryPolished"
)

// Event is implemented only by the value types in this package.
type Event interface {
	Type() Type
	sealed()
}

// Kind is the closed classification of an analyzed file.
type Kind string

// Kinds assigned by the content analyzer.
const (
	KindPython     Kind = "python"
	KindJavaScript Kind = "javascript"
	KindTypeScript Kind = "typescript"
	KindJSON       Kind = "json"
	KindYAML       Kind = "yaml"
	KindMarkdown   Kind = "markdown"
	KindText       Kind = "text"
	KindAsset      Kind = "asset"
	KindUnknown    Kind = "unknown"
)

// DiscoveredFile is one regular file found under the working directory.
// RelPath always uses forward slashes.
type DiscoveredFile struct {
	AbsPath string `json:"absolute_path"`
	RelPath string `json:"relative_path"`
}

// FileAnalysisResult is the per-file classification and one-line summary.
type FileAnalysisResult struct {
	RelPath   string `json:"rel_path"`
	Kind      Kind   `json:"kind"`
	Summary   string `json:"summary"`
	Lines     int    `json:"lines"`
	SizeBytes int64  `json:"size_bytes"`
}

// NewUpload starts a run for the archive at ArchivePath.
type NewUpload struct {
	ArchivePath string `json:"archive_path"`
}

// ZipValid reports that the archive passed validation and may be extracted.
type ZipValid struct {
	ArchivePath string `json:"archive_path"`
}

// ZipInvalid reports a rejected archive. Reason is shown to the user as is.
type ZipInvalid struct {
	ArchivePath string `json:"archive_path"`
	Reason      string `json:"reason"`
}

// FileDiscovered is emitted once per regular file written during extraction.
type FileDiscovered struct {
	File DiscoveredFile `json:"file"`
	// Seq is the discovery position, used to break triage score ties.
	Seq int `json:"seq"`
}

// ExtractionFailed ends a run whose archive could not be unpacked.
type ExtractionFailed struct {
	Reason string `json:"reason"`
}

// ExtractionDone follows the last FileDiscovered of a run.
type ExtractionDone struct {
	WorkingDir string `json:"working_dir"`
	Files      int    `json:"files"`
}

// FileSkipped records a discovered file that triage dropped, with the rule
// or budget that dropped it.
type FileSkipped struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// FileForAnalysis queues a file for content analysis.
type FileForAnalysis struct {
	File  DiscoveredFile `json:"file"`
	Score int            `json:"score"`
	// Rank is the position in the triage queue.
	Rank int `json:"rank"`
}

// TriageComplete closes the triage stream with its totals.
type TriageComplete struct {
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}

// FileAnalysed carries one content analysis result and the triage rank of
// its file.
type FileAnalysed struct {
	Result FileAnalysisResult `json:"result"`
	Rank   int                `json:"rank"`
}

// AnalysisComplete is emitted once every queued file has a result.
type AnalysisComplete struct {
	Analysed int `json:"analysed"`
}

// TreeBuilt carries the rendered directory tree.
type TreeBuilt struct {
	TreeText string `json:"tree_text"`
}

// ProjectDraft is the project summary before polishing.
type ProjectDraft struct {
	Draft string `json:"draft"`
}

// SummaryPolished is the final project summary. Polished is false when the
// draft was kept because polishing was off or failed.
type SummaryPolished struct {
	Text     string `json:"text"`
	Polished bool   `json:"polished"`
}

func (NewUpload) Type() Type        { return TypeNewUpload }
func (ZipValid) Type() Type         { return TypeZipValid }
func (ZipInvalid) Type() Type       { return TypeZipInvalid }
func (FileDiscovered) Type() Type   { return TypeFileDiscovered }
func (ExtractionFailed) Type() Type { return TypeExtractionFailed }
func (ExtractionDone) Type() Type   { return TypeExtractionDone }
func (FileSkipped) Type() Type      { return TypeFileSkipped }
func (FileForAnalysis) Type() Type  { return TypeFileForAnalysis }
func (TriageComplete) Type() Type   { return TypeTriageComplete }
func (FileAnalysed) Type() Type     { return TypeFileAnalysed }
func (AnalysisComplete) Type() Type { return TypeAnalysisComplete }
func (TreeBuilt) Type() Type        { return TypeTreeBuilt }
func (ProjectDraft) Type() Type     { return TypeProjectDraft }
func (SummaryPolished) Type() Type  { return TypeSummaryPolished }

func (NewUpload) sealed()        {}
func (ZipValid) sealed()         {}
func (ZipInvalid) sealed()       {}
func (FileDiscovered) sealed()   {}
func (ExtractionFailed) sealed() {}
func (ExtractionDone) sealed()   {}
func (FileSkipped) sealed()      {}
func (FileForAnalysis) sealed()  {}
func (TriageComplete) sealed()   {}
func (FileAnalysed) sealed()     {}
func (AnalysisComplete) sealed() {}
func (TreeBuilt) sealed()        {}
func (ProjectDraft) sealed()     {}
func (SummaryPolished) sealed()  {}

// Unexpected returns the error a stage reports for an event it does not accept.
func Unexpected(stage string, ev Event) error {
	return fmt.Errorf("%s: unexpected event %s", stage, ev.Type())
}

// Observer receives every event emitted during a run. It must not block for long
// and must be safe for concurrent use.
type Observer func(Event)

// Envelope is the JSON form of an event kept in job event logs.
type Envelope struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Wrap constructs an Envelope with a generated ID and current timestamp.
func Wrap(ev Event) (Envelope, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:        "evt_" + uuid.NewString(),
		Type:      ev.Type(),
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}
