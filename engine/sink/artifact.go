package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/WessleyAI/wessley-listings/engine/domain"
)

// Artifact writes each run to <Dir>/run-<started>-<id>.json. The file is
// written to a temp name and renamed, so readers never see a partial run.
type Artifact struct {
	Dir    string
	Indent bool

	// written is the path of the last artifact, for callers that print it.
	written string
}

// NewArtifact returns an artifact sink writing under dir.
func NewArtifact(dir string, indent bool) *Artifact {
	return &Artifact{Dir: dir, Indent: indent}
}

// FileName is the artifact name of a run.
func FileName(s domain.RunSummary) string {
	id := s.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("run-%s-%s.json", s.StartedAt.UTC().Format("20060102T150405Z"), id)
}

func (a *Artifact) Persist(ctx context.Context, report domain.RunReport, _ []domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var (
		data []byte
		err  error
	)
	if a.Indent {
		data, err = json.MarshalIndent(report, "", "  ")
	} else {
		data, err = json.Marshal(report)
	}
	if err != nil {
		return fmt.Errorf("artifact: marshal: %w", err)
	}
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	tmp, err := os.CreateTemp(a.Dir, ".run-*.tmp")
	if err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("artifact: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	path := filepath.Join(a.Dir, FileName(report.Summary))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	a.written = path
	return nil
}

// Path returns the file written by the last Persist.
func (a *Artifact) Path() string { return a.written }
