// Package artifacts materializes invoice groups as a page-subset PDF plus a
// canonical JSON record under {outputRoot}/{attachmentId}/.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"invoice-split/pkg/models"
)

// Artifact is the file pair written for one final group.
type Artifact struct {
	Position int // 0-based group position
	Stem     string
	PDFPath  string
	JSONPath string
}

// PDFName and JSONName are the file names used for object storage keys.
func (a Artifact) PDFName() string  { return filepath.Base(a.PDFPath) }
func (a Artifact) JSONName() string { return filepath.Base(a.JSONPath) }

// Writer owns the output directory of one attachment run. Writes happen
// sequentially; a Writer is not safe for concurrent use.
type Writer struct {
	dir       string
	baseName  string
	source    []byte
	artifacts map[int]Artifact
	stems     map[string]int
}

// NewWriter prepares {root}/{attachmentID} for the artifacts of doc.
func NewWriter(root string, attachmentID int64, doc models.Document) (*Writer, error) {
	dir := AttachmentDir(root, attachmentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Writer{
		dir:       dir,
		baseName:  BaseName(doc.Name),
		source:    doc.Data,
		artifacts: make(map[int]Artifact),
		stems:     make(map[string]int),
	}, nil
}

// AttachmentDir is the output directory of one attachment.
func AttachmentDir(root string, attachmentID int64) string {
	return filepath.Join(root, strconv.FormatInt(attachmentID, 10))
}

// Dir returns the output directory of this run.
func (w *Writer) Dir() string { return w.dir }

// Create writes the artifact pair for a new group at position pos.
func (w *Writer) Create(pos int, g models.InvoiceGroup) (Artifact, error) {
	if a, ok := w.artifacts[pos]; ok {
		return a, fmt.Errorf("artifact for group %d already exists: %s", pos+1, a.Stem)
	}
	stem := ArtifactStem(w.baseName, g.Record.Number(), pos+1)
	if owner, taken := w.stems[stem]; taken && owner != pos {
		// Two distinct invoice numbers can share a slug.
		stem = fmt.Sprintf("%s_%d", stem, pos+1)
	}
	a := Artifact{
		Position: pos,
		Stem:     stem,
		PDFPath:  filepath.Join(w.dir, stem+".pdf"),
		JSONPath: filepath.Join(w.dir, stem+".json"),
	}

	pdf, err := ExtractPages(w.source, g.PageIndices)
	if err != nil {
		return a, err
	}
	if err := writeFileAtomic(a.PDFPath, pdf, 0o644); err != nil {
		return a, fmt.Errorf("write %s: %w", a.PDFName(), err)
	}
	if err := w.writeRecord(a, g.Record); err != nil {
		return a, err
	}
	w.artifacts[pos] = a
	w.stems[stem] = pos
	return a, nil
}

// Extend appends the pages added to an already written group and rewrites
// its record with the merged values.
func (w *Writer) Extend(pos int, g models.InvoiceGroup, added []int) (Artifact, error) {
	a, ok := w.artifacts[pos]
	if !ok {
		return a, fmt.Errorf("no artifact for group %d", pos+1)
	}
	existing, err := os.ReadFile(a.PDFPath)
	if err != nil {
		return a, fmt.Errorf("read %s: %w", a.PDFName(), err)
	}
	pdf, err := AppendPages(existing, w.source, added)
	if err != nil {
		return a, err
	}
	if err := writeFileAtomic(a.PDFPath, pdf, 0o644); err != nil {
		return a, fmt.Errorf("write %s: %w", a.PDFName(), err)
	}
	if err := w.writeRecord(a, g.Record); err != nil {
		return a, err
	}
	return a, nil
}

// Artifact returns the artifact written for position pos.
func (w *Writer) Artifact(pos int) (Artifact, bool) {
	a, ok := w.artifacts[pos]
	return a, ok
}

func (w *Writer) writeRecord(a Artifact, r models.InvoiceRecord) error {
	data, err := Serialize(r)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(a.JSONPath, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", a.JSONName(), err)
	}
	return nil
}

// CopyToErrors stores the original bytes of an unrecoverable document under
// {root}/{attachmentID}/errors/ and returns the path written.
func CopyToErrors(root string, attachmentID int64, filename string, data []byte) (string, error) {
	dir := filepath.Join(AttachmentDir(root, attachmentID), "errors")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create errors dir: %w", err)
	}
	name := filepath.Base(filename)
	if name == "." || name == "/" || name == "" {
		name = fmt.Sprintf("attachment_%d.pdf", attachmentID)
	}
	path := filepath.Join(dir, name)
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("copy to errors: %w", err)
	}
	return path, nil
}

// writeFileAtomic writes through a temp file in the same directory and
// renames it over path, so readers never see a partial artifact.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
