// Package output writes run documents to the logs directory and renders
// console summaries.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const stampLayout = "20060102_150405"

// Writer stores one JSON document per run, named <prefix>_<local stamp>.json.
type Writer struct {
	Dir      string
	Location *time.Location
}

func NewWriter(dir string, loc *time.Location) *Writer {
	if loc == nil {
		loc = time.UTC
	}
	return &Writer{Dir: dir, Location: loc}
}

// Now returns the current time in the writer's timezone.
func (w *Writer) Now() time.Time {
	return time.Now().In(w.Location)
}

func (w *Writer) Stamp(t time.Time) string {
	return t.In(w.Location).Format(stampLayout)
}

func (w *Writer) Path(prefix string, t time.Time) string {
	return filepath.Join(w.Dir, fmt.Sprintf("%s_%s.json", prefix, w.Stamp(t)))
}

func (w *Writer) Write(prefix string, t time.Time, v any) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create logs dir: %w", err)
	}
	raw, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", prefix, err)
	}
	path := w.Path(prefix, t)
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// Read decodes a document previously produced by Write.
func Read(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
