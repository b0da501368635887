package serialio

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// StatusWriter rewrites a JSON snapshot of the latest device telemetry.
// The write is atomic (tmp + rename) so readers never see a torn file.
type StatusWriter struct {
	Path string
}

// Write persists the parsed STATS fields plus receive timestamps.
func (w *StatusWriter) Write(rec map[string]any, now time.Time) error {
	doc := make(map[string]any, len(rec)+2)
	for k, v := range rec {
		doc[k] = v
	}
	doc["timestamp"] = now.UnixMilli()
	doc["timestamp_iso"] = now.UTC().Format(time.RFC3339)

	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	tmp := w.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Clean(w.Path))
}
