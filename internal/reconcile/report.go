package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile persists the report as a timestamped JSON file under dir for
// audit and alerting, creating the directory if needed. Returns the written
// path.
func (r *Report) WriteFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}

	name := fmt.Sprintf("reconcile-%s.json", r.GeneratedAt.Format("20060102T150405Z"))
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write report file: %w", err)
	}
	return path, nil
}
