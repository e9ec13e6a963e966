package migrate

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jobtrack/jobtrack/internal/offline/schema"
	"gopkg.in/yaml.v3"
)

// WriteYAML writes snap as a YAML document. Keys match the JSON field names.
func WriteYAML(w io.Writer, snap schema.Snapshot) error {
	// Going through JSON keeps one set of field names and RFC 3339 times.
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to convert snapshot: %w", err)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to write YAML: %w", err)
	}
	return enc.Close()
}

// ExportYAML writes snap to path atomically.
func ExportYAML(path string, snap schema.Snapshot) error {
	return writeAtomic(path, func(w io.Writer) error { return WriteYAML(w, snap) })
}
