package config

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrExists is returned by WriteFile when the target exists and force is off.
var ErrExists = errors.New("config file already exists")

// Redacted replaces secrets in Show output.
const Redacted = "********"

// WriteFile writes c as TOML to path. Durations are written as strings
// ("15m0s") so the file stays hand-editable.
func WriteFile(path string, c *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	data, err := Encode(c, false)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Encode renders c as TOML. With redact the remote token is masked.
func Encode(c *Config, redact bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c.tree(redact)); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// tree nests the flat keys of c the way the TOML file is laid out.
func (c *Config) tree(redact bool) map[string]any {
	token := c.Remote.Token
	if redact && token != "" {
		token = Redacted
	}
	flat := map[string]any{
		"data_dir":               c.DataDir,
		"user_id":                c.UserID,
		"remote.kind":            c.Remote.Kind,
		"remote.url":             c.Remote.URL,
		"remote.token":           token,
		"sync.interval":          c.Sync.Interval,
		"sync.batch_timeout":     c.Sync.BatchTimeout,
		"sync.max_retries":       c.Sync.MaxRetries,
		"sync.fetch_attempts":    c.Sync.FetchAttempts,
		"sync.backoff_base":      c.Sync.BackoffBase,
		"sync.max_backoff":       c.Sync.MaxBackoff,
		"sync.preserve_pending":  c.Sync.PreservePending,
		"sync.persist_outbox":    c.Sync.PersistOutbox,
		"network.probe_url":      c.Network.ProbeURL,
		"network.probe_interval": c.Network.ProbeInterval,
		"network.probe_timeout":  c.Network.ProbeTimeout,
		"dashboard.port":         c.Dashboard.Port,
		"log.file":               c.Log.File,
		"log.max_size_mb":        c.Log.MaxSizeMB,
		"log.max_backups":        c.Log.MaxBackups,
		"log.max_age_days":       c.Log.MaxAgeDays,
	}

	root := make(map[string]any)
	for key, val := range flat {
		if d, ok := val.(time.Duration); ok {
			val = d.String()
		}
		section, name, nested := strings.Cut(key, ".")
		if !nested {
			root[key] = val
			continue
		}
		sub, _ := root[section].(map[string]any)
		if sub == nil {
			sub = make(map[string]any)
			root[section] = sub
		}
		sub[name] = val
	}
	return root
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
