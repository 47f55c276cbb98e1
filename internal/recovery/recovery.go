// Package recovery persists in-flight interview state when a session ends
// abnormally (watchdog timeout, stale cancel). The snapshot is the
// fallback-of-last-resort for lost work, so unlike the registry this layer
// does not swallow write failures.
package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/parley/internal/fsx"
	"github.com/kalambet/parley/internal/questions"
)

// DefaultRetention is how long snapshots are kept before the startup sweep
// deletes them.
const DefaultRetention = 7 * 24 * time.Hour

// Context carries the metadata the snapshot filename is derived from.
type Context struct {
	Project   string
	Branch    string
	SessionID string
	SavedAt   time.Time
}

// Record is the persisted snapshot document.
type Record struct {
	SavedAt   time.Time      `json:"savedAt"`
	Project   string         `json:"project"`
	Branch    string         `json:"branch,omitempty"`
	SessionID string         `json:"sessionId"`
	Questions *questions.Set `json:"questions"`
}

// Filename builds the deterministic snapshot name:
// <date>_<time>_<project>_<branch>_<id8>.json, with characters unsafe in
// filenames replaced and the session id truncated to 8 characters, so a
// human can find a recovery by glancing at the directory listing.
func Filename(ctx Context) string {
	id := ctx.SessionID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s_%s_%s_%s_%s.json",
		ctx.SavedAt.Format("2006-01-02"),
		ctx.SavedAt.Format("150405"),
		sanitize(ctx.Project),
		sanitize(ctx.Branch),
		sanitize(id),
	)
}

// sanitize replaces everything outside [A-Za-z0-9._-] so branch names like
// feature/x become feature-x.
func sanitize(s string) string {
	if s == "" {
		return "unknown"
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

// Save writes the full question set to dir under the deterministic filename
// and returns the snapshot path. The directory is created if needed.
func Save(dir string, set *questions.Set, ctx Context) (string, error) {
	if ctx.SavedAt.IsZero() {
		ctx.SavedAt = time.Now()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating recovery directory: %w", err)
	}

	rec := Record{
		SavedAt:   ctx.SavedAt,
		Project:   ctx.Project,
		Branch:    ctx.Branch,
		SessionID: ctx.SessionID,
		Questions: set,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshalling recovery record: %w", err)
	}

	path := filepath.Join(dir, Filename(ctx))
	if err := fsx.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing recovery record: %w", err)
	}
	return path, nil
}

// Sweep deletes snapshots whose leading date token is older than retention.
// Files with unparseable names are skipped, never treated as errors; the
// sweep itself is best-effort and only reports directory-level failures.
func Sweep(dir string, now time.Time, retention time.Duration) error {
	if retention <= 0 {
		retention = DefaultRetention
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading recovery directory: %w", err)
	}

	cutoff := now.Add(-retention)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		date, ok := leadingDate(name)
		if !ok {
			continue
		}
		if date.Before(cutoff) {
			os.Remove(filepath.Join(dir, name))
		}
	}
	return nil
}

func leadingDate(name string) (time.Time, bool) {
	if len(name) < len("2006-01-02") {
		return time.Time{}, false
	}
	d, err := time.Parse("2006-01-02", name[:len("2006-01-02")])
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// List returns snapshot filenames in dir, newest first by name. Missing
// directory yields an empty list.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading recovery directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	// Date-prefixed names sort chronologically; reverse for newest first.
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names, nil
}
