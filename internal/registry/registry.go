// Package registry maintains the shared, file-backed list of running
// interview sessions. Every instance reads and rewrites the whole document;
// writes go through an atomic temp-file rename, so a concurrent reader sees
// either the old list or the new one. Two instances that read-modify-write at
// the same moment can lose one update, which is acceptable: staleness pruning
// re-heals the list within one prune interval, and no instance relies on the
// registry to decide its own completion.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/parley/internal/fsx"
)

const (
	// ActiveThreshold separates "active" sessions (heartbeat seen recently)
	// from "waiting" ones that are still registered but presumed backgrounded.
	ActiveThreshold = 30 * time.Second

	// PruneThreshold is the staleness bound past which any reader may drop an
	// entry whose owner apparently crashed without cleaning up.
	PruneThreshold = 60 * time.Second
)

// Entry is one row per running interview instance.
type Entry struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Cwd       string    `json:"cwd"`
	GitBranch string    `json:"gitBranch,omitempty"`
	Title     string    `json:"title"`
	StartedAt time.Time `json:"startedAt"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Status of a listed session, derived purely from elapsed time since the
// last heartbeat. There is no persisted state field.
type Status string

const (
	StatusActive  Status = "active"
	StatusWaiting Status = "waiting"
)

// ListedEntry is an Entry annotated for display.
type ListedEntry struct {
	Entry
	Status Status `json:"status"`
}

// Registry reads and writes the shared session file.
type Registry struct {
	path       string
	now        func() time.Time
	pruneAfter time.Duration
}

// New returns a Registry backed by the given file path. The file and its
// directory are created lazily on first write.
func New(path string) *Registry {
	return &Registry{path: path, now: time.Now, pruneAfter: PruneThreshold}
}

// SetPruneThreshold overrides the default staleness bound. All instances
// sharing a registry file should use the same value; a non-positive value
// restores the default.
func (r *Registry) SetPruneThreshold(d time.Duration) {
	if d <= 0 {
		d = PruneThreshold
	}
	r.pruneAfter = d
}

// Path returns the backing file path.
func (r *Registry) Path() string {
	return r.path
}

// read returns the current session list. It never fails: a missing,
// unreadable, or structurally invalid file is treated as "no sessions".
func (r *Registry) read() []Entry {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}
	return entries
}

// write replaces the whole session list atomically.
func (r *Registry) write(entries []Entry) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling session list: %w", err)
	}
	if err := fsx.WriteFileAtomic(r.path, data, 0o644); err != nil {
		return fmt.Errorf("writing session list: %w", err)
	}
	return nil
}

// Register upserts the entry: an existing entry with the same id has its
// mutable fields and lastSeen refreshed, otherwise the entry is appended.
// Safe to call repeatedly; a heartbeat after pruning re-registers.
func (r *Registry) Register(e Entry) error {
	now := r.now()
	if e.StartedAt.IsZero() {
		e.StartedAt = now
	}
	e.LastSeen = now

	entries := r.read()
	found := false
	for i := range entries {
		if entries[i].ID == e.ID {
			e.StartedAt = entries[i].StartedAt
			entries[i] = e
			found = true
			break
		}
	}
	if !found {
		entries = append(entries, e)
	}
	return r.write(entries)
}

// Touch refreshes the entry's lastSeen. Identical to Register so that a
// heartbeat arriving after the entry was pruned self-heals.
func (r *Registry) Touch(e Entry) error {
	return r.Register(e)
}

// Unregister removes the entry with the given id. No-op if absent.
func (r *Registry) Unregister(id string) error {
	entries := r.read()
	kept := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return nil
	}
	return r.write(kept)
}

// List returns registered sessions annotated with active/waiting status.
// Entries whose lastSeen is older than the prune threshold are dropped first,
// and the pruned list is persisted when it changed, so every read doubles as
// incremental garbage collection.
func (r *Registry) List() []ListedEntry {
	now := r.now()
	entries := r.read()

	kept := entries[:0]
	for _, e := range entries {
		if now.Sub(e.LastSeen) <= r.pruneAfter {
			kept = append(kept, e)
		}
	}
	if len(kept) != len(entries) {
		// Best effort: a failed prune write only delays cleanup.
		_ = r.write(kept)
	}

	listed := make([]ListedEntry, 0, len(kept))
	for _, e := range kept {
		status := StatusWaiting
		if now.Sub(e.LastSeen) <= ActiveThreshold {
			status = StatusActive
		}
		listed = append(listed, ListedEntry{Entry: e, Status: status})
	}
	return listed
}

// DisplayPath normalizes a working directory for display, collapsing the
// user's home directory prefix to "~".
func DisplayPath(dir string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return dir
	}
	if dir == home {
		return "~"
	}
	if strings.HasPrefix(dir, home+string(os.PathSeparator)) {
		return "~" + dir[len(home):]
	}
	return dir
}
