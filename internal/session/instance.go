// Package session owns the lifecycle of one running interview instance: the
// one-shot completion guard, the heartbeat watchdog, and the terminal
// transition that unregisters the session, persists recovery state on
// abnormal paths, and hands the outcome back to the invoking process.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/parley/internal/questions"
	"github.com/kalambet/parley/internal/recovery"
	"github.com/kalambet/parley/internal/registry"
	"github.com/kalambet/parley/internal/storage"
)

// Completion reasons.
const (
	ReasonSubmitted = "submitted"
	ReasonUser      = "user"
	ReasonTimeout   = "timeout"
	ReasonStale     = "stale"
)

// Answer is one finalized answer handed back to the invoking process.
type Answer struct {
	ID          string   `json:"id"`
	Value       any      `json:"value"`
	Attachments []string `json:"attachments,omitempty"`
}

// Outcome is the result of a completed interview.
type Outcome struct {
	Reason       string   `json:"reason"`
	Answers      []Answer `json:"answers,omitempty"`
	Transcript   string   `json:"transcript,omitempty"`
	RecoveryPath string   `json:"recoveryPath,omitempty"`
}

// Cancelled reports whether the interview ended without a submission.
func (o Outcome) Cancelled() bool {
	return o.Reason != ReasonSubmitted
}

// Archiver records completed interviews. Satisfied by *storage.Store;
// optional, and always best-effort on the completion path.
type Archiver interface {
	SaveSubmission(storage.Submission) error
}

// Config assembles an interview instance.
type Config struct {
	ID        string // generated when empty
	Token     string // generated when empty
	Title     string
	Cwd       string
	GitBranch string

	Set         *questions.Set
	Registry    *registry.Registry
	RecoveryDir string
	Archive     Archiver
	OnComplete  func(Outcome)

	CheckInterval  time.Duration
	HeartbeatGrace time.Duration
	Logger         *slog.Logger
}

// Instance is one running interview session.
type Instance struct {
	id        string
	token     string
	title     string
	cwd       string
	gitBranch string
	url       string

	set         *questions.Set
	reg         *registry.Registry
	recoveryDir string
	archive     Archiver
	onComplete  func(Outcome)
	logger      *slog.Logger

	guard    Guard
	watchdog *Watchdog
}

// New builds an Instance. The watchdog is wired but not running until
// RunWatchdog is called.
func New(cfg Config) *Instance {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Token == "" {
		cfg.Token = uuid.New().String()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	i := &Instance{
		id:          cfg.ID,
		token:       cfg.Token,
		title:       cfg.Title,
		cwd:         cfg.Cwd,
		gitBranch:   cfg.GitBranch,
		set:         cfg.Set,
		reg:         cfg.Registry,
		recoveryDir: cfg.RecoveryDir,
		archive:     cfg.Archive,
		onComplete:  cfg.OnComplete,
		logger:      cfg.Logger,
	}
	i.watchdog = NewWatchdog(cfg.CheckInterval, cfg.HeartbeatGrace, func() {
		if _, err := i.Complete(ReasonStale, nil, ""); err != nil {
			i.logger.Error("recovery save on stale session failed", "session", i.id, "error", err)
		}
	})
	return i
}

func (i *Instance) ID() string            { return i.id }
func (i *Instance) Token() string         { return i.token }
func (i *Instance) Title() string         { return i.title }
func (i *Instance) Set() *questions.Set   { return i.set }
func (i *Instance) URL() string           { return i.url }
func (i *Instance) Completed() bool       { return i.guard.Completed() }
func (i *Instance) State() WatchdogState  { return i.watchdog.State() }
func (i *Instance) Sessions() *registry.Registry { return i.reg }

// SetURL records the reachable address once the listener is bound.
func (i *Instance) SetURL(url string) { i.url = url }

func (i *Instance) entry() registry.Entry {
	return registry.Entry{
		ID:        i.id,
		URL:       i.url,
		Cwd:       registry.DisplayPath(i.cwd),
		GitBranch: i.gitBranch,
		Title:     i.title,
	}
}

// RegisterSelf adds this instance to the shared registry. Called once the
// listening port is bound; idempotently safe to call again.
func (i *Instance) RegisterSelf() error {
	return i.reg.Register(i.entry())
}

// Heartbeat records a liveness signal: it transitions the watchdog and
// refreshes the registry entry so a pruned entry self-heals.
func (i *Instance) Heartbeat() {
	if i.guard.Completed() {
		return
	}
	i.watchdog.Heartbeat()
	if err := i.reg.Touch(i.entry()); err != nil {
		i.logger.Warn("refreshing registry entry failed", "session", i.id, "error", err)
	}
}

// RunWatchdog runs the periodic staleness check until ctx is cancelled or
// the session completes.
func (i *Instance) RunWatchdog(ctx context.Context) {
	i.watchdog.Run(ctx)
}

// Complete performs the terminal transition exactly once. It returns false
// when another trigger already won the guard; every terminal action (stop
// the watchdog, save recovery on abnormal reasons, unregister, archive,
// invoke the completion callback) is gated behind the first successful call.
// The returned error is non-nil only for a recovery write failure, the one
// failure this path must not swallow; completion still proceeds.
func (i *Instance) Complete(reason string, answers []Answer, transcript string) (bool, error) {
	if !i.guard.MarkCompleted() {
		return false, nil
	}
	i.watchdog.Stop()

	outcome := Outcome{Reason: reason, Answers: answers, Transcript: transcript}

	var recoveryErr error
	if reason == ReasonTimeout || reason == ReasonStale {
		path, err := recovery.Save(i.recoveryDir, i.set, recovery.Context{
			Project:   filepath.Base(i.cwd),
			Branch:    i.gitBranch,
			SessionID: i.id,
		})
		if err != nil {
			recoveryErr = fmt.Errorf("saving recovery record: %w", err)
		} else {
			outcome.RecoveryPath = path
			i.logger.Info("recovery record written", "session", i.id, "path", path)
		}
	}

	if err := i.reg.Unregister(i.id); err != nil {
		i.logger.Warn("unregistering session failed", "session", i.id, "error", err)
	}

	if i.archive != nil {
		if err := i.archive.SaveSubmission(i.submission(outcome)); err != nil {
			i.logger.Warn("archiving submission failed", "session", i.id, "error", err)
		}
	}

	i.logger.Info("session completed", "session", i.id, "reason", reason)
	if i.onComplete != nil {
		go i.onComplete(outcome)
	}
	return true, recoveryErr
}

func (i *Instance) submission(o Outcome) storage.Submission {
	answersJSON := ""
	if len(o.Answers) > 0 {
		if b, err := json.Marshal(o.Answers); err == nil {
			answersJSON = string(b)
		}
	}
	return storage.Submission{
		ID:          i.id,
		Title:       i.title,
		Cwd:         registry.DisplayPath(i.cwd),
		GitBranch:   i.gitBranch,
		Reason:      o.Reason,
		AnswersJSON: answersJSON,
		Transcript:  o.Transcript,
		CompletedAt: time.Now(),
	}
}

// CurrentBranch returns the checked-out git branch for dir, walking up to
// the repository root and parsing .git/HEAD. Best-effort: empty on any
// failure or detached HEAD.
func CurrentBranch(dir string) string {
	for d := dir; ; {
		head, err := os.ReadFile(filepath.Join(d, ".git", "HEAD"))
		if err == nil {
			ref := strings.TrimSpace(string(head))
			if rest, ok := strings.CutPrefix(ref, "ref: refs/heads/"); ok {
				return rest
			}
			return ""
		}
		parent := filepath.Dir(d)
		if parent == d {
			return ""
		}
		d = parent
	}
}
