package session

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/parley/internal/questions"
	"github.com/kalambet/parley/internal/registry"
	"github.com/kalambet/parley/internal/storage"
)

func testInstance(t *testing.T, onComplete func(Outcome)) *Instance {
	t.Helper()
	dir := t.TempDir()
	return New(Config{
		ID:          "abcdef123456",
		Title:       "review",
		Cwd:         filepath.Join(dir, "myrepo"),
		GitBranch:   "main",
		Set:         &questions.Set{Questions: []questions.Question{{ID: "q1", Type: questions.TypeText, Prompt: "?"}}},
		Registry:    registry.New(filepath.Join(dir, "sessions.json")),
		RecoveryDir: filepath.Join(dir, "recovery"),
		OnComplete:  onComplete,
	})
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback never fired")
		return Outcome{}
	}
}

func TestInstance_SubmitCompletesOnce(t *testing.T) {
	outcomes := make(chan Outcome, 4)
	i := testInstance(t, func(o Outcome) { outcomes <- o })

	if err := i.RegisterSelf(); err != nil {
		t.Fatalf("RegisterSelf failed: %v", err)
	}
	if got := len(i.Sessions().List()); got != 1 {
		t.Fatalf("registered sessions = %d, want 1", got)
	}

	answers := []Answer{{ID: "q1", Value: "done"}}
	ok, err := i.Complete(ReasonSubmitted, answers, "")
	if err != nil || !ok {
		t.Fatalf("Complete = (%v, %v), want (true, nil)", ok, err)
	}

	o := waitOutcome(t, outcomes)
	if o.Reason != ReasonSubmitted || o.Cancelled() {
		t.Errorf("outcome = %+v, want submitted", o)
	}
	if len(o.Answers) != 1 || o.Answers[0].Value != "done" {
		t.Errorf("answers = %+v", o.Answers)
	}
	if o.RecoveryPath != "" {
		t.Errorf("submit must not write recovery, got %q", o.RecoveryPath)
	}

	// Entry removed from the shared registry.
	if got := len(i.Sessions().List()); got != 0 {
		t.Errorf("sessions after completion = %d, want 0", got)
	}
}

func TestInstance_CompletionRace(t *testing.T) {
	outcomes := make(chan Outcome, 8)
	i := testInstance(t, func(o Outcome) { outcomes <- o })

	var wg sync.WaitGroup
	wins := make(chan string, 3)
	for _, reason := range []string{ReasonSubmitted, ReasonUser, ReasonStale} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := i.Complete(reason, nil, ""); ok {
				wins <- reason
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for r := range wins {
		winners = append(winners, r)
	}
	if len(winners) != 1 {
		t.Fatalf("winners = %v, want exactly one", winners)
	}

	waitOutcome(t, outcomes)
	select {
	case o := <-outcomes:
		t.Fatalf("completion callback fired twice: %+v", o)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInstance_StaleWritesRecovery(t *testing.T) {
	outcomes := make(chan Outcome, 1)
	i := testInstance(t, func(o Outcome) { outcomes <- o })

	ok, err := i.Complete(ReasonStale, nil, "")
	if err != nil || !ok {
		t.Fatalf("Complete = (%v, %v), want (true, nil)", ok, err)
	}

	o := waitOutcome(t, outcomes)
	if o.RecoveryPath == "" {
		t.Fatal("stale completion must produce a recovery file")
	}
	if _, statErr := os.Stat(o.RecoveryPath); statErr != nil {
		t.Errorf("recovery file missing: %v", statErr)
	}
	name := filepath.Base(o.RecoveryPath)
	if want := "myrepo_main_abcdef12.json"; !strings.HasSuffix(name, want) {
		t.Errorf("recovery filename = %q, want suffix %q", name, want)
	}
}

func TestInstance_WatchdogTimeoutEndToEnd(t *testing.T) {
	outcomes := make(chan Outcome, 1)
	i := testInstance(t, func(o Outcome) { outcomes <- o })

	start := time.Now()
	i.watchdog.now = func() time.Time { return start }
	i.Heartbeat()

	i.watchdog.now = func() time.Time { return start.Add(2 * time.Minute) }
	if !i.watchdog.check() {
		t.Fatal("watchdog check past grace should fire")
	}

	o := waitOutcome(t, outcomes)
	if o.Reason != ReasonStale {
		t.Errorf("Reason = %q, want %q", o.Reason, ReasonStale)
	}
	if o.RecoveryPath == "" {
		t.Error("watchdog timeout must write a recovery file")
	}
	if !i.Completed() {
		t.Error("instance should be completed")
	}
}

func TestInstance_ArchivesOutcome(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	dir := t.TempDir()
	outcomes := make(chan Outcome, 1)
	i := New(Config{
		ID:          "arch-1",
		Title:       "archived",
		Cwd:         dir,
		Set:         &questions.Set{Questions: []questions.Question{{ID: "q1", Type: questions.TypeText, Prompt: "?"}}},
		Registry:    registry.New(filepath.Join(dir, "sessions.json")),
		RecoveryDir: filepath.Join(dir, "recovery"),
		Archive:     store,
		OnComplete:  func(o Outcome) { outcomes <- o },
	})

	if ok, _ := i.Complete(ReasonSubmitted, []Answer{{ID: "q1", Value: "v"}}, ""); !ok {
		t.Fatal("Complete should win")
	}
	waitOutcome(t, outcomes)

	sub, err := store.GetSubmission("arch-1")
	if err != nil {
		t.Fatalf("GetSubmission failed: %v", err)
	}
	if sub.Reason != ReasonSubmitted || sub.AnswersJSON == "" {
		t.Errorf("archived submission = %+v", sub)
	}
}

func TestCurrentBranch(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "repo", "pkg")
	if err := os.MkdirAll(filepath.Join(dir, "repo", ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	head := filepath.Join(dir, "repo", ".git", "HEAD")
	if err := os.WriteFile(head, []byte("ref: refs/heads/feature/x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := CurrentBranch(sub); got != "feature/x" {
		t.Errorf("CurrentBranch = %q, want %q", got, "feature/x")
	}

	// Detached HEAD yields empty.
	if err := os.WriteFile(head, []byte("abc123\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := CurrentBranch(sub); got != "" {
		t.Errorf("CurrentBranch detached = %q, want empty", got)
	}

	if got := CurrentBranch(t.TempDir()); got != "" {
		t.Errorf("CurrentBranch outside a repo = %q, want empty", got)
	}
}
