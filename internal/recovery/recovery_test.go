package recovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kalambet/parley/internal/questions"
)

func testSet() *questions.Set {
	return &questions.Set{
		Title: "review",
		Questions: []questions.Question{
			{ID: "q1", Type: questions.TypeText, Prompt: "Notes?"},
		},
	}
}

func TestFilename_Sanitization(t *testing.T) {
	when := time.Date(2026, 1, 17, 14, 5, 9, 0, time.UTC)
	got := Filename(Context{
		Project:   "myrepo",
		Branch:    "feature/x",
		SessionID: "abcdef123456",
		SavedAt:   when,
	})
	want := "2026-01-17_140509_myrepo_feature-x_abcdef12.json"
	if got != want {
		t.Errorf("Filename = %q, want %q", got, want)
	}
}

func TestFilename_EmptyBranch(t *testing.T) {
	when := time.Date(2026, 1, 17, 14, 5, 9, 0, time.UTC)
	got := Filename(Context{Project: "p", SessionID: "ab", SavedAt: when})
	want := "2026-01-17_140509_p_unknown_ab.json"
	if got != want {
		t.Errorf("Filename = %q, want %q", got, want)
	}
}

func TestSave_WritesRecord(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recovery")

	path, err := Save(dir, testSet(), Context{
		Project:   "myrepo",
		Branch:    "main",
		SessionID: "abcdef123456",
		SavedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	if rec.SessionID != "abcdef123456" {
		t.Errorf("SessionID = %q, want %q", rec.SessionID, "abcdef123456")
	}
	if rec.Questions == nil || len(rec.Questions.Questions) != 1 {
		t.Errorf("snapshot lost the question set: %+v", rec.Questions)
	}
}

func TestSweep_RetentionWindow(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)

	old := "2026-01-01_090000_repo_main_aaaaaaaa.json"
	fresh := "2026-01-18_090000_repo_main_bbbbbbbb.json"
	odd := "README.txt"
	for _, name := range []string{old, fresh, odd} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := Sweep(dir, now, DefaultRetention); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, old)); !os.IsNotExist(err) {
		t.Errorf("old snapshot should have been deleted")
	}
	if _, err := os.Stat(filepath.Join(dir, fresh)); err != nil {
		t.Errorf("fresh snapshot should survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, odd)); err != nil {
		t.Errorf("unparseable filename should be skipped: %v", err)
	}
}

func TestSweep_MissingDirectory(t *testing.T) {
	if err := Sweep(filepath.Join(t.TempDir(), "nope"), time.Now(), 0); err != nil {
		t.Errorf("Sweep on missing dir = %v, want nil", err)
	}
}

func TestList_NewestFirst(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"2026-01-01_090000_a_main_aaaaaaaa.json",
		"2026-01-05_090000_b_main_bbbbbbbb.json",
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := List(dir)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 || got[0] != names[1] {
		t.Errorf("List = %v, want newest first", got)
	}
}
