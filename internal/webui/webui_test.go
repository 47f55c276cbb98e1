package webui

import (
	"strings"
	"testing"

	"github.com/kalambet/parley/internal/questions"
)

func TestRenderForm(t *testing.T) {
	set := &questions.Set{
		Title: "Review",
		Questions: []questions.Question{
			{ID: "pick", Type: questions.TypeSingle, Prompt: "Pick one", Options: []string{"a", "b"}},
			{ID: "why", Type: questions.TypeText, Prompt: "Why?"},
			{ID: "shots", Type: questions.TypeImage, Prompt: "Screenshots"},
		},
	}

	var b strings.Builder
	if err := RenderForm(&b, set, "tok-123"); err != nil {
		t.Fatalf("RenderForm failed: %v", err)
	}
	html := b.String()

	for _, want := range []string{"Pick one", "Why?", "Screenshots", `type="radio"`, "textarea", `type="file"`, "tok-123"} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered form missing %q", want)
		}
	}
}

func TestRenderForm_EscapesPrompt(t *testing.T) {
	set := &questions.Set{
		Questions: []questions.Question{
			{ID: "q", Type: questions.TypeText, Prompt: "<script>alert(1)</script>"},
		},
	}

	var b strings.Builder
	if err := RenderForm(&b, set, "t"); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(b.String(), "<script>alert(1)</script>") {
		t.Error("prompt was not HTML-escaped")
	}
}
