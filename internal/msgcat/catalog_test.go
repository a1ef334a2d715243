package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderEnglish(t *testing.T) {
	c, err := New("", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Lang() != "en" {
		t.Fatalf("lang=%s", c.Lang())
	}
	got, err := c.Render("outcome.loss", map[string]any{"Reason": "resignation"})
	if err != nil || got != "You lost (resignation)." {
		t.Fatalf("got %q err=%v", got, err)
	}
	if _, err := c.Render("outcome.loss", map[string]any{}); err == nil {
		t.Fatalf("expected missing key error")
	}
	if _, err := c.Render("nope", nil); err == nil {
		t.Fatalf("expected unknown template error")
	}
	if got := c.Text("nope", nil); got != "nope" {
		t.Fatalf("Text fallback=%q", got)
	}
}

func TestKoreanFallsBackToEnglish(t *testing.T) {
	c, err := New("KO", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Text("error.not_your_turn", nil); got != "내 차례가 아닙니다." {
		t.Fatalf("got %q", got)
	}
	// help is only defined in English
	if !strings.Contains(c.Text("help", nil), "move e2e4") {
		t.Fatalf("help not inherited")
	}
	if _, err := New("xx", ""); err == nil {
		t.Fatalf("expected unsupported language error")
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("draw:\n  declined: \"nope\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x: 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New("en", dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Text("draw.declined", nil); got != "nope" {
		t.Fatalf("override not applied: %q", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "b.yml"), []byte("draw:\n  declined: \"again\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New("en", dir); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}

func TestNonStringLeafRejected(t *testing.T) {
	if _, err := parseYAMLToFlat([]byte("a:\n  b: 3\n")); err == nil {
		t.Fatalf("expected error for int leaf")
	}
}
