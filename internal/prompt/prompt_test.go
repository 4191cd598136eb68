package prompt_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cadenza-ai/cadenza/internal/prompt"
)

func TestLoad_Builtins(t *testing.T) {
	t.Parallel()

	p, err := prompt.Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if p.DefaultSystem() == "" {
		t.Error("DefaultSystem() is empty")
	}
	if p.Greeting() == "" {
		t.Error("Greeting() is empty")
	}
	if p.Closure() == "" {
		t.Error("Closure() is empty")
	}
	if p.FinalNudge() == "" {
		t.Error("FinalNudge() is empty")
	}
}

func TestPhaseBanner(t *testing.T) {
	t.Parallel()

	p := prompt.MustLoad()
	got, err := p.PhaseBanner(prompt.BannerData{
		Sequence:        2,
		DurationMinutes: 25,
		QuestionID:      "q-42",
		Instructions:    "Ask the candidate to reverse a linked list.",
	})
	if err != nil {
		t.Fatalf("PhaseBanner() error = %v", err)
	}

	for _, want := range []string{"Phase 2", "25 minutes", "q-42", "reverse a linked list"} {
		if !strings.Contains(got, want) {
			t.Errorf("PhaseBanner() = %q, missing %q", got, want)
		}
	}
	if strings.Contains(got, "Reference material") {
		t.Errorf("PhaseBanner() includes knowledge section without knowledge: %q", got)
	}
}

func TestPhaseBanner_WithKnowledge(t *testing.T) {
	t.Parallel()

	p := prompt.MustLoad()
	got, err := p.PhaseBanner(prompt.BannerData{
		Sequence:        1,
		DurationMinutes: 10,
		QuestionID:      "q-1",
		Instructions:    "Warm-up.",
		Knowledge:       "Linked lists are sequential structures.",
	})
	if err != nil {
		t.Fatalf("PhaseBanner() error = %v", err)
	}
	if !strings.Contains(got, "Reference material") || !strings.Contains(got, "sequential structures") {
		t.Errorf("PhaseBanner() = %q, missing knowledge section", got)
	}
}

func TestNudge(t *testing.T) {
	t.Parallel()

	p := prompt.MustLoad()
	got, err := p.Nudge(prompt.NudgeData{ElapsedPct: 80})
	if err != nil {
		t.Fatalf("Nudge() error = %v", err)
	}
	if !strings.Contains(got, "80%") {
		t.Errorf("Nudge() = %q, missing elapsed percentage", got)
	}
}

func TestCodePrompt_InitialVersusUpdate(t *testing.T) {
	t.Parallel()

	p := prompt.MustLoad()
	data := prompt.CodePromptData{
		SubmissionCount: 3,
		Language:        "PYTHON",
		LanguageTag:     "python",
		Content:         "def solve():\n    pass",
		Indicators:      []string{"has function definitions"},
	}

	first, err := p.CodePrompt(true, data)
	if err != nil {
		t.Fatalf("CodePrompt(initial) error = %v", err)
	}
	update, err := p.CodePrompt(false, data)
	if err != nil {
		t.Fatalf("CodePrompt(update) error = %v", err)
	}

	if first == update {
		t.Error("initial and update code prompts are identical")
	}
	for name, got := range map[string]string{"initial": first, "update": update} {
		for _, want := range []string{"submission 3", "PYTHON", "def solve", "has function definitions", "```python"} {
			if !strings.Contains(got, want) {
				t.Errorf("CodePrompt(%s) = %q, missing %q", name, got, want)
			}
		}
	}
}

func TestDesignPrompt(t *testing.T) {
	t.Parallel()

	p := prompt.MustLoad()
	got, err := p.DesignPrompt(true, prompt.DesignPromptData{
		SubmissionCount: 1,
		Description:     "An API gateway fronting two services.",
		Mermaid:         "graph TD\n  A-->B",
	})
	if err != nil {
		t.Fatalf("DesignPrompt() error = %v", err)
	}
	for _, want := range []string{"API gateway", "graph TD", "```mermaid"} {
		if !strings.Contains(got, want) {
			t.Errorf("DesignPrompt() = %q, missing %q", got, want)
		}
	}
}

func TestLoad_YAMLOverride(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	overrides := "greeting: \"Hallo! Willkommen zum Interview.\"\nnudge: \"{{.ElapsedPct}} percent gone.\"\n"
	if err := os.WriteFile(path, []byte(overrides), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := prompt.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got, want := p.Greeting(), "Hallo! Willkommen zum Interview."; got != want {
		t.Errorf("Greeting() = %q, want %q", got, want)
	}
	// Untouched entries keep the built-in text.
	if p.Closure() != prompt.MustLoad().Closure() {
		t.Error("Closure() was changed by an override file that does not set it")
	}

	nudge, err := p.Nudge(prompt.NudgeData{ElapsedPct: 50})
	if err != nil {
		t.Fatalf("Nudge() error = %v", err)
	}
	if got, want := nudge, "50 percent gone."; got != want {
		t.Errorf("Nudge() = %q, want %q", got, want)
	}
}

func TestLoad_UnknownYAMLKey(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("greetting: \"typo\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := prompt.Load(path); err == nil {
		t.Error("Load() with unknown key succeeded, want error")
	}
}

func TestLoad_BadTemplate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("nudge: \"{{.Elapsed\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := prompt.Load(path); err == nil {
		t.Error("Load() with malformed template succeeded, want error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := prompt.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() with missing file succeeded, want error")
	}
}
