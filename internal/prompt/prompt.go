// Package prompt holds the interviewer's prompt templates.
//
// Every piece of text Cadenza injects into the LLM — the default system
// prompt, phase banners, time nudges, the closing instruction, and the
// debounced artifact prompts — renders from a [Pack]. A Pack starts from the
// built-in templates and may be partially overridden by a YAML file, so prompt
// tuning never requires a rebuild.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Templates is the YAML override schema. Empty fields keep the built-in text.
type Templates struct {
	DefaultSystem string `yaml:"default_system"`
	Greeting      string `yaml:"greeting"`
	PhaseBanner   string `yaml:"phase_banner"`
	Nudge         string `yaml:"nudge"`
	FinalNudge    string `yaml:"final_nudge"`
	Closure       string `yaml:"closure"`
	CodeInitial   string `yaml:"code_initial"`
	CodeUpdate    string `yaml:"code_update"`
	DesignInitial string `yaml:"design_initial"`
	DesignUpdate  string `yaml:"design_update"`
}

// builtin is the default template set. The texts are the product voice;
// operators override individual entries via PROMPTS_FILE.
var builtin = Templates{
	DefaultSystem: "You are a professional technical interviewer conducting a live, spoken interview. " +
		"Keep responses concise and conversational — they are read aloud. Ask one question at a time, " +
		"listen actively, and probe the candidate's reasoning rather than lecturing.",

	Greeting: "The candidate has just joined the call. Greet them warmly, introduce yourself briefly, " +
		"and ease into the interview.",

	PhaseBanner: "[Phase {{.Sequence}} — {{.DurationMinutes}} minutes — question {{.QuestionID}}]\n" +
		"{{.Instructions}}{{if .Knowledge}}\n\nReference material for this question:\n{{.Knowledge}}{{end}}",

	Nudge: "About {{.ElapsedPct}}% of the time for this phase has passed. " +
		"Steer the conversation so the current task can conclude naturally.",

	FinalNudge: "Time for this phase is up. Bring the current task to a close now and prepare to move on.",

	Closure: "The interview is over. Thank the candidate for their time, give a brief encouraging " +
		"sign-off, and say goodbye. Do not ask any further questions.",

	CodeInitial: "The candidate submitted code for the first time (submission {{.SubmissionCount}}, " +
		"language {{.Language}}).{{if .Indicators}} Notable signals: {{join .Indicators \", \"}}.{{end}}\n" +
		"```{{.LanguageTag}}\n{{.Content}}\n```\n" +
		"React as an interviewer: acknowledge what they have so far and ask about their approach.",

	CodeUpdate: "The candidate updated their code (submission {{.SubmissionCount}}, " +
		"language {{.Language}}).{{if .Indicators}} Notable signals: {{join .Indicators \", \"}}.{{end}}\n" +
		"```{{.LanguageTag}}\n{{.Content}}\n```\n" +
		"Comment only on what changed or what matters next. Do not repeat earlier feedback.",

	DesignInitial: "The candidate drew a first version of their system design " +
		"(submission {{.SubmissionCount}}).\nDescription:\n{{.Description}}\n\nDiagram:\n```mermaid\n{{.Mermaid}}\n```\n" +
		"React as an interviewer: acknowledge the structure and ask about one key decision.",

	DesignUpdate: "The candidate revised their system design (submission {{.SubmissionCount}}).\n" +
		"Description:\n{{.Description}}\n\nDiagram:\n```mermaid\n{{.Mermaid}}\n```\n" +
		"Comment only on the revision. Do not repeat earlier feedback.",
}

// BannerData feeds the phase banner template.
type BannerData struct {
	Sequence        int
	DurationMinutes int
	QuestionID      string
	Instructions    string
	Knowledge       string
}

// NudgeData feeds the nudge template.
type NudgeData struct {
	ElapsedPct int
}

// CodePromptData feeds the code artifact templates.
type CodePromptData struct {
	SubmissionCount int
	Language        string
	LanguageTag     string
	Content         string
	Indicators      []string
}

// DesignPromptData feeds the design artifact templates.
type DesignPromptData struct {
	SubmissionCount int
	Description     string
	Mermaid         string
}

// Pack is a parsed, ready-to-render template set. Packs are immutable after
// Load and safe for concurrent use.
type Pack struct {
	defaultSystem string
	greeting      string
	finalNudge    string
	closure       string

	phaseBanner   *template.Template
	nudge         *template.Template
	codeInitial   *template.Template
	codeUpdate    *template.Template
	designInitial *template.Template
	designUpdate  *template.Template
}

var funcs = template.FuncMap{
	"join": strings.Join,
}

// Load builds a [Pack] from the built-in templates, overridden by the YAML
// file at path when path is non-empty. Unknown YAML keys and template parse
// errors fail loading; all parse failures are reported together.
func Load(path string) (*Pack, error) {
	tpls := builtin

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("prompt: read %s: %w", path, err)
		}
		var overrides Templates
		dec := yaml.NewDecoder(strings.NewReader(string(raw)))
		dec.KnownFields(true)
		if err := dec.Decode(&overrides); err != nil {
			return nil, fmt.Errorf("prompt: parse %s: %w", path, err)
		}
		merge(&tpls, overrides)
	}

	p := &Pack{
		defaultSystem: tpls.DefaultSystem,
		greeting:      tpls.Greeting,
		finalNudge:    tpls.FinalNudge,
		closure:       tpls.Closure,
	}

	var errs []error
	parse := func(name, text string) *template.Template {
		t, err := template.New(name).Funcs(funcs).Parse(text)
		if err != nil {
			errs = append(errs, fmt.Errorf("template %s: %w", name, err))
			return nil
		}
		return t
	}

	p.phaseBanner = parse("phase_banner", tpls.PhaseBanner)
	p.nudge = parse("nudge", tpls.Nudge)
	p.codeInitial = parse("code_initial", tpls.CodeInitial)
	p.codeUpdate = parse("code_update", tpls.CodeUpdate)
	p.designInitial = parse("design_initial", tpls.DesignInitial)
	p.designUpdate = parse("design_update", tpls.DesignUpdate)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("prompt: %w", err)
	}
	return p, nil
}

// MustLoad is Load for the built-in set only. It panics on error, which can
// only happen when the built-in templates themselves are malformed.
func MustLoad() *Pack {
	p, err := Load("")
	if err != nil {
		panic(err)
	}
	return p
}

// merge copies non-empty override fields onto dst.
func merge(dst *Templates, src Templates) {
	if src.DefaultSystem != "" {
		dst.DefaultSystem = src.DefaultSystem
	}
	if src.Greeting != "" {
		dst.Greeting = src.Greeting
	}
	if src.PhaseBanner != "" {
		dst.PhaseBanner = src.PhaseBanner
	}
	if src.Nudge != "" {
		dst.Nudge = src.Nudge
	}
	if src.FinalNudge != "" {
		dst.FinalNudge = src.FinalNudge
	}
	if src.Closure != "" {
		dst.Closure = src.Closure
	}
	if src.CodeInitial != "" {
		dst.CodeInitial = src.CodeInitial
	}
	if src.CodeUpdate != "" {
		dst.CodeUpdate = src.CodeUpdate
	}
	if src.DesignInitial != "" {
		dst.DesignInitial = src.DesignInitial
	}
	if src.DesignUpdate != "" {
		dst.DesignUpdate = src.DesignUpdate
	}
}

// DefaultSystem returns the fallback system prompt used when the first phase
// carries no instructions.
func (p *Pack) DefaultSystem() string { return p.defaultSystem }

// Greeting returns the user-turn primer sent when the candidate connects.
func (p *Pack) Greeting() string { return p.greeting }

// FinalNudge returns the expiry nudge text.
func (p *Pack) FinalNudge() string { return p.finalNudge }

// Closure returns the terminal wrap-up instruction.
func (p *Pack) Closure() string { return p.closure }

// PhaseBanner renders the system message injected on phase entry.
func (p *Pack) PhaseBanner(d BannerData) (string, error) {
	return render(p.phaseBanner, d)
}

// Nudge renders the in-phase time nudge.
func (p *Pack) Nudge(d NudgeData) (string, error) {
	return render(p.nudge, d)
}

// CodePrompt renders the debounced code prompt. initial selects the
// first-submission template.
func (p *Pack) CodePrompt(initial bool, d CodePromptData) (string, error) {
	if initial {
		return render(p.codeInitial, d)
	}
	return render(p.codeUpdate, d)
}

// DesignPrompt renders the debounced design prompt. initial selects the
// first-submission template.
func (p *Pack) DesignPrompt(initial bool, d DesignPromptData) (string, error) {
	if initial {
		return render(p.designInitial, d)
	}
	return render(p.designUpdate, d)
}

func render(t *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("prompt: render %s: %w", t.Name(), err)
	}
	return sb.String(), nil
}
