package interview

import (
	"log/slog"
	"strings"
)

// ToolName identifies a candidate-facing tool a phase may enable.
type ToolName string

const (
	ToolBase         ToolName = "BASE"
	ToolCodeEditor   ToolName = "CODE_EDITOR"
	ToolDesignEditor ToolName = "DESIGN_EDITOR"
)

// IsValid reports whether the tool name is one of the known set.
func (t ToolName) IsValid() bool {
	switch t {
	case ToolBase, ToolCodeEditor, ToolDesignEditor:
		return true
	}
	return false
}

// ParseToolNames parses the comma-delimited tool column from storage
// ("CODE_EDITOR, BASE") into a typed set. Tokens are trimmed and upper-cased;
// duplicates collapse to the first occurrence; unknown tokens are skipped
// with a warning rather than failing the load.
func ParseToolNames(raw string) []ToolName {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var (
		tools []ToolName
		seen  = make(map[ToolName]bool, 3)
	)
	for _, token := range strings.Split(raw, ",") {
		name := ToolName(strings.ToUpper(strings.TrimSpace(token)))
		if name == "" {
			continue
		}
		if !name.IsValid() {
			slog.Warn("interview: skipping unknown tool name", "tool", string(name))
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		tools = append(tools, name)
	}
	return tools
}

// HasTool reports whether the planner enables the given tool.
func (p *PlannerField) HasTool(tool ToolName) bool {
	for _, t := range p.ToolNames {
		if t == tool {
			return true
		}
	}
	return false
}
