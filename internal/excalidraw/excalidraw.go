// Package excalidraw converts Excalidraw scene JSON into a structured diagram
// model, a natural-language description, and a Mermaid flowchart.
//
// The converter is a pure function over the scene payload: shapes become
// components, bound arrows become connections, and unconnected shapes and
// free-floating text become standalone entries. Elements the converter does
// not understand are skipped rather than rejected — browser scenes routinely
// carry decorations (freedraw strokes, selections) that have no place in a
// design summary.
package excalidraw

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Component is one shape of the design: a box, circle, or decision node,
// labeled by its bound text element.
type Component struct {
	// ID is the Excalidraw element id.
	ID string

	// Label is the bound text, or a generated placeholder for unlabeled shapes.
	Label string

	// Shape is the Excalidraw element type (rectangle, ellipse, diamond, …).
	Shape string
}

// Connection is one bound connector between two components.
type Connection struct {
	FromID string
	ToID   string

	// Label is the connector's bound text; may be empty.
	Label string

	// Directed is true for arrows and false for plain lines.
	Directed bool
}

// Diagram is the structured form of a scene.
type Diagram struct {
	// Components are shapes that participate in at least one connection.
	Components []Component

	// Standalone are shapes with no connections.
	Standalone []Component

	// Connections are the bound connectors between shapes.
	Connections []Connection

	// Notes are free-floating text elements not bound to any shape.
	Notes []string

	labels map[string]string
	nodes  map[string]string
}

// scene is the subset of the Excalidraw file format the converter reads.
type scene struct {
	Type     string    `json:"type"`
	Elements []element `json:"elements"`
}

type element struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Text         string   `json:"text"`
	IsDeleted    bool     `json:"isDeleted"`
	ContainerID  string   `json:"containerId"`
	StartBinding *binding `json:"startBinding"`
	EndBinding   *binding `json:"endBinding"`
}

type binding struct {
	ElementID string `json:"elementId"`
}

// shapeTypes are the element types treated as design components.
var shapeTypes = map[string]bool{
	"rectangle": true,
	"ellipse":   true,
	"diamond":   true,
	"image":     true,
}

// Convert parses raw scene JSON and returns the natural-language description
// and the Mermaid diagram in one call. It is the entry point used by the
// design artifact pipeline.
func Convert(raw string) (description, mermaid string, err error) {
	d, err := Parse(raw)
	if err != nil {
		return "", "", err
	}
	return d.Description(), d.Mermaid(), nil
}

// Parse decodes raw scene JSON into a [Diagram]. Deleted elements are
// dropped; connectors whose bindings do not resolve to a known shape are
// skipped. An empty elements array yields an empty diagram, not an error.
func Parse(raw string) (*Diagram, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("excalidraw: empty scene")
	}

	var s scene
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("excalidraw: parse scene: %w", err)
	}

	d := &Diagram{
		labels: make(map[string]string),
		nodes:  make(map[string]string),
	}

	// First pass: labels. Bound text elements name their container, which may
	// be a shape or a connector.
	for _, el := range s.Elements {
		if el.IsDeleted || el.Type != "text" {
			continue
		}
		if el.ContainerID != "" {
			d.labels[el.ContainerID] = flatten(el.Text)
		}
	}

	// Second pass: shapes and free text.
	var (
		shapes    []Component
		connected = make(map[string]bool)
	)
	for _, el := range s.Elements {
		if el.IsDeleted {
			continue
		}
		switch {
		case shapeTypes[el.Type]:
			label := d.labels[el.ID]
			if label == "" {
				label = fmt.Sprintf("unlabeled %s %d", el.Type, len(shapes)+1)
			}
			shapes = append(shapes, Component{ID: el.ID, Label: label, Shape: el.Type})
			d.labels[el.ID] = label
		case el.Type == "text" && el.ContainerID == "":
			if t := flatten(el.Text); t != "" {
				d.Notes = append(d.Notes, t)
			}
		}
	}

	known := make(map[string]bool, len(shapes))
	for _, c := range shapes {
		known[c.ID] = true
	}

	// Third pass: connectors. Only connectors bound to known shapes at both
	// ends survive; dangling arrows are scene noise.
	for _, el := range s.Elements {
		if el.IsDeleted || (el.Type != "arrow" && el.Type != "line") {
			continue
		}
		if el.StartBinding == nil || el.EndBinding == nil {
			continue
		}
		from, to := el.StartBinding.ElementID, el.EndBinding.ElementID
		if !known[from] || !known[to] {
			continue
		}
		d.Connections = append(d.Connections, Connection{
			FromID:   from,
			ToID:     to,
			Label:    d.labels[el.ID],
			Directed: el.Type == "arrow",
		})
		connected[from] = true
		connected[to] = true
	}

	for _, c := range shapes {
		if connected[c.ID] {
			d.Components = append(d.Components, c)
		} else {
			d.Standalone = append(d.Standalone, c)
		}
	}
	return d, nil
}

// Empty reports whether the scene contained nothing describable.
func (d *Diagram) Empty() bool {
	return len(d.Components) == 0 && len(d.Standalone) == 0 && len(d.Notes) == 0
}

// Description renders the diagram as prose: components first, then
// connections, then standalone shapes and notes.
func (d *Diagram) Description() string {
	if d.Empty() {
		return "The design is empty."
	}

	var b strings.Builder
	all := len(d.Components) + len(d.Standalone)
	fmt.Fprintf(&b, "The design has %d component%s: ", all, plural(all))
	names := make([]string, 0, all)
	for _, c := range append(append([]Component{}, d.Components...), d.Standalone...) {
		names = append(names, fmt.Sprintf("%q (%s)", c.Label, c.Shape))
	}
	b.WriteString(joinAnd(names))
	b.WriteString(".")

	if len(d.Connections) > 0 {
		b.WriteString("\nConnections: ")
		parts := make([]string, 0, len(d.Connections))
		for _, conn := range d.Connections {
			arrow := "connects to"
			if !conn.Directed {
				arrow = "is linked to"
			}
			p := fmt.Sprintf("%q %s %q", d.labels[conn.FromID], arrow, d.labels[conn.ToID])
			if conn.Label != "" {
				p += fmt.Sprintf(" (%s)", conn.Label)
			}
			parts = append(parts, p)
		}
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString(".")
	}

	if len(d.Standalone) > 0 {
		names := make([]string, 0, len(d.Standalone))
		for _, c := range d.Standalone {
			names = append(names, fmt.Sprintf("%q", c.Label))
		}
		fmt.Fprintf(&b, "\nNot connected to anything: %s.", joinAnd(names))
	}

	for _, note := range d.Notes {
		fmt.Fprintf(&b, "\nNote: %s", note)
	}
	return b.String()
}

// Mermaid renders the diagram as a top-down flowchart. Node shapes follow the
// Excalidraw shape: rectangles stay rectangular, ellipses become circles,
// diamonds become decisions.
func (d *Diagram) Mermaid() string {
	var b strings.Builder
	b.WriteString("flowchart TD")

	n := 0
	for _, c := range append(append([]Component{}, d.Components...), d.Standalone...) {
		n++
		id := fmt.Sprintf("n%d", n)
		d.nodes[c.ID] = id
		b.WriteString("\n    ")
		b.WriteString(mermaidNode(id, c))
	}

	for _, conn := range d.Connections {
		from, to := d.nodes[conn.FromID], d.nodes[conn.ToID]
		edge := "-->"
		if !conn.Directed {
			edge = "---"
		}
		b.WriteString("\n    ")
		if conn.Label != "" {
			fmt.Fprintf(&b, "%s %s|%s| %s", from, edge, mermaidText(conn.Label), to)
		} else {
			fmt.Fprintf(&b, "%s %s %s", from, edge, to)
		}
	}
	return b.String()
}

func mermaidNode(id string, c Component) string {
	label := mermaidText(c.Label)
	switch c.Shape {
	case "ellipse":
		return fmt.Sprintf(`%s(("%s"))`, id, label)
	case "diamond":
		return fmt.Sprintf(`%s{"%s"}`, id, label)
	default:
		return fmt.Sprintf(`%s["%s"]`, id, label)
	}
}

// mermaidText strips characters that break Mermaid's inline syntax.
func mermaidText(s string) string {
	return strings.NewReplacer("\"", "'", "|", "/", "\n", " ").Replace(s)
}

// flatten collapses multi-line label text into one line.
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// joinAnd joins items with commas and a final "and".
func joinAnd(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
	}
}
