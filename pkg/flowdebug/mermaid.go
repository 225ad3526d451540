package flowdebug

import (
	"fmt"
	"strings"
)

// MermaidDiagram renders flow as a Mermaid "flowchart TD" graph.
//
// Action steps are boxes, validation and decision steps are rhombi, other
// types are rounded. Start feeds the start step and every step without
// next_steps feeds End. Decision branches become labelled edges.
func MermaidDiagram(flow *BusinessFlow) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	b.WriteString("    Start([Start])\n")
	b.WriteString("    End([End])\n")

	for _, s := range flow.Steps {
		fmt.Fprintf(&b, "    %s\n", mermaidNode(s))
	}

	fmt.Fprintf(&b, "    Start --> %s\n", mermaidID(flow.StartStep))
	for _, s := range flow.Steps {
		for _, br := range s.Branches {
			fmt.Fprintf(&b, "    %s -->|\"%s\"| %s\n", mermaidID(s.ID), mermaidEscape(br.Condition), mermaidID(br.Target))
		}
		for _, next := range s.NextSteps {
			fmt.Fprintf(&b, "    %s --> %s\n", mermaidID(s.ID), mermaidID(next))
		}
		if len(s.NextSteps) == 0 {
			fmt.Fprintf(&b, "    %s --> End\n", mermaidID(s.ID))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func mermaidNode(s FlowStep) string {
	label := s.Name
	if label == "" {
		label = s.ID
	}
	label = mermaidEscape(label)
	id := mermaidID(s.ID)

	switch s.Type {
	case StepAction:
		return fmt.Sprintf("%s[\"%s\"]", id, label)
	case StepValidation, StepDecision:
		return fmt.Sprintf("%s{\"%s\"}", id, label)
	default:
		return fmt.Sprintf("%s(\"%s\")", id, label)
	}
}

// mermaidID keeps ids usable as node names. Mermaid treats "end" (any
// case) as a keyword and rejects most punctuation.
func mermaidID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r == '_' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	switch strings.ToLower(out) {
	case "", "end", "start":
		out = "step_" + out
	}
	return out
}

func mermaidEscape(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}
