package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))

		for _, sg := range node.Children {
			fmt.Fprintf(&b, "    subgraph %s[\"%s: %s\"]\n",
				mermaidSafeID(node.ID+"_"+sg.Label), mermaidEscapeLabel(node.ID), sg.Label)
			for _, sub := range sg.Nodes {
				fmt.Fprintf(&b, "        %s\n", mermaidNodeDef(sub))
			}
			for _, edge := range sg.Edges {
				fmt.Fprintf(&b, "        %s\n", mermaidEdge(edge))
			}
			b.WriteString("    end\n")
		}
	}

	for _, edge := range model.Edges {
		fmt.Fprintf(&b, "    %s\n", mermaidEdge(edge))
	}

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef entry stroke:#1a5276,stroke-width:3px\n")

	for _, node := range model.Nodes {
		if node.Entry {
			fmt.Fprintf(&b, "    class %s entry\n", mermaidSafeID(node.ID))
		}
		writeStatusClass(&b, node)
		for _, sg := range node.Children {
			for _, sub := range sg.Nodes {
				writeStatusClass(&b, sub)
			}
		}
	}

	return b.String()
}

func writeStatusClass(b *strings.Builder, node *Node) {
	if node.Status == nil {
		return
	}
	if cls := mermaidStatusClass(node.Status.Status); cls != "" {
		fmt.Fprintf(b, "    class %s %s\n", mermaidSafeID(node.ID), cls)
	}
}

func mermaidEdge(edge Edge) string {
	label := ""
	if edge.Label != "" {
		label = fmt.Sprintf("|\"%s\"|", mermaidEscapeLabel(edge.Label))
	}
	return fmt.Sprintf("%s -->%s %s", mermaidSafeID(edge.From), label, mermaidSafeID(edge.To))
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := `"` + mermaidEscapeLabel(firstLine(node.Label)) + `"`

	switch node.Kind {
	case NodeKindIf, NodeKindGt:
		return fmt.Sprintf("%s{%s}", id, label)
	case NodeKindWait:
		return fmt.Sprintf("%s([%s])", id, label)
	case NodeKindExtension:
		return fmt.Sprintf("%s{{%s}}", id, label)
	case NodeKindOutput:
		return fmt.Sprintf("%s[/%s/]", id, label)
	case NodeKindTask:
		return fmt.Sprintf("%s[[%s]]", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%s))", id, label)
	default: // length
		return fmt.Sprintf("%s[%s]", id, label)
	}
}

// mermaidSafeID prefixes IDs so task names never collide with Mermaid
// keywords such as "end", and replaces characters Mermaid rejects.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return "n_" + r.Replace(id)
}

// mermaidEscapeLabel escapes characters that end a quoted Mermaid label.
func mermaidEscapeLabel(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}

func mermaidStatusClass(status string) string {
	switch status {
	case "completed", "failed":
		return status
	default:
		return ""
	}
}
