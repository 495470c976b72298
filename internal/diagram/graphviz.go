package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// Format selects the graphviz output encoding.
type Format string

const (
	FormatPNG Format = "png"
	FormatSVG Format = "svg"
	FormatDOT Format = "dot"
)

// RenderImage renders a DiagramModel as a PNG image using graphviz.
func RenderImage(ctx context.Context, model *DiagramModel) ([]byte, error) {
	return RenderGraphviz(ctx, model, FormatPNG)
}

// RenderGraphviz lays out the model with dot and encodes it in format.
func RenderGraphviz(ctx context.Context, model *DiagramModel, format Format) ([]byte, error) {
	var gvFormat graphviz.Format
	switch format {
	case FormatPNG, "":
		gvFormat = graphviz.PNG
	case FormatSVG:
		gvFormat = graphviz.SVG
	case FormatDOT:
		gvFormat = graphviz.XDOT
	default:
		return nil, fmt.Errorf("diagram: unsupported format %q", format)
	}

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		gvNode, nErr := graph.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel(nodeCaption(node))
		applyNodeStyle(gvNode, node)
		gvNodes[node.ID] = gvNode
	}

	// Step sequences become clusters.
	for _, node := range model.Nodes {
		for _, sg := range node.Children {
			sub, subErr := graph.CreateSubGraphByName("cluster_" + node.ID + "_" + sg.Label)
			if subErr != nil {
				continue
			}
			sub.SetLabel(node.ID + ": " + sg.Label)
			sub.SetStyle(cgraph.DashedGraphStyle)

			for _, subNode := range sg.Nodes {
				gvSub, nErr := sub.CreateNodeByName(subNode.ID)
				if nErr != nil {
					continue
				}
				gvSub.SetLabel(nodeCaption(subNode))
				applyNodeStyle(gvSub, subNode)
				gvNodes[subNode.ID] = gvSub
			}
			for _, edge := range sg.Edges {
				addEdge(graph, gvNodes, edge)
			}
		}
	}

	for _, edge := range model.Edges {
		addEdge(graph, gvNodes, edge)
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, gvFormat, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

func addEdge(graph *cgraph.Graph, gvNodes map[string]*cgraph.Node, edge Edge) {
	from, to := gvNodes[edge.From], gvNodes[edge.To]
	if from == nil || to == nil {
		return
	}
	e, err := graph.CreateEdgeByName("", from, to)
	if err == nil && edge.Label != "" {
		e.SetLabel(edge.Label)
	}
}

// nodeCaption is the node label plus the last observed result, if any.
func nodeCaption(node *Node) string {
	label := node.Label
	if node.Status != nil && node.Status.Result != "" {
		label += "\n-> " + truncate(node.Status.Result, 32)
	}
	return label
}

func applyNodeStyle(gvNode *cgraph.Node, node *Node) {
	switch node.Kind {
	case NodeKindTask:
		gvNode.SetShape(cgraph.BoxShape)
	case NodeKindOutput:
		gvNode.SetShape(cgraph.ParallelogramShape)
	case NodeKindIf, NodeKindGt:
		gvNode.SetShape(cgraph.DiamondShape)
	case NodeKindExtension:
		gvNode.SetShape(cgraph.HexagonShape)
	case NodeKindWait, NodeKindLength:
		gvNode.SetShape(cgraph.EllipseShape)
	case NodeKindStart, NodeKindEnd:
		gvNode.SetShape(cgraph.CircleShape)
		gvNode.SetWidth(0.5)
		gvNode.SetHeight(0.5)
	}
	if node.Entry {
		gvNode.SetPenWidth(3)
	}
	if node.Status != nil {
		applyStatusColor(gvNode, node.Status.Status)
	}
}

func applyStatusColor(gvNode *cgraph.Node, status string) {
	switch status {
	case "completed":
		gvNode.SetStyle(cgraph.FilledNodeStyle)
		gvNode.SetFillColor("#2d6a2d")
		gvNode.SetFontColor("white")
	case "failed":
		gvNode.SetStyle(cgraph.FilledNodeStyle)
		gvNode.SetFillColor("#8b1a1a")
		gvNode.SetFontColor("white")
	}
}
