package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// ImageFormat is an output format of RenderImage.
type ImageFormat string

const (
	ImagePNG ImageFormat = "png"
	ImageSVG ImageFormat = "svg"
	ImageDOT ImageFormat = "dot"
)

// ParseImageFormat maps a format name to an ImageFormat. Empty means PNG.
func ParseImageFormat(s string) (ImageFormat, error) {
	switch ImageFormat(s) {
	case "", ImagePNG:
		return ImagePNG, nil
	case ImageSVG, ImageDOT:
		return ImageFormat(s), nil
	}
	return "", fmt.Errorf("diagram: unsupported image format %q", s)
}

func (f ImageFormat) graphviz() graphviz.Format {
	switch f {
	case ImageSVG:
		return graphviz.SVG
	case ImageDOT:
		return graphviz.XDOT
	default:
		return graphviz.PNG
	}
}

// RenderImage renders a DiagramModel with graphviz in the given format.
func RenderImage(ctx context.Context, model *DiagramModel, format ImageFormat) ([]byte, error) {
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

	traced := false
	for _, node := range model.Nodes {
		if node.Status != nil {
			traced = true
		}
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		gvNode, nErr := graph.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel(node.Label)
		applyNodeStyle(gvNode, node, traced)
		gvNodes[node.ID] = gvNode
	}

	for _, edge := range model.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV == nil || toGV == nil {
			continue
		}
		e, eErr := graph.CreateEdgeByName(edge.RuleID, fromGV, toGV)
		if eErr != nil {
			return nil, fmt.Errorf("diagram: create edge %s->%s: %w", edge.From, edge.To, eErr)
		}
		if edge.Label != "" {
			e.SetLabel(edge.Label)
		}
		applyEdgeStyle(e, edge.Coverage)
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, format.graphviz(), &buf); err != nil {
		return nil, fmt.Errorf("diagram: render %s: %w", format, err)
	}

	return buf.Bytes(), nil
}

// applyNodeStyle sets graphviz attributes based on node kind and status.
func applyNodeStyle(gvNode *cgraph.Node, node *Node, traced bool) {
	switch node.Kind {
	case NodeKindEntry:
		gvNode.SetShape(cgraph.HexagonShape)
	case NodeKindAgent:
		gvNode.SetShape(cgraph.BoxShape)
	case NodeKindTerminal:
		gvNode.SetShape(cgraph.EllipseShape)
	case NodeKindStart, NodeKindEnd:
		gvNode.SetShape(cgraph.CircleShape)
		gvNode.SetWidth(0.5)
		gvNode.SetHeight(0.5)
		return
	}

	switch {
	case node.Status != nil:
		applyStatusColor(gvNode, node.Status.Status)
	case traced:
		gvNode.SetStyle(cgraph.DashedNodeStyle)
		gvNode.SetFontColor("#888888")
	}
}

// applyStatusColor sets fill color and style based on step status.
func applyStatusColor(gvNode *cgraph.Node, status string) {
	gvNode.SetStyle(cgraph.FilledNodeStyle)
	switch status {
	case "success":
		gvNode.SetFillColor("#2d6a2d")
		gvNode.SetFontColor("white")
	case "error":
		gvNode.SetFillColor("#8b1a1a")
		gvNode.SetFontColor("white")
	default:
		gvNode.SetFillColor("#d3d3d3")
		gvNode.SetFontColor("black")
	}
}

func applyEdgeStyle(e *cgraph.Edge, cov EdgeCoverage) {
	switch cov {
	case CoverageTaken:
		e.SetStyle(cgraph.BoldEdgeStyle)
		e.SetColor("#2d6a2d")
	case CoverageEvaluated:
		e.SetColor("#b7791a")
	case CoverageNever:
		e.SetStyle(cgraph.DottedEdgeStyle)
		e.SetColor("#888888")
	}
}
