package graph

import (
	"encoding/json"
	"fmt"
)

// NodeType enumerates the kinds of nodes a board can hold.
type NodeType string

const (
	NodeTypePoint      NodeType = "point"
	NodeTypeStatement  NodeType = "statement"
	NodeTypeObjection  NodeType = "objection"
	NodeTypeGroup      NodeType = "group"
	NodeTypeTitle      NodeType = "title"
	NodeTypeComment    NodeType = "comment"
	NodeTypeAddPoint   NodeType = "addPoint"
	NodeTypeEdgeAnchor NodeType = "edge_anchor"
)

// Node is a single record in the replicated node map. Data carries the
// payload variant matching Type; the two are kept consistent by the
// constructors below and by UnmarshalJSON.
type Node struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
	ParentID string   `json:"parentId,omitempty"`
	Width    float64  `json:"width,omitempty"`
	Height   float64  `json:"height,omitempty"`
}

// NodeData is the tagged union over per-type payloads. Each variant
// carries only the fields valid for its node type.
type NodeData interface {
	nodeType() NodeType
}

// PointData backs point nodes.
type PointData struct {
	Content string `json:"content"`
	// InverseContent preserves the text of a removed inverse sibling
	// when a paired group is collapsed back to a standalone point.
	InverseContent string `json:"inverseContent,omitempty"`
	Editing        bool   `json:"editing,omitempty"`
	EditedBy       string `json:"editedBy,omitempty"`
}

func (PointData) nodeType() NodeType { return NodeTypePoint }

// StatementData backs statement nodes.
type StatementData struct {
	Statement string `json:"statement"`
}

func (StatementData) nodeType() NodeType { return NodeTypeStatement }

// ObjectionData backs objection nodes hanging off an edge anchor.
type ObjectionData struct {
	Content string `json:"content"`
}

func (ObjectionData) nodeType() NodeType { return NodeTypeObjection }

// GroupData backs group container nodes. Closing is the transient
// animation flag set during the first phase of a pair collapse.
type GroupData struct {
	Label   string `json:"label,omitempty"`
	Closing bool   `json:"closing,omitempty"`
}

func (GroupData) nodeType() NodeType { return NodeTypeGroup }

// TitleData backs the (undeletable) title node.
type TitleData struct {
	Title string `json:"title"`
}

func (TitleData) nodeType() NodeType { return NodeTypeTitle }

// CommentData backs comment nodes.
type CommentData struct {
	Content string `json:"content"`
}

func (CommentData) nodeType() NodeType { return NodeTypeComment }

// AddPointData backs the placeholder node offering to add a point.
type AddPointData struct{}

func (AddPointData) nodeType() NodeType { return NodeTypeAddPoint }

// AnchorData backs the synthetic node inserted on an edge.
type AnchorData struct {
	EdgeID string `json:"edgeId"`
}

func (AnchorData) nodeType() NodeType { return NodeTypeEdgeAnchor }

// nodeAlias avoids marshal recursion.
type nodeAlias struct {
	ID       string          `json:"id"`
	Type     NodeType        `json:"type"`
	Position Position        `json:"position"`
	Data     json.RawMessage `json:"data"`
	ParentID string          `json:"parentId,omitempty"`
	Width    float64         `json:"width,omitempty"`
	Height   float64         `json:"height,omitempty"`
}

// MarshalJSON encodes the payload variant in place.
func (n Node) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(nodeAlias{
		ID:       n.ID,
		Type:     n.Type,
		Position: n.Position,
		Data:     data,
		ParentID: n.ParentID,
		Width:    n.Width,
		Height:   n.Height,
	})
}

// UnmarshalJSON decodes the payload into the variant selected by Type.
func (n *Node) UnmarshalJSON(raw []byte) error {
	var alias nodeAlias
	if err := json.Unmarshal(raw, &alias); err != nil {
		return err
	}
	data, err := decodeNodeData(alias.Type, alias.Data)
	if err != nil {
		return err
	}
	n.ID = alias.ID
	n.Type = alias.Type
	n.Position = alias.Position
	n.Data = data
	n.ParentID = alias.ParentID
	n.Width = alias.Width
	n.Height = alias.Height
	return nil
}

func decodeNodeData(t NodeType, raw json.RawMessage) (NodeData, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	switch t {
	case NodeTypePoint:
		var d PointData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case NodeTypeStatement:
		var d StatementData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case NodeTypeObjection:
		var d ObjectionData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case NodeTypeGroup:
		var d GroupData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case NodeTypeTitle:
		var d TitleData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case NodeTypeComment:
		var d CommentData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case NodeTypeAddPoint:
		var d AddPointData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case NodeTypeEdgeAnchor:
		var d AnchorData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown node type %q", t)
	}
}
