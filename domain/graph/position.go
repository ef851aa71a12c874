package graph

// Position is a point in board coordinates. A node with a ParentID
// stores its position relative to the parent; use Absolute to resolve.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns the component-wise sum of two positions.
func (p Position) Add(other Position) Position {
	return Position{X: p.X + other.X, Y: p.Y + other.Y}
}

// Equals checks positional equality.
func (p Position) Equals(other Position) bool {
	return p.X == other.X && p.Y == other.Y
}

// Absolute resolves a node's absolute position given the set of all
// nodes. A node without a parent is already absolute; a child's
// absolute position is its own offset plus the parent's position.
// Containment is one level deep, so no further recursion is needed.
func Absolute(node Node, nodes map[string]Node) Position {
	if node.ParentID == "" {
		return node.Position
	}
	parent, ok := nodes[node.ParentID]
	if !ok {
		// Parent already gone; treat the stored offset as absolute.
		return node.Position
	}
	return node.Position.Add(parent.Position)
}
