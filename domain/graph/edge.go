package graph

// EdgeType enumerates the relationship kinds between nodes.
type EdgeType string

const (
	EdgeTypeSupport   EdgeType = "support"
	EdgeTypeOppose    EdgeType = "oppose"
	EdgeTypeRelation  EdgeType = "relation"
	EdgeTypeObjection EdgeType = "objection"
	EdgeTypeStatement EdgeType = "statement"
)

// Edge is a single record in the replicated edge map. Source and
// Target must reference existing node records at commit time.
type Edge struct {
	ID     string   `json:"id"`
	Type   EdgeType `json:"type"`
	Source string   `json:"source"`
	Target string   `json:"target"`
}

// triple is the identity an edge carries for duplicate suppression.
type triple struct {
	source string
	target string
	typ    EdgeType
}

// DedupeEdges collapses edges sharing the same (source, target, type)
// triple, keeping the first occurrence. Edges with identical endpoints
// but different types are all preserved. Run after any bulk id
// regeneration, e.g. a copy operation.
func DedupeEdges(edges []Edge) []Edge {
	seen := make(map[triple]bool, len(edges))
	out := edges[:0:0]
	for _, e := range edges {
		key := triple{source: e.Source, target: e.Target, typ: e.Type}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}
