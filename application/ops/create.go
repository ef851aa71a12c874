package ops

import (
	"boardsync/domain/crdt"
	"boardsync/domain/graph"
)

// addPointOffsetY separates a newly added point from its sources.
const addPointOffsetY = 200

// AddPointBelow creates a new point node positioned below the given
// source nodes' absolute positions and connects it to each source
// with a support edge. positions supplies a fallback for ids the
// document cannot resolve (e.g. nodes mid-creation on this client).
// Returns the new node id for follow-up operations.
func (s *GraphService) AddPointBelow(ids []string, positions map[string]graph.Position) (string, error) {
	if !s.ensureWritable() {
		return "", nil
	}
	if len(ids) == 0 {
		s.notifier.Warn("Nothing to add a point to")
		return "", nil
	}

	nodes := s.doc.Nodes()
	var sumX, maxY float64
	count := 0
	for _, id := range ids {
		pos, ok := positions[id]
		if node, exists := nodes[id]; exists {
			pos = graph.Absolute(node, nodes)
			ok = true
		}
		if !ok {
			continue
		}
		sumX += pos.X
		if count == 0 || pos.Y > maxY {
			maxY = pos.Y
		}
		count++
	}
	if count == 0 {
		s.notifier.Warn("No valid source nodes")
		return "", nil
	}

	newID := graph.NewID()
	_, err := s.doc.Transact(s.origin, func(txn *crdt.Txn) error {
		node := graph.Node{
			ID:       newID,
			Type:     graph.NodeTypePoint,
			Position: graph.Position{X: sumX / float64(count), Y: maxY + addPointOffsetY},
			Data:     graph.PointData{},
		}
		if err := txn.SetNode(node); err != nil {
			return err
		}
		for _, id := range ids {
			if _, exists := txn.Node(id); !exists {
				continue
			}
			edge := graph.Edge{
				ID:     graph.NewID(),
				Type:   graph.EdgeTypeSupport,
				Source: newID,
				Target: id,
			}
			if err := txn.SetEdge(edge); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return newID, nil
}

// DuplicateNodeWithConnections clones a node under a new id at the
// source position plus offset, preserving its payload, replicated
// text and local edge connections (with fresh edge ids and the same
// types). Edge anchors are synthetic and cannot be duplicated. The
// original node and its edges are untouched. Returns the new node id.
func (s *GraphService) DuplicateNodeWithConnections(nodeID string, offset graph.Position) (string, error) {
	if !s.ensureWritable() {
		return "", nil
	}
	node, ok := s.doc.Nodes()[nodeID]
	if !ok {
		s.notifier.Warn("Node no longer exists")
		return "", nil
	}
	if node.Type == graph.NodeTypeEdgeAnchor {
		s.notifier.Warn("Edge anchors cannot be duplicated")
		return "", nil
	}

	newID := graph.NewID()
	text := s.doc.TextString(nodeID)

	_, err := s.doc.Transact(s.origin, func(txn *crdt.Txn) error {
		clone := node
		clone.ID = newID
		clone.Position = node.Position.Add(offset)
		if err := txn.SetNode(clone); err != nil {
			return err
		}

		var cloned []graph.Edge
		txn.Edges(func(e graph.Edge) bool {
			switch nodeID {
			case e.Source:
				cloned = append(cloned, graph.Edge{ID: graph.NewID(), Type: e.Type, Source: newID, Target: e.Target})
			case e.Target:
				cloned = append(cloned, graph.Edge{ID: graph.NewID(), Type: e.Type, Source: e.Source, Target: newID})
			}
			return true
		})
		// Bulk id regeneration can surface identical triples.
		for _, e := range graph.DedupeEdges(cloned) {
			if err := txn.SetEdge(e); err != nil {
				return err
			}
		}

		if text != "" {
			txn.InsertText(newID, 0, text)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return newID, nil
}
