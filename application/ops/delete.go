package ops

import (
	"boardsync/domain/crdt"
	"boardsync/domain/graph"
)

// DeleteNode removes the record id resolves to, with full cascades:
//
//   - an edge id deletes the edge, its anchor node and any objection
//     subtree hanging off the anchor;
//   - a group node deletes the group and reparents its children to
//     standalone nodes at their absolute positions;
//   - a title node is never deletable;
//   - any other node goes together with all incident edges and each
//     incident edge's anchor/objection subtree.
//
// The whole cascade commits as one transaction. Records that are
// already gone are skipped silently — concurrent deletion by a peer
// is routine, not an error.
func (s *GraphService) DeleteNode(id string) error {
	if !s.ensureWritable() {
		return nil
	}

	// Edge ids share the id space with node ids; resolve edges first.
	if _, isEdge := s.doc.Edges()[id]; isEdge {
		_, err := s.doc.Transact(s.origin, func(txn *crdt.Txn) error {
			deleteEdgeCascade(txn, id)
			return nil
		})
		return err
	}

	node, ok := s.doc.Nodes()[id]
	if !ok {
		// Already gone.
		return nil
	}
	if node.Type == graph.NodeTypeTitle {
		s.notifier.Warn("The title cannot be deleted")
		return nil
	}
	if !s.ensureUnlocked(id) {
		return nil
	}

	_, err := s.doc.Transact(s.origin, func(txn *crdt.Txn) error {
		if node.Type == graph.NodeTypeGroup {
			return deleteGroup(txn, node)
		}
		deleteNodeCascade(txn, id)
		return nil
	})
	return err
}

// deleteNodeCascade removes a node, every incident edge, and the
// anchor/objection subtrees those edges carry.
func deleteNodeCascade(txn *crdt.Txn, nodeID string) {
	for _, edgeID := range incidentEdges(txn, nodeID) {
		deleteEdgeCascade(txn, edgeID)
	}
	txn.DeleteNode(nodeID)
}

// deleteEdgeCascade removes an edge, its anchor node if one exists,
// every edge incident to that anchor, and any objection nodes those
// edges attach. Recursion terminates because each step deletes the
// records it visits before recursing.
func deleteEdgeCascade(txn *crdt.Txn, edgeID string) {
	if _, ok := txn.Edge(edgeID); !ok {
		return
	}
	txn.DeleteEdge(edgeID)

	anchorID := graph.AnchorID(edgeID)
	if _, ok := txn.Node(anchorID); !ok {
		return
	}

	for _, incID := range incidentEdges(txn, anchorID) {
		incident, ok := txn.Edge(incID)
		if !ok {
			continue
		}
		other := incident.Source
		if other == anchorID {
			other = incident.Target
		}
		deleteEdgeCascade(txn, incID)
		if node, ok := txn.Node(other); ok && node.Type == graph.NodeTypeObjection {
			deleteNodeCascade(txn, other)
		}
	}
	txn.DeleteNode(anchorID)
}

// deleteGroup removes a group container, promoting its children to
// standalone nodes at their absolute positions. Edges incident to the
// group itself cascade away; children and their edges survive. A
// failed promotion aborts the transaction so the group is never left
// half dissolved.
func deleteGroup(txn *crdt.Txn, group graph.Node) error {
	var children []graph.Node
	txn.Nodes(func(n graph.Node) bool {
		if n.ParentID == group.ID {
			children = append(children, n)
		}
		return true
	})
	for _, child := range children {
		child.ParentID = ""
		child.Position = child.Position.Add(group.Position)
		if err := txn.SetNode(child); err != nil {
			return err
		}
	}
	for _, edgeID := range incidentEdges(txn, group.ID) {
		deleteEdgeCascade(txn, edgeID)
	}
	txn.DeleteNode(group.ID)
	return nil
}

// incidentEdges collects ids of live edges touching a node.
func incidentEdges(txn *crdt.Txn, nodeID string) []string {
	var out []string
	txn.Edges(func(e graph.Edge) bool {
		if e.Source == nodeID || e.Target == nodeID {
			out = append(out, e.ID)
		}
		return true
	})
	return out
}
