package ops

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"boardsync/application/locks"
	"boardsync/domain/crdt"
	"boardsync/domain/graph"
	"boardsync/pkg/common"
)

// recorder captures user-facing warnings.
type recorder struct {
	warnings []string
}

func (r *recorder) Warn(message string) {
	r.warnings = append(r.warnings, message)
}

type fixture struct {
	doc      *crdt.Doc
	svc      *GraphService
	advisor  *locks.Advisor
	origin   crdt.Origin
	warnings *recorder
}

func newFixture(t *testing.T, canWrite bool) *fixture {
	t.Helper()
	doc := crdt.NewDoc("doc-1")
	origin := crdt.NewOrigin()
	identity := common.Identity{UserID: "user-1", DisplayName: "Pat"}
	logger := zap.NewNop()
	advisor := locks.NewAdvisor(doc, origin, identity, logger)
	rec := &recorder{}
	svc := NewGraphService(doc, origin, advisor, identity, canWrite, rec, logger)
	return &fixture{doc: doc, svc: svc, advisor: advisor, origin: origin, warnings: rec}
}

func (f *fixture) seed(t *testing.T, nodes []graph.Node, edges []graph.Edge) {
	t.Helper()
	_, err := f.doc.Transact(f.origin, func(txn *crdt.Txn) error {
		for _, n := range nodes {
			if err := txn.SetNode(n); err != nil {
				return err
			}
		}
		for _, e := range edges {
			if err := txn.SetEdge(e); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// lockAsPeer plants a lock owned by a different user, as if it had
// replicated in from a peer.
func (f *fixture) lockAsPeer(t *testing.T, nodeID, ownerID, ownerName string, ttl time.Duration) {
	t.Helper()
	_, err := f.doc.Transact(crdt.NewOrigin(), func(txn *crdt.Txn) error {
		return txn.SetLock(graph.Lock{
			NodeID:    nodeID,
			OwnerID:   ownerID,
			OwnerName: ownerName,
			ExpiresAt: time.Now().Add(ttl),
		})
	})
	require.NoError(t, err)
}

func point(id string, pos graph.Position) graph.Node {
	return graph.Node{ID: id, Type: graph.NodeTypePoint, Position: pos, Data: graph.PointData{Content: id}}
}

func TestDeleteNodeCascadesIncidentEdges(t *testing.T) {
	f := newFixture(t, true)
	f.seed(t,
		[]graph.Node{
			{ID: "statement", Type: graph.NodeTypeStatement, Data: graph.StatementData{Statement: "thesis"}},
			point("p1", graph.Position{}),
			point("p2", graph.Position{}),
		},
		[]graph.Edge{
			{ID: "e1", Type: graph.EdgeTypeSupport, Source: "statement", Target: "p1"},
			{ID: "e2", Type: graph.EdgeTypeOppose, Source: "statement", Target: "p2"},
		},
	)

	require.NoError(t, f.svc.DeleteNode("p1"))

	nodes := f.doc.Nodes()
	assert.Len(t, nodes, 2)
	assert.Contains(t, nodes, "statement")
	assert.Contains(t, nodes, "p2")

	edges := f.doc.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, graph.EdgeTypeOppose, edges["e2"].Type)
}

func TestDeleteEdgeCascadesAnchorAndObjections(t *testing.T) {
	f := newFixture(t, true)
	anchorID := graph.AnchorID("e1")
	f.seed(t,
		[]graph.Node{
			point("a", graph.Position{}),
			point("b", graph.Position{}),
			{ID: anchorID, Type: graph.NodeTypeEdgeAnchor, Data: graph.AnchorData{EdgeID: "e1"}},
			{ID: "o1", Type: graph.NodeTypeObjection, Data: graph.ObjectionData{Content: "first"}},
			{ID: "o2", Type: graph.NodeTypeObjection, Data: graph.ObjectionData{Content: "second"}},
			point("bystander", graph.Position{}),
		},
		[]graph.Edge{
			{ID: "e1", Type: graph.EdgeTypeSupport, Source: "a", Target: "b"},
			{ID: "oe1", Type: graph.EdgeTypeObjection, Source: "o1", Target: anchorID},
			{ID: "oe2", Type: graph.EdgeTypeObjection, Source: "o2", Target: anchorID},
		},
	)

	require.NoError(t, f.svc.DeleteNode("e1"))

	nodes := f.doc.Nodes()
	edges := f.doc.Edges()
	// Exactly the edge, its anchor and the two objections are gone.
	assert.Len(t, nodes, 3)
	assert.Contains(t, nodes, "a")
	assert.Contains(t, nodes, "b")
	assert.Contains(t, nodes, "bystander")
	assert.Empty(t, edges, "no dangling objection edges may remain")
}

func TestDeleteGroupPreservesChildrenAtAbsolutePositions(t *testing.T) {
	f := newFixture(t, true)
	group := graph.Node{ID: "g", Type: graph.NodeTypeGroup, Position: graph.Position{X: 100, Y: 200}, Data: graph.GroupData{}}
	c1 := point("c1", graph.Position{X: 10, Y: 20})
	c1.ParentID = "g"
	c2 := point("c2", graph.Position{X: -5, Y: 0})
	c2.ParentID = "g"
	f.seed(t, []graph.Node{group, c1, c2}, nil)

	require.NoError(t, f.svc.DeleteNode("g"))

	nodes := f.doc.Nodes()
	require.Len(t, nodes, 2)
	got1 := nodes["c1"]
	assert.Empty(t, got1.ParentID)
	assert.Equal(t, graph.Position{X: 110, Y: 220}, got1.Position)
	got2 := nodes["c2"]
	assert.Empty(t, got2.ParentID)
	assert.Equal(t, graph.Position{X: 95, Y: 200}, got2.Position)
}

func TestDeleteTitleRejected(t *testing.T) {
	f := newFixture(t, true)
	f.seed(t, []graph.Node{{ID: "title", Type: graph.NodeTypeTitle, Data: graph.TitleData{Title: "Board"}}}, nil)

	require.NoError(t, f.svc.DeleteNode("title"))

	assert.Contains(t, f.doc.Nodes(), "title")
	require.Len(t, f.warnings.warnings, 1)
	assert.Contains(t, f.warnings.warnings[0], "title")
}

func TestDeleteLockedNodeRejected(t *testing.T) {
	f := newFixture(t, true)
	f.seed(t, []graph.Node{point("p1", graph.Position{})}, nil)
	f.lockAsPeer(t, "p1", "user-2", "Alice", time.Minute)

	require.NoError(t, f.svc.DeleteNode("p1"))

	assert.Contains(t, f.doc.Nodes(), "p1", "no mutation on a contested node")
	require.Len(t, f.warnings.warnings, 1)
	assert.Equal(t, "Locked by Alice", f.warnings.warnings[0])
}

func TestExpiredLockIsIgnored(t *testing.T) {
	f := newFixture(t, true)
	f.seed(t, []graph.Node{point("p1", graph.Position{})}, nil)
	f.lockAsPeer(t, "p1", "user-2", "Alice", -time.Second)

	require.NoError(t, f.svc.DeleteNode("p1"))
	assert.NotContains(t, f.doc.Nodes(), "p1")
	assert.Empty(t, f.warnings.warnings)
}

func TestReadOnlyModeRejectsAllMutations(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t, []graph.Node{point("p1", graph.Position{})}, nil)

	require.NoError(t, f.svc.DeleteNode("p1"))
	_, err := f.svc.AddPointBelow([]string{"p1"}, nil)
	require.NoError(t, err)
	_, err = f.svc.DuplicateNodeWithConnections("p1", graph.Position{X: 50, Y: 50})
	require.NoError(t, err)
	require.NoError(t, f.svc.UpdateNodeType("p1", graph.NodeTypeComment))

	assert.Contains(t, f.doc.Nodes(), "p1")
	assert.Len(t, f.doc.Nodes(), 1, "read-only mode must not create nodes")
	assert.Len(t, f.warnings.warnings, 4)
}

func TestDuplicateNodeWithConnections(t *testing.T) {
	f := newFixture(t, true)
	f.seed(t,
		[]graph.Node{point("p1", graph.Position{X: 10, Y: 10}), point("p2", graph.Position{})},
		[]graph.Edge{{ID: "e1", Type: graph.EdgeTypeOppose, Source: "p1", Target: "p2"}},
	)
	_, err := f.doc.Transact(f.origin, func(txn *crdt.Txn) error {
		txn.InsertText("p1", 0, "long form content")
		return nil
	})
	require.NoError(t, err)

	newID, err := f.svc.DuplicateNodeWithConnections("p1", graph.Position{X: 50, Y: 50})
	require.NoError(t, err)
	require.NotEmpty(t, newID)
	assert.NotEqual(t, "p1", newID)

	nodes := f.doc.Nodes()
	clone := nodes[newID]
	assert.Equal(t, graph.Position{X: 60, Y: 60}, clone.Position)
	assert.Equal(t, graph.PointData{Content: "p1"}, clone.Data)
	assert.Equal(t, "long form content", f.doc.TextString(newID))

	// Original node and edge untouched.
	assert.Equal(t, graph.Position{X: 10, Y: 10}, nodes["p1"].Position)
	edges := f.doc.Edges()
	require.Len(t, edges, 2)
	assert.Equal(t, "p2", edges["e1"].Target)

	var clonedEdge graph.Edge
	for id, e := range edges {
		if id != "e1" {
			clonedEdge = e
		}
	}
	assert.NotEqual(t, "e1", clonedEdge.ID)
	assert.Equal(t, graph.EdgeTypeOppose, clonedEdge.Type, "edge type preserved")
	assert.Equal(t, newID, clonedEdge.Source)
	assert.Equal(t, "p2", clonedEdge.Target)
}

func TestDuplicateAnchorRejected(t *testing.T) {
	f := newFixture(t, true)
	anchorID := graph.AnchorID("e1")
	f.seed(t, []graph.Node{{ID: anchorID, Type: graph.NodeTypeEdgeAnchor, Data: graph.AnchorData{EdgeID: "e1"}}}, nil)

	newID, err := f.svc.DuplicateNodeWithConnections(anchorID, graph.Position{})
	require.NoError(t, err)
	assert.Empty(t, newID)
	assert.Len(t, f.doc.Nodes(), 1)
	assert.Len(t, f.warnings.warnings, 1)
}

func TestAddPointBelow(t *testing.T) {
	f := newFixture(t, true)
	f.seed(t, []graph.Node{point("p1", graph.Position{X: 100, Y: 50})}, nil)

	newID, err := f.svc.AddPointBelow([]string{"p1"}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, newID)

	node := f.doc.Nodes()[newID]
	assert.Equal(t, graph.NodeTypePoint, node.Type)
	assert.Equal(t, graph.Position{X: 100, Y: 250}, node.Position)

	edges := f.doc.Edges()
	require.Len(t, edges, 1)
	for _, e := range edges {
		assert.Equal(t, graph.EdgeTypeSupport, e.Type)
		assert.Equal(t, newID, e.Source)
		assert.Equal(t, "p1", e.Target)
	}
}

func TestAddPointBelowChildUsesAbsolutePosition(t *testing.T) {
	f := newFixture(t, true)
	group := graph.Node{ID: "g", Type: graph.NodeTypeGroup, Position: graph.Position{X: 100, Y: 100}, Data: graph.GroupData{}}
	child := point("c", graph.Position{X: 10, Y: 10})
	child.ParentID = "g"
	f.seed(t, []graph.Node{group, child}, nil)

	newID, err := f.svc.AddPointBelow([]string{"c"}, nil)
	require.NoError(t, err)

	node := f.doc.Nodes()[newID]
	assert.Equal(t, graph.Position{X: 110, Y: 310}, node.Position)
}

func TestUpdateNodeTypeConvertsPayload(t *testing.T) {
	f := newFixture(t, true)
	f.seed(t, []graph.Node{point("p1", graph.Position{})}, nil)

	require.NoError(t, f.svc.UpdateNodeType("p1", graph.NodeTypeComment))

	node := f.doc.Nodes()["p1"]
	assert.Equal(t, graph.NodeTypeComment, node.Type)
	assert.Equal(t, graph.CommentData{Content: "p1"}, node.Data)
}

func TestStartEditingBlocksPeers(t *testing.T) {
	f := newFixture(t, true)
	f.seed(t, []graph.Node{point("p1", graph.Position{})}, nil)

	require.NoError(t, f.svc.StartEditingNode("p1"))

	node := f.doc.Nodes()["p1"]
	data := node.Data.(graph.PointData)
	assert.True(t, data.Editing)
	assert.Equal(t, "Pat", data.EditedBy)

	// A second user on the same replicated state must be refused.
	peerIdentity := common.Identity{UserID: "user-2", DisplayName: "Alice"}
	peerAdvisor := locks.NewAdvisor(f.doc, crdt.NewOrigin(), peerIdentity, zap.NewNop())
	peerWarnings := &recorder{}
	peer := NewGraphService(f.doc, crdt.NewOrigin(), peerAdvisor, peerIdentity, true, peerWarnings, zap.NewNop())

	require.NoError(t, peer.DeleteNode("p1"))
	assert.Contains(t, f.doc.Nodes(), "p1")
	require.Len(t, peerWarnings.warnings, 1)
	assert.Equal(t, "Locked by Pat", peerWarnings.warnings[0])

	// Releasing unblocks.
	require.NoError(t, f.svc.StopEditingNode("p1"))
	require.NoError(t, peer.DeleteNode("p1"))
	assert.NotContains(t, f.doc.Nodes(), "p1")
}

func TestDeleteInversePairTwoPhase(t *testing.T) {
	f := newFixture(t, true)
	group := graph.Node{ID: "g", Type: graph.NodeTypeGroup, Position: graph.Position{X: 100, Y: 100}, Data: graph.GroupData{}}
	original := point("orig", graph.Position{X: 0, Y: 0})
	original.ParentID = "g"
	inverse := graph.Node{ID: "inv", Type: graph.NodeTypePoint, ParentID: "g", Data: graph.PointData{Content: "the inverse claim"}}
	other := point("other", graph.Position{X: 500, Y: 0})
	f.seed(t,
		[]graph.Node{group, original, inverse, other},
		[]graph.Edge{{ID: "ie", Type: graph.EdgeTypeSupport, Source: "inv", Target: "other"}},
	)

	closer, err := f.svc.DeleteInversePair("inv")
	require.NoError(t, err)
	require.NotNil(t, closer)

	// Phase one: closing flag is set and replicated, nothing removed.
	g := f.doc.Nodes()["g"]
	assert.True(t, g.Data.(graph.GroupData).Closing)
	assert.Contains(t, f.doc.Nodes(), "inv")

	// Finalize immediately; the delay is a UX affordance only.
	require.NoError(t, closer.Finalize())

	nodes := f.doc.Nodes()
	assert.NotContains(t, nodes, "inv")
	assert.NotContains(t, nodes, "g")
	assert.Empty(t, f.doc.Edges(), "edges touching the inverse are removed")

	promoted := nodes["orig"]
	assert.Empty(t, promoted.ParentID)
	assert.Equal(t, graph.Position{X: 100, Y: 100}, promoted.Position, "promoted to absolute position")
	assert.Equal(t, "the inverse claim", promoted.Data.(graph.PointData).InverseContent)

	// Finalize is idempotent.
	require.NoError(t, closer.Finalize())
	require.NoError(t, closer.Wait())
}

func TestDeleteInversePairScheduledTransition(t *testing.T) {
	f := newFixture(t, true)
	group := graph.Node{ID: "g", Type: graph.NodeTypeGroup, Data: graph.GroupData{}}
	original := point("orig", graph.Position{})
	original.ParentID = "g"
	inverse := graph.Node{ID: "inv", Type: graph.NodeTypePoint, ParentID: "g", Data: graph.PointData{Content: "x"}}
	f.seed(t, []graph.Node{group, original, inverse}, nil)

	closer, err := f.svc.DeleteInversePair("inv")
	require.NoError(t, err)
	require.NotNil(t, closer)

	// The scheduled transition fires on its own within the budget.
	require.NoError(t, closer.Wait())
	assert.NotContains(t, f.doc.Nodes(), "inv")
}

func TestDeleteMissingNodeIsSilent(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.svc.DeleteNode("never-existed"))
	assert.Empty(t, f.warnings.warnings, "already gone is not an error")
}
