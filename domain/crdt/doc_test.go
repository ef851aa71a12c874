package crdt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardsync/domain/graph"
)

func mustTransact(t *testing.T, doc *Doc, fn func(*Txn) error) []byte {
	t.Helper()
	delta, err := doc.Transact(NewOrigin(), fn)
	require.NoError(t, err)
	return delta
}

func setNode(t *testing.T, doc *Doc, id string, typ graph.NodeType, data graph.NodeData) []byte {
	t.Helper()
	return mustTransact(t, doc, func(txn *Txn) error {
		return txn.SetNode(graph.Node{ID: id, Type: typ, Data: data})
	})
}

func TestTransactProducesDeltaAndChange(t *testing.T) {
	doc := NewDoc("doc-1")

	var changes []Change
	doc.Observe(func(c Change) { changes = append(changes, c) })

	origin := NewOrigin()
	delta, err := doc.Transact(origin, func(txn *Txn) error {
		if err := txn.SetNode(graph.Node{ID: "n1", Type: graph.NodeTypePoint, Data: graph.PointData{Content: "first"}}); err != nil {
			return err
		}
		return txn.SetEdge(graph.Edge{ID: "e1", Type: graph.EdgeTypeSupport, Source: "n1", Target: "n1"})
	})
	require.NoError(t, err)
	require.NotEmpty(t, delta)

	require.Len(t, changes, 1, "one aggregated event per transaction")
	assert.Equal(t, []string{"n1"}, changes[0].NodeIDs)
	assert.Equal(t, []string{"e1"}, changes[0].EdgeIDs)
	assert.True(t, changes[0].Origin.Is(origin))
	assert.False(t, changes[0].Remote)
}

func TestEmptyTransactionProducesNothing(t *testing.T) {
	doc := NewDoc("doc-1")
	fired := 0
	doc.Observe(func(Change) { fired++ })

	delta, err := doc.Transact(NewOrigin(), func(txn *Txn) error { return nil })
	require.NoError(t, err)
	assert.Nil(t, delta)
	assert.Zero(t, fired)
}

func TestApplyUpdateIsTaggedRemote(t *testing.T) {
	a := NewDoc("doc-1")
	b := NewDoc("doc-1")

	delta := setNode(t, a, "n1", graph.NodeTypePoint, graph.PointData{Content: "hello"})

	var got Change
	b.Observe(func(c Change) { got = c })
	require.NoError(t, b.ApplyUpdate(delta))

	assert.True(t, got.Remote)
	assert.True(t, got.Origin.IsZero())
	assert.Equal(t, []string{"n1"}, got.NodeIDs)

	node, ok := b.Nodes()["n1"]
	require.True(t, ok)
	assert.Equal(t, graph.PointData{Content: "hello"}, node.Data)
}

func TestDeltasCommute(t *testing.T) {
	source := NewDoc("doc-1")
	deltaA := setNode(t, source, "a", graph.NodeTypePoint, graph.PointData{Content: "A"})
	deltaB := mustTransact(t, source, func(txn *Txn) error {
		if err := txn.SetNode(graph.Node{ID: "b", Type: graph.NodeTypeStatement, Data: graph.StatementData{Statement: "B"}}); err != nil {
			return err
		}
		return txn.SetEdge(graph.Edge{ID: "ab", Type: graph.EdgeTypeSupport, Source: "a", Target: "b"})
	})

	ab := NewDoc("doc-1")
	require.NoError(t, ab.ApplyUpdate(deltaA))
	require.NoError(t, ab.ApplyUpdate(deltaB))

	ba := NewDoc("doc-1")
	require.NoError(t, ba.ApplyUpdate(deltaB))
	require.NoError(t, ba.ApplyUpdate(deltaA))

	assert.Equal(t, ab.Nodes(), ba.Nodes())
	assert.Equal(t, ab.Edges(), ba.Edges())
}

func TestDeltaIdempotent(t *testing.T) {
	source := NewDoc("doc-1")
	delta := setNode(t, source, "a", graph.NodeTypePoint, graph.PointData{Content: "A"})

	replica := NewDoc("doc-1")
	require.NoError(t, replica.ApplyUpdate(delta))
	once := replica.Nodes()

	require.NoError(t, replica.ApplyUpdate(delta))
	assert.Equal(t, once, replica.Nodes(), "re-delivered delta must not change state")
}

func TestConcurrentMapWritesConvergeDeterministically(t *testing.T) {
	a := NewDoc("doc-1")
	b := NewDoc("doc-1")

	deltaA := setNode(t, a, "n", graph.NodeTypePoint, graph.PointData{Content: "from A"})
	deltaB := setNode(t, b, "n", graph.NodeTypePoint, graph.PointData{Content: "from B"})

	require.NoError(t, a.ApplyUpdate(deltaB))
	require.NoError(t, b.ApplyUpdate(deltaA))

	nodeA := a.Nodes()["n"]
	nodeB := b.Nodes()["n"]
	assert.Equal(t, nodeA, nodeB, "concurrent writes to one key must resolve identically")
}

func TestDeleteWinsOverEarlierWrite(t *testing.T) {
	a := NewDoc("doc-1")
	b := NewDoc("doc-1")

	create := setNode(t, a, "n", graph.NodeTypePoint, graph.PointData{Content: "v1"})
	require.NoError(t, b.ApplyUpdate(create))

	remove := mustTransact(t, b, func(txn *Txn) error {
		txn.DeleteNode("n")
		return nil
	})
	require.NoError(t, a.ApplyUpdate(remove))

	// A late redelivery of the original create must not resurrect.
	require.NoError(t, a.ApplyUpdate(create))
	_, ok := a.Nodes()["n"]
	assert.False(t, ok)
}

func TestConcurrentTextInsertionsConverge(t *testing.T) {
	base := NewDoc("doc-1")
	seed := mustTransact(t, base, func(txn *Txn) error {
		txn.InsertText("n1", 0, "shared")
		return nil
	})

	a := NewDoc("doc-1")
	b := NewDoc("doc-1")
	require.NoError(t, a.ApplyUpdate(seed))
	require.NoError(t, b.ApplyUpdate(seed))

	// Both insert different characters at the same position.
	deltaA := mustTransact(t, a, func(txn *Txn) error {
		txn.InsertText("n1", 3, "X")
		return nil
	})
	deltaB := mustTransact(t, b, func(txn *Txn) error {
		txn.InsertText("n1", 3, "Y")
		return nil
	})

	require.NoError(t, a.ApplyUpdate(deltaB))
	require.NoError(t, b.ApplyUpdate(deltaA))

	textA := a.TextString("n1")
	textB := b.TextString("n1")
	assert.Equal(t, textA, textB, "replicas must agree on interleaving")
	assert.Contains(t, textA, "X")
	assert.Contains(t, textA, "Y")
	assert.Len(t, textA, len("shared")+2, "neither insertion may clobber the other")
}

func TestTextDeltasReorderedAndDuplicated(t *testing.T) {
	source := NewDoc("doc-1")
	d1 := mustTransact(t, source, func(txn *Txn) error {
		txn.InsertText("n1", 0, "abc")
		return nil
	})
	d2 := mustTransact(t, source, func(txn *Txn) error {
		txn.InsertText("n1", 3, "def")
		return nil
	})
	d3 := mustTransact(t, source, func(txn *Txn) error {
		txn.DeleteText("n1", 0, 1)
		return nil
	})

	replica := NewDoc("doc-1")
	// Reverse order with a duplicate in the middle.
	require.NoError(t, replica.ApplyUpdate(d3))
	require.NoError(t, replica.ApplyUpdate(d2))
	require.NoError(t, replica.ApplyUpdate(d2))
	require.NoError(t, replica.ApplyUpdate(d1))

	assert.Equal(t, source.TextString("n1"), replica.TextString("n1"))
	assert.Equal(t, "bcdef", replica.TextString("n1"))
}

func TestEncodeStateReproducesDocument(t *testing.T) {
	source := NewDoc("doc-1")
	mustTransact(t, source, func(txn *Txn) error {
		if err := txn.SetNode(graph.Node{ID: "n1", Type: graph.NodeTypePoint, Data: graph.PointData{Content: "p"}}); err != nil {
			return err
		}
		if err := txn.SetNode(graph.Node{ID: "n2", Type: graph.NodeTypeTitle, Data: graph.TitleData{Title: "t"}}); err != nil {
			return err
		}
		if err := txn.SetEdge(graph.Edge{ID: "e1", Type: graph.EdgeTypeOppose, Source: "n1", Target: "n2"}); err != nil {
			return err
		}
		txn.InsertText("n1", 0, "body text")
		return nil
	})
	mustTransact(t, source, func(txn *Txn) error {
		txn.DeleteNode("n2")
		txn.DeleteText("n1", 0, 5)
		return nil
	})

	snapshot, err := source.EncodeState()
	require.NoError(t, err)

	fresh := NewDoc("doc-1")
	require.NoError(t, fresh.ApplyUpdate(snapshot))

	assert.Equal(t, source.Nodes(), fresh.Nodes())
	assert.Equal(t, source.Edges(), fresh.Edges())
	assert.Equal(t, source.TextString("n1"), fresh.TextString("n1"))
}

func TestSnapshotCarriesTombstones(t *testing.T) {
	a := NewDoc("doc-1")
	create := setNode(t, a, "n", graph.NodeTypePoint, graph.PointData{Content: "v"})
	mustTransact(t, a, func(txn *Txn) error {
		txn.DeleteNode("n")
		return nil
	})

	snapshot, err := a.EncodeState()
	require.NoError(t, err)

	fresh := NewDoc("doc-1")
	require.NoError(t, fresh.ApplyUpdate(snapshot))
	// The create delta arriving after the snapshot must stay dead.
	require.NoError(t, fresh.ApplyUpdate(create))
	_, ok := fresh.Nodes()["n"]
	assert.False(t, ok)
}

func TestApplyUpdateRejectsGarbage(t *testing.T) {
	doc := NewDoc("doc-1")
	assert.Error(t, doc.ApplyUpdate([]byte("not an update")))
	assert.Error(t, doc.ApplyUpdate(nil))
}

func TestFailedTransactionLeavesDocumentUntouched(t *testing.T) {
	doc := NewDoc("doc-1")
	setNode(t, doc, "keep", graph.NodeTypePoint, graph.PointData{Content: "v"})

	fired := 0
	doc.Observe(func(Change) { fired++ })

	errRejected := errors.New("rejected")
	delta, err := doc.Transact(NewOrigin(), func(txn *Txn) error {
		require.NoError(t, txn.SetNode(graph.Node{ID: "n1", Type: graph.NodeTypePoint, Data: graph.PointData{Content: "draft"}}))
		txn.DeleteNode("keep")
		txn.InsertText("n1", 0, "draft body")
		return errRejected
	})
	require.ErrorIs(t, err, errRejected)
	assert.Nil(t, delta)
	assert.Zero(t, fired, "aborted transaction must not notify")

	_, ok := doc.Nodes()["n1"]
	assert.False(t, ok, "write from aborted transaction leaked")
	_, ok = doc.Nodes()["keep"]
	assert.True(t, ok, "delete from aborted transaction leaked")
	assert.Empty(t, doc.TextString("n1"))
}

func TestTransactTextReadsSeeOwnWrites(t *testing.T) {
	doc := NewDoc("doc-1")
	mustTransact(t, doc, func(txn *Txn) error {
		txn.InsertText("n1", 0, "ab")
		assert.Equal(t, "ab", txn.Text("n1"))
		txn.DeleteText("n1", 0, 1)
		assert.Equal(t, "b", txn.Text("n1"))
		return nil
	})
	assert.Equal(t, "b", doc.TextString("n1"))
}

func TestTransactReadsSeeOwnWrites(t *testing.T) {
	doc := NewDoc("doc-1")
	mustTransact(t, doc, func(txn *Txn) error {
		if err := txn.SetNode(graph.Node{ID: "n1", Type: graph.NodeTypePoint, Data: graph.PointData{Content: "x"}}); err != nil {
			return err
		}
		node, ok := txn.Node("n1")
		require.True(t, ok)
		assert.Equal(t, graph.NodeTypePoint, node.Type)

		txn.DeleteNode("n1")
		_, ok = txn.Node("n1")
		assert.False(t, ok)
		return nil
	})
}
