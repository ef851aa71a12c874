package crdt

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"boardsync/domain/graph"
)

// Change is the aggregated change event fired once per transaction or
// applied remote update. The id slices name the records that changed;
// TextIDs names nodes whose replicated text changed.
type Change struct {
	NodeIDs []string
	EdgeIDs []string
	LockIDs []string
	TextIDs []string

	// Origin tags the client instance that caused a local
	// transaction. Remote changes carry the zero Origin and
	// Remote set.
	Origin Origin
	Remote bool

	// Delta is the binary update produced by a local transaction,
	// suitable for transport. Empty for remote changes.
	Delta []byte
}

// Observer receives aggregated change events.
type Observer func(Change)

// Doc is the in-memory replicated document for one collaboration
// session: a map of node records, a map of edge records, a map of
// advisory locks and per-node replicated text. All mutation goes
// through Transact; remote and persisted updates are folded in with
// ApplyUpdate, never re-run as semantic mutations.
type Doc struct {
	mu      sync.Mutex
	id      string
	replica string
	clk     *clock

	nodes *lwwMap[graph.Node]
	edges *lwwMap[graph.Edge]
	locks *lwwMap[graph.Lock]
	texts map[string]*text

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

// NewDoc creates an empty document replica for the given document id.
func NewDoc(docID string) *Doc {
	replica := uuid.New().String()
	return &Doc{
		id:        docID,
		replica:   replica,
		clk:       newClock(replica),
		nodes:     newLWWMap[graph.Node](),
		edges:     newLWWMap[graph.Edge](),
		locks:     newLWWMap[graph.Lock](),
		texts:     make(map[string]*text),
		observers: make(map[int]Observer),
	}
}

// ID returns the document id this replica belongs to.
func (d *Doc) ID() string { return d.id }

// Replica returns this replica's id (unique per Doc instance).
func (d *Doc) Replica() string { return d.replica }

// Observe subscribes to aggregated change events. The returned
// function unsubscribes.
func (d *Doc) Observe(fn Observer) func() {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	return func() {
		d.obsMu.Lock()
		defer d.obsMu.Unlock()
		delete(d.observers, id)
	}
}

func (d *Doc) notify(change Change) {
	d.obsMu.Lock()
	observers := make([]Observer, 0, len(d.observers))
	for _, fn := range d.observers {
		observers = append(observers, fn)
	}
	d.obsMu.Unlock()
	for _, fn := range observers {
		fn(change)
	}
}

// Transact runs fn with exclusive access to the document. Writes made
// through the Txn are staged and commit together only when fn returns
// nil: observers see one aggregated change event tagged with origin,
// and the returned delta carries the whole mutation for transport. If
// fn returns an error the staged writes are discarded and the document
// is unchanged.
func (d *Doc) Transact(origin Origin, fn func(*Txn) error) ([]byte, error) {
	d.mu.Lock()
	txn := newTxn(d)
	if err := fn(txn); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	if txn.body.empty() {
		d.mu.Unlock()
		return nil, nil
	}
	delta, err := encodeUpdate(txn.body)
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	txn.commit()
	change := txn.change
	d.mu.Unlock()

	change.Origin = origin
	change.Delta = delta
	d.notify(change)
	return delta, nil
}

// ApplyUpdate merges a binary update produced by a peer replica or
// loaded from storage. Application is commutative and idempotent:
// updates may arrive reordered or duplicated without corrupting state.
// One aggregated change event fires, tagged as remote.
func (d *Doc) ApplyUpdate(data []byte) error {
	body, err := decodeUpdate(data)
	if err != nil {
		return err
	}

	d.mu.Lock()
	change := Change{Remote: true}
	for _, w := range body.Nodes {
		e, err := decodeEntry[graph.Node](w)
		if err != nil {
			d.mu.Unlock()
			return fmt.Errorf("apply node entry %q: %w", w.Key, err)
		}
		d.clk.witness(w.Stamp)
		if d.nodes.merge(w.Key, e) {
			change.NodeIDs = append(change.NodeIDs, w.Key)
		}
	}
	for _, w := range body.Edges {
		e, err := decodeEntry[graph.Edge](w)
		if err != nil {
			d.mu.Unlock()
			return fmt.Errorf("apply edge entry %q: %w", w.Key, err)
		}
		d.clk.witness(w.Stamp)
		if d.edges.merge(w.Key, e) {
			change.EdgeIDs = append(change.EdgeIDs, w.Key)
		}
	}
	for _, w := range body.Locks {
		e, err := decodeEntry[graph.Lock](w)
		if err != nil {
			d.mu.Unlock()
			return fmt.Errorf("apply lock entry %q: %w", w.Key, err)
		}
		d.clk.witness(w.Stamp)
		if d.locks.merge(w.Key, e) {
			change.LockIDs = append(change.LockIDs, w.Key)
		}
	}
	for nodeID, ops := range body.Text {
		t := d.textFor(nodeID)
		changed := false
		for _, op := range ops {
			d.clk.witness(op.ID)
			if t.apply(op) {
				changed = true
			}
		}
		if changed {
			change.TextIDs = append(change.TextIDs, nodeID)
		}
	}
	d.mu.Unlock()

	if len(change.NodeIDs)+len(change.EdgeIDs)+len(change.LockIDs)+len(change.TextIDs) > 0 {
		d.notify(change)
	}
	return nil
}

// EncodeState serializes the entire document, tombstones included, as
// a single update. Applying it to an empty replica reproduces this
// replica's state; merging it into a diverged replica is safe because
// it is just a large update.
func (d *Doc) EncodeState() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	body := &updateBody{}
	var err error
	if body.Nodes, err = d.nodes.encodeAll(); err != nil {
		return nil, err
	}
	if body.Edges, err = d.edges.encodeAll(); err != nil {
		return nil, err
	}
	if body.Locks, err = d.locks.encodeAll(); err != nil {
		return nil, err
	}
	for nodeID, t := range d.texts {
		ops := t.encodeOps()
		if len(ops) == 0 {
			continue
		}
		if body.Text == nil {
			body.Text = make(map[string][]textOp)
		}
		body.Text[nodeID] = ops
	}
	return encodeUpdate(body)
}

// Nodes returns a copy of the live node records.
func (d *Doc) Nodes() map[string]graph.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nodes.snapshot()
}

// Edges returns a copy of the live edge records.
func (d *Doc) Edges() map[string]graph.Edge {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.edges.snapshot()
}

// Locks returns a copy of the live lock records.
func (d *Doc) Locks() map[string]graph.Lock {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locks.snapshot()
}

// TextString returns the current replicated text for a node.
func (d *Doc) TextString(nodeID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.texts[nodeID]
	if !ok {
		return ""
	}
	return t.String()
}

func (d *Doc) textFor(nodeID string) *text {
	t, ok := d.texts[nodeID]
	if !ok {
		t = newText()
		d.texts[nodeID] = t
	}
	return t
}

// stagedWrite is one buffered map mutation awaiting commit.
type stagedWrite[T any] struct {
	key       string
	value     T
	stamp     Stamp
	tombstone bool
}

// stage layers a transaction's buffered writes over a replicated map.
// Reads see staged writes first; the map itself is untouched until
// commit, so an aborted transaction leaves no trace.
type stage[T any] struct {
	target *lwwMap[T]
	order  []stagedWrite[T]
	byKey  map[string]int
}

func newStage[T any](target *lwwMap[T]) *stage[T] {
	return &stage[T]{target: target, byKey: make(map[string]int)}
}

func (s *stage[T]) get(key string) (T, bool) {
	if i, ok := s.byKey[key]; ok {
		w := s.order[i]
		if w.tombstone {
			var zero T
			return zero, false
		}
		return w.value, true
	}
	return s.target.get(key)
}

func (s *stage[T]) set(key string, value T, stamp Stamp) {
	s.byKey[key] = len(s.order)
	s.order = append(s.order, stagedWrite[T]{key: key, value: value, stamp: stamp})
}

func (s *stage[T]) remove(key string, stamp Stamp) {
	s.byKey[key] = len(s.order)
	s.order = append(s.order, stagedWrite[T]{key: key, stamp: stamp, tombstone: true})
}

func (s *stage[T]) rangeLive(fn func(key string, value T) bool) {
	stopped := false
	s.target.rangeLive(func(k string, v T) bool {
		if _, staged := s.byKey[k]; staged {
			return true
		}
		if !fn(k, v) {
			stopped = true
			return false
		}
		return true
	})
	if stopped {
		return
	}
	for key, i := range s.byKey {
		w := s.order[i]
		if w.tombstone {
			continue
		}
		if !fn(key, w.value) {
			return
		}
	}
}

// commit replays staged writes onto the map in original order.
func (s *stage[T]) commit() {
	for _, w := range s.order {
		if w.tombstone {
			s.target.remove(w.key, w.stamp)
		} else {
			s.target.set(w.key, w.value, w.stamp)
		}
	}
}

// Txn is the handle passed to a Transact callback. Reads observe
// writes made earlier in the same transaction; nothing reaches the
// document until the callback returns nil.
type Txn struct {
	doc    *Doc
	body   *updateBody
	change Change

	nodes *stage[graph.Node]
	edges *stage[graph.Edge]
	locks *stage[graph.Lock]
	texts map[string]*text
}

func newTxn(d *Doc) *Txn {
	return &Txn{
		doc:   d,
		body:  &updateBody{},
		nodes: newStage(d.nodes),
		edges: newStage(d.edges),
		locks: newStage(d.locks),
		texts: make(map[string]*text),
	}
}

// commit applies every staged write to the document. Text ops replay
// through the merge path; they were generated against a clone of the
// current state, so replay reproduces the scratch result exactly.
func (t *Txn) commit() {
	t.nodes.commit()
	t.edges.commit()
	t.locks.commit()
	for nodeID, ops := range t.body.Text {
		live := t.doc.textFor(nodeID)
		for _, op := range ops {
			live.apply(op)
		}
	}
}

// scratchText returns the transaction's working copy of a node's text,
// cloning the committed sequence on first touch.
func (t *Txn) scratchText(nodeID string) *text {
	if txt, ok := t.texts[nodeID]; ok {
		return txt
	}
	var txt *text
	if live, ok := t.doc.texts[nodeID]; ok {
		txt = live.clone()
	} else {
		txt = newText()
	}
	t.texts[nodeID] = txt
	return txt
}

// Node reads a node record.
func (t *Txn) Node(id string) (graph.Node, bool) {
	return t.nodes.get(id)
}

// Nodes visits every live node record.
func (t *Txn) Nodes(fn func(graph.Node) bool) {
	t.nodes.rangeLive(func(_ string, n graph.Node) bool { return fn(n) })
}

// SetNode writes a node record.
func (t *Txn) SetNode(n graph.Node) error {
	s := t.doc.clk.tick()
	w, err := encodeEntry(n.ID, entry[graph.Node]{value: n, stamp: s})
	if err != nil {
		return err
	}
	t.nodes.set(n.ID, n, s)
	t.body.Nodes = append(t.body.Nodes, w)
	t.change.NodeIDs = append(t.change.NodeIDs, n.ID)
	return nil
}

// DeleteNode tombstones a node record. Deleting an absent node is a
// no-op: during cascades a missing record means "already gone".
func (t *Txn) DeleteNode(id string) {
	if _, ok := t.nodes.get(id); !ok {
		return
	}
	s := t.doc.clk.tick()
	t.nodes.remove(id, s)
	t.body.Nodes = append(t.body.Nodes, wireEntry{Key: id, Stamp: s, Tombstone: true})
	t.change.NodeIDs = append(t.change.NodeIDs, id)
}

// Edge reads an edge record.
func (t *Txn) Edge(id string) (graph.Edge, bool) {
	return t.edges.get(id)
}

// Edges visits every live edge record.
func (t *Txn) Edges(fn func(graph.Edge) bool) {
	t.edges.rangeLive(func(_ string, e graph.Edge) bool { return fn(e) })
}

// SetEdge writes an edge record.
func (t *Txn) SetEdge(e graph.Edge) error {
	s := t.doc.clk.tick()
	w, err := encodeEntry(e.ID, entry[graph.Edge]{value: e, stamp: s})
	if err != nil {
		return err
	}
	t.edges.set(e.ID, e, s)
	t.body.Edges = append(t.body.Edges, w)
	t.change.EdgeIDs = append(t.change.EdgeIDs, e.ID)
	return nil
}

// DeleteEdge tombstones an edge record.
func (t *Txn) DeleteEdge(id string) {
	if _, ok := t.edges.get(id); !ok {
		return
	}
	s := t.doc.clk.tick()
	t.edges.remove(id, s)
	t.body.Edges = append(t.body.Edges, wireEntry{Key: id, Stamp: s, Tombstone: true})
	t.change.EdgeIDs = append(t.change.EdgeIDs, id)
}

// Lock reads a lock record.
func (t *Txn) Lock(nodeID string) (graph.Lock, bool) {
	return t.locks.get(nodeID)
}

// Locks visits every live lock record.
func (t *Txn) Locks(fn func(graph.Lock) bool) {
	t.locks.rangeLive(func(_ string, l graph.Lock) bool { return fn(l) })
}

// SetLock writes a lock record.
func (t *Txn) SetLock(l graph.Lock) error {
	s := t.doc.clk.tick()
	w, err := encodeEntry(l.NodeID, entry[graph.Lock]{value: l, stamp: s})
	if err != nil {
		return err
	}
	t.locks.set(l.NodeID, l, s)
	t.body.Locks = append(t.body.Locks, w)
	t.change.LockIDs = append(t.change.LockIDs, l.NodeID)
	return nil
}

// DeleteLock tombstones a lock record.
func (t *Txn) DeleteLock(nodeID string) {
	if _, ok := t.locks.get(nodeID); !ok {
		return
	}
	s := t.doc.clk.tick()
	t.locks.remove(nodeID, s)
	t.body.Locks = append(t.body.Locks, wireEntry{Key: nodeID, Stamp: s, Tombstone: true})
	t.change.LockIDs = append(t.change.LockIDs, nodeID)
}

// Text reads a node's replicated text.
func (t *Txn) Text(nodeID string) string {
	if txt, ok := t.texts[nodeID]; ok {
		return txt.String()
	}
	txt, ok := t.doc.texts[nodeID]
	if !ok {
		return ""
	}
	return txt.String()
}

// InsertText inserts s before the given rune index in a node's text.
func (t *Txn) InsertText(nodeID string, index int, s string) {
	if s == "" {
		return
	}
	ops := t.scratchText(nodeID).insertAt(index, s, t.doc.clk)
	t.recordTextOps(nodeID, ops)
}

// DeleteText removes n runes starting at index from a node's text.
func (t *Txn) DeleteText(nodeID string, index, n int) {
	ops := t.scratchText(nodeID).deleteAt(index, n)
	t.recordTextOps(nodeID, ops)
}

func (t *Txn) recordTextOps(nodeID string, ops []textOp) {
	if len(ops) == 0 {
		return
	}
	if t.body.Text == nil {
		t.body.Text = make(map[string][]textOp)
	}
	t.body.Text[nodeID] = append(t.body.Text[nodeID], ops...)
	for _, id := range t.change.TextIDs {
		if id == nodeID {
			return
		}
	}
	t.change.TextIDs = append(t.change.TextIDs, nodeID)
}
