package crdt

import "strings"

// text is a replicated growable array over runes. Every insertion is
// addressed by the id of the element it follows; concurrent siblings
// order by descending stamp so all replicas linearize identically.
// Deletions tombstone the element. Out-of-order remote ops wait in a
// buffer until the element they depend on arrives.
//
// The structure follows the classic RGA shape: a causal tree rooted at
// the zero stamp, linearized by pre-order walk with newest-first
// sibling order.
type text struct {
	elems    map[Stamp]*textElem
	children map[Stamp][]Stamp

	// pendingInserts holds insert ops keyed by the missing parent;
	// pendingDeletes holds delete targets not yet inserted.
	pendingInserts map[Stamp][]textOp
	pendingDeletes map[Stamp]bool

	order []Stamp // cached visible ids, rebuilt when dirty
	dirty bool
}

type textElem struct {
	ch      rune
	parent  Stamp
	deleted bool
}

// textOp is the wire form of a single text mutation.
type textOp struct {
	Insert bool   `json:"i,omitempty"`
	ID     Stamp  `json:"id"`
	Parent Stamp  `json:"p,omitempty"`
	Ch     string `json:"ch,omitempty"`
}

func newText() *text {
	return &text{
		elems:          make(map[Stamp]*textElem),
		children:       make(map[Stamp][]Stamp),
		pendingInserts: make(map[Stamp][]textOp),
		pendingDeletes: make(map[Stamp]bool),
	}
}

// apply folds one op into the structure. Duplicate ops are no-ops, so
// re-delivered deltas cannot corrupt state. Returns true when the op
// changed (or deferred a change to) the sequence.
func (t *text) apply(op textOp) bool {
	if op.Insert {
		return t.applyInsert(op)
	}
	return t.applyDelete(op)
}

func (t *text) applyInsert(op textOp) bool {
	if _, known := t.elems[op.ID]; known {
		return false
	}
	if !op.Parent.IsZero() {
		if _, ok := t.elems[op.Parent]; !ok {
			t.pendingInserts[op.Parent] = append(t.pendingInserts[op.Parent], op)
			return true
		}
	}
	t.insertElem(op)

	// The new element may unblock buffered descendants and deletes.
	t.flushPending(op.ID)
	return true
}

func (t *text) insertElem(op textOp) {
	var ch rune
	for _, r := range op.Ch {
		ch = r
		break
	}
	t.elems[op.ID] = &textElem{ch: ch, parent: op.Parent}

	siblings := t.children[op.Parent]
	// Newest-first among siblings keeps concurrent inserts after the
	// same parent in the same order on every replica.
	at := len(siblings)
	for i, sib := range siblings {
		if sib.Less(op.ID) {
			at = i
			break
		}
	}
	siblings = append(siblings, Stamp{})
	copy(siblings[at+1:], siblings[at:])
	siblings[at] = op.ID
	t.children[op.Parent] = siblings
	t.dirty = true
}

func (t *text) flushPending(id Stamp) {
	if ops, ok := t.pendingInserts[id]; ok {
		delete(t.pendingInserts, id)
		for _, op := range ops {
			t.applyInsert(op)
		}
	}
	if t.pendingDeletes[id] {
		delete(t.pendingDeletes, id)
		t.applyDelete(textOp{ID: id})
	}
}

func (t *text) applyDelete(op textOp) bool {
	elem, ok := t.elems[op.ID]
	if !ok {
		if t.pendingDeletes[op.ID] {
			return false
		}
		t.pendingDeletes[op.ID] = true
		return true
	}
	if elem.deleted {
		return false
	}
	elem.deleted = true
	t.dirty = true
	return true
}

// insertAt produces and applies ops for a local insertion of s before
// the visible index. A multi-rune insertion chains each new element
// off the previous one so the run stays contiguous under merge.
func (t *text) insertAt(index int, s string, clk *clock) []textOp {
	vis := t.visible()
	if index < 0 {
		index = 0
	}
	if index > len(vis) {
		index = len(vis)
	}
	parent := Stamp{}
	if index > 0 {
		parent = vis[index-1]
	}

	ops := make([]textOp, 0, len(s))
	for _, r := range s {
		op := textOp{Insert: true, ID: clk.tick(), Parent: parent, Ch: string(r)}
		t.applyInsert(op)
		ops = append(ops, op)
		parent = op.ID
	}
	return ops
}

// deleteAt produces and applies ops tombstoning n visible runes
// starting at index.
func (t *text) deleteAt(index, n int) []textOp {
	vis := t.visible()
	if index < 0 || index >= len(vis) || n <= 0 {
		return nil
	}
	if index+n > len(vis) {
		n = len(vis) - index
	}
	ops := make([]textOp, 0, n)
	for _, id := range vis[index : index+n] {
		op := textOp{ID: id}
		t.applyDelete(op)
		ops = append(ops, op)
	}
	return ops
}

// clone deep-copies the structure. Transactions mutate a clone so an
// aborted callback leaves the committed sequence untouched.
func (t *text) clone() *text {
	c := newText()
	for id, e := range t.elems {
		el := *e
		c.elems[id] = &el
	}
	for parent, kids := range t.children {
		c.children[parent] = append([]Stamp(nil), kids...)
	}
	for parent, ops := range t.pendingInserts {
		c.pendingInserts[parent] = append([]textOp(nil), ops...)
	}
	for id := range t.pendingDeletes {
		c.pendingDeletes[id] = true
	}
	c.dirty = true
	return c
}

// visible returns the ids of live elements in document order.
func (t *text) visible() []Stamp {
	if !t.dirty && t.order != nil {
		return t.order
	}
	order := make([]Stamp, 0, len(t.elems))
	var walk func(id Stamp)
	walk = func(id Stamp) {
		for _, child := range t.children[id] {
			if !t.elems[child].deleted {
				order = append(order, child)
			}
			walk(child)
		}
	}
	walk(Stamp{})
	t.order = order
	t.dirty = false
	return order
}

// String renders the live sequence.
func (t *text) String() string {
	var b strings.Builder
	for _, id := range t.visible() {
		b.WriteRune(t.elems[id].ch)
	}
	return b.String()
}

// encodeOps reconstructs the full op history needed to rebuild this
// sequence on a fresh replica: inserts in causal (pre-order) order so
// nothing buffers on replay, tombstone deletes, then any ops still
// waiting on missing dependencies.
func (t *text) encodeOps() []textOp {
	ops := make([]textOp, 0, len(t.elems))
	var deletes []textOp
	var walk func(id Stamp)
	walk = func(id Stamp) {
		for _, child := range t.children[id] {
			elem := t.elems[child]
			ops = append(ops, textOp{Insert: true, ID: child, Parent: elem.parent, Ch: string(elem.ch)})
			if elem.deleted {
				deletes = append(deletes, textOp{ID: child})
			}
			walk(child)
		}
	}
	walk(Stamp{})
	ops = append(ops, deletes...)
	for _, buffered := range t.pendingInserts {
		ops = append(ops, buffered...)
	}
	for id := range t.pendingDeletes {
		ops = append(ops, textOp{ID: id})
	}
	return ops
}
