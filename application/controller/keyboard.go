// Package controller translates raw input events into graph
// operations. It owns no document state of its own; everything it
// mutates goes through the operation layer's validation (write
// capability, advisory locks), so a rejected shortcut degrades to the
// same warning a rejected menu action would.
package controller

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"boardsync/application/ops"
	"boardsync/domain/crdt"
	"boardsync/domain/graph"
)

// Key identifies a keyboard key in the browser event naming scheme.
type Key string

const (
	KeyEscape     Key = "Escape"
	KeyDelete     Key = "Delete"
	KeyBackspace  Key = "Backspace"
	KeyC          Key = "c"
	KeyV          Key = "v"
	KeyS          Key = "s"
	KeyArrowUp    Key = "ArrowUp"
	KeyArrowDown  Key = "ArrowDown"
	KeyArrowLeft  Key = "ArrowLeft"
	KeyArrowRight Key = "ArrowRight"
)

// Modifiers captures the modifier state of a key event.
type Modifiers struct {
	Meta  bool
	Ctrl  bool
	Alt   bool
	Shift bool
}

// command reports the platform copy/paste/save chord modifier.
func (m Modifiers) command() bool { return m.Meta || m.Ctrl }

func (m Modifiers) any() bool { return m.Meta || m.Ctrl || m.Alt || m.Shift }

// Panner receives viewport pan deltas in pixels.
type Panner interface {
	PanBy(dx, dy float64)
}

// Saver persists the document on an explicit user request.
type Saver interface {
	ForceSave()
}

const (
	pasteOffset = 50.0
	panVelocity = 600.0 // px/s
	panTick     = 16 * time.Millisecond
)

// Keyboard is the per-session keyboard state machine.
type Keyboard struct {
	svc    *ops.GraphService
	doc    *crdt.Doc
	panner Panner
	saver  Saver
	logger *zap.Logger

	mu            sync.Mutex
	selection     []string
	selectedEdge  string
	hoveredEdge   string
	editableFocus bool
	editingNode   string
	connectMode   bool
	copied        string

	held     map[Key]bool
	panStop  chan struct{}
	lastTick time.Time
}

// NewKeyboard wires a keyboard controller. panner and saver may be
// nil when the surface has no viewport or save affordance.
func NewKeyboard(svc *ops.GraphService, panner Panner, saver Saver, logger *zap.Logger) *Keyboard {
	return &Keyboard{
		svc:    svc,
		doc:    svc.Doc(),
		panner: panner,
		saver:  saver,
		logger: logger,
		held:   make(map[Key]bool),
	}
}

// SetSelection replaces the selected node set.
func (k *Keyboard) SetSelection(nodeIDs ...string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.selection = append([]string(nil), nodeIDs...)
}

// SetSelectedEdge marks an edge as selected ("" clears).
func (k *Keyboard) SetSelectedEdge(edgeID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.selectedEdge = edgeID
}

// SetHoveredEdge marks an edge as hovered ("" clears).
func (k *Keyboard) SetHoveredEdge(edgeID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.hoveredEdge = edgeID
}

// SetEditableFocus records whether focus sits inside an editable
// field; shortcuts are suspended while it does.
func (k *Keyboard) SetEditableFocus(focused bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.editableFocus = focused
}

// SetConnectMode toggles edge-drawing mode.
func (k *Keyboard) SetConnectMode(on bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.connectMode = on
}

// StartEditing puts a node into inline-edit mode through the
// operation layer (which takes the advisory lock).
func (k *Keyboard) StartEditing(nodeID string) error {
	if err := k.svc.StartEditingNode(nodeID); err != nil {
		return err
	}
	k.mu.Lock()
	k.editingNode = nodeID
	k.mu.Unlock()
	return nil
}

// Copied returns the node id held in the copy buffer.
func (k *Keyboard) Copied() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.copied
}

// HandleKeyDown processes one key-down event. It returns true when
// the event was consumed and the surface must suppress the browser
// default (the native save dialog, page scroll on arrows).
func (k *Keyboard) HandleKeyDown(key Key, mods Modifiers) bool {
	if key == KeyEscape {
		return k.handleEscape()
	}

	k.mu.Lock()
	suspended := k.editableFocus || k.editingNode != ""
	k.mu.Unlock()
	if suspended {
		return false
	}

	switch key {
	case KeyDelete, KeyBackspace:
		return k.handleDelete()
	case KeyC:
		if mods.command() {
			return k.handleCopy()
		}
	case KeyV:
		if mods.command() {
			return k.handlePaste()
		}
	case KeyS:
		if mods.command() {
			if k.saver != nil {
				k.saver.ForceSave()
			}
			return true
		}
	case KeyArrowUp, KeyArrowDown, KeyArrowLeft, KeyArrowRight:
		// Modified arrows are reserved.
		if mods.any() {
			return false
		}
		k.startPan(key)
		return true
	}
	return false
}

// HandleKeyUp releases a held pan key.
func (k *Keyboard) HandleKeyUp(key Key) {
	switch key {
	case KeyArrowUp, KeyArrowDown, KeyArrowLeft, KeyArrowRight:
		k.stopPan(key)
	}
}

// HandleWindowBlur halts panning; key-up events are lost once focus
// leaves the window.
func (k *Keyboard) HandleWindowBlur() {
	k.mu.Lock()
	for key := range k.held {
		delete(k.held, key)
	}
	k.haltPanLocked()
	k.mu.Unlock()
}

// Close stops the pan loop.
func (k *Keyboard) Close() {
	k.HandleWindowBlur()
}

func (k *Keyboard) handleEscape() bool {
	k.mu.Lock()
	editing := k.editingNode
	k.editingNode = ""
	k.connectMode = false
	k.mu.Unlock()

	if editing != "" {
		if err := k.svc.StopEditingNode(editing); err != nil {
			k.logger.Warn("failed to stop editing", zap.String("nodeID", editing), zap.Error(err))
		}
		return true
	}
	return true
}

func (k *Keyboard) handleDelete() bool {
	k.mu.Lock()
	edgeID := k.selectedEdge
	if edgeID == "" {
		edgeID = k.hoveredEdge
	}
	selection := append([]string(nil), k.selection...)
	k.mu.Unlock()

	if edgeID != "" {
		if err := k.svc.DeleteNode(edgeID); err != nil {
			k.logger.Warn("edge deletion failed", zap.String("edgeID", edgeID), zap.Error(err))
		}
		return true
	}
	if len(selection) == 0 {
		return false
	}

	nodes := k.doc.Nodes()
	deleted := make(map[string]bool)
	for _, id := range selection {
		target := promoteToGroup(id, nodes)
		if deleted[target] {
			continue
		}
		deleted[target] = true
		if err := k.svc.DeleteNode(target); err != nil {
			k.logger.Warn("node deletion failed", zap.String("nodeID", target), zap.Error(err))
		}
	}
	return true
}

// promoteToGroup widens a child selection to its containing group, so
// deleting one card of a container removes the whole container.
func promoteToGroup(nodeID string, nodes map[string]graph.Node) string {
	node, ok := nodes[nodeID]
	if !ok || node.ParentID == "" {
		return nodeID
	}
	parent, ok := nodes[node.ParentID]
	if !ok || parent.Type != graph.NodeTypeGroup {
		return nodeID
	}
	return parent.ID
}

func (k *Keyboard) handleCopy() bool {
	k.mu.Lock()
	selection := append([]string(nil), k.selection...)
	k.mu.Unlock()

	if len(selection) != 1 {
		return false
	}
	node, ok := k.doc.Nodes()[selection[0]]
	if !ok || node.Type == graph.NodeTypeEdgeAnchor {
		return false
	}

	k.mu.Lock()
	k.copied = node.ID
	k.mu.Unlock()
	return true
}

func (k *Keyboard) handlePaste() bool {
	k.mu.Lock()
	copied := k.copied
	k.mu.Unlock()

	if copied == "" {
		return false
	}
	node, ok := k.doc.Nodes()[copied]
	if !ok || node.Type == graph.NodeTypeEdgeAnchor {
		// The copied node is gone or unusable; drop the stale ref.
		k.mu.Lock()
		k.copied = ""
		k.mu.Unlock()
		return false
	}

	if _, err := k.svc.DuplicateNodeWithConnections(copied, graph.Position{X: pasteOffset, Y: pasteOffset}); err != nil {
		k.logger.Warn("paste failed", zap.String("nodeID", copied), zap.Error(err))
	}
	return true
}

func (k *Keyboard) startPan(key Key) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.held[key] = true
	if k.panStop != nil || k.panner == nil {
		return
	}
	stop := make(chan struct{})
	k.panStop = stop
	k.lastTick = time.Now()
	go k.panLoop(stop)
}

func (k *Keyboard) stopPan(key Key) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.held, key)
	if len(k.held) == 0 {
		k.haltPanLocked()
	}
}

func (k *Keyboard) haltPanLocked() {
	if k.panStop != nil {
		close(k.panStop)
		k.panStop = nil
	}
}

func (k *Keyboard) panLoop(stop chan struct{}) {
	ticker := time.NewTicker(panTick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			k.mu.Lock()
			dt := now.Sub(k.lastTick).Seconds()
			k.lastTick = now
			var dx, dy float64
			if k.held[KeyArrowLeft] {
				dx -= panVelocity * dt
			}
			if k.held[KeyArrowRight] {
				dx += panVelocity * dt
			}
			if k.held[KeyArrowUp] {
				dy -= panVelocity * dt
			}
			if k.held[KeyArrowDown] {
				dy += panVelocity * dt
			}
			panner := k.panner
			k.mu.Unlock()

			if dx != 0 || dy != 0 {
				panner.PanBy(dx, dy)
			}
		}
	}
}
