// Package ops is the graph operation layer: it translates user
// intents (delete, duplicate, add, retype) into transactions against
// the replicated document, after validating the write capability and
// consulting the advisory lock layer. Every rejected operation
// produces a non-fatal user-facing warning and performs no mutation.
package ops

import (
	"fmt"

	"go.uber.org/zap"

	"boardsync/application/locks"
	"boardsync/domain/crdt"
	"boardsync/domain/graph"
	"boardsync/pkg/common"
)

// GraphService executes graph operations for one user's session on a
// document replica.
type GraphService struct {
	doc      *crdt.Doc
	origin   crdt.Origin
	advisor  *locks.Advisor
	identity common.Identity
	canWrite bool
	notifier Notifier
	logger   *zap.Logger
}

// NewGraphService wires a service for a session.
func NewGraphService(
	doc *crdt.Doc,
	origin crdt.Origin,
	advisor *locks.Advisor,
	identity common.Identity,
	canWrite bool,
	notifier Notifier,
	logger *zap.Logger,
) *GraphService {
	return &GraphService{
		doc:      doc,
		origin:   origin,
		advisor:  advisor,
		identity: identity,
		canWrite: canWrite,
		notifier: notifier,
		logger:   logger,
	}
}

// Doc exposes the underlying document for read paths.
func (s *GraphService) Doc() *crdt.Doc { return s.doc }

// ensureWritable warns and returns false in read-only mode.
func (s *GraphService) ensureWritable() bool {
	if s.canWrite {
		return true
	}
	s.notifier.Warn("Board is read-only")
	return false
}

// ensureUnlocked warns and returns false when another peer holds a
// live advisory lock on the node.
func (s *GraphService) ensureUnlocked(nodeID string) bool {
	if !s.advisor.IsLockedForMe(nodeID) {
		return true
	}
	name, _ := s.advisor.Owner(nodeID)
	s.notifier.Warn(fmt.Sprintf("Locked by %s", name))
	return false
}

// UpdateNodeType changes a node's type, converting its payload where
// the content carries over (point and comment bodies, for example).
func (s *GraphService) UpdateNodeType(id string, newType graph.NodeType) error {
	if !s.ensureWritable() || !s.ensureUnlocked(id) {
		return nil
	}
	_, err := s.doc.Transact(s.origin, func(txn *crdt.Txn) error {
		node, ok := txn.Node(id)
		if !ok {
			s.notifier.Warn("Node no longer exists")
			return nil
		}
		if node.Type == newType {
			return nil
		}
		node.Data = convertData(node.Data, newType)
		node.Type = newType
		return txn.SetNode(node)
	})
	return err
}

// StartEditingNode claims the advisory lock on a node and flags it as
// being edited by this user, so peers can render presence.
func (s *GraphService) StartEditingNode(id string) error {
	if !s.ensureWritable() || !s.ensureUnlocked(id) {
		return nil
	}
	if err := s.advisor.Acquire(id); err != nil {
		return err
	}
	_, err := s.doc.Transact(s.origin, func(txn *crdt.Txn) error {
		node, ok := txn.Node(id)
		if !ok {
			return nil
		}
		if data, ok := node.Data.(graph.PointData); ok {
			data.Editing = true
			data.EditedBy = s.identity.DisplayName
			node.Data = data
			return txn.SetNode(node)
		}
		return nil
	})
	return err
}

// StopEditingNode clears the editing flag and releases the lock.
func (s *GraphService) StopEditingNode(id string) error {
	_, err := s.doc.Transact(s.origin, func(txn *crdt.Txn) error {
		node, ok := txn.Node(id)
		if !ok {
			return nil
		}
		if data, ok := node.Data.(graph.PointData); ok && data.Editing {
			data.Editing = false
			data.EditedBy = ""
			node.Data = data
			if err := txn.SetNode(node); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.advisor.Release(id)
}

// convertData maps a payload to the variant of the target type,
// preserving textual content where both sides carry some.
func convertData(data graph.NodeData, target graph.NodeType) graph.NodeData {
	content := contentOf(data)
	switch target {
	case graph.NodeTypePoint:
		return graph.PointData{Content: content}
	case graph.NodeTypeComment:
		return graph.CommentData{Content: content}
	case graph.NodeTypeObjection:
		return graph.ObjectionData{Content: content}
	case graph.NodeTypeStatement:
		return graph.StatementData{Statement: content}
	case graph.NodeTypeTitle:
		return graph.TitleData{Title: content}
	case graph.NodeTypeGroup:
		return graph.GroupData{}
	case graph.NodeTypeAddPoint:
		return graph.AddPointData{}
	default:
		return data
	}
}

func contentOf(data graph.NodeData) string {
	switch d := data.(type) {
	case graph.PointData:
		return d.Content
	case graph.CommentData:
		return d.Content
	case graph.ObjectionData:
		return d.Content
	case graph.StatementData:
		return d.Statement
	case graph.TitleData:
		return d.Title
	default:
		return ""
	}
}
