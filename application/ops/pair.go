package ops

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"boardsync/domain/crdt"
	"boardsync/domain/graph"
)

// pairCloseDelay is the total animation budget between the closing
// flag and the finalize transaction. It is a UX affordance only: the
// finalize step is safe to run immediately.
const pairCloseDelay = 600 * time.Millisecond

// PairCloser is the two-state machine (closing -> finalized) driving
// the delayed second phase of DeleteInversePair. The transition is
// scheduled, not canceled by any current code path; Finalize may also
// be invoked directly (tests, teardown).
type PairCloser struct {
	svc        *GraphService
	inverseID  string
	groupID    string
	originalID string

	timer *time.Timer
	once  sync.Once
	done  chan struct{}
	err   error
}

// Wait blocks until the finalize transaction has run and returns its
// error.
func (p *PairCloser) Wait() error {
	<-p.done
	return p.err
}

// Finalize runs the second phase now. Safe to call concurrently with
// the scheduled transition; exactly one run happens.
func (p *PairCloser) Finalize() error {
	p.once.Do(func() {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.err = p.svc.finalizePairClose(p.inverseID, p.groupID, p.originalID)
		close(p.done)
	})
	<-p.done
	return p.err
}

// DeleteInversePair collapses a paired group given its inverse half:
// the original sibling is promoted to a standalone node at its
// absolute position (keeping the inverse's text for reference in its
// InverseContent field), then the inverse node, the group and every
// edge touching the inverse are removed.
//
// The removal runs in two phases. Phase one marks the group as
// closing and broadcasts it so peers can play the collapse animation;
// phase two commits the deletion after the remainder of a fixed delay
// budget, discounting time already spent in phase one.
func (s *GraphService) DeleteInversePair(inverseID string) (*PairCloser, error) {
	if !s.ensureWritable() || !s.ensureUnlocked(inverseID) {
		return nil, nil
	}

	nodes := s.doc.Nodes()
	inverse, ok := nodes[inverseID]
	if !ok {
		return nil, nil
	}
	groupID := inverse.ParentID
	group, ok := nodes[groupID]
	if !ok || group.Type != graph.NodeTypeGroup {
		s.notifier.Warn("Node is not part of a pair")
		return nil, nil
	}

	originalID := ""
	for id, n := range nodes {
		if n.ParentID == groupID && id != inverseID {
			originalID = id
			break
		}
	}
	if originalID == "" {
		s.notifier.Warn("Pair has no original half")
		return nil, nil
	}

	started := time.Now()
	_, err := s.doc.Transact(s.origin, func(txn *crdt.Txn) error {
		g, ok := txn.Node(groupID)
		if !ok {
			return nil
		}
		data, _ := g.Data.(graph.GroupData)
		data.Closing = true
		g.Data = data
		return txn.SetNode(g)
	})
	if err != nil {
		return nil, err
	}

	// Whatever the closing-flag transaction already consumed comes
	// out of the animation budget.
	remaining := pairCloseDelay - time.Since(started)
	if remaining < 0 {
		remaining = 0
	}

	closer := &PairCloser{
		svc:        s,
		inverseID:  inverseID,
		groupID:    groupID,
		originalID: originalID,
		done:       make(chan struct{}),
	}
	closer.timer = time.AfterFunc(remaining, func() { _ = closer.Finalize() })

	s.logger.Debug("pair close scheduled",
		zap.String("inverseID", inverseID),
		zap.Duration("delay", remaining),
	)
	return closer, nil
}

func (s *GraphService) finalizePairClose(inverseID, groupID, originalID string) error {
	_, err := s.doc.Transact(s.origin, func(txn *crdt.Txn) error {
		group, groupExists := txn.Node(groupID)
		inverse, inverseExists := txn.Node(inverseID)

		if original, ok := txn.Node(originalID); ok {
			if groupExists {
				original.Position = original.Position.Add(group.Position)
			}
			original.ParentID = ""
			if data, isPoint := original.Data.(graph.PointData); isPoint && inverseExists {
				inverseText := txn.Text(inverseID)
				if inverseText == "" {
					inverseText = contentOf(inverse.Data)
				}
				data.InverseContent = inverseText
				original.Data = data
			}
			if err := txn.SetNode(original); err != nil {
				return err
			}
		}

		if inverseExists {
			for _, edgeID := range incidentEdges(txn, inverseID) {
				deleteEdgeCascade(txn, edgeID)
			}
			txn.DeleteNode(inverseID)
		}
		if groupExists {
			txn.DeleteNode(groupID)
		}
		return nil
	})
	return err
}
