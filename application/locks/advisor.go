// Package locks implements the advisory editing-lock layer. Locks are
// stored as ordinary replicated records so every peer sees them, but
// nothing at the data layer enforces them: the operation layer checks
// them before mutating and warns instead of stomping on a peer's
// in-progress edit. Two peers can still race past the check; that is
// an accepted trust boundary for cooperative collaborators.
package locks

import (
	"time"

	"go.uber.org/zap"

	"boardsync/domain/crdt"
	"boardsync/domain/graph"
	"boardsync/pkg/common"
)

// DefaultTTL bounds how long a lock outlives its last refresh, so a
// disconnected peer's claim cannot block others forever.
const DefaultTTL = 30 * time.Second

// Advisor answers lock queries against a document and manages this
// client's own claims.
type Advisor struct {
	doc      *crdt.Doc
	origin   crdt.Origin
	identity common.Identity
	ttl      time.Duration
	logger   *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewAdvisor creates an advisor bound to a document replica.
func NewAdvisor(doc *crdt.Doc, origin crdt.Origin, identity common.Identity, logger *zap.Logger) *Advisor {
	return &Advisor{
		doc:      doc,
		origin:   origin,
		identity: identity,
		ttl:      DefaultTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// WithTTL overrides the lock TTL.
func (a *Advisor) WithTTL(ttl time.Duration) *Advisor {
	a.ttl = ttl
	return a
}

// IsLockedForMe reports whether another peer holds a live lock on the
// node. Expired locks are treated as absent.
func (a *Advisor) IsLockedForMe(nodeID string) bool {
	lock, ok := a.liveLock(nodeID)
	return ok && lock.OwnerID != a.identity.UserID
}

// Owner returns the display name of the live lock holder, if any.
func (a *Advisor) Owner(nodeID string) (string, bool) {
	lock, ok := a.liveLock(nodeID)
	if !ok {
		return "", false
	}
	name := lock.OwnerName
	if name == "" {
		name = lock.OwnerID
	}
	return name, true
}

// Acquire claims (or refreshes) the advisory lock on a node for this
// user. The claim replicates to peers through the normal update path.
func (a *Advisor) Acquire(nodeID string) error {
	_, err := a.doc.Transact(a.origin, func(txn *crdt.Txn) error {
		return txn.SetLock(graph.Lock{
			NodeID:    nodeID,
			OwnerID:   a.identity.UserID,
			OwnerName: a.identity.DisplayName,
			ExpiresAt: a.now().Add(a.ttl),
		})
	})
	if err != nil {
		return err
	}
	a.logger.Debug("advisory lock acquired",
		zap.String("nodeID", nodeID),
		zap.String("owner", a.identity.UserID),
	)
	return nil
}

// Release drops this user's claim on a node. Releasing a lock held by
// someone else is refused (their claim stays replicated, ours never
// existed).
func (a *Advisor) Release(nodeID string) error {
	_, err := a.doc.Transact(a.origin, func(txn *crdt.Txn) error {
		lock, ok := txn.Lock(nodeID)
		if !ok || lock.OwnerID != a.identity.UserID {
			return nil
		}
		txn.DeleteLock(nodeID)
		return nil
	})
	return err
}

// ReleaseAll drops every claim this user holds, used on disconnect.
func (a *Advisor) ReleaseAll() error {
	_, err := a.doc.Transact(a.origin, func(txn *crdt.Txn) error {
		var mine []string
		txn.Locks(func(lock graph.Lock) bool {
			if lock.OwnerID == a.identity.UserID {
				mine = append(mine, lock.NodeID)
			}
			return true
		})
		for _, nodeID := range mine {
			txn.DeleteLock(nodeID)
		}
		return nil
	})
	return err
}

func (a *Advisor) liveLock(nodeID string) (graph.Lock, bool) {
	lock, ok := a.doc.Locks()[nodeID]
	if !ok || lock.Expired(a.now()) {
		return graph.Lock{}, false
	}
	return lock, true
}
