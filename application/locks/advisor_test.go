package locks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"boardsync/domain/crdt"
	"boardsync/pkg/common"
)

func newAdvisor(t *testing.T, doc *crdt.Doc, userID, name string) *Advisor {
	t.Helper()
	return NewAdvisor(doc, crdt.NewOrigin(), common.Identity{UserID: userID, DisplayName: name}, zap.NewNop())
}

func TestAcquireAndQuery(t *testing.T) {
	doc := crdt.NewDoc("doc-1")
	mine := newAdvisor(t, doc, "u1", "Pat")
	theirs := newAdvisor(t, doc, "u2", "Alice")

	require.NoError(t, mine.Acquire("n1"))

	assert.False(t, mine.IsLockedForMe("n1"), "own lock does not block")
	assert.True(t, theirs.IsLockedForMe("n1"))

	name, ok := theirs.Owner("n1")
	require.True(t, ok)
	assert.Equal(t, "Pat", name)
}

func TestLocksReplicateBetweenPeers(t *testing.T) {
	a := crdt.NewDoc("doc-1")
	b := crdt.NewDoc("doc-1")

	var delta []byte
	a.Observe(func(c crdt.Change) {
		if !c.Remote {
			delta = c.Delta
		}
	})

	advisorA := newAdvisor(t, a, "u1", "Pat")
	require.NoError(t, advisorA.Acquire("n1"))
	require.NotEmpty(t, delta)
	require.NoError(t, b.ApplyUpdate(delta))

	advisorB := newAdvisor(t, b, "u2", "Alice")
	assert.True(t, advisorB.IsLockedForMe("n1"))
}

func TestExpiredLockTreatedAsAbsent(t *testing.T) {
	doc := crdt.NewDoc("doc-1")
	mine := newAdvisor(t, doc, "u1", "Pat").WithTTL(10 * time.Millisecond)
	theirs := newAdvisor(t, doc, "u2", "Alice")

	require.NoError(t, mine.Acquire("n1"))
	assert.True(t, theirs.IsLockedForMe("n1"))

	theirs.now = func() time.Time { return time.Now().Add(time.Second) }
	assert.False(t, theirs.IsLockedForMe("n1"), "expired lock must not block")
	_, ok := theirs.Owner("n1")
	assert.False(t, ok)
}

func TestReleaseRefusesForeignLock(t *testing.T) {
	doc := crdt.NewDoc("doc-1")
	mine := newAdvisor(t, doc, "u1", "Pat")
	theirs := newAdvisor(t, doc, "u2", "Alice")

	require.NoError(t, mine.Acquire("n1"))
	require.NoError(t, theirs.Release("n1"))
	assert.True(t, theirs.IsLockedForMe("n1"), "foreign release must not drop the lock")
}

func TestReleaseAll(t *testing.T) {
	doc := crdt.NewDoc("doc-1")
	mine := newAdvisor(t, doc, "u1", "Pat")
	theirs := newAdvisor(t, doc, "u2", "Alice")

	require.NoError(t, mine.Acquire("n1"))
	require.NoError(t, mine.Acquire("n2"))
	require.NoError(t, theirs.Acquire("n3"))

	require.NoError(t, mine.ReleaseAll())

	assert.False(t, theirs.IsLockedForMe("n1"))
	assert.False(t, theirs.IsLockedForMe("n2"))
	assert.True(t, mine.IsLockedForMe("n3"), "other users' locks survive")
}
