package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"boardsync/application/compaction"
	"boardsync/application/session"
	"boardsync/domain/crdt"
	"boardsync/domain/graph"
	"boardsync/infrastructure/persistence/memory"
	"boardsync/pkg/auth"
	"boardsync/pkg/common"
)

const testSecret = "test-secret"

func signTestToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID,
		"name": userID,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

type relayFixture struct {
	store  compaction.Store
	hub    *Hub
	server *Server
	http   *httptest.Server
}

func newRelayFixture(t *testing.T) *relayFixture {
	return newRelayFixtureWithStore(t, memory.NewUpdateStore())
}

func newRelayFixtureWithStore(t *testing.T, store compaction.Store) *relayFixture {
	t.Helper()
	logger := zap.NewNop()
	registry := session.NewRegistry(session.RecordLoader{Store: store}, logger)
	hub := NewHub(logger)
	go hub.Run()

	server := NewServer(hub, registry, store, auth.NewValidator(testSecret, ""), logger)
	router := chi.NewRouter()
	router.Get("/ws/{docID}", server.HandleWebSocket)
	ts := httptest.NewServer(router)

	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
		hub.Stop()
	})
	return &relayFixture{store: store, hub: hub, server: server, http: ts}
}

func (f *relayFixture) dial(t *testing.T, docID, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") +
		"/ws/" + docID + "?token=" + signTestToken(t, userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readBinary(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	messageType, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, messageType)
	return payload
}

// makeDelta produces a binary update that sets one point node.
func makeDelta(t *testing.T, docID, nodeID, content string) []byte {
	t.Helper()
	doc := crdt.NewDoc(docID)
	delta, err := doc.Transact(crdt.NewOrigin(), func(txn *crdt.Txn) error {
		return txn.SetNode(graph.Node{ID: nodeID, Type: graph.NodeTypePoint, Data: graph.PointData{Content: content}})
	})
	require.NoError(t, err)
	return delta
}

func TestJoinReceivesSnapshot(t *testing.T) {
	f := newRelayFixture(t)

	// Seed the store so the replica has state before anyone joins.
	seed := makeDelta(t, "doc-1", "n1", "seeded")
	_, err := f.store.AppendUpdate(context.Background(), "doc-1", seed)
	require.NoError(t, err)

	conn := f.dial(t, "doc-1", "alice")
	snapshot := readBinary(t, conn)

	peer := crdt.NewDoc("doc-1")
	require.NoError(t, peer.ApplyUpdate(snapshot))
	assert.Contains(t, peer.Nodes(), "n1")
}

func TestDeltaRelayedToOtherPeersOnly(t *testing.T) {
	f := newRelayFixture(t)

	alice := f.dial(t, "doc-1", "alice")
	readBinary(t, alice) // snapshot
	bob := f.dial(t, "doc-1", "bob")
	readBinary(t, bob) // snapshot

	delta := makeDelta(t, "doc-1", "n1", "from alice")
	require.NoError(t, alice.WriteMessage(websocket.BinaryMessage, delta))

	relayed := readBinary(t, bob)
	peer := crdt.NewDoc("doc-1")
	require.NoError(t, peer.ApplyUpdate(relayed))
	assert.Contains(t, peer.Nodes(), "n1")

	// The sender must not get its own frame back.
	alice.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := alice.ReadMessage()
	assert.Error(t, err, "no echo to the sender")
}

func TestDeltaPersistedForLateJoiners(t *testing.T) {
	f := newRelayFixture(t)

	alice := f.dial(t, "doc-1", "alice")
	readBinary(t, alice)

	delta := makeDelta(t, "doc-1", "n1", "early edit")
	require.NoError(t, alice.WriteMessage(websocket.BinaryMessage, delta))

	require.Eventually(t, func() bool {
		recs, err := f.store.LoadUpdates(context.Background(), "doc-1")
		return err == nil && len(recs) == 1
	}, 5*time.Second, 20*time.Millisecond)

	carol := f.dial(t, "doc-1", "carol")
	snapshot := readBinary(t, carol)
	peer := crdt.NewDoc("doc-1")
	require.NoError(t, peer.ApplyUpdate(snapshot))
	assert.Contains(t, peer.Nodes(), "n1", "late joiner sees the earlier edit")
}

func TestMalformedFrameIsDropped(t *testing.T) {
	f := newRelayFixture(t)

	alice := f.dial(t, "doc-1", "alice")
	readBinary(t, alice)
	bob := f.dial(t, "doc-1", "bob")
	readBinary(t, bob)

	require.NoError(t, alice.WriteMessage(websocket.BinaryMessage, []byte("garbage frame")))

	bob.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err, "garbage is not relayed")

	recs, err2 := f.store.LoadUpdates(context.Background(), "doc-1")
	require.NoError(t, err2)
	assert.Empty(t, recs, "garbage is not persisted")
}

// faultyStore refuses appends so the relay's persistence failure path
// can be exercised.
type faultyStore struct {
	*memory.UpdateStore
	failAppend bool
}

func (s *faultyStore) AppendUpdate(ctx context.Context, docID string, payload []byte) (compaction.Record, error) {
	if s.failAppend {
		return compaction.Record{}, errors.New("store unavailable")
	}
	return s.UpdateStore.AppendUpdate(ctx, docID, payload)
}

func TestFrameRefusedByStoreReachesNobody(t *testing.T) {
	store := &faultyStore{UpdateStore: memory.NewUpdateStore(), failAppend: true}
	f := newRelayFixtureWithStore(t, store)

	alice := f.dial(t, "doc-1", "alice")
	readBinary(t, alice)
	bob := f.dial(t, "doc-1", "bob")
	readBinary(t, bob)

	delta := makeDelta(t, "doc-1", "n1", "lost edit")
	require.NoError(t, alice.WriteMessage(websocket.BinaryMessage, delta))

	bob.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err, "unpersisted frame is not relayed")

	// The shared replica must not have merged it either: the next
	// joiner's snapshot reflects only what the log holds.
	carol := f.dial(t, "doc-1", "carol")
	snapshot := readBinary(t, carol)
	peer := crdt.NewDoc("doc-1")
	require.NoError(t, peer.ApplyUpdate(snapshot))
	assert.NotContains(t, peer.Nodes(), "n1", "unpersisted frame is not merged")
}

func TestEnqueueAfterRoomRemovalDoesNotPanic(t *testing.T) {
	hub := NewHub(zap.NewNop())
	client := newClient("doc-1", common.Identity{UserID: "alice"}, hub, nil, zap.NewNop())

	hub.add(client)
	hub.remove(client)

	assert.NotPanics(t, func() {
		assert.False(t, client.enqueue([]byte("snapshot")))
	})
	// Duplicate removal must also stay safe.
	assert.NotPanics(t, func() { hub.remove(client) })
}

func TestUnauthenticatedUpgradeRejected(t *testing.T) {
	f := newRelayFixture(t)

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws/doc-1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
