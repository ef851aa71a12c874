// Package session binds a document replica to the sync transport:
// local transactions stream out as binary deltas, peer deltas fold in
// through the document's native merge path. Delivery is assumed
// at-least-once and unordered; correctness comes from the merge being
// commutative and idempotent, so the transport never has to care.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"boardsync/domain/crdt"
	"boardsync/pkg/syncutil"
)

// Publisher delivers an opaque binary delta to every peer subscribed
// to the document id.
type Publisher interface {
	Publish(ctx context.Context, docID string, delta []byte) error
}

// publish retry tuning. A failed publish is retried, then surfaced in
// the log; it is never silently dropped.
const (
	publishAttempts = 3
	publishBackoff  = 200 * time.Millisecond
)

// Session connects one client's document replica to the transport.
type Session struct {
	doc       *crdt.Doc
	publisher Publisher
	logger    *zap.Logger

	// pending tracks in-flight publishes so Close can flush them
	// before teardown; no transaction may be dropped on disconnect.
	pending   *syncutil.Set
	wg        sync.WaitGroup
	unobserve func()

	mu     sync.Mutex
	closed bool
}

// New wires a session and starts forwarding local transactions.
func New(doc *crdt.Doc, publisher Publisher, logger *zap.Logger) *Session {
	s := &Session{
		doc:       doc,
		publisher: publisher,
		logger:    logger,
		pending:   syncutil.NewSet(),
	}
	s.unobserve = doc.Observe(func(c crdt.Change) {
		if c.Remote || len(c.Delta) == 0 {
			return
		}
		s.publish(c.Delta)
	})
	return s
}

// Doc returns the session's document replica.
func (s *Session) Doc() *crdt.Doc { return s.doc }

// Pending reports the number of in-flight publishes.
func (s *Session) Pending() int { return s.pending.Len() }

func (s *Session) publish(delta []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("transaction after session close dropped from transport",
			zap.String("docID", s.doc.ID()))
		return
	}
	id := uuid.New().String()
	s.pending.Add(id)
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer func() {
			s.pending.Remove(id)
			s.wg.Done()
		}()

		var err error
		for attempt := 1; attempt <= publishAttempts; attempt++ {
			err = s.publisher.Publish(context.Background(), s.doc.ID(), delta)
			if err == nil {
				return
			}
			time.Sleep(publishBackoff * time.Duration(attempt))
		}
		s.logger.Error("failed to publish delta",
			zap.String("docID", s.doc.ID()),
			zap.Int("attempts", publishAttempts),
			zap.Error(err),
		)
	}()
}

// HandleRemote applies a delta received from a peer through the
// document's native merge primitive. Re-delivered or reordered deltas
// are safe.
func (s *Session) HandleRemote(delta []byte) error {
	return s.doc.ApplyUpdate(delta)
}

// Close stops forwarding and flushes every in-flight publish. Returns
// the context error if the flush does not finish in time.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.unobserve()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Error("session closed with unflushed deltas",
			zap.String("docID", s.doc.ID()),
			zap.Int("pending", s.pending.Len()),
		)
		return ctx.Err()
	}
}
