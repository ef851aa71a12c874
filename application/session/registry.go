package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"boardsync/domain/crdt"
	pkgerrors "boardsync/pkg/errors"
)

// Loader supplies the persisted update history for a document id,
// snapshot first when one exists.
type Loader interface {
	LoadUpdates(ctx context.Context, docID string) ([][]byte, error)
}

// Registry owns the server-side document replicas, one per document
// id with at least one connected peer. The first peer loads the
// document from storage; the last peer leaving unloads it.
type Registry struct {
	loader Loader
	logger *zap.Logger

	mu   sync.Mutex
	docs map[string]*registryEntry
}

type registryEntry struct {
	doc  *crdt.Doc
	refs int
}

// NewRegistry creates an empty registry.
func NewRegistry(loader Loader, logger *zap.Logger) *Registry {
	return &Registry{
		loader: loader,
		logger: logger,
		docs:   make(map[string]*registryEntry),
	}
}

// Acquire returns the live replica for docID, loading it from the
// persisted snapshot and subsequent update records on first use. The
// release function must be called exactly once when the peer leaves.
func (r *Registry) Acquire(ctx context.Context, docID string) (*crdt.Doc, func(), error) {
	r.mu.Lock()
	if entry, ok := r.docs[docID]; ok {
		entry.refs++
		r.mu.Unlock()
		return entry.doc, r.releaseFunc(docID), nil
	}
	r.mu.Unlock()

	// Load outside the lock; storage may be slow.
	updates, err := r.loader.LoadUpdates(ctx, docID)
	if err != nil {
		return nil, nil, pkgerrors.NewStorageError("load updates", err)
	}
	doc := crdt.NewDoc(docID)
	for _, update := range updates {
		if err := doc.ApplyUpdate(update); err != nil {
			// A bad record must not take the document down; merge
			// of the remaining history is still well defined.
			r.logger.Error("skipping corrupt update record",
				zap.String("docID", docID),
				zap.Error(err),
			)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.docs[docID]; ok {
		// A concurrent Acquire won the load race.
		entry.refs++
		return entry.doc, r.releaseFunc(docID), nil
	}
	r.docs[docID] = &registryEntry{doc: doc, refs: 1}
	r.logger.Info("document loaded",
		zap.String("docID", docID),
		zap.Int("records", len(updates)),
	)
	return doc, r.releaseFunc(docID), nil
}

// Peers returns the number of peers attached to a document.
func (r *Registry) Peers(docID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.docs[docID]; ok {
		return entry.refs
	}
	return 0
}

func (r *Registry) releaseFunc(docID string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			entry, ok := r.docs[docID]
			if !ok {
				return
			}
			entry.refs--
			if entry.refs <= 0 {
				delete(r.docs, docID)
				r.logger.Info("document unloaded", zap.String("docID", docID))
			}
		})
	}
}
