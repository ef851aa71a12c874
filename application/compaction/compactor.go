// Package compaction folds a document's accumulated update records
// into a single snapshot record so cold loads stay cheap. A snapshot
// is just a full-state update in the same wire format, so clients and
// the compactor share one merge path and compaction can run while
// peers keep editing.
package compaction

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"boardsync/domain/crdt"
	"boardsync/pkg/errors"
	"boardsync/pkg/utils"
)

// Record is one persisted update or snapshot for a document.
type Record struct {
	ID        string
	DocID     string
	Snapshot  bool
	Payload   []byte
	CreatedAt time.Time
}

// Store is the persistence endpoint the compactor runs against.
// LoadUpdates returns records in storage order, snapshots first.
type Store interface {
	ListDocuments(ctx context.Context) ([]string, error)
	LoadUpdates(ctx context.Context, docID string) ([]Record, error)
	AppendUpdate(ctx context.Context, docID string, payload []byte) (Record, error)
	SaveSnapshot(ctx context.Context, docID string, payload []byte) (Record, error)
	DeleteRecords(ctx context.Context, docID string, ids []string) error
}

// Locker serializes compactor runs per document. Acquire returns
// ErrLockHeld when another run owns the document.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// ErrLockHeld is returned by a Locker when the document is being
// compacted elsewhere; the document is skipped, not failed.
var ErrLockHeld = fmt.Errorf("compaction lock held")

// Reporter is notified after a completed run. Wired to the
// EventBridge publisher in production, nil in tests.
type Reporter interface {
	CompactionCompleted(ctx context.Context, summary Summary) error
}

// Options tunes a compaction run.
type Options struct {
	// Threshold is the record count at which a document is compacted.
	Threshold int `validate:"gte=1"`
	// KeepLast raw update records survive compaction untouched.
	KeepLast int `validate:"gte=0"`
	// MinAge exempts recent records from deletion.
	MinAge time.Duration `validate:"gte=0"`
}

// DefaultOptions matches the production schedule.
func DefaultOptions() Options {
	return Options{
		Threshold: 50,
		KeepLast:  10,
		MinAge:    time.Minute,
	}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if err := utils.ValidateStruct(o); err != nil {
		return errors.NewValidationError(fmt.Sprintf("invalid compaction options: %v", err))
	}
	return nil
}

// Summary describes one run across all documents.
type Summary struct {
	DocsProcessed int           `json:"docsProcessed"`
	DocsCompacted int           `json:"docsCompacted"`
	Duration      time.Duration `json:"duration"`
	Errors        []string      `json:"errors,omitempty"`
}

// Compactor rewrites update histories into snapshots.
type Compactor struct {
	store    Store
	locker   Locker
	reporter Reporter
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// New builds a compactor. locker and reporter may be nil.
func New(store Store, locker Locker, reporter Reporter, opts Options, logger *zap.Logger) (*Compactor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Compactor{
		store:    store,
		locker:   locker,
		reporter: reporter,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Run compacts every document whose record count reached the
// threshold. Per-document failures are collected in the summary; the
// run keeps going.
func (c *Compactor) Run(ctx context.Context) (Summary, error) {
	started := c.now()
	summary := Summary{}

	docIDs, err := c.store.ListDocuments(ctx)
	if err != nil {
		return summary, errors.NewStorageError("failed to list documents", err)
	}

	for _, docID := range docIDs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.DocsProcessed++

		compacted, err := c.compactDoc(ctx, docID)
		if err != nil {
			c.logger.Error("compaction failed for document",
				zap.String("docID", docID),
				zap.Error(err),
			)
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", docID, err))
			docFailuresTotal.Inc()
			continue
		}
		if compacted {
			summary.DocsCompacted++
			docsCompactedTotal.Inc()
		}
	}

	runsTotal.Inc()
	summary.Duration = c.now().Sub(started)
	c.logger.Info("compaction run finished",
		zap.Int("docsProcessed", summary.DocsProcessed),
		zap.Int("docsCompacted", summary.DocsCompacted),
		zap.Duration("duration", summary.Duration),
		zap.Int("errors", len(summary.Errors)),
	)

	if c.reporter != nil {
		if err := c.reporter.CompactionCompleted(ctx, summary); err != nil {
			c.logger.Warn("failed to report compaction run", zap.Error(err))
		}
	}
	return summary, nil
}

// compactDoc merges a document's records into a snapshot, then
// deletes the records the snapshot subsumes. The snapshot write
// strictly precedes any deletion, so a failure at any point leaves
// the stored history loadable.
func (c *Compactor) compactDoc(ctx context.Context, docID string) (bool, error) {
	if c.locker != nil {
		release, err := c.locker.Acquire(ctx, docID)
		if err == ErrLockHeld {
			c.logger.Debug("document locked by another run, skipping",
				zap.String("docID", docID))
			return false, nil
		}
		if err != nil {
			return false, err
		}
		defer release()
	}

	records, err := c.store.LoadUpdates(ctx, docID)
	if err != nil {
		return false, errors.NewStorageError("failed to load update records", err)
	}
	if len(records) < c.opts.Threshold {
		return false, nil
	}

	doc := crdt.NewDoc(docID)
	for _, rec := range records {
		if err := doc.ApplyUpdate(rec.Payload); err != nil {
			// A record we cannot merge is a record we must not
			// delete. Leave the whole history alone.
			return false, errors.NewStorageError(
				fmt.Sprintf("corrupt update record %s", rec.ID), err)
		}
	}

	snapshot, err := doc.EncodeState()
	if err != nil {
		return false, errors.NewInternalError("failed to encode snapshot").WithCause(err)
	}
	if _, err := c.store.SaveSnapshot(ctx, docID, snapshot); err != nil {
		return false, errors.NewStorageError("failed to save snapshot", err)
	}

	deletable := c.deletableIDs(records)
	if len(deletable) > 0 {
		if err := c.store.DeleteRecords(ctx, docID, deletable); err != nil {
			return false, errors.NewStorageError("failed to delete compacted records", err)
		}
	}

	c.logger.Info("compacted document",
		zap.String("docID", docID),
		zap.Int("records", len(records)),
		zap.Int("deleted", len(deletable)),
	)
	return true, nil
}

// deletableIDs picks the records the fresh snapshot subsumes: every
// old snapshot, and every raw update except the KeepLast newest and
// any younger than MinAge.
func (c *Compactor) deletableIDs(records []Record) []string {
	cutoff := c.now().Add(-c.opts.MinAge)

	var updates []Record
	var ids []string
	for _, rec := range records {
		if rec.Snapshot {
			ids = append(ids, rec.ID)
			continue
		}
		updates = append(updates, rec)
	}

	keepFrom := len(updates) - c.opts.KeepLast
	if keepFrom < 0 {
		keepFrom = 0
	}
	for i, rec := range updates {
		if i >= keepFrom {
			break
		}
		if rec.CreatedAt.After(cutoff) {
			continue
		}
		ids = append(ids, rec.ID)
	}
	return ids
}
