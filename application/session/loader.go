package session

import (
	"context"

	"boardsync/application/compaction"
)

// RecordLoader adapts an update-record store to the registry's Loader
// interface by stripping records down to their payloads. The store
// returns snapshots first, which is the order the registry wants.
type RecordLoader struct {
	Store compaction.Store
}

func (l RecordLoader) LoadUpdates(ctx context.Context, docID string) ([][]byte, error) {
	records, err := l.Store.LoadUpdates(ctx, docID)
	if err != nil {
		return nil, err
	}
	payloads := make([][]byte, 0, len(records))
	for _, rec := range records {
		payloads = append(payloads, rec.Payload)
	}
	return payloads, nil
}
