// Package eventbridge reports compaction runs to an AWS EventBridge
// bus so downstream consumers (alerting, usage accounting) can react
// without being wired into the compactor.
package eventbridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"

	"boardsync/application/compaction"
	"boardsync/pkg/errors"
)

const (
	eventSource          = "boardsync"
	compactionDetailType = "compaction.completed"
)

// Publisher implements compaction.Reporter on EventBridge.
type Publisher struct {
	client       *eventbridge.Client
	eventBusName string
	logger       *zap.Logger
}

// NewPublisher creates a publisher against the named event bus.
func NewPublisher(client *eventbridge.Client, eventBusName string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:       client,
		eventBusName: eventBusName,
		logger:       logger,
	}
}

// CompactionCompleted emits one compaction.completed event carrying
// the run summary.
func (p *Publisher) CompactionCompleted(ctx context.Context, summary compaction.Summary) error {
	detail, err := json.Marshal(summary)
	if err != nil {
		return errors.NewInternalError("failed to marshal compaction summary").WithCause(err)
	}

	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{{
			EventBusName: aws.String(p.eventBusName),
			Source:       aws.String(eventSource),
			DetailType:   aws.String(compactionDetailType),
			Detail:       aws.String(string(detail)),
			Time:         aws.Time(time.Now()),
		}},
	})
	if err != nil {
		return errors.NewTransportError("failed to publish compaction event", err)
	}
	if out.FailedEntryCount > 0 {
		entry := out.Entries[0]
		p.logger.Error("event bus rejected compaction event",
			zap.Stringp("errorCode", entry.ErrorCode),
			zap.Stringp("errorMessage", entry.ErrorMessage),
		)
		return errors.NewTransportError("event bus rejected compaction event", nil)
	}

	p.logger.Debug("published compaction event",
		zap.Int("docsCompacted", summary.DocsCompacted),
	)
	return nil
}
