// Package redis implements the lifecycle-notice outbox on a Redis Stream with
// a consumer group, giving the scheduler-to-dispatcher hop durable,
// acknowledged delivery.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/lumen-indexer/internal/domain"
)

const (
	noticeStream   = "lifecycle_notices"
	noticeGroup    = "indexer"
	noticeConsumer = "dispatcher"
	readBlock      = 2 * time.Second
)

// NoticeOutbox implements domain.NoticeOutbox.
type NoticeOutbox struct {
	client *redis.Client
	logger *slog.Logger
}

// NewNoticeOutbox ensures the stream and consumer group exist. A pre-existing
// group is fine; anything else is a startup failure.
func NewNoticeOutbox(ctx context.Context, client *redis.Client, logger *slog.Logger) (*NoticeOutbox, error) {
	err := client.XGroupCreateMkStream(ctx, noticeStream, noticeGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create notice consumer group: %w", err)
	}
	return &NoticeOutbox{
		client: client,
		logger: logger.With("component", "notice_outbox"),
	}, nil
}

func (o *NoticeOutbox) Publish(ctx context.Context, notice domain.RawEvent) error {
	b, err := domain.MarshalEnvelope(notice)
	if err != nil {
		return fmt.Errorf("marshal notice %s: %w", notice.ID, err)
	}
	if err := o.client.XAdd(ctx, &redis.XAddArgs{
		Stream: noticeStream,
		Values: map[string]any{"payload": b},
	}).Err(); err != nil {
		return fmt.Errorf("publish notice %s: %w", notice.ID, err)
	}
	return nil
}

// Read claims up to count pending notices for this consumer. A block timeout
// with nothing pending returns an empty batch, not an error.
func (o *NoticeOutbox) Read(ctx context.Context, count int) ([]domain.OutboxMessage, error) {
	streams, err := o.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    noticeGroup,
		Consumer: noticeConsumer,
		Streams:  []string{noticeStream, ">"},
		Count:    int64(count),
		Block:    readBlock,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read notice stream: %w", err)
	}

	var out []domain.OutboxMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			raw, ok := msg.Values["payload"].(string)
			if !ok {
				// Malformed entries are acked away so they cannot wedge the
				// pending list.
				o.logger.Error("dropping malformed outbox entry", "message_id", msg.ID)
				o.client.XAck(ctx, noticeStream, noticeGroup, msg.ID)
				continue
			}
			event, err := domain.UnmarshalEnvelope([]byte(raw))
			if err != nil {
				o.logger.Error("dropping undecodable outbox entry", "message_id", msg.ID, "error", err)
				o.client.XAck(ctx, noticeStream, noticeGroup, msg.ID)
				continue
			}
			out = append(out, domain.OutboxMessage{MessageID: msg.ID, Event: event})
		}
	}
	return out, nil
}

func (o *NoticeOutbox) Acknowledge(ctx context.Context, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := o.client.XAck(ctx, noticeStream, noticeGroup, messageIDs...).Err(); err != nil {
		return fmt.Errorf("ack notices: %w", err)
	}
	return nil
}
