package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/user/lumen-indexer/internal/domain"
)

const defaultNoticeBatchSize = 100

// PumpNoticesUseCase drains the lifecycle-notice outbox into the dispatcher.
// Notices are acknowledged only after a successful dispatch, so a crash
// mid-batch redelivers them; the dispatcher's marker check absorbs the
// replay.
type PumpNoticesUseCase struct {
	outbox     domain.NoticeOutbox
	dispatcher *Dispatcher
	logger     *slog.Logger
	batchSize  int
}

func NewPumpNoticesUseCase(outbox domain.NoticeOutbox, dispatcher *Dispatcher, logger *slog.Logger, batchSize int) *PumpNoticesUseCase {
	if batchSize <= 0 {
		batchSize = defaultNoticeBatchSize
	}
	return &PumpNoticesUseCase{
		outbox:     outbox,
		dispatcher: dispatcher,
		logger:     logger.With("component", "notice_pump"),
		batchSize:  batchSize,
	}
}

// ProcessBatch reads one batch of notices, dispatches each and acknowledges
// the ones that made it through. Returns how many were dispatched.
func (uc *PumpNoticesUseCase) ProcessBatch(ctx context.Context) (int, error) {
	msgs, err := uc.outbox.Read(ctx, uc.batchSize)
	if err != nil {
		return 0, fmt.Errorf("read notice outbox: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	acked := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if err := uc.dispatcher.Dispatch(ctx, msg.Event); err != nil {
			// Leave the message pending; it will be redelivered.
			uc.logger.Error("failed to dispatch lifecycle notice",
				"event_id", msg.Event.ID, "kind", msg.Event.Kind, "error", err)
			continue
		}
		acked = append(acked, msg.MessageID)
	}

	if len(acked) > 0 {
		if err := uc.outbox.Acknowledge(ctx, acked...); err != nil {
			// Dispatched but unacked notices replay harmlessly through the
			// marker check.
			return len(acked), fmt.Errorf("acknowledge notices: %w", err)
		}
	}
	return len(acked), nil
}
