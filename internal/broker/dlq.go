package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/talemon/core/config"
	"github.com/talemon/core/internal/telemetry"
)

// FailedExtraction is the payload the Extractor writes to the dead-letter
// topic when Extract returns an error. It is never read
// back by the core — the retry mechanism is the next tick's anti-join,
// not this queue.
type FailedExtraction struct {
	SnapshotID       int64  `json:"snapshot_id"`
	ExtractorVersion string `json:"extractor_version"`
	Error            string `json:"error"`
}

// DeadLetterQueue records extraction failures for operators to inspect.
type DeadLetterQueue struct {
	writer  *kafka.Writer
	metrics *telemetry.KafkaMetrics
}

func NewDeadLetterQueue(cfg *config.ProducerConfig, metrics *telemetry.KafkaMetrics) *DeadLetterQueue {
	return &DeadLetterQueue{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Addr...),
			Topic:        cfg.DeadLetterTopicName,
			MaxAttempts:  cfg.MaxAttempts,
			WriteTimeout: cfg.WriteTimeout,
			ReadTimeout:  cfg.ReadTimeout,
		},
		metrics: metrics,
	}
}

// Send is best-effort: a DLQ outage does not block the Extractor's loop.
func (q *DeadLetterQueue) Send(snapshotID int64, extractorVersion string, cause error) {
	body, err := json.Marshal(FailedExtraction{
		SnapshotID:       snapshotID,
		ExtractorVersion: extractorVersion,
		Error:            cause.Error(),
	})
	if err != nil {
		slog.Error("failed to marshal dlq payload.", slog.String("err", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.writer.WriteMessages(ctx, kafka.Message{Value: body}); err != nil {
		slog.Error("failed to send to extraction dlq.", slog.Int64("snapshot_id", snapshotID),
			slog.String("err", err.Error()))
		q.metrics.FailedSendMsgCnt(1)
		return
	}
	q.metrics.SuccessfullySendMsgCnt(1)
}

func (q *DeadLetterQueue) Close() {
	if err := q.writer.Close(); err != nil {
		slog.Error("failed to close dlq writer.", slog.String("err", err.Error()))
	}
}
