// Package broker implements the optional Notifier side-channel: a best-effort, non-authoritative Kafka pub/sub that lets
// the Extractor wake early, plus a dead-letter queue for extraction
// failures. Neither ever substitutes for the State Store as the source of
// truth.
package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress/lz4"

	"github.com/talemon/core/config"
	"github.com/talemon/core/internal/telemetry"
)

// ChangeEvent is published after a successful snapshot commit. The
// Extractor's consumer only uses its arrival as a wake-up signal; the
// payload is not read, and the next tick re-runs the anti-join query.
type ChangeEvent struct {
	PageID     int64  `json:"page_id"`
	SnapshotID int64  `json:"snapshot_id"`
	OSSPath    string `json:"oss_path"`
}

// Notifier publishes ChangeEvents. A publish failure is logged and
// swallowed — it must never fail or delay the State Store commit that
// precedes it.
type Notifier struct {
	writer  *kafka.Writer
	metrics *telemetry.KafkaMetrics
	topic   string
}

func NewNotifier(cfg *config.ProducerConfig, metrics *telemetry.KafkaMetrics) *Notifier {
	return &Notifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Addr...),
			Topic:        cfg.ChangeEventsTopic,
			Balancer:     &kafka.Hash{},
			MaxAttempts:  cfg.MaxAttempts,
			BatchSize:    cfg.BatchSize,
			BatchTimeout: 100 * time.Millisecond,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			Async:        cfg.Async,
			Compression:  kafka.Compression(new(lz4.Codec).Code()),
		},
		metrics: metrics,
		topic:   cfg.ChangeEventsTopic,
	}
}

// Publish fires a ChangeEvent and never returns an error to the caller; the
// Worker's commit path must not be gated on the Notifier being healthy.
func (n *Notifier) Publish(ctx context.Context, ev ChangeEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal change event.", slog.String("err", err.Error()))
		n.metrics.FailedSendMsgCnt(1)
		return
	}
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.OSSPath),
		Value: body,
	})
	if err != nil {
		slog.Warn("failed to publish change event, extractor will catch up on next poll.",
			slog.Int64("page_id", ev.PageID), slog.String("err", err.Error()))
		n.metrics.FailedSendMsgCnt(1)
		return
	}
	n.metrics.SuccessfullySendMsgCnt(1)
}

func (n *Notifier) Close() {
	if err := n.writer.Close(); err != nil {
		slog.Error("failed to close notifier writer.", slog.String("err", err.Error()))
	}
}

// NotifierConsumer wakes the Extractor's poll loop early. It never hands
// callers the event payload directly — only a signal — because the
// anti-join query is the sole source of truth for what actually needs
// extracting.
type NotifierConsumer struct {
	reader  *kafka.Reader
	metrics *telemetry.KafkaMetrics
	wake    chan<- struct{}
}

func NewNotifierConsumer(cfg *config.ConsumerConfig, metrics *telemetry.KafkaMetrics, wake chan<- struct{}) *NotifierConsumer {
	return &NotifierConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:          cfg.Brokers,
			Topic:            cfg.ChangeEventsTopic,
			GroupID:          cfg.GroupID,
			MaxWait:          cfg.MaxWait,
			ReadBatchTimeout: cfg.ReadBatchTimeout,
			QueueCapacity:    cfg.QueueCapacity,
			MaxBytes:         cfg.MaxBytes,
			CommitInterval:   cfg.CommitInterval,
		}),
		metrics: metrics,
		wake:    wake,
	}
}

func (c *NotifierConsumer) Run(ctx context.Context) {
	slog.Info("starting notifier consumer.", slog.String("topic", c.reader.Config().Topic))
	defer func() {
		if err := c.reader.Close(); err != nil {
			slog.Error("failed to close notifier reader.", slog.String("err", err.Error()))
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("notifier consumer stopped.")
				return
			}
			slog.Error("failed to fetch change event.", slog.String("err", err.Error()))
			c.metrics.FailedReadMsgCnt(1)
			continue
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			slog.Error("failed to commit change event.", slog.String("err", err.Error()))
			c.metrics.FailedReadMsgCnt(1)
			continue
		}
		c.metrics.SuccessfullyReadMsgCnt(1)

		select {
		case c.wake <- struct{}{}:
		default:
			// a wake-up is already pending; the poll loop will catch up regardless.
		}
	}
}
