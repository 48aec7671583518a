package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/segmentio/kafka-go"

	"imageserver/internal/config"
	"imageserver/internal/logging"
	"imageserver/internal/pipeline"
)

// Task is the queued-mode wire message.
type Task struct {
	ImageID int64 `json:"image_id"`
}

// KafkaDispatcher publishes pipeline tasks to a Kafka topic. Processing
// happens wherever a Consumer for the same group runs.
type KafkaDispatcher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafka builds the producer side of queued dispatch.
func NewKafka(cfg *config.Config, logger *slog.Logger) (*KafkaDispatcher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if len(cfg.Dispatch.KafkaBrokers) == 0 {
		return nil, errors.New("queued dispatch requires kafka brokers")
	}
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  cfg.Dispatch.KafkaBrokers,
		Topic:    cfg.Dispatch.KafkaTopic,
		Balancer: &kafka.Hash{},
	})
	return &KafkaDispatcher{writer: writer, logger: logger}, nil
}

// Dispatch publishes one task. The record id is the message key so retries
// of one record stay ordered within a partition.
func (d *KafkaDispatcher) Dispatch(ctx context.Context, id int64) error {
	payload, err := json.Marshal(Task{ImageID: id})
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(id, 10)),
		Value: payload,
	}
	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish task for image %d: %w", id, err)
	}
	return nil
}

func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}

// Consumer pulls queued tasks and runs the pipeline for each.
type Consumer struct {
	reader *kafka.Reader
	runner *pipeline.Runner
	logger *slog.Logger
}

// NewConsumer builds the consuming side of queued dispatch.
func NewConsumer(cfg *config.Config, runner *pipeline.Runner, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = logging.NewNop()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Dispatch.KafkaBrokers,
		Topic:   cfg.Dispatch.KafkaTopic,
		GroupID: cfg.Dispatch.KafkaGroup,
	})
	return &Consumer{reader: reader, runner: runner, logger: logger}
}

// Run consumes until ctx is canceled. Pipeline failures are already persisted
// on their records, so a failed task is committed rather than redelivered.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("read task: %w", err)
		}

		var task Task
		if err := json.Unmarshal(msg.Value, &task); err != nil {
			c.logger.Error("dropping malformed task", logging.Error(err))
			continue
		}
		_, _ = c.runner.Run(ctx, task.ImageID)
	}
}
