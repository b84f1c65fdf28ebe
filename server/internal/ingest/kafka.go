package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/forgewatch/forgewatch/pkg/types"
	"github.com/forgewatch/forgewatch/server/internal/config"
	"github.com/forgewatch/forgewatch/server/internal/normalize"
)

const maxFetchBackoff = 10 * time.Second

// messageReader is the subset of *kafka.Reader used by Kafka.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka consumes reading messages from one topic.
type Kafka struct {
	reader   messageReader
	ingester Ingester
	topic    string
	log      *slog.Logger
}

// NewKafka creates a consumer-group reader for cfg.
func NewKafka(cfg config.KafkaConfig, ing Ingester) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("ingest: no kafka brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("ingest: kafka topic is required")
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: []string{cfg.Topic},
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return newKafka(r, cfg.Topic, ing), nil
}

func newKafka(r messageReader, topic string, ing Ingester) *Kafka {
	return &Kafka{
		reader:   r,
		ingester: ing,
		topic:    topic,
		log:      slog.Default().With("topic", topic),
	}
}

// Run fetches, applies and commits messages until ctx is cancelled. Fetch
// errors are retried with a doubling backoff capped at 10s.
func (k *Kafka) Run(ctx context.Context) {
	defer func() {
		if err := k.reader.Close(); err != nil {
			k.log.Error("ingest: kafka reader close", "err", err)
		}
	}()
	k.log.Info("ingest: kafka consumer started")

	backoff := time.Second
	for {
		msg, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				k.log.Info("ingest: kafka consumer stopped")
				return
			}
			k.log.Error("ingest: kafka fetch", "err", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
				if backoff < maxFetchBackoff {
					backoff *= 2
				}
				continue
			case <-ctx.Done():
				return
			}
		}
		backoff = time.Second

		if err := k.handle(msg); err != nil {
			k.log.Warn("ingest: kafka message dropped",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"err", err,
			)
		}
		if err := k.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			k.log.Error("ingest: kafka commit", "offset", msg.Offset, "err", err)
		}
	}
}

// handle decodes one message and applies it.
func (k *Kafka) handle(msg kafka.Message) error {
	batch, err := decodeMessage(msg.Key, msg.Value, now())
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return errors.New("empty batch")
	}
	apply(k.ingester, "kafka", batch)
	return nil
}

// decodeMessage turns a keyed single reading or an unkeyed batch into a Batch.
func decodeMessage(key, value []byte, at time.Time) (types.Batch, error) {
	if len(key) > 0 {
		r, err := normalize.Decode(value, at)
		if err != nil {
			return nil, fmt.Errorf("machine %s: %w", key, err)
		}
		return types.Batch{string(key): r}, nil
	}
	return normalize.DecodeBatch(value, at)
}
