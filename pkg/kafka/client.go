// Package kafka wires the document indexing queue.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"waris-go/internal/config"
	"waris-go/pkg/database"
	"waris-go/pkg/log"
	"waris-go/pkg/tasks"
)

// TaskProcessor is implemented by the indexing pipeline. The interface
// keeps the consumer loop free of pipeline dependencies.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.DocumentIndexTask) error
}

const maxTaskAttempts = 3

var producer *kafka.Writer

// InitProducer initializes the Kafka producer for index tasks.
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("[Kafka] producer initialized")
}

// ProduceIndexTask enqueues a document indexing job.
func ProduceIndexTask(task tasks.DocumentIndexTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}

	return producer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(task.Source),
			Value: taskBytes,
		},
	)
}

// StartConsumer runs the blocking consume loop for index tasks.
// Failed tasks are retried by withholding the offset; after
// maxTaskAttempts failures (counted in Redis) the offset is committed
// so a poison message cannot block the partition.
func StartConsumer(cfg config.KafkaConfig, processor TaskProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("[Kafka] consumer started, listening on topic '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(context.Background())
		if err != nil {
			log.Error("[Kafka] fetch message failed", err)
			break
		}

		log.Infof("[Kafka] received message: offset %d", m.Offset)

		var task tasks.DocumentIndexTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("[Kafka] malformed task message: %v, value: %s", err, string(m.Value))
			// Commit immediately so a bad payload cannot block the queue.
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("[Kafka] commit of malformed message failed: %v", err)
			}
			continue
		}

		log.Infof("[Kafka] processing index task: source=%s file=%s", task.Source, task.FileName)
		if err := processor.Process(context.Background(), task); err != nil {
			log.Errorf("[Kafka] index task failed: source=%s error: %v", task.Source, err)
			attemptsKey := fmt.Sprintf("kafka:attempts:%s", task.Source)
			attempts, incErr := database.RDB.Incr(context.Background(), attemptsKey).Result()
			if incErr == nil {
				_ = database.RDB.Expire(context.Background(), attemptsKey, 24*time.Hour).Err()
			}
			if incErr != nil {
				// Redis down: withhold the offset and let Kafka redeliver.
				continue
			}
			if attempts >= maxTaskAttempts {
				log.Errorf("[Kafka] index task failed %d times, committing offset: source=%s", attempts, task.Source)
				if err := r.CommitMessages(context.Background(), m); err != nil {
					log.Errorf("[Kafka] commit offset failed: %v", err)
				}
			}
		} else {
			log.Infof("[Kafka] index task completed: source=%s", task.Source)
			_ = database.RDB.Del(context.Background(), fmt.Sprintf("kafka:attempts:%s", task.Source)).Err()
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("[Kafka] commit offset failed: %v", err)
			}
		}
	}

	if err := r.Close(); err != nil {
		log.Fatalf("[Kafka] close consumer failed: %v", err)
	}
}
