package infra

import (
	"github.com/IBM/sarama"
)

// NewKafkaProducer creates a synchronous producer that waits for all in-sync
// replicas. The outbox sender owns its lifecycle.
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_1_0_0

	return sarama.NewSyncProducer(brokers, cfg)
}
