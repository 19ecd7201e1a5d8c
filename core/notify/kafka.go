// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package notify publishes store mutation notifications to Kafka.
package notify

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/melone/core"
	"github.com/relabs-tech/melone/core/logger"
)

// Kafka implements core.Notifier on a Kafka topic. Messages are keyed by
// resource type and operation, the value is the rendered payload.
type Kafka struct {
	writer *kafka.Writer
}

var _ core.Notifier = (*Kafka)(nil)

// NewKafka returns a notifier publishing to topic on the given brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 100 * time.Millisecond,
	}
	return &Kafka{writer: writer}
}

// Notify implements core.Notifier. Publish failures are logged, a mutation
// is never rolled back because its notification could not be delivered.
func (k *Kafka) Notify(resource string, operation core.Operation, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(resource + "." + string(operation)),
		Value: payload,
	})
	if err != nil {
		logger.Default().Errorln("could not publish notification for", resource, string(operation), ":", err)
	}
}

// Close closes the underlying writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
