package outbox

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

// NewKafkaWriter builds a producer for KafkaDispatcher. The topic is set per
// message, so the writer carries none. brokers is a comma separated list.
func NewKafkaWriter(brokers string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}
