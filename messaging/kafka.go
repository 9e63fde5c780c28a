package messaging

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

func init() {
	registerProducer("kafka", func() Producer { return &KafkaProducer{} })
}

type KafkaProducer struct {
	KafkaClient *kafka.Writer

	channel string
}

func parseKafkaBalancer(balancer string) kafka.Balancer {
	switch balancer {
	case "crc32":
		return &kafka.CRC32Balancer{}
	case "hash":
		return &kafka.Hash{}
	case "murmur2":
		return &kafka.Murmur2Balancer{}
	case "roundrobin":
		return &kafka.RoundRobin{}
	case "leastbytes":
		return &kafka.LeastBytes{}
	default:
		return nil
	}
}

func (kafkaMQ *KafkaProducer) String() string {
	return "kafka"
}

func (kafkaMQ *KafkaProducer) Channel() string {
	return kafkaMQ.channel
}

func (kafkaMQ *KafkaProducer) Connect(_ context.Context, _ string, args map[string]any) error {
	address, err := requireString(args, "kafka", "Address")
	if err != nil {
		return err
	}

	var balancer kafka.Balancer

	if balancerStr, ok := entryString(args, "Balancer"); ok {
		balancer = parseKafkaBalancer(balancerStr)
		if balancer == nil {
			return fmt.Errorf("kafka connect: unknown balancer %q", balancerStr)
		}
	}

	kafkaMQ.channel, _ = entryString(args, "Channel")

	kafkaMQ.KafkaClient = &kafka.Writer{
		Addr:     kafka.TCP(address),
		Balancer: balancer,
		Async:    entryBool(args, "Async", false),
	}

	return nil
}

// Publish writes to the topic named after the event, or to the configured
// channel when one is set.
func (kafkaMQ *KafkaProducer) Publish(ctx context.Context, channelName string, data []byte) error {
	topic := channelName
	if kafkaMQ.channel != "" {
		topic = kafkaMQ.channel
	}

	return kafkaMQ.KafkaClient.WriteMessages(
		ctx,
		kafka.Message{
			Topic: topic,
			Key:   []byte(channelName),
			Value: data,
		},
	)
}

func (kafkaMQ *KafkaProducer) Close() error {
	if kafkaMQ.KafkaClient == nil {
		return nil
	}

	return kafkaMQ.KafkaClient.Close()
}
