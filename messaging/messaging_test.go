package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEntry(t *testing.T) {
	t.Parallel()

	args := map[string]any{"address": "localhost:4222", "DB": 2, "Async": true}

	assert.Equal(t, "localhost:4222", GetEntry(args, "Address"))
	assert.Nil(t, GetEntry(args, "Cluster"))

	db, err := entryInt(args, "db", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, db)

	assert.True(t, entryBool(args, "async", false))
	assert.True(t, entryBool(args, "missing", true))
}

func TestNewProducer(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"jetstream", "kafka", "memory", "redis", "stan"}, Producers())

	for _, name := range Producers() {
		producer, err := NewProducer(name)
		require.NoError(t, err)
		assert.Equal(t, name, producer.String())
	}

	_, err := NewProducer("carrier-pigeon")
	assert.ErrorIs(t, err, ErrUnknownProducer)
}

func TestProducersRequireAddress(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"jetstream", "kafka", "redis", "stan"} {
		producer, err := NewProducer(name)
		require.NoError(t, err)

		err = producer.Connect(context.Background(), "sandwich", map[string]any{})
		assert.ErrorIs(t, err, ErrMissingArgument, name)
	}
}

func TestKafkaProducerConnect(t *testing.T) {
	t.Parallel()

	producer := &KafkaProducer{}

	require.NoError(t, producer.Connect(context.Background(), "sandwich", map[string]any{
		"Address":  "localhost:9092",
		"Balancer": "roundrobin",
		"Channel":  "sandwich",
		"Async":    "true",
	}))

	assert.Equal(t, "sandwich", producer.Channel())
	assert.True(t, producer.KafkaClient.Async)
	assert.IsType(t, &kafka.RoundRobin{}, producer.KafkaClient.Balancer)
	require.NoError(t, producer.Close())

	err := (&KafkaProducer{}).Connect(context.Background(), "sandwich", map[string]any{
		"Address":  "localhost:9092",
		"Balancer": "random",
	})
	assert.Error(t, err)
}

func TestMemoryProducer(t *testing.T) {
	t.Parallel()

	producer := NewMemoryProducer(1)
	require.NoError(t, producer.Connect(context.Background(), "sandwich", map[string]any{"channel": "events"}))
	assert.Equal(t, "events", producer.Channel())

	require.NoError(t, producer.Publish(context.Background(), "events", []byte("hello")))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, producer.Publish(ctx, "events", []byte("full")), context.DeadlineExceeded)

	message := <-producer.Messages
	assert.Equal(t, Message{Channel: "events", Data: []byte("hello")}, message)

	require.NoError(t, producer.Close())
	assert.ErrorIs(t, producer.Publish(context.Background(), "events", nil), ErrProducerClosed)
}
