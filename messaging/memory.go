package messaging

import (
	"context"
	"sync"
)

func init() {
	registerProducer("memory", func() Producer { return NewMemoryProducer(0) })
}

// Message is a payload published to a MemoryProducer.
type Message struct {
	Channel string
	Data    []byte
}

// MemoryProducer delivers messages to a channel in process. Publish blocks
// once the buffer is full.
type MemoryProducer struct {
	Messages chan Message

	channel string

	closeOnce sync.Once
	closed    chan struct{}
}

func NewMemoryProducer(buffer int) *MemoryProducer {
	if buffer <= 0 {
		buffer = 1024
	}

	return &MemoryProducer{
		Messages: make(chan Message, buffer),
		closed:   make(chan struct{}),
	}
}

func (memoryMQ *MemoryProducer) String() string {
	return "memory"
}

func (memoryMQ *MemoryProducer) Channel() string {
	return memoryMQ.channel
}

func (memoryMQ *MemoryProducer) Connect(_ context.Context, _ string, args map[string]any) error {
	memoryMQ.channel, _ = entryString(args, "Channel")

	return nil
}

func (memoryMQ *MemoryProducer) Publish(ctx context.Context, channelName string, data []byte) error {
	select {
	case <-memoryMQ.closed:
		return ErrProducerClosed
	default:
	}

	select {
	case memoryMQ.Messages <- Message{Channel: channelName, Data: data}:
		return nil
	case <-memoryMQ.closed:
		return ErrProducerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (memoryMQ *MemoryProducer) Close() error {
	memoryMQ.closeOnce.Do(func() { close(memoryMQ.closed) })

	return nil
}
