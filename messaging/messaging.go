package messaging

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrUnknownProducer = errors.New("unknown producer")
	ErrMissingArgument = errors.New("missing producer argument")
	ErrProducerClosed  = errors.New("producer is closed")
)

// Producer publishes dispatched events to a message queue.
type Producer interface {
	String() string
	Channel() string
	Connect(ctx context.Context, clientName string, args map[string]any) error
	Publish(ctx context.Context, channelName string, data []byte) error
	Close() error
}

var (
	producersMu sync.RWMutex
	producers   = map[string]func() Producer{}
)

func registerProducer(name string, fn func() Producer) {
	producersMu.Lock()
	producers[name] = fn
	producersMu.Unlock()
}

// NewProducer returns an unconnected producer by name.
func NewProducer(name string) (Producer, error) {
	producersMu.RLock()
	fn, ok := producers[strings.ToLower(name)]
	producersMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProducer, name)
	}

	return fn(), nil
}

// Producers lists the names of every available producer.
func Producers() []string {
	producersMu.RLock()
	defer producersMu.RUnlock()

	names := make([]string, 0, len(producers))
	for name := range producers {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// GetEntry returns the first match from a map, ignoring the case of keys.
func GetEntry(m map[string]any, key string) any {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}

	return nil
}

// entryString returns an argument as a string. Numbers and booleans decoded
// from configuration files are formatted.
func entryString(m map[string]any, key string) (string, bool) {
	switch v := GetEntry(m, key).(type) {
	case string:
		return v, true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

func requireString(m map[string]any, producer, key string) (string, error) {
	value, ok := entryString(m, key)
	if !ok || value == "" {
		return "", fmt.Errorf("%s connect: %w: %s", producer, ErrMissingArgument, key)
	}

	return value, nil
}

func entryBool(m map[string]any, key string, fallback bool) bool {
	value, ok := entryString(m, key)
	if !ok {
		return fallback
	}

	boolean, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}

	return boolean
}

func entryInt(m map[string]any, key string, fallback int) (int, error) {
	value, ok := entryString(m, key)
	if !ok || value == "" {
		return fallback, nil
	}

	return strconv.Atoi(value)
}
