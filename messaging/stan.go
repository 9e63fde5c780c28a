package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/stan.go"
)

func init() {
	registerProducer("stan", func() Producer { return &StanProducer{} })
}

type StanProducer struct {
	NatsClient *nats.Conn `json:"-"`
	StanClient stan.Conn  `json:"-"`

	async bool

	channel string
	cluster string
}

func (stanMQ *StanProducer) String() string {
	return "stan"
}

func (stanMQ *StanProducer) Channel() string {
	return stanMQ.channel
}

func (stanMQ *StanProducer) Cluster() string {
	return stanMQ.cluster
}

func (stanMQ *StanProducer) Connect(_ context.Context, clientName string, args map[string]any) (err error) {
	address, err := requireString(args, "stan", "Address")
	if err != nil {
		return err
	}

	if stanMQ.cluster, err = requireString(args, "stan", "Cluster"); err != nil {
		return err
	}

	if stanMQ.channel, err = requireString(args, "stan", "Channel"); err != nil {
		return err
	}

	stanMQ.async = entryBool(args, "Async", false)

	var option stan.Option

	if entryBool(args, "UseNATSConnection", true) {
		stanMQ.NatsClient, err = nats.Connect(address)
		if err != nil {
			return fmt.Errorf("stan connect nats: %w", err)
		}

		option = stan.NatsConn(stanMQ.NatsClient)
	} else {
		option = stan.NatsURL(address)
	}

	stanMQ.StanClient, err = stan.Connect(
		stanMQ.cluster,
		clientName,
		option,
	)
	if err != nil {
		return fmt.Errorf("stan connect: %w", err)
	}

	return nil
}

func (stanMQ *StanProducer) Publish(_ context.Context, channelName string, data []byte) (err error) {
	if stanMQ.async {
		_, err = stanMQ.StanClient.PublishAsync(
			stanMQ.channel,
			data,
			nil,
		)

		return
	}

	return stanMQ.StanClient.Publish(
		stanMQ.channel,
		data,
	)
}

func (stanMQ *StanProducer) Close() error {
	var err error

	if stanMQ.StanClient != nil {
		err = stanMQ.StanClient.Close()
	}

	if stanMQ.NatsClient != nil {
		stanMQ.NatsClient.Close()
	}

	if err != nil && !errors.Is(err, stan.ErrConnectionClosed) {
		return err
	}

	return nil
}
