package sandwich

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/WelcomerTeam/Sandwich-Transport/discord"
	"github.com/WelcomerTeam/Sandwich-Transport/gateway"
	"github.com/WelcomerTeam/Sandwich-Transport/messaging"
	"github.com/WelcomerTeam/Sandwich-Transport/pkg/accumulator"
	"github.com/WelcomerTeam/Sandwich-Transport/rest"
	"github.com/WelcomerTeam/Sandwich-Transport/sandwichjson"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"go.uber.org/atomic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// VERSION follows semantic versioning.
const VERSION = "1.0.0"

const (
	publishTimeout = 10 * time.Second

	// 10 minutes of event counts at one sample per second.
	eventSamples        = 600
	eventSampleInterval = time.Second
)

// Sandwich connects the shards of one bot and publishes everything they
// receive onto a producer.
type Sandwich struct {
	Logger zerolog.Logger

	StartTime time.Time

	configProvider ConfigProvider
	dialer         gateway.Dialer
	transport      rest.Transport
	producer       messaging.Producer

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.RWMutex
	configuration *Configuration
	registry      *rest.Registry
	coordinator   *gateway.ShardCoordinator
	redisClient   redis.UniversalClient
	started       bool

	httpServer   *fasthttp.Server
	grpcServer   *grpc.Server
	healthServer *health.Server

	wg        sync.WaitGroup
	closeOnce sync.Once

	events *accumulator.Accumulator
	ready  *atomic.Bool
}

func NewSandwich(logger zerolog.Logger, configProvider ConfigProvider) *Sandwich {
	sg := &Sandwich{
		Logger:         logger,
		configProvider: configProvider,
		events:         accumulator.NewAccumulator(eventSamples, eventSampleInterval),
		ready:          atomic.NewBool(false),
	}

	sg.ctx, sg.cancel = context.WithCancel(context.Background())

	return sg
}

// WithDialer replaces the websocket dialer used by shards.
func (sg *Sandwich) WithDialer(dialer gateway.Dialer) *Sandwich {
	sg.dialer = dialer

	return sg
}

// WithTransport replaces the HTTP transport used for REST requests.
func (sg *Sandwich) WithTransport(transport rest.Transport) *Sandwich {
	sg.transport = transport

	return sg
}

// WithProducer uses an already connected producer instead of creating one
// from the configuration.
func (sg *Sandwich) WithProducer(producer messaging.Producer) *Sandwich {
	sg.producer = producer

	return sg
}

// Open loads the configuration, starts the servers and connects the shards.
// It returns once the first shard connected, or with ctx.Err() when ctx is
// done first.
func (sg *Sandwich) Open(ctx context.Context) error {
	sg.mu.Lock()

	if sg.started {
		sg.mu.Unlock()

		return ErrSandwichStarted
	}

	sg.started = true
	sg.mu.Unlock()

	// Cancelling ctx while opening stops the shards that are connecting.
	stop := context.AfterFunc(ctx, sg.cancel)
	defer stop()

	sg.StartTime = time.Now().UTC()
	sg.Logger.Info().Str("version", VERSION).Msg("Starting sandwich")

	configuration, err := sg.configProvider.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to get configuration: %w", err)
	}

	configuration.Gateway.Identify.Mode = strings.ToLower(configuration.Gateway.Identify.Mode)
	configuration.REST.GlobalMode = strings.ToLower(configuration.REST.GlobalMode)

	sg.Logger = sg.Logger.With().Str("identifier", configuration.Identifier).Logger()

	sg.mu.Lock()
	sg.configuration = configuration

	if sg.needsRedis(configuration) {
		sg.redisClient = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{configuration.Redis.Address},
			Password: configuration.Redis.Password,
			DB:       configuration.Redis.DB,
		})
	}

	sg.registry = sg.newRegistry(configuration)
	sg.mu.Unlock()

	if err := sg.openProducer(ctx, configuration); err != nil {
		_ = sg.Close()

		return err
	}

	coordinator, err := sg.newCoordinator(ctx, configuration)
	if err != nil {
		_ = sg.Close()

		return err
	}

	sg.mu.Lock()
	sg.coordinator = coordinator
	sg.mu.Unlock()

	if configuration.HTTP.Enabled {
		if err := sg.startHTTP(configuration.HTTP.Host); err != nil {
			_ = sg.Close()

			return err
		}
	}

	if configuration.GRPC.Enabled {
		if err := sg.startGRPC(configuration.GRPC.Host); err != nil {
			_ = sg.Close()

			return err
		}
	}

	if err := coordinator.Start(sg.ctx); err != nil {
		_ = sg.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		return fmt.Errorf("failed to start shards: %w", err)
	}

	if !stop() {
		_ = sg.Close()

		return ctx.Err()
	}

	sg.wg.Add(2)

	go sg.waitReady(coordinator)

	go func() {
		defer sg.wg.Done()

		sg.events.Run(sg.ctx)
	}()

	return nil
}

func (sg *Sandwich) needsRedis(configuration *Configuration) bool {
	return configuration.Gateway.Identify.Mode == IdentifyModeRedis ||
		configuration.REST.GlobalMode == GlobalModeRedis ||
		(sg.producer == nil && strings.EqualFold(configuration.Producer.Type, "redis"))
}

func (sg *Sandwich) newRegistry(configuration *Configuration) *rest.Registry {
	transport := sg.transport
	if transport == nil {
		httpTransport := rest.NewHTTPTransport(configuration.Token, configuration.REST.Timeout)
		httpTransport.BaseURL = configuration.REST.BaseURL
		httpTransport.APIVersion = configuration.REST.APIVersion

		transport = httpTransport
	}

	var global rest.GlobalGate

	if configuration.REST.GlobalMode == GlobalModeRedis {
		global = rest.NewRedisGlobalGate(sg.redisClient, "sandwich:ratelimit:global:"+configuration.Identifier, configuration.REST.GlobalRate)
	} else {
		global = rest.NewLocalGlobalGate(configuration.REST.GlobalRate)
	}

	return rest.NewRegistry(sg.Logger.With().Str("service", "rest").Logger(), rest.Config{
		Transport:         transport,
		Global:            global,
		RetryBase:         configuration.REST.Backoff.Base,
		RetryCap:          configuration.REST.Backoff.Cap,
		RequestTimeout:    configuration.REST.Timeout,
		BucketIdleTimeout: configuration.REST.BucketIdleTimeout,
		MaxRetries:        configuration.REST.MaxRetries,
	})
}

func (sg *Sandwich) openProducer(ctx context.Context, configuration *Configuration) error {
	if sg.producer != nil {
		return nil
	}

	clientName := configuration.Identifier + "-" + randomHex(4)

	var producer messaging.Producer

	if strings.EqualFold(configuration.Producer.Type, "redis") {
		// Shares the client used by the identify and global gates.
		producer = messaging.NewRedisProducer(sg.redisClient, configuration.Producer.Channel)
	} else {
		var err error

		producer, err = messaging.NewProducer(configuration.Producer.Type)
		if err != nil {
			return fmt.Errorf("failed to create producer: %w", err)
		}

		args := make(map[string]any, len(configuration.Producer.Configuration)+1)
		for key, value := range configuration.Producer.Configuration {
			args[key] = value
		}

		if _, ok := args["Channel"]; !ok {
			args["Channel"] = configuration.Producer.Channel
		}

		if err := producer.Connect(ctx, clientName, args); err != nil {
			return fmt.Errorf("failed to connect producer: %w", err)
		}
	}

	sg.Logger.Info().Str("producer", producer.String()).Str("clientName", clientName).Msg("Connected producer")

	sg.mu.Lock()
	sg.producer = producer
	sg.mu.Unlock()

	return nil
}

func (sg *Sandwich) newCoordinator(ctx context.Context, configuration *Configuration) (*gateway.ShardCoordinator, error) {
	shardCount := configuration.Gateway.ShardCount
	gatewayURL := configuration.Gateway.URL

	gatewayBot, err := rest.GetGatewayBot(ctx, sg.registry)
	if err != nil {
		if shardCount == 0 {
			return nil, fmt.Errorf("failed to get gateway: %w", err)
		}

		sg.Logger.Warn().Err(err).Msg("Failed to get gateway, using configured shard count")
	} else {
		if shardCount == 0 {
			shardCount = gatewayBot.Shards
		}

		if gatewayURL == gateway.DefaultGatewayURL && gatewayBot.URL != "" {
			gatewayURL = gatewayBot.URL
		}

		sg.Logger.Info().
			Int32("shards", gatewayBot.Shards).
			Int32("remaining", gatewayBot.SessionStartLimit.Remaining).
			Int32("maxConcurrency", gatewayBot.SessionStartLimit.MaxConcurrency).
			Msg("Retrieved gateway")
	}

	if shardCount <= 0 {
		shardCount = 1
	}

	shardIDs := returnRangeInt32(configuration.Gateway.NodeCount, configuration.Gateway.NodeID, configuration.Gateway.ShardIDs, shardCount)
	if len(shardIDs) == 0 {
		return nil, ErrNoShards
	}

	identify := sg.newIdentifyGate(configuration, shardCount)

	if limiter, ok := identify.(gateway.SessionStartLimiter); ok && gatewayBot != nil {
		limit := gatewayBot.SessionStartLimit
		if configuration.Gateway.Identify.MaxConcurrency > 0 {
			limit.MaxConcurrency = configuration.Gateway.Identify.MaxConcurrency
		}

		limiter.SetSessionStartLimit(limit)
	}

	closeCodes, err := configuration.Gateway.closeCodeTable()
	if err != nil {
		return nil, err
	}

	coordinatorConfig := gateway.CoordinatorConfig{
		Shard: gateway.ShardConfig{
			Presence:   configuration.Gateway.Presence,
			CloseCodes: closeCodes,
			Token:      configuration.Token,
			GatewayURL: gatewayURL,
			Identifier: configuration.Identifier,
			Backoff: gateway.BackoffConfig{
				Base:            configuration.Gateway.Backoff.Base,
				Cap:             configuration.Gateway.Backoff.Cap,
				StabilityWindow: configuration.Gateway.Backoff.Stability,
			},
			HelloTimeout:      configuration.Gateway.HelloTimeout,
			Intents:           configuration.Gateway.Intents,
			LargeThreshold:    configuration.Gateway.LargeThreshold,
			CommandRateLimit:  configuration.Gateway.CommandRateLimit,
			HeartbeatAckGrace: configuration.Gateway.HeartbeatAckGrace,
			Compress:          configuration.Gateway.Compress,
		},
		ShardIDs:     shardIDs,
		ShardCount:   shardCount,
		ReadyTimeout: configuration.Gateway.ReadyTimeout,
	}

	return gateway.NewShardCoordinator(
		sg.Logger.With().Str("service", "gateway").Logger(),
		coordinatorConfig,
		sg.dialer,
		identify,
		sg.handlers(configuration, shardCount),
	), nil
}

func (sg *Sandwich) newIdentifyGate(configuration *Configuration, shardCount int32) gateway.IdentifyGate {
	identify := configuration.Gateway.Identify

	switch identify.Mode {
	case IdentifyModeRedis:
		return gateway.NewRedisIdentifyGate(sg.redisClient, configuration.Token, identify.MaxConcurrency, identify.Window)
	case IdentifyModeURL:
		return gateway.NewURLIdentifyGate(identify.URL, configuration.Token, identify.Headers, shardCount)
	default:
		return gateway.NewLocalIdentifyGate(identify.MaxConcurrency, identify.Window)
	}
}

func (sg *Sandwich) handlers(configuration *Configuration, shardCount int32) gateway.Handlers {
	metadata := func(shardID int32) SandwichMetadata {
		return SandwichMetadata{
			Version:    VERSION,
			Identifier: configuration.Identifier,
			Shard:      [3]int32{configuration.Gateway.NodeID, shardID, shardCount},
		}
	}

	statusUpdate := func(update ShardStatusUpdate) {
		update.Identifier = configuration.Identifier

		data, err := sandwichjson.Marshal(update)
		if err != nil {
			sg.Logger.Error().Err(err).Msg("Failed to marshal status update")

			return
		}

		sg.publish(configuration.Producer.Channel, SandwichPayload{
			Metadata: metadata(update.Shard),
			Type:     SandwichEventShardStatusUpdate,
			Data:     data,
			Op:       discord.GatewayOpDispatch,
		})
	}

	return gateway.Handlers{
		OnEvent: func(shardID int32, eventName string, data sandwichjson.RawMessage) {
			sg.events.Increment()

			sg.publish(configuration.Producer.Channel, SandwichPayload{
				Metadata: metadata(shardID),
				Type:     eventName,
				Data:     data,
				Op:       discord.GatewayOpDispatch,
			})
		},
		OnShardStatus: func(shardID int32, status gateway.ShardStatus) {
			statusUpdate(ShardStatusUpdate{Shard: shardID, Status: status})
		},
		OnShardReconnecting: func(shardID int32, resumable bool, err error) {
			update := ShardStatusUpdate{Shard: shardID, Status: gateway.ShardStatusReconnecting, Resumable: resumable}
			if err != nil {
				update.Error = err.Error()
			}

			statusUpdate(update)
		},
		OnFatalError: func(err *gateway.FatalError) {
			sg.Logger.Error().Err(err).Int32("shardId", err.ShardID).Msg("Shard stopped with fatal error")

			data, marshalErr := sandwichjson.Marshal(ShardStatusUpdate{
				Identifier: configuration.Identifier,
				Error:      err.Error(),
				Shard:      err.ShardID,
				Status:     gateway.ShardStatusDisconnected,
			})
			if marshalErr != nil {
				return
			}

			sg.publish(configuration.Producer.Channel, SandwichPayload{
				Metadata: metadata(err.ShardID),
				Type:     SandwichEventShardFatal,
				Data:     data,
				Op:       discord.GatewayOpDispatch,
			})
		},
	}
}

// publish sends a payload to the producer. Failures are logged and the
// payload dropped.
func (sg *Sandwich) publish(channel string, payload SandwichPayload) {
	sg.mu.RLock()
	producer := sg.producer
	sg.mu.RUnlock()

	if producer == nil {
		return
	}

	data, err := sandwichjson.Marshal(payload)
	if err != nil {
		sg.Logger.Error().Err(err).Str("type", payload.Type).Msg("Failed to marshal payload")

		return
	}

	ctx, cancel := context.WithTimeout(sg.ctx, publishTimeout)
	defer cancel()

	if err := producer.Publish(ctx, channel, data); err != nil {
		sg.Logger.Warn().Err(err).Str("type", payload.Type).Msg("Failed to publish payload")
	}
}

func (sg *Sandwich) waitReady(coordinator *gateway.ShardCoordinator) {
	defer sg.wg.Done()

	select {
	case <-sg.ctx.Done():
		return
	case <-coordinator.Ready():
	}

	sg.ready.Store(true)

	if sg.healthServer != nil {
		sg.setServing(true)
	}

	sg.Logger.Info().Int("shards", len(coordinator.ReadyShards())).Msg("All shards are ready")

	sg.mu.RLock()
	configuration := sg.configuration
	sg.mu.RUnlock()

	sg.publish(configuration.Producer.Channel, SandwichPayload{
		Metadata: SandwichMetadata{
			Version:    VERSION,
			Identifier: configuration.Identifier,
			Shard:      [3]int32{configuration.Gateway.NodeID, 0, coordinator.ShardCount()},
		},
		Type: SandwichEventReady,
		Data: sandwichjson.RawMessage("null"),
		Op:   discord.GatewayOpDispatch,
	})
}

// Ready reports if every shard has received its initial guilds.
func (sg *Sandwich) Ready() bool {
	return sg.ready.Load()
}

// Coordinator returns the shard coordinator once Open created it.
func (sg *Sandwich) Coordinator() *gateway.ShardCoordinator {
	sg.mu.RLock()
	defer sg.mu.RUnlock()

	return sg.coordinator
}

// Registry returns the REST bucket registry once Open created it.
func (sg *Sandwich) Registry() *rest.Registry {
	sg.mu.RLock()
	defer sg.mu.RUnlock()

	return sg.registry
}

// Close stops the shards, drains the REST queues and closes the producer.
func (sg *Sandwich) Close() error {
	var err error

	sg.closeOnce.Do(func() {
		sg.Logger.Info().Msg("Closing sandwich")

		sg.ready.Store(false)

		if sg.healthServer != nil {
			sg.setServing(false)
		}

		sg.mu.RLock()
		coordinator := sg.coordinator
		registry := sg.registry
		producer := sg.producer
		redisClient := sg.redisClient
		sg.mu.RUnlock()

		// Cancelled first so callbacks still queued on the shards fail to
		// publish instead of waiting on the producer.
		sg.cancel()

		if coordinator != nil {
			coordinator.Close()
		}

		if registry != nil {
			registry.Close()
		}

		sg.stopServers()

		sg.wg.Wait()

		if producer != nil {
			if closeErr := producer.Close(); closeErr != nil {
				err = fmt.Errorf("failed to close producer: %w", closeErr)
			}
		}

		if redisClient != nil {
			_ = redisClient.Close()
		}
	})

	return err
}

// Wait blocks until Close was called and every shard stopped.
func (sg *Sandwich) Wait() {
	<-sg.ctx.Done()

	if coordinator := sg.Coordinator(); coordinator != nil {
		coordinator.Wait()
	}

	sg.wg.Wait()
}
