package sandwich

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/WelcomerTeam/Sandwich-Transport/discord"
	"github.com/WelcomerTeam/Sandwich-Transport/gateway"
	"github.com/WelcomerTeam/Sandwich-Transport/rest"
	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	PermissionWrite = 0o600

	EnvironmentPrefix = "SANDWICH_"

	IdentifyModeLocal = "local"
	IdentifyModeRedis = "redis"
	IdentifyModeURL   = "url"

	GlobalModeLocal = "local"
	GlobalModeRedis = "redis"
)

// Configuration represents the configuration file. Every value can also be
// set through a SANDWICH_ prefixed environment variable which takes
// precedence over the file.
type Configuration struct {
	Token      string `yaml:"token" json:"-" env:"TOKEN"`
	Identifier string `yaml:"identifier" json:"identifier" env:"IDENTIFIER"`

	Gateway  GatewayConfiguration  `yaml:"gateway" json:"gateway" envPrefix:"GATEWAY_"`
	REST     RESTConfiguration     `yaml:"rest" json:"rest" envPrefix:"REST_"`
	Redis    RedisConfiguration    `yaml:"redis" json:"redis" envPrefix:"REDIS_"`
	Producer ProducerConfiguration `yaml:"producer" json:"producer" envPrefix:"PRODUCER_"`
	HTTP     ServerConfiguration   `yaml:"http" json:"http" envPrefix:"HTTP_"`
	GRPC     ServerConfiguration   `yaml:"grpc" json:"grpc" envPrefix:"GRPC_"`
	Logging  LoggingConfiguration  `yaml:"logging" json:"logging" envPrefix:"LOGGING_"`
}

type GatewayConfiguration struct {
	Presence *discord.UpdateStatus `yaml:"presence" json:"presence,omitempty"`

	// Overrides of the close code classification, code to resume,
	// reidentify or fatal.
	CloseCodes map[int]string `yaml:"close_codes" json:"close_codes,omitempty"`

	URL string `yaml:"url" json:"url" env:"URL"`

	// ShardIDs is a range string such as 0-4,6. Empty runs every shard.
	ShardIDs string `yaml:"shard_ids" json:"shard_ids" env:"SHARD_IDS"`

	Identify IdentifyConfiguration `yaml:"identify" json:"identify" envPrefix:"IDENTIFY_"`
	Backoff  BackoffConfiguration  `yaml:"backoff" json:"backoff" envPrefix:"BACKOFF_"`

	ReadyTimeout time.Duration `yaml:"ready_timeout" json:"ready_timeout" env:"READY_TIMEOUT"`
	HelloTimeout time.Duration `yaml:"hello_timeout" json:"hello_timeout" env:"HELLO_TIMEOUT"`

	// ShardCount of 0 uses the count recommended by /gateway/bot.
	ShardCount int32 `yaml:"shard_count" json:"shard_count" env:"SHARD_COUNT"`

	// Used to split the shards of one bot across several nodes.
	NodeCount int32 `yaml:"node_count" json:"node_count" env:"NODE_COUNT"`
	NodeID    int32 `yaml:"node_id" json:"node_id" env:"NODE_ID"`

	Intents           int32 `yaml:"intents" json:"intents" env:"INTENTS"`
	LargeThreshold    int32 `yaml:"large_threshold" json:"large_threshold" env:"LARGE_THRESHOLD"`
	HeartbeatAckGrace int32 `yaml:"heartbeat_ack_grace" json:"heartbeat_ack_grace" env:"HEARTBEAT_ACK_GRACE"`
	CommandRateLimit  int32 `yaml:"command_rate_limit" json:"command_rate_limit" env:"COMMAND_RATE_LIMIT"`

	Compress bool `yaml:"compress" json:"compress" env:"COMPRESS"`
}

type IdentifyConfiguration struct {
	Headers map[string]string `yaml:"headers" json:"-"`

	Mode string `yaml:"mode" json:"mode" env:"MODE"`

	// URL allows for variables:
	// {shard_id}, {shard_count}, {token}, {token_hash}, {max_concurrency}
	URL string `yaml:"url" json:"url" env:"URL"`

	Window time.Duration `yaml:"window" json:"window" env:"WINDOW"`

	// MaxConcurrency of 0 uses the value from /gateway/bot.
	MaxConcurrency int32 `yaml:"max_concurrency" json:"max_concurrency" env:"MAX_CONCURRENCY"`
}

type BackoffConfiguration struct {
	Base      time.Duration `yaml:"base" json:"base" env:"BASE"`
	Cap       time.Duration `yaml:"cap" json:"cap" env:"CAP"`
	Stability time.Duration `yaml:"stability" json:"stability" env:"STABILITY"`
}

type RESTConfiguration struct {
	BaseURL    string `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	GlobalMode string `yaml:"global_mode" json:"global_mode" env:"GLOBAL_MODE"`

	Backoff BackoffConfiguration `yaml:"backoff" json:"backoff" envPrefix:"BACKOFF_"`

	Timeout           time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	BucketIdleTimeout time.Duration `yaml:"bucket_idle_timeout" json:"bucket_idle_timeout" env:"BUCKET_IDLE_TIMEOUT"`

	APIVersion int `yaml:"api_version" json:"api_version" env:"API_VERSION"`
	MaxRetries int `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`
	GlobalRate int `yaml:"global_rate" json:"global_rate" env:"GLOBAL_RATE"`
}

type RedisConfiguration struct {
	Address  string `yaml:"address" json:"address" env:"ADDRESS"`
	Password string `yaml:"password" json:"-" env:"PASSWORD"`
	DB       int    `yaml:"db" json:"db" env:"DB"`
}

type ProducerConfiguration struct {
	Configuration map[string]any `yaml:"configuration" json:"-"`

	Type    string `yaml:"type" json:"type" env:"TYPE"`
	Channel string `yaml:"channel" json:"channel" env:"CHANNEL"`
}

type ServerConfiguration struct {
	Host    string `yaml:"host" json:"host" env:"HOST"`
	Enabled bool   `yaml:"enabled" json:"enabled" env:"ENABLED"`
}

type LoggingConfiguration struct {
	Level string `yaml:"level" json:"level" env:"LEVEL"`
	File  string `yaml:"file" json:"file" env:"FILE"`

	MaxSizeMB  int `yaml:"max_size_mb" json:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int `yaml:"max_backups" json:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int `yaml:"max_age_days" json:"max_age_days" env:"MAX_AGE_DAYS"`

	Compress bool `yaml:"compress" json:"compress" env:"COMPRESS"`
}

// SetDefaults fills every unset value.
func (c *Configuration) SetDefaults() {
	if c.Identifier == "" {
		c.Identifier = "sandwich"
	}

	if c.Gateway.URL == "" {
		c.Gateway.URL = gateway.DefaultGatewayURL
	}

	if c.Gateway.LargeThreshold == 0 {
		c.Gateway.LargeThreshold = gateway.GatewayLargeThreshold
	}

	if c.Gateway.ReadyTimeout <= 0 {
		c.Gateway.ReadyTimeout = gateway.ReadyTimeout
	}

	if c.Gateway.HelloTimeout <= 0 {
		c.Gateway.HelloTimeout = gateway.HelloTimeout
	}

	if c.Gateway.CommandRateLimit <= 0 {
		c.Gateway.CommandRateLimit = gateway.ShardWSRateLimit
	}

	if c.Gateway.Identify.Mode == "" {
		c.Gateway.Identify.Mode = IdentifyModeLocal
	}

	if c.Gateway.Identify.Window <= 0 {
		c.Gateway.Identify.Window = gateway.IdentifyRateLimit
	}

	if c.REST.BaseURL == "" {
		c.REST.BaseURL = rest.DefaultBaseURL
	}

	if c.REST.APIVersion == 0 {
		c.REST.APIVersion = rest.DefaultAPIVersion
	}

	if c.REST.Timeout <= 0 {
		c.REST.Timeout = rest.DefaultRequestTimeout
	}

	if c.REST.GlobalMode == "" {
		c.REST.GlobalMode = GlobalModeLocal
	}

	if c.REST.GlobalRate <= 0 {
		c.REST.GlobalRate = rest.DefaultGlobalRate
	}

	if c.REST.BucketIdleTimeout == 0 {
		c.REST.BucketIdleTimeout = rest.DefaultBucketIdleTimeout
	}

	if c.Redis.Address == "" {
		c.Redis.Address = "127.0.0.1:6379"
	}

	if c.Producer.Channel == "" {
		c.Producer.Channel = "sandwich"
	}

	if c.HTTP.Host == "" {
		c.HTTP.Host = ":14999"
	}

	if c.GRPC.Host == "" {
		c.GRPC.Host = ":15000"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = zerolog.InfoLevel.String()
	}

	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 100
	}
}

// Validate reports the first problem that prevents the configuration from
// being used.
func (c *Configuration) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("%w: %w", ErrMissingToken, ErrLoadConfigurationFailure)
	}

	if c.Identifier == "" {
		return fmt.Errorf("%w: %w", ErrMissingIdentifier, ErrLoadConfigurationFailure)
	}

	switch strings.ToLower(c.Gateway.Identify.Mode) {
	case IdentifyModeLocal, IdentifyModeRedis:
	case IdentifyModeURL:
		if c.Gateway.Identify.URL == "" {
			return fmt.Errorf("%w: %w", ErrMissingIdentifyURL, ErrLoadConfigurationFailure)
		}
	default:
		return fmt.Errorf("%w %q: %w", ErrUnknownIdentifyMode, c.Gateway.Identify.Mode, ErrLoadConfigurationFailure)
	}

	switch strings.ToLower(c.REST.GlobalMode) {
	case GlobalModeLocal, GlobalModeRedis:
	default:
		return fmt.Errorf("%w %q: %w", ErrUnknownGlobalMode, c.REST.GlobalMode, ErrLoadConfigurationFailure)
	}

	if c.Gateway.ShardCount < 0 {
		return fmt.Errorf("shard count cannot be negative: %w", ErrLoadConfigurationFailure)
	}

	if c.Gateway.NodeCount > 1 && (c.Gateway.NodeID < 0 || c.Gateway.NodeID >= c.Gateway.NodeCount) {
		return fmt.Errorf("node id %d is outside of node count %d: %w", c.Gateway.NodeID, c.Gateway.NodeCount, ErrLoadConfigurationFailure)
	}

	if _, err := c.Gateway.closeCodeTable(); err != nil {
		return fmt.Errorf("%w: %w", err, ErrLoadConfigurationFailure)
	}

	if c.Producer.Type == "" {
		return fmt.Errorf("%w: %w", ErrMissingProducer, ErrLoadConfigurationFailure)
	}

	return nil
}

func (c *GatewayConfiguration) closeCodeTable() (*gateway.CloseCodeTable, error) {
	overrides := make(map[int]gateway.CloseAction, len(c.CloseCodes))

	for code, value := range c.CloseCodes {
		action, err := gateway.ParseCloseAction(value)
		if err != nil {
			return nil, fmt.Errorf("close code %d: %w", code, err)
		}

		overrides[code] = action
	}

	return gateway.NewCloseCodeTable(overrides), nil
}

type ConfigProvider interface {
	GetConfig(ctx context.Context) (*Configuration, error)
	SaveConfig(ctx context.Context, config *Configuration) error
}

// ConfigProviderFromPath is a basic config provider that reads and writes to
// a YAML file, overlaying environment variables when reading.
type ConfigProviderFromPath struct {
	Logger zerolog.Logger

	path string
}

func NewConfigProviderFromPath(logger zerolog.Logger, path string) ConfigProviderFromPath {
	return ConfigProviderFromPath{Logger: logger, path: path}
}

func (c ConfigProviderFromPath) GetConfig(_ context.Context) (*Configuration, error) {
	c.Logger.Debug().Str("path", c.path).Msg("Loading configuration")

	var configuration Configuration

	if c.path != "" {
		data, err := os.ReadFile(c.path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReadConfigurationFailure, err)
		}

		if err := yaml.Unmarshal(data, &configuration); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfigurationFailure, err)
		}
	}

	if err := env.ParseWithOptions(&configuration, env.Options{Prefix: EnvironmentPrefix}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfigurationFailure, err)
	}

	configuration.SetDefaults()

	if err := configuration.Validate(); err != nil {
		return nil, err
	}

	c.Logger.Info().Str("identifier", configuration.Identifier).Msg("Configuration loaded")

	return &configuration, nil
}

func (c ConfigProviderFromPath) SaveConfig(_ context.Context, configuration *Configuration) error {
	c.Logger.Debug().Str("path", c.path).Msg("Saving configuration")

	data, err := yaml.Marshal(configuration)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(c.path, data, PermissionWrite); err != nil {
		return fmt.Errorf("failed to write configuration to file: %w", err)
	}

	return nil
}

// StaticConfigProvider returns the same configuration every time.
type StaticConfigProvider struct {
	Configuration *Configuration
}

func (c *StaticConfigProvider) GetConfig(_ context.Context) (*Configuration, error) {
	configuration := *c.Configuration
	configuration.SetDefaults()

	if err := configuration.Validate(); err != nil {
		return nil, err
	}

	return &configuration, nil
}

func (c *StaticConfigProvider) SaveConfig(_ context.Context, configuration *Configuration) error {
	c.Configuration = configuration

	return nil
}
