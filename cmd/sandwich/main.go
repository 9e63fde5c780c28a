package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	sandwich "github.com/WelcomerTeam/Sandwich-Transport"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("sandwich", pflag.ContinueOnError)

	configurationPath := flagSet.String("config", "sandwich.yaml", "path of the configuration file")
	logLevel := flagSet.String("log-level", "", "overrides logging.level")
	logFile := flagSet.String("log-file", "", "overrides logging.file")
	httpHost := flagSet.String("http-host", "", "overrides http.host and enables the http server")
	grpcHost := flagSet.String("grpc-host", "", "overrides grpc.host and enables the grpc server")
	envFile := flagSet.String("env-file", ".env", "dotenv file loaded before the configuration")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}

		return err
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", *envFile, err)
	}

	bootstrap := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	configuration, err := sandwich.NewConfigProviderFromPath(bootstrap, *configurationPath).GetConfig(context.Background())
	if err != nil {
		return err
	}

	if *logLevel != "" {
		configuration.Logging.Level = *logLevel
	}

	if *logFile != "" {
		configuration.Logging.File = *logFile
	}

	if *httpHost != "" {
		configuration.HTTP.Host = *httpHost
		configuration.HTTP.Enabled = true
	}

	if *grpcHost != "" {
		configuration.GRPC.Host = *grpcHost
		configuration.GRPC.Enabled = true
	}

	logger, closer, err := newLogger(configuration.Logging)
	if err != nil {
		return err
	}

	defer closer.Close()

	sg := sandwich.NewSandwich(logger, &sandwich.StaticConfigProvider{Configuration: configuration})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sg.Open(ctx); err != nil {
		return fmt.Errorf("failed to open sandwich: %w", err)
	}

	<-ctx.Done()

	if err := sg.Close(); err != nil {
		logger.Warn().Err(err).Msg("Exception whilst closing sandwich")
	}

	sg.Wait()

	return nil
}

func newLogger(configuration sandwich.LoggingConfiguration) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(configuration.Level)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("invalid log level %q: %w", configuration.Level, err)
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout}}

	var closer io.Closer = io.NopCloser(nil)

	if configuration.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   configuration.File,
			MaxSize:    configuration.MaxSizeMB,
			MaxBackups: configuration.MaxBackups,
			MaxAge:     configuration.MaxAgeDays,
			Compress:   configuration.Compress,
		}

		writers = append(writers, rotator)
		closer = rotator
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().
		Logger()

	return logger, closer, nil
}
