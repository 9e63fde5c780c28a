package sandwich

import (
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported by the gRPC health server in
// addition to the empty overall name.
const HealthService = "sandwich"

const grpcStopTimeout = 5 * time.Second

func (sg *Sandwich) startGRPC(host string) error {
	listener, err := net.Listen("tcp", host)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", host, err)
	}

	sg.Logger.Info().Str("host", listener.Addr().String()).Msg("Serving grpc")

	sg.serveGRPC(listener)

	return nil
}

// serveGRPC serves the health service on listener. The status is
// NOT_SERVING until every shard is ready.
func (sg *Sandwich) serveGRPC(listener net.Listener) {
	sg.healthServer = health.NewServer()
	sg.setServing(false)

	sg.grpcServer = grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(sg.grpcServer, sg.healthServer)

	sg.wg.Add(1)

	go func(server *grpc.Server) {
		defer sg.wg.Done()

		if err := server.Serve(listener); err != nil {
			sg.Logger.Error().Err(err).Msg("Failed to serve grpc server")
		}
	}(sg.grpcServer)
}

func (sg *Sandwich) setServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}

	sg.healthServer.SetServingStatus("", status)
	sg.healthServer.SetServingStatus(HealthService, status)
}

func (sg *Sandwich) stopServers() {
	if sg.healthServer != nil {
		sg.healthServer.Shutdown()
	}

	if sg.grpcServer != nil {
		stopped := make(chan struct{})

		go func() {
			sg.grpcServer.GracefulStop()
			close(stopped)
		}()

		timer := time.NewTimer(grpcStopTimeout)

		select {
		case <-stopped:
			timer.Stop()
		case <-timer.C:
			sg.grpcServer.Stop()
		}
	}

	if sg.httpServer != nil {
		if err := sg.httpServer.Shutdown(); err != nil {
			sg.Logger.Warn().Err(err).Msg("Failed to shutdown http server")
		}
	}
}
