package sandwich

import (
	"context"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func dialHealth(t *testing.T, sg *Sandwich) grpc_health_v1.HealthClient {
	t.Helper()

	listener := bufconn.Listen(1 << 20)
	sg.serveGRPC(listener)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	return grpc_health_v1.NewHealthClient(conn)
}

func check(t *testing.T, client grpc_health_v1.HealthClient, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()

	response, err := client.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: service})
	require.NoError(t, err)

	return response.GetStatus()
}

func TestGRPCHealth(t *testing.T) {
	t.Parallel()

	sg := NewSandwich(zerolog.Nop(), nil)
	client := dialHealth(t, sg)

	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(t, client, ""))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(t, client, HealthService))

	sg.setServing(true)

	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(t, client, ""))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(t, client, HealthService))

	sg.setServing(false)

	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(t, client, HealthService))

	require.NoError(t, sg.Close())
}

func TestGRPCHealthFollowsReadiness(t *testing.T) {
	t.Parallel()

	server := newGatewayBotServer(t, 1)

	sg := NewSandwich(zerolog.Nop(), nil)
	client := dialHealth(t, sg)

	producer := openWith(t, sg, testConfiguration(server.URL))

	collect(t, producer, ready())

	assert.Eventually(t, func() bool {
		response, err := client.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: HealthService})

		return err == nil && response.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING
	}, testTimeout, eventuallyTick)

	require.NoError(t, sg.Close())
}
