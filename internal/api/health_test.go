package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/mailmindlin/MOEnet-2024/internal/link"
)

func check(t *testing.T, hs healthpb.HealthServer, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealth_ServingIffConnectedAndReady(t *testing.T) {
	f := newFixture(t)
	h := NewHealth(f.vision.Links())

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h.Server(), "moenet"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h.Server(), ""))

	f.ready(t)
	h.Update()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, h.Server(), "moenet"))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, h.Server(), ""))

	// Ready but silent past the timeout.
	f.clock.Advance(link.TimeoutMicros * time.Microsecond)
	h.Update()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h.Server(), "moenet"))

	// Connected but not ready.
	require.NoError(t, f.remote.Ping())
	require.NoError(t, f.remote.SetState(link.StateInitializing))
	h.Update()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h.Server(), "moenet"))
}

func TestHealth_AggregateNeedsEveryLink(t *testing.T) {
	f := newFixture(t, "left", "right")
	f.ready(t)
	h := NewHealth(f.vision.Links())

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, h.Server(), "left"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h.Server(), "right"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h.Server(), ""))
}

func TestHealth_NoLinks(t *testing.T) {
	h := NewHealth(nil)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h.Server(), ""))
}

func TestHealth_Shutdown(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	h := NewHealth(f.vision.Links())
	h.Shutdown()
	h.Update()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h.Server(), "moenet"))
}

func TestHealth_OverGRPC(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	h := NewHealth(f.vision.Links())

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	h.Register(s)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: "moenet"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	_, err = healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown"})
	assert.Error(t, err)
}
