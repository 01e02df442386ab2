package grpcserver

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"astrorig/internal/mount"
	"astrorig/internal/rig"
)

type fakeRig struct {
	mu sync.Mutex
	st rig.Status
}

func (f *fakeRig) Status() rig.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeRig) set(st rig.Status) {
	f.mu.Lock()
	f.st = st
	f.mu.Unlock()
}

func TestHealthTracksRigStatus(t *testing.T) {
	fake := &fakeRig{st: rig.Status{Running: true, Healthy: true}}
	s := NewServer("", fake.Status, slog.New(slog.NewTextHandler(io.Discard, nil)))

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer rcancel()
		resp, err := client.Check(rctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(ServiceCapture))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(ServiceMount))

	fake.set(rig.Status{Running: true, Healthy: false, Mount: &mount.Status{Running: true}})
	s.Update()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(ServiceCapture))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(ServiceMount))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
