package receiver_test

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/forgewatch/forgewatch/pkg/types"
	"github.com/forgewatch/forgewatch/pkg/wire"
	"github.com/forgewatch/forgewatch/server/internal/auth"
	"github.com/forgewatch/forgewatch/server/internal/engine"
	"github.com/forgewatch/forgewatch/server/internal/receiver"
)

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// startServer starts a gRPC server with the given interceptor on a random
// loopback port and returns a connected client and the engine behind it.
func startServer(t *testing.T, interceptor grpc.UnaryServerInterceptor) (*wire.Client, *engine.Engine) {
	t.Helper()

	eng, err := engine.New(engine.Options{})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	srv := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	wire.RegisterIngestServer(srv, receiver.New(eng))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go srv.Serve(lis) //nolint:errcheck

	t.Cleanup(func() {
		srv.Stop()
		lis.Close()
	})

	conn, err := grpc.Dial(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	) //nolint:staticcheck
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return wire.NewClient(conn), eng
}

// allowAll is a no-op interceptor that passes every call through.
func allowAll(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	return handler(ctx, req)
}

func running(speed float64, ts time.Time) types.RawReading {
	return types.RawReading{
		Status:    types.StatusRunning,
		Spindle:   types.Spindle{Speed: speed, Load: 45, Temperature: 38},
		Timestamp: ts,
	}
}

func TestPush_AppliesBatch(t *testing.T) {
	client, eng := startServer(t, allowAll)

	resp, err := client.Push(context.Background(), &wire.PushRequest{
		AgentID: "agent-1",
		Readings: types.Batch{
			"machine1": running(8500, baseTime),
			"machine2": running(12000, baseTime),
		},
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(resp.Applied) != 2 || resp.Applied[0] != "machine1" {
		t.Errorf("Applied: got %v", resp.Applied)
	}

	snap, ok := eng.Snapshot("machine2")
	if !ok {
		t.Fatal("engine has no snapshot for machine2")
	}
	if snap.Raw.Spindle.Speed != 12000 {
		t.Errorf("speed: got %v, want 12000", snap.Raw.Spindle.Speed)
	}
	if !snap.Raw.Timestamp.Equal(baseTime) {
		t.Errorf("timestamp: got %v", snap.Raw.Timestamp)
	}
}

func TestPush_Duplicate(t *testing.T) {
	client, _ := startServer(t, allowAll)
	req := &wire.PushRequest{Readings: types.Batch{"machine1": running(8500, baseTime)}}

	if _, err := client.Push(context.Background(), req); err != nil {
		t.Fatalf("first Push: %v", err)
	}
	resp, err := client.Push(context.Background(), req)
	if err != nil {
		t.Fatalf("second Push: %v", err)
	}
	if len(resp.Duplicates) != 1 || len(resp.Applied) != 0 {
		t.Errorf("response: %+v", resp)
	}
}

func TestPush_EmptyBatch_InvalidArgument(t *testing.T) {
	client, _ := startServer(t, allowAll)

	_, err := client.Push(context.Background(), &wire.PushRequest{})
	if code := status.Code(err); code != codes.InvalidArgument {
		t.Errorf("code: got %v, want InvalidArgument", code)
	}
}

func TestPush_AllRejected_InvalidArgument(t *testing.T) {
	client, eng := startServer(t, allowAll)

	bad := running(8500, baseTime)
	bad.Status = "BROKEN"
	_, err := client.Push(context.Background(), &wire.PushRequest{Readings: types.Batch{"machine1": bad}})
	if code := status.Code(err); code != codes.InvalidArgument {
		t.Fatalf("code: got %v, want InvalidArgument", code)
	}
	if _, ok := eng.Snapshot("machine1"); ok {
		t.Error("rejected reading reached the engine state")
	}
}

func TestPush_PartialReject(t *testing.T) {
	client, _ := startServer(t, allowAll)

	bad := running(8500, baseTime)
	bad.Status = ""
	resp, err := client.Push(context.Background(), &wire.PushRequest{Readings: types.Batch{
		"machine1": running(8500, baseTime),
		"machine2": bad,
	}})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	fe := resp.Rejected["machine2"]
	if len(fe) != 1 || fe[0].Field != "machine2.status" {
		t.Errorf("Rejected: %+v", resp.Rejected)
	}
}

func TestPush_WithAPIKeyInterceptor_CorrectKey_Passes(t *testing.T) {
	i := auth.APIKeyInterceptor("apikey", "x-api-key", "testkey")
	client, eng := startServer(t, i)

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "testkey")
	if _, err := client.Push(ctx, &wire.PushRequest{Readings: types.Batch{"m1": running(100, baseTime)}}); err != nil {
		t.Fatalf("Push with correct key: %v", err)
	}
	if n := len(eng.Snapshots()); n != 1 {
		t.Errorf("snapshots: got %d, want 1", n)
	}
}

func TestPush_WithAPIKeyInterceptor_WrongKey_Rejected(t *testing.T) {
	i := auth.APIKeyInterceptor("apikey", "x-api-key", "testkey")
	client, _ := startServer(t, i)

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "wrongkey")
	_, err := client.Push(ctx, &wire.PushRequest{Readings: types.Batch{"m1": running(100, baseTime)}})
	if code := status.Code(err); code != codes.Unauthenticated {
		t.Errorf("code: got %v, want Unauthenticated", code)
	}
}

func TestPush_WithAPIKeyInterceptor_MissingKey_Rejected(t *testing.T) {
	i := auth.APIKeyInterceptor("apikey", "x-api-key", "testkey")
	client, _ := startServer(t, i)

	_, err := client.Push(context.Background(), &wire.PushRequest{Readings: types.Batch{"m1": running(100, baseTime)}})
	if code := status.Code(err); code != codes.Unauthenticated {
		t.Errorf("code: got %v, want Unauthenticated", code)
	}
}
