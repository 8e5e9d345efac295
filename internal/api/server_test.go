package api

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-incidents/internal/config"
)

type echoService struct {
	UnimplementedIncidentEngineServer
}

func (echoService) DetectIncidents(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := FromProtoDetectRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return structpb.NewStruct(map[string]any{"rows": float64(decoded.Table.Len())})
}

func startBufServer(t *testing.T, svc IncidentEngineServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServerWithListener(config.ServerConfig{GracefulTimeout: time.Second}, lis, svc)
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServerRoundTrip(t *testing.T) {
	conn := startBufServer(t, echoService{})
	client := NewIncidentEngineClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := structpb.NewStruct(map[string]any{
		"events": []any{map[string]any{"timestamp": "2025-03-01T10:00:00Z"}},
	})
	resp, err := client.DetectIncidents(ctx, req)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if rows := resp.GetFields()["rows"].GetNumberValue(); rows != 1 {
		t.Fatalf("expected 1 row, got %v", rows)
	}

	bad, _ := structpb.NewStruct(map[string]any{"events": "nope"})
	if _, err := client.DetectIncidents(ctx, bad); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}

	if _, err := client.Health(ctx, &emptypb.Empty{}); status.Code(err) != codes.Unimplemented {
		t.Fatalf("expected unimplemented health, got %v", err)
	}

	check, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if check.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", check.GetStatus())
	}
}
