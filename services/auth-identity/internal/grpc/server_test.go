package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestHealthIsServedWithoutServiceToken(t *testing.T) {
	server, _, err := NewServer("shared-secret")
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = server.Serve(listener) }()
	defer server.Stop()

	conn, err := gogrpc.NewClient(listener.Addr().String(), gogrpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", resp.GetStatus())
	}
}

func TestServiceAuthInterceptor(t *testing.T) {
	interceptor, err := NewServiceAuthUnaryInterceptor("shared-secret")
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }
	info := &gogrpc.UnaryServerInfo{FullMethod: "/weversity.auth.v1.Identity/GetUser"}

	if _, err := interceptor(context.Background(), nil, info, handler); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}

	wrong := metadata.NewIncomingContext(context.Background(), metadata.Pairs(serviceTokenHeader, "nope"))
	if _, err := interceptor(wrong, nil, info, handler); status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}

	right := metadata.NewIncomingContext(context.Background(), metadata.Pairs(serviceTokenHeader, "shared-secret"))
	if out, err := interceptor(right, nil, info, handler); err != nil || out != "ok" {
		t.Fatalf("expected pass-through, got %v %v", out, err)
	}

	healthInfo := &gogrpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	if _, err := interceptor(context.Background(), nil, healthInfo, handler); err != nil {
		t.Fatalf("expected health check to bypass auth, got %v", err)
	}
}

func TestServiceAuthInterceptorRequiresToken(t *testing.T) {
	if _, err := NewServiceAuthUnaryInterceptor(""); err == nil {
		t.Fatalf("expected error for empty token")
	}
}
