// Package clients holds the gRPC connection to auth-identity, used for health
// checks.
package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

// IdentityService is the health service name auth-identity registers.
const IdentityService = "weversity.auth.v1.Identity"

const serviceTokenHeader = "x-service-token"

type Clients struct {
	IdentityConn *grpc.ClientConn
	Health       grpc_health_v1.HealthClient
	timeout      time.Duration
}

func New(identityAddr, serviceToken string, timeout time.Duration) (*Clients, error) {
	if identityAddr == "" {
		return nil, errors.New("identity grpc address is required")
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	conn, err := dial(identityAddr, serviceToken)
	if err != nil {
		return nil, err
	}
	return &Clients{
		IdentityConn: conn,
		Health:       grpc_health_v1.NewHealthClient(conn),
		timeout:      timeout,
	}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.IdentityConn != nil {
		_ = c.IdentityConn.Close()
	}
}

// Check asks auth-identity for the status of service ("" for the server).
func (c *Clients) Check(ctx context.Context, service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.Health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// WaitForHealth polls until service reports SERVING or ctx ends.
func (c *Clients) WaitForHealth(ctx context.Context, service string) error {
	backoff := 200 * time.Millisecond
	for {
		status, err := c.Check(ctx, service)
		if err == nil && status == grpc_health_v1.HealthCheckResponse_SERVING {
			return nil
		}
		select {
		case <-ctx.Done():
			if err == nil {
				err = fmt.Errorf("status %s", status)
			}
			return fmt.Errorf("wait for identity health: %w (last: %v)", ctx.Err(), err)
		case <-time.After(backoff):
		}
		if backoff < time.Second {
			backoff = min(backoff*2, time.Second)
		}
	}
}

func dial(addr, serviceToken string) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if serviceToken != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(serviceTokenInterceptor(serviceToken)))
	}
	return grpc.NewClient(addr, opts...)
}

func serviceTokenInterceptor(token string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, serviceTokenHeader, token)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
