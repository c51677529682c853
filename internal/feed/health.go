package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName is the service name the feed server reports health for.
const HealthServiceName = "pkgdeploy.Feed"

var (
	errAddressRequired = errors.New("address must be provided")
	errFeedNotServing  = errors.New("feed is not serving")
)

// CheckHealth asks the gRPC health endpoint of a feed server whether the feed is serving.
// Note: this uses insecure transport credentials.
func CheckHealth(ctx context.Context, address string, timeout time.Duration) error {
	if address == "" {
		return errAddressRequired
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial feed health: %w", err)
	}

	defer func() {
		_ = conn.Close()
	}()

	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: HealthServiceName})
	if err != nil {
		return fmt.Errorf("check feed health: %w", err)
	}

	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%s: %w", resp.GetStatus(), errFeedNotServing)
	}

	return nil
}
