package feedserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/pkgdeploy/internal/config"
	"github.com/oshokin/pkgdeploy/internal/feed"
	"github.com/oshokin/pkgdeploy/internal/logger"
	"github.com/oshokin/pkgdeploy/internal/metrics"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Options controls the feed server process.
type Options struct {
	// FeedRoot is the folder with the published packages.
	FeedRoot string
	// ConfigPath optionally points at deployer settings the listen addresses are taken from.
	ConfigPath string
	// ListenAddress overrides the HTTP listen address.
	ListenAddress string
	// HealthAddress overrides the gRPC health listen address. Empty disables the endpoint.
	HealthAddress string
}

var (
	// ErrNoListenAddress indicates missing HTTP listen configuration.
	ErrNoListenAddress = errors.New("no listen address configured")

	errFeedRootRequired = errors.New("feed folder must be provided")
)

// Run serves the feed and blocks until the context is canceled or a server fails.
// Listen addresses come from the overrides first, then from the ports of the
// feed URL and feed health address in the settings file.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "feed-server")

	if opts.FeedRoot == "" {
		return errFeedRootRequired
	}

	if info, err := os.Stat(opts.FeedRoot); err != nil || !info.IsDir() {
		return fmt.Errorf("%s: %w", opts.FeedRoot, errFeedRootRequired)
	}

	listenAddress, healthAddress, err := resolveAddresses(opts)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	lc := net.ListenConfig{}

	httpListener, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	var healthListener net.Listener
	if healthAddress != "" {
		if healthListener, err = lc.Listen(ctx, "tcp", healthAddress); err != nil {
			_ = httpListener.Close()

			return fmt.Errorf("listen on %s: %w", healthAddress, err)
		}
	}

	logger.InfoKV(ctx, "Feed server listening",
		"feed_root", opts.FeedRoot,
		"listen_address", listenAddress,
		"health_address", healthAddress)

	return newServer(opts.FeedRoot).serve(ctx, httpListener, healthListener)
}

// resolveAddresses picks the HTTP and health listen addresses.
func resolveAddresses(opts *Options) (string, string, error) {
	listenAddress, healthAddress := opts.ListenAddress, opts.HealthAddress
	if listenAddress != "" || opts.ConfigPath == "" {
		if listenAddress == "" {
			return "", "", ErrNoListenAddress
		}

		return listenAddress, healthAddress, nil
	}

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return "", "", fmt.Errorf("load settings: %w", err)
	}

	if settings.FeedURL == "" {
		return "", "", ErrNoListenAddress
	}

	feedURL, err := url.Parse(settings.FeedURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid feed URL: %w", err)
	}

	port := feedURL.Port()
	if port == "" {
		port = "80"
		if feedURL.Scheme == "https" {
			port = "443"
		}
	}

	listenAddress = ":" + port

	if healthAddress == "" && settings.FeedHealthAddress != "" {
		// Bind on all interfaces with the configured port.
		_, healthPort, err := net.SplitHostPort(settings.FeedHealthAddress)
		if err != nil {
			return "", "", fmt.Errorf("invalid feed health address %q: %w", settings.FeedHealthAddress, err)
		}

		healthAddress = ":" + healthPort
	}

	return listenAddress, healthAddress, nil
}

// server holds the handlers shared by the HTTP and gRPC listeners.
type server struct {
	feedRoot string
	metrics  *metrics.Metrics
	health   *health.Server
}

func newServer(feedRoot string) *server {
	return &server{
		feedRoot: feedRoot,
		metrics:  metrics.New(),
		health:   health.NewServer(),
	}
}

// handler serves the feed files and the metrics endpoint.
func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	mux.Handle("/", s.metrics.InstrumentFeed(http.FileServer(http.Dir(s.feedRoot))))

	return mux
}

// serve runs both servers until ctx is done and then stops them gracefully.
// healthListener may be nil.
func (s *server) serve(ctx context.Context, httpListener, healthListener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, s.health)
	s.health.SetServingStatus(feed.HealthServiceName, healthpb.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve HTTP: %w", err)
		}

		return nil
	})

	if healthListener != nil {
		g.Go(func() error {
			if err := grpcServer.Serve(healthListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("serve gRPC: %w", err)
			}

			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info(ctx, "Shutting down feed server")

		s.health.Shutdown()
		grpcServer.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown HTTP: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info(ctx, "Feed server stopped")

	return nil
}
