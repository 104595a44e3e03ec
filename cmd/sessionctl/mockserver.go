package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/MrEthical07/goSession/internal/mockbackend"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type mockServerOptions struct {
	addr       string
	rotate     bool
	accessTTL  time.Duration
	throttle   bool
	redisAddr  string
	maxFailure int
}

func newMockServerCmd(a *app) *cobra.Command {
	opts := mockServerOptions{}

	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run a local auth backend with demo accounts",
		Long: `Serve /token, /token/refresh, /user/profile and /privilege/list with the
demo accounts admin@example.com, planner@example.com and root@example.com
(password "s3cret").

With --throttle, failed logins are counted in Redis; without --redis-addr
an in-process miniredis is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMockServer(cmd.Context(), a, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", "127.0.0.1:8085", "listen address")
	flags.BoolVar(&opts.rotate, "rotate", false, "rotate refresh tokens on every refresh")
	flags.DurationVar(&opts.accessTTL, "access-ttl", 15*time.Minute, "access token lifetime")
	flags.BoolVar(&opts.throttle, "throttle", false, "throttle failed logins")
	flags.StringVar(&opts.redisAddr, "redis-addr", "", "redis for the throttle counters; defaults to miniredis")
	flags.IntVar(&opts.maxFailure, "max-login-failures", 5, "failed logins allowed per window")
	return cmd
}

func runMockServer(ctx context.Context, a *app, opts mockServerOptions) error {
	logger := a.logger.With().Str("component", "mockbackend").Logger()
	cfg := mockbackend.Config{
		AccessTTL:     opts.accessTTL,
		RotateRefresh: opts.rotate,
		Logger:        &logger,
	}

	if opts.throttle {
		client, cleanup, err := throttleRedis(opts.redisAddr)
		if err != nil {
			return err
		}
		defer cleanup()
		cfg.Limiter = rate.New(client, rate.Config{
			Prefix:           "sessionctl-mock",
			MaxLoginFailures: opts.maxFailure,
			EnableIPThrottle: true,
		})
	}

	backend, err := mockbackend.NewDemo(cfg)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{
		Handler:           backend,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	fmt.Fprintf(a.out, "mock auth backend listening on http://%s\n", ln.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	stats := backend.Stats()
	a.logger.Info().
		Int64("logins", stats.Logins).
		Int64("refreshes", stats.Refreshes).
		Int64("profiles", stats.Profiles).
		Int64("privilege_lists", stats.PrivilegeLists).
		Msg("mock backend stopped")
	return nil
}

func throttleRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		return client, func() { _ = client.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}
