package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/desertthunder/vinyldeck/internal/ratelimit"
	"github.com/desertthunder/vinyldeck/internal/server"
	"github.com/desertthunder/vinyldeck/internal/services"
	"github.com/desertthunder/vinyldeck/internal/shared"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

// Serve runs the relay until ctx is cancelled, then drains in-flight requests.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	discogs, oauth := r.discogs, r.oauth
	if discogs == nil {
		discogs = services.NewDiscogsService(config.Discogs,
			services.WithHTTPClient(r.httpClient),
			services.WithLimiter(ratelimit.New(ratelimit.WithLogger(r.logger))),
			services.WithLogger(r.logger),
		)
	}
	if oauth == nil {
		svc, err := services.NewOAuthService(config.Discogs, r.httpClient)
		if err != nil {
			r.logger.Warn("token endpoints disabled", "err", err)
		} else {
			oauth = svc
		}
	}

	relay := server.NewRelay(server.RelayOpts{
		Discogs:        discogs,
		OAuth:          oauth,
		AllowedOrigins: config.Server.AllowedCallbackOrigins,
		Logger:         r.logger,
	})

	host := config.Server.Host
	if cmd.IsSet("host") {
		host = cmd.String("host")
	}
	port := config.Server.Port
	if cmd.IsSet("port") {
		port = cmd.Int("port")
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	srv := server.NewHTTPServer(addr, server.NewRelayRouter(relay, r.logger))
	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("relay listening", "addr", addr, "origins", relay.Origins())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	case <-ctx.Done():
	}

	r.logger.Info("shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}
