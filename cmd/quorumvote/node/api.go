package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// newAPIServer will build the api server config
func newAPIServer(host string, port int, a *api) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           a.newApiRouters(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serveAPI will run the api server until it is shut down
func serveAPI(server *http.Server, logger *zerolog.Logger) error {
	if server == nil {
		return nil
	}
	logger.Info().Str("address", server.Addr).Msg("Starting api server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// stopAPIServer will stop the api server
func stopAPIServer(server *http.Server, logger *zerolog.Logger) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("API server shutted down abruptly")
	}
}
