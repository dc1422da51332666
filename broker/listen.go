package broker

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Serve runs an HTTP server for handler until ctx is done, then shuts it
// down, waiting up to ShutdownTimeout (30s by default) for requests in
// flight. It returns nil after a clean shutdown.
func Serve(ctx context.Context, options ServerOptions, handler http.Handler) error {
	addr := options.ServerAddr
	if addr == "" {
		addr = ":8080"
	}
	shutdownTimeout := options.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  options.ServerReadTimeout,
		WriteTimeout: options.ServerWriteTimeout,
		IdleTimeout:  options.ServerIdleTimeout,
		TLSConfig:    options.ServerTLSConfig,
	}

	errCh := make(chan error, 1)
	go func() {
		if server.TLSConfig != nil {
			errCh <- server.ListenAndServeTLS("", "")
		} else {
			errCh <- server.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return wrapF(err, "http server failed on %s", addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return wrapF(err, "http server shutdown failed")
	}
	return nil
}
