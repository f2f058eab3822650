package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

const shutdownTimeout = 10 * time.Second

type ServerOptions struct {
	Addr     string
	CertFile string
	KeyFile  string
}

// Serve runs handler on opts.Addr until ctx is done, then shuts down
// gracefully. TLS is used when both cert and key are set.
func Serve(ctx context.Context, opts ServerOptions, handler http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", opts.Addr, "tls", opts.CertFile != "")
		var err error
		if opts.CertFile != "" && opts.KeyFile != "" {
			err = srv.ListenAndServeTLS(opts.CertFile, opts.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
