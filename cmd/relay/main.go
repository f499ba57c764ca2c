package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"otrkit/internal/log"
	"otrkit/internal/relay"
)

func main() {
	var (
		addr     string
		logFile  string
		logLevel string
	)
	cmd := &cobra.Command{
		Use:          "relay",
		Short:        "In-memory store-and-forward relay for otrkit chats",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, err := log.New(logFile, logLevel, false)
			if err != nil {
				return err
			}
			defer backend.Close()
			return serve(cmd.Context(), backend, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&logFile, "log-file", "", "log file, stdout when empty")
	cmd.Flags().StringVar(&logLevel, "log-level", "NOTICE", "log level")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, backend *log.Backend, addr string) error {
	logger := backend.GetLogger("relay")
	srv := &http.Server{
		Addr:              addr,
		Handler:           relay.NewServer(logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          backend.GetGoLogger("relay/http", "WARNING"),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Noticef("Listening on %v", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Notice("Relay stopped")
	return nil
}
