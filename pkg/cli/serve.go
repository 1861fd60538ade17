package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	httpctrl "github.com/secmon-lab/themis/pkg/controller/http"
	"github.com/secmon-lab/themis/pkg/service/worker"
	"github.com/secmon-lab/themis/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var addr string
	var requestTimeout time.Duration
	var chunkDelay time.Duration
	var sweepInterval time.Duration
	var ledgerIdle time.Duration
	var researchCfg researchConfig

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("THEMIS_ADDR"),
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "request-timeout",
			Usage:       "Upper bound of a research request (0 disables it)",
			Value:       3 * time.Minute,
			Sources:     cli.EnvVars("THEMIS_REQUEST_TIMEOUT"),
			Destination: &requestTimeout,
		},
		&cli.DurationFlag{
			Name:        "stream-chunk-delay",
			Usage:       "Pause between streamed answer chunks",
			Value:       20 * time.Millisecond,
			Sources:     cli.EnvVars("THEMIS_STREAM_CHUNK_DELAY"),
			Destination: &chunkDelay,
		},
		&cli.DurationFlag{
			Name:        "ledger-sweep-interval",
			Usage:       "How often idle conversations are dropped from memory (0 disables sweeping)",
			Value:       10 * time.Minute,
			Sources:     cli.EnvVars("THEMIS_LEDGER_SWEEP_INTERVAL"),
			Destination: &sweepInterval,
		},
		&cli.DurationFlag{
			Name:        "ledger-idle",
			Usage:       "Idle time after which a conversation is dropped from memory",
			Value:       30 * time.Minute,
			Sources:     cli.EnvVars("THEMIS_LEDGER_IDLE"),
			Destination: &ledgerIdle,
		},
	}
	flags = append(flags, researchCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			uc, closeRepo, err := researchCfg.build(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			if sweepInterval > 0 {
				sweeper := worker.NewLedgerSweepWorker(uc.Ledger, sweepInterval, ledgerIdle)
				sweeper.Start(ctx)
				defer sweeper.Stop()
			}

			server := &http.Server{
				Addr: addr,
				Handler: httpctrl.New(uc.Legal, uc.Ledger,
					httpctrl.WithRequestTimeout(requestTimeout),
					httpctrl.WithChunkDelay(chunkDelay),
				),
				ReadHeaderTimeout: 30 * time.Second,
			}

			// Setup signal handling for graceful shutdown
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() {
				logging.Default().Info("Starting HTTP server", "addr", addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- goerr.Wrap(err, "failed to start server")
				}
			}()

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				logging.Default().Info("Received shutdown signal", "signal", sig)

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := server.Shutdown(shutdownCtx); err != nil {
					return goerr.Wrap(err, "failed to shutdown server gracefully")
				}

				logging.Default().Info("Server shutdown completed")
				return nil
			}
		},
	}
}
