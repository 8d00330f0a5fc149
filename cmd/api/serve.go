package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/reportledger/internal/api"
	"github.com/punchamoorthee/reportledger/internal/store"
)

func serveCmd(configPath *string) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the generation workers and the orphan sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			if pg, ok := a.store.(*store.Postgres); ok && migrate {
				if err := pg.Migrate(ctx); err != nil {
					return err
				}
			}

			a.pool.Start(cfg.WorkerCount, a.svc.Process)

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           api.NewHandler(a.svc, a.costs, a.store, log).Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info().Str("port", cfg.Port).Str("store", cfg.StoreDriver).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				return a.svc.RunSweeper(gctx, cfg.SweepInterval)
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			err = g.Wait()
			log.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("draining generation workers")
			drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if derr := a.pool.Shutdown(drainCtx); derr != nil {
				log.Warn().Err(derr).Msg("generation workers cut off before finishing")
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply the Postgres schema before serving")
	return cmd
}
