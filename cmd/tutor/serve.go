package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tutor/internal/config"
	"tutor/internal/httpapi"
	"tutor/internal/manager"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			log, closeLog, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", "", "HTTP listen address (default "+config.DefaultAddr+")")
	f.StringVar(&opts.cors, "cors", "", "Comma-separated list of allowed CORS origins")
	f.BoolVar(&opts.watch, "watch", false, "Reload the model when its weights file is replaced")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	mgr, err := newManager(cfg, log)
	if err != nil {
		return err
	}

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetCORSOrigins(cfg.CORSOrigins)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	var watchOnce sync.Once
	if err := mgr.StartLoad(gctx, manager.ListenerFuncs{
		LoadProgress: func(msg string) {
			log.Info().Str("event", "load_progress").Msg(msg)
		},
		LoadComplete: func(ok bool, msg string) {
			if !ok {
				log.Error().Str("event", "load_complete").Str("err", msg).Msg("initial load failed; POST /load to retry")
				return
			}
			log.Info().Str("event", "load_complete").Msg(msg)
			if cfg.WatchModels {
				watchOnce.Do(func() {
					g.Go(func() error { return mgr.WatchModel(gctx) })
				})
			}
		},
	}); err != nil {
		return err
	}

	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("backend", cfg.Backend).Str("model", cfg.Model).Msg("tutor listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown")
		}
		return mgr.Close(sctx)
	})
	return g.Wait()
}
