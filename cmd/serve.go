package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blitzquote/rate-engine/internal/quoteapi"
	"github.com/blitzquote/rate-engine/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve premium quote lookups over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Server.IntegrityIntervalMins > 0 {
			go integrityLoop(ctx, env.Store,
				time.Duration(cfg.Server.IntegrityIntervalMins)*time.Minute)
		}

		api := quoteapi.New(env.Cache, env.Store, env.Gaz, env.Source)
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("quote server listening", zap.Int("port", cfg.Server.Port))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "serve")
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "shutdown")
		}
		zap.L().Info("quote server stopped")
		return nil
	},
}

// integrityLoop periodically runs the store consistency checks and logs
// anything the next build or an integrity --repair should reconcile.
func integrityLoop(ctx context.Context, s store.Store, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		report, err := s.CheckIntegrity(ctx)
		if err != nil {
			zap.L().Warn("integrity check failed", zap.Error(err))
			continue
		}
		if len(report.EmptyRegions) > 0 || len(report.OrphanRecords) > 0 || report.DanglingRateRefs > 0 {
			zap.L().Warn("integrity check found inconsistencies",
				zap.Int("empty_regions", len(report.EmptyRegions)),
				zap.Int("orphan_records", len(report.OrphanRecords)),
				zap.Int64("dangling_rate_refs", report.DanglingRateRefs),
			)
			continue
		}
		zap.L().Info("integrity check clean",
			zap.Int64("regions", report.Regions),
			zap.Int64("rates", report.Rates),
		)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
