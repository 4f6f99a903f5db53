package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/finsight-ai/finsight/internal/api"
	"github.com/finsight-ai/finsight/internal/hub"
	"github.com/finsight-ai/finsight/internal/market"
	"github.com/finsight-ai/finsight/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the finsight HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "listen host (overrides config)")
	serveCmd.Flags().Int("port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	if host, _ := cmd.Flags().GetString("host"); host != "" {
		a.cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		a.cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(a.cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := a.prompts.Watch(ctx); err != nil {
		a.logger.Warn("prompt hot reload unavailable", "error", err)
	}

	progress := hub.New(a.logger)
	registry := hub.NewRegistry()

	refresher := market.NewRefresher(market.Config{
		QuoteURL:          a.cfg.Market.QuoteURL,
		RequestsPerSecond: a.cfg.Market.RequestsPerSecond,
		RequestTimeout:    a.cfg.Market.RequestTimeout,
	}, st, progress, registry, a.logger)

	server := api.NewServer(st, a.prompts, a.caller, a.sessionConfig(), progress, registry,
		api.WithLogger(a.logger),
		api.WithVersion(appVersion),
		api.WithRefresher(refresher),
	)

	httpServer := &http.Server{
		Addr:    a.cfg.Server.Addr(),
		Handler: server.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server listening", "addr", httpServer.Addr, "version", appVersion)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := refresher.Run(gctx, a.cfg.Market.RefreshInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
