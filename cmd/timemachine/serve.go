package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nainya/timemachine/internal/metrics"
	"github.com/nainya/timemachine/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gRPC, web and observability servers",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg, false)

	tp, shutdownTracing, err := server.NewTracerProvider(cfg.Tracing, os.Stdout)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	app, err := server.NewApp(cfg, log, m, tp)
	if err != nil {
		return err
	}
	defer app.Close()

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	grpcServer, healthServer := server.NewGRPCServer(server.NewServer(app), tp)
	webServer := server.NewWebServer(cfg.WebAddr, server.NewWeb(app))
	obsServer := server.NewObservabilityServer(cfg.MetricsAddr, reg, app.Ready, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.LogServerStart(cfg.GRPCAddr, cfg.WebAddr, cfg.Backend)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		if err := webServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("web server failed: %w", err)
		}
		return nil
	})
	g.Go(obsServer.Start)
	g.Go(func() error {
		m.RunUptime(gctx.Done())
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.LogServerShutdown()
		healthServer.Shutdown()

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		grpcServer.GracefulStop()
		return errors.Join(
			webServer.Shutdown(sctx),
			obsServer.Shutdown(sctx),
			shutdownTracing(sctx),
		)
	})

	log.LogServerReady()
	return g.Wait()
}
