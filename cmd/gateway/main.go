package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rohittredhu/stream-flix/internal/app"
	"github.com/rohittredhu/stream-flix/internal/gateway"
	"github.com/rohittredhu/stream-flix/internal/infra/config"
	"github.com/rohittredhu/stream-flix/internal/infra/metrics"
	"github.com/rohittredhu/stream-flix/internal/infra/tracing"
	"github.com/rohittredhu/stream-flix/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting stream-flix gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.InitTracer(ctx, "stream-flix-gateway", cfg.OTLPEndpoint)
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	infra := app.New(cfg, log)
	defer infra.Close()

	bus, err := infra.Bus(ctx)
	fatalOnErr(err, "connect event bus")

	hub := gateway.NewHub(log)
	sub, err := hub.Bridge(ctx, bus)
	fatalOnErr(err, "subscribe to event bus")

	handler := gateway.NewHandler(hub, gateway.Options{
		AllowedOrigins: cfg.GatewayAllowedOrigins,
		SendBuffer:     cfg.GatewaySendBuffer,
		SignalRate:     cfg.GatewaySignalRate,
		SignalBurst:    cfg.GatewaySignalBurst,
	}, log)

	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: handler.Routes()}
	go func() {
		log.Info("gateway listening", zap.String("addr", cfg.GatewayAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("gateway server error", zap.Error(err))
			cancel()
		}
	}()

	metricsSrv := metrics.StartMetricsServer(ctx, cfg.MetricsPort, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	// Stop forwarding before closing connections so no frame races the close.
	if err := sub.Unsubscribe(); err != nil {
		log.Warn("unsubscribe from event bus", zap.Error(err))
	}
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.GatewayShutdownWait)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("gateway shutdown", zap.Error(err))
	}
	metricsSrv.Shutdown(shutdownCtx)

	log.Info("stream-flix gateway stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
