package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/signalsfoundry/blesim/internal/logging"
	"github.com/signalsfoundry/blesim/internal/observability"
	"github.com/signalsfoundry/blesim/internal/scenario"
	"github.com/signalsfoundry/blesim/internal/telemetry"
	"github.com/signalsfoundry/blesim/timectrl"
)

// Config holds the serve command settings.
type Config struct {
	ScenarioPath   string
	ListenAddress  string
	MetricsAddress string
	TickInterval   time.Duration
	RealTime       bool
	// Duration bounds the simulated run; zero keeps running until shutdown.
	Duration time.Duration
}

// serve runs the scenario under a time controller and serves telemetry
// until ctx is cancelled. A nil lis listens on cfg.ListenAddress.
func serve(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	ctx, log = logging.WithRunLogger(ctx, log)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return errors.Wrap(err, "init tracing")
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	sc, err := scenario.LoadFile(cfg.ScenarioPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector, err := observability.NewLinkLayerCollector(reg)
	if err != nil {
		return errors.Wrap(err, "link-layer metrics")
	}
	simMetrics, err := observability.NewSimulationCollector(reg)
	if err != nil {
		return errors.Wrap(err, "scheduler metrics")
	}

	sim, err := scenario.Build(sc,
		scenario.WithLogger(log),
		scenario.WithObserver(collector),
		scenario.WithTracer(otel.Tracer("github.com/signalsfoundry/blesim/cmd/blesim")),
	)
	if err != nil {
		return err
	}
	collector.SetNetworkCounts(len(sim.Devices()), len(sim.Network().Links()))

	mode := timectrl.Accelerated
	if cfg.RealTime {
		mode = timectrl.RealTime
	}
	tc := timectrl.NewTimeController(sim.Start(), cfg.TickInterval, mode)
	tc.AddListener(func(simTime time.Time) {
		begin := time.Now()
		sim.Scheduler().RunUntil(simTime)
		simMetrics.ObserveTick(time.Since(begin))
		simMetrics.SetSchedulerState(sim.Scheduler().Executed(), sim.Scheduler().Pending(), sim.Elapsed())
	})

	if lis == nil {
		lis, err = net.Listen("tcp", cfg.ListenAddress)
		if err != nil {
			return errors.Wrapf(err, "listen on %s", cfg.ListenAddress)
		}
	}
	server := telemetry.NewServer(sim.Store(), tc, collector, log)
	metricsSrv := serveMetrics(cfg.MetricsAddress, collector, log)

	log.Info(ctx, "starting telemetry gRPC server",
		logging.String("addr", lis.Addr().String()),
		logging.String("mode", mode.String()),
		logging.Duration("tick", tc.Tick),
	)
	go func() {
		if err := server.Serve(lis); err != nil {
			log.Error(ctx, "gRPC server exited", logging.Err(err))
		}
	}()

	done := tc.Start(ctx, cfg.Duration)
	select {
	case <-done:
		log.Info(ctx, "simulation finished, serving final telemetry",
			logging.Duration("sim_time", sim.Elapsed()))
		<-ctx.Done()
	case <-ctx.Done():
		<-done
	}

	log.Info(ctx, "shutting down telemetry server")
	server.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func serveMetrics(addr string, collector *observability.LinkLayerCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
