// Command blesim runs Bluetooth Low Energy link-layer scenarios, either once
// to completion or as a long-running service exposing telemetry over gRPC
// and Prometheus.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/signalsfoundry/blesim/internal/logging"
	"github.com/signalsfoundry/blesim/internal/observability"
	"github.com/signalsfoundry/blesim/internal/scenario"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "blesim: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "blesim"
	app.Usage = "Bluetooth Low Energy link-layer simulator"
	app.Flags = []cli.Flag{flgLogLevel, flgLogFormat}
	app.Action = cli.ShowAppHelp
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "Run a scenario to completion and print a summary",
			Flags:  []cli.Flag{flgScenario, flgDuration, flgJSON},
			Action: runCmd,
		},
		{
			Name:   "serve",
			Usage:  "Run a scenario under a time controller and serve telemetry",
			Flags:  []cli.Flag{flgScenario, flgDuration, flgGRPCAddr, flgMetricsAddr, flgTick, flgRealtime},
			Action: serveCmd,
		},
	}
	return app
}

func loggerFrom(c *cli.Context) logging.Logger {
	cfg := logging.ConfigFromEnv()
	if v := c.GlobalString(flgLogLevel.Name); v != "" {
		cfg.Level = v
	}
	if v := c.GlobalString(flgLogFormat.Name); v != "" {
		cfg.Format = v
	}
	return logging.New(cfg)
}

func runCmd(c *cli.Context) error {
	path := c.String("scenario")
	if path == "" {
		return errors.New("--scenario is required")
	}
	sc, err := scenario.LoadFile(path)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runOnce(ctx, sc, c.Duration("duration"), c.Bool("json"), c.App.Writer, loggerFrom(c))
}

// runOnce builds sc, runs it for d of simulated time and writes the summary.
func runOnce(ctx context.Context, sc *scenario.Scenario, d time.Duration, asJSON bool, w io.Writer, log logging.Logger) error {
	ctx, log = logging.WithRunLogger(ctx, log)

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return errors.Wrap(err, "init tracing")
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	sim, err := scenario.Build(sc, scenario.WithLogger(log))
	if err != nil {
		return err
	}
	begin := time.Now()
	if err := sim.Run(ctx, d); err != nil {
		return errors.Wrap(err, "run scenario")
	}
	log.Info(ctx, "scenario finished",
		logging.Duration("sim_time", sim.Elapsed()),
		logging.Duration("wall_time", time.Since(begin)),
	)

	summary := sim.Summary()
	if asJSON {
		enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	return summary.WriteText(w)
}

func serveCmd(c *cli.Context) error {
	cfg := Config{
		ScenarioPath:   c.String("scenario"),
		ListenAddress:  c.String("grpc-addr"),
		MetricsAddress: c.String("metrics-addr"),
		TickInterval:   c.Duration("tick"),
		RealTime:       c.Bool("realtime"),
		Duration:       c.Duration("duration"),
	}
	if cfg.ScenarioPath == "" {
		return errors.New("--scenario is required")
	}
	log := loggerFrom(c)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, log, nil)
}
