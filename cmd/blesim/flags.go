package main

import (
	"time"

	"github.com/urfave/cli"
)

var (
	flgScenario    = cli.StringFlag{Name: "scenario, s", Usage: "Path to a JSON scenario file"}
	flgDuration    = cli.DurationFlag{Name: "duration, d", Usage: "Simulated time to run (defaults to the scenario duration)"}
	flgJSON        = cli.BoolFlag{Name: "json", Usage: "Print the run summary as JSON"}
	flgGRPCAddr    = cli.StringFlag{Name: "grpc-addr", Value: ":50051", Usage: "TCP address the telemetry gRPC server listens on"}
	flgMetricsAddr = cli.StringFlag{Name: "metrics-addr", Value: ":9090", Usage: "HTTP address for Prometheus /metrics (empty disables)"}
	flgTick        = cli.DurationFlag{Name: "tick", Value: 10 * time.Millisecond, Usage: "Simulated time advanced per controller tick"}
	flgRealtime    = cli.BoolFlag{Name: "realtime", Usage: "Pace simulated time against the wall clock"}
	flgLogLevel    = cli.StringFlag{Name: "log-level", EnvVar: "LOG_LEVEL", Usage: "debug, info, warn or error"}
	flgLogFormat   = cli.StringFlag{Name: "log-format", EnvVar: "LOG_FORMAT", Usage: "text or json"}
)
