package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/signalsfoundry/blesim/internal/device"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// LinkLayerCollector bundles Prometheus metrics for simulated devices and
// the telemetry RPC surface. It implements device.Observer.
type LinkLayerCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	DeviceEvents *prometheus.CounterVec
	FrameBytes   prometheus.Histogram

	Devices prometheus.Gauge
	Links   prometheus.Gauge
}

// NewLinkLayerCollector registers link-layer metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewLinkLayerCollector(reg prometheus.Registerer) (*LinkLayerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blesim_rpc_requests_total",
		Help: "Total number of handled telemetry RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"})
	requests, err := registerCounterVec(reg, requests, "blesim_rpc_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blesim_rpc_request_duration_seconds",
		Help:    "Telemetry RPC latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"service", "method"})
	durations, err = registerHistogramVec(reg, durations, "blesim_rpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blesim_device_events_total",
		Help: "Device trace events, labeled by device address and trace source.",
	}, []string{"device", "event"})
	events, err = registerCounterVec(reg, events, "blesim_device_events_total")
	if err != nil {
		return nil, err
	}

	frameBytes, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "blesim_frame_bytes",
		Help:    "Encoded size of frames put on air.",
		Buckets: prometheus.LinearBuckets(8, 8, 8),
	}), "blesim_frame_bytes")
	if err != nil {
		return nil, err
	}

	devices, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blesim_devices",
		Help: "Number of devices in the simulated network.",
	}), "blesim_devices")
	if err != nil {
		return nil, err
	}
	links, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "blesim_links",
		Help: "Number of links in the simulated network.",
	}), "blesim_links")
	if err != nil {
		return nil, err
	}

	return &LinkLayerCollector{
		gatherer:     gatherer,
		RPCRequests:  requests,
		RPCDurations: durations,
		DeviceEvents: events,
		FrameBytes:   frameBytes,
		Devices:      devices,
		Links:        links,
	}, nil
}

// Observe implements device.Observer.
func (c *LinkLayerCollector) Observe(t device.Trace) {
	if c == nil {
		return
	}
	if c.DeviceEvents != nil {
		c.DeviceEvents.WithLabelValues(t.Device.String(), t.Kind.String()).Inc()
	}
	if t.Kind == device.FrameSent && c.FrameBytes != nil {
		c.FrameBytes.Observe(float64(t.Frame.Size()))
	}
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *LinkLayerCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *LinkLayerCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetNetworkCounts updates the topology gauges.
func (c *LinkLayerCollector) SetNetworkCounts(devices, links int) {
	if c == nil {
		return
	}
	if c.Devices != nil {
		c.Devices.Set(float64(devices))
	}
	if c.Links != nil {
		c.Links.Set(float64(links))
	}
}

var _ device.Observer = (*LinkLayerCollector)(nil)

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
