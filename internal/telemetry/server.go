package telemetry

import (
	"context"

	"github.com/signalsfoundry/blesim/internal/logging"
	"github.com/signalsfoundry/blesim/internal/observability"
	"github.com/signalsfoundry/blesim/timectrl"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

// NewServer builds a gRPC server exposing the telemetry service and the
// standard health service. collector may be nil.
func NewServer(store *Store, clock timectrl.SimClock, collector *observability.LinkLayerCollector, log logging.Logger, opts ...grpc.ServerOption) *grpc.Server {
	if log == nil {
		log = logging.Noop()
	}
	interceptors := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		SpanAttributesUnaryServerInterceptor(clock),
	}
	if collector != nil {
		interceptors = append(interceptors, collector.UnaryServerInterceptor())
	}

	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	}, opts...)
	server := grpc.NewServer(opts...)

	RegisterTelemetryServer(server, NewService(store, clock, log))

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	return server
}

// Client is a thin typed wrapper over the telemetry service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial opens an insecure, traced connection to addr.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	return grpc.NewClient(addr, opts...)
}

// ListDeviceMetrics fetches counters for device, or for every device when
// device is empty.
func (c *Client) ListDeviceMetrics(ctx context.Context, device string, opts ...grpc.CallOption) ([]DeviceMetrics, error) {
	resp, err := c.List(ctx, device, opts...)
	if err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// List is ListDeviceMetrics returning the whole snapshot, including the
// simulation time it was taken at.
func (c *Client) List(ctx context.Context, device string, opts ...grpc.CallOption) (Snapshot, error) {
	fields := map[string]interface{}{}
	if device != "" {
		fields["device"] = device
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return Snapshot{}, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ListDeviceMetricsMethod, req, out, opts...); err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := fromStruct(out, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
