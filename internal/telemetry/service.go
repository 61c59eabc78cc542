package telemetry

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/signalsfoundry/blesim/internal/frame"
	"github.com/signalsfoundry/blesim/internal/logging"
	"github.com/signalsfoundry/blesim/timectrl"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully-qualified gRPC service name.
	ServiceName = "blesim.telemetry.v1.TelemetryService"
	// ListDeviceMetricsMethod is the full method path of ListDeviceMetrics.
	ListDeviceMetricsMethod = "/" + ServiceName + "/ListDeviceMetrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TelemetryServer is the server API of the telemetry service. Requests and
// responses are google.protobuf.Struct documents:
//
//	request:  {"device": "00:01"}            (device optional)
//	response: {"devices": [...], "sim_time": "2024-01-01T00:00:01Z"}
type TelemetryServer interface {
	ListDeviceMetrics(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterTelemetryServer registers srv on s.
func RegisterTelemetryServer(s grpc.ServiceRegistrar, srv TelemetryServer) {
	s.RegisterService(&TelemetryServiceDesc, srv)
}

func listDeviceMetricsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TelemetryServer).ListDeviceMetrics(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ListDeviceMetricsMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TelemetryServer).ListDeviceMetrics(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// TelemetryServiceDesc describes the telemetry service for grpc.Server.
var TelemetryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TelemetryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListDeviceMetrics",
			Handler:    listDeviceMetricsHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "blesim/telemetry/v1/telemetry.proto",
}

// Service implements TelemetryServer over a Store.
type Service struct {
	store *Store
	clock timectrl.SimClock
	log   logging.Logger
}

// NewService binds a Service to store. clock supplies the reported
// simulation time.
func NewService(store *Store, clock timectrl.SimClock, log logging.Logger) *Service {
	if log == nil {
		log = logging.Noop()
	}
	return &Service{store: store, clock: clock, log: log}
}

// Snapshot is the decoded form of a ListDeviceMetrics response.
type Snapshot struct {
	Devices []DeviceMetrics `json:"devices"`
	SimTime time.Time       `json:"sim_time"`
}

// ListDeviceMetrics returns the counters of every device, or of the single
// device named by the "device" field.
func (s *Service) ListDeviceMetrics(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	reqLog := logging.LoggerFromContext(ctx)
	if reqLog == nil {
		reqLog = s.log
	}
	if s.store == nil {
		return nil, ToStatusError(fmt.Errorf("telemetry store not available"))
	}

	var resp Snapshot
	if filter := req.GetFields()["device"].GetStringValue(); filter != "" {
		addr, err := frame.ParseAddress(filter)
		if err != nil {
			return nil, ToStatusError(fmt.Errorf("%w: device %q: %v", ErrInvalidRequest, filter, err))
		}
		m, err := s.store.Get(addr)
		if err != nil {
			reqLog.Debug(ctx, "telemetry lookup miss", logging.String("device", filter))
			return nil, ToStatusError(fmt.Errorf("device %s: %w", addr, err))
		}
		resp.Devices = []DeviceMetrics{m}
	} else {
		resp.Devices = s.store.ListAll()
	}
	if s.clock != nil {
		resp.SimTime = s.clock.Now()
	}

	out, err := toStruct(resp)
	if err != nil {
		return nil, ToStatusError(err)
	}
	reqLog.Debug(ctx, "listed device metrics", logging.Int("count", len(resp.Devices)))
	return out, nil
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode telemetry: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encode telemetry: %w", err)
	}
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, v interface{}) error {
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode telemetry: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode telemetry: %w", err)
	}
	return nil
}

var _ TelemetryServer = (*Service)(nil)
