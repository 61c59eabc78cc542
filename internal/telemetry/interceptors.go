package telemetry

import (
	"context"
	"time"

	"github.com/signalsfoundry/blesim/internal/logging"
	"github.com/signalsfoundry/blesim/internal/observability"
	"github.com/signalsfoundry/blesim/timectrl"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const requestIDMetadataKey = "x-request-id"

// RequestIDUnaryServerInterceptor takes the request id from x-request-id
// metadata (or mints one), echoes it in the response header and logs the
// outcome of every call with a per-request logger.
func RequestIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(requestIDMetadataKey); len(vals) > 0 && vals[0] != "" {
				ctx = logging.ContextWithRequestID(ctx, vals[0])
			}
		}
		ctx, reqLog := logging.WithRequestLogger(ctx, base.With(logging.String("method", info.FullMethod)))
		ctx = logging.ContextWithLogger(ctx, reqLog)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, logging.RequestIDFromContext(ctx)))

		start := time.Now()
		resp, err := handler(ctx, req)
		reqLog.Debug(ctx, "telemetry request served",
			logging.String("code", status.Code(err).String()),
			logging.Duration("elapsed", time.Since(start)),
		)
		return resp, err
	}
}

// SpanAttributesUnaryServerInterceptor renames the otelgrpc server span to
// Telemetry/<service>/<method> and tags it with the request id, the device
// filter and the simulated time the call observed.
func SpanAttributesUnaryServerInterceptor(clock timectrl.SimClock) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		span := trace.SpanFromContext(ctx)
		if !span.IsRecording() {
			return handler(ctx, req)
		}
		service, method := observability.SplitMethod(info.FullMethod)
		span.SetName("Telemetry/" + service + "/" + method)

		attrs := []attribute.KeyValue{attribute.String("rpc.method", method)}
		if id := logging.RequestIDFromContext(ctx); id != "" {
			attrs = append(attrs, attribute.String("request_id", id))
		}
		if in, ok := req.(*structpb.Struct); ok {
			if v, ok := in.GetFields()["device"]; ok {
				attrs = append(attrs, attribute.String("blesim.device", v.GetStringValue()))
			}
		}
		if clock != nil {
			attrs = append(attrs, attribute.String("blesim.sim_time", clock.Now().UTC().Format(time.RFC3339Nano)))
		}
		span.SetAttributes(attrs...)

		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, status.Convert(err).Message())
		}
		return resp, err
	}
}
