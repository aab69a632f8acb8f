package interceptors

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const tracerName = "npcforge.grpc"

// Span attribute keys added on top of the OpenTelemetry rpc conventions.
const (
	AttrRequestID     = attribute.Key("npcforge.request_id")
	AttrHealthService = attribute.Key("npcforge.health.service")
	AttrStatusCode    = attribute.Key("rpc.grpc.status_code")
)

// TracingUnaryInterceptor opens a server span per unary call. The span joins
// the caller's trace when one is propagated in metadata and carries the
// request id and, for health checks, the checked service.
func TracingUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, span := startServerSpan(ctx, info.FullMethod)
		defer span.End()
		if hc, ok := req.(interface{ GetService() string }); ok && hc.GetService() != "" {
			span.SetAttributes(AttrHealthService.String(hc.GetService()))
		}

		resp, err := handler(ctx, req)
		endServerSpan(span, err)
		return resp, err
	}
}

// TracingStreamInterceptor opens a server span covering a whole stream.
func TracingStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, span := startServerSpan(ss.Context(), info.FullMethod)
		defer span.End()

		err := handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
		endServerSpan(span, err)
		return err
	}
}

// startServerSpan continues the incoming trace, starts the server span and
// makes the new span context available to outgoing calls.
func startServerSpan(ctx context.Context, fullMethod string) (context.Context, trace.Span) {
	prop := otel.GetTextMapPropagator()
	in, _ := metadata.FromIncomingContext(ctx)
	ctx = prop.Extract(ctx, metadataCarrier(in))

	service, method := splitMethod(fullMethod)
	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "grpc"),
		attribute.String("rpc.service", service),
		attribute.String("rpc.method", method),
	}
	if id, ok := RequestIDFromContext(ctx); ok {
		attrs = append(attrs, AttrRequestID.String(id))
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, fullMethod,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...))

	out := metadata.MD{}
	prop.Inject(ctx, metadataCarrier(out))
	return metadata.NewOutgoingContext(ctx, out), span
}

func endServerSpan(span trace.Span, err error) {
	code := status.Code(err)
	span.SetAttributes(AttrStatusCode.Int(int(code)))
	if err == nil {
		span.SetStatus(otelcodes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, code.String())
}

// splitMethod turns "/pkg.Service/Method" into its service and method.
func splitMethod(fullMethod string) (string, string) {
	service, method, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	switch {
	case service == "":
		return "unknown", "unknown"
	case !ok:
		return service, "unknown"
	}
	return service, method
}

// metadataCarrier adapts gRPC metadata to the propagation API.
type metadataCarrier metadata.MD

func (c metadataCarrier) Get(key string) string {
	if v := metadata.MD(c).Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (c metadataCarrier) Set(key, value string) { metadata.MD(c).Set(key, value) }

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

var _ propagation.TextMapCarrier = metadataCarrier{}
