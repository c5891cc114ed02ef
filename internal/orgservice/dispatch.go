package orgservice

import (
	"context"
	"reflect"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("orgbridge/internal/orgservice")

// Run dispatches a typed request without a response. The request executes
// itself against s; readiness is only enforced when it calls back into a raw
// operation.
func (s *Service) Run(ctx context.Context, req Request) error {
	kind := requestKind(req)
	ctx, span := s.startSpan(ctx, kind)
	defer span.End()

	start := time.Now()
	err := req.Execute(ctx, s, s.requestLogger(kind))
	s.finish(span, kind, start, err)
	return err
}

// Execute dispatches a typed request producing a T. It is a function rather
// than a method because methods cannot declare type parameters.
func Execute[T any](ctx context.Context, s *Service, req RequestFor[T]) (T, error) {
	kind := requestKind(req)
	ctx, span := s.startSpan(ctx, kind)
	defer span.End()

	start := time.Now()
	out, err := req.Execute(ctx, s, s.requestLogger(kind))
	s.finish(span, kind, start, err)
	return out, err
}

// requestLogger returns a logger named after the request's concrete type.
func (s *Service) requestLogger(kind string) *zap.SugaredLogger {
	return s.log.Named(kind).With("organization_id", s.org.ID)
}

func (s *Service) startSpan(ctx context.Context, kind string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orgservice.dispatch "+kind, trace.WithAttributes(
		attribute.String("orgbridge.request", kind),
		attribute.String("orgbridge.organization_id", s.org.ID.String()),
	))
}

func (s *Service) finish(span trace.Span, kind string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.observe(kind, start, err)
}

// requestKind is the package-qualified type name with pointers stripped,
// e.g. "requests.WhoAmI".
func requestKind(req any) string {
	t := reflect.TypeOf(req)
	if t == nil {
		return "nil"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}
