package event

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Deepreo/jobscheduler/modules/event"

// OTelMiddleware runs every handler inside a consumer span continued from the
// trace context carried in the message metadata.
func OTelMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		ctx := otel.GetTextMapPropagator().Extract(msg.Context(), propagation.MapCarrier(msg.Metadata))

		ctx, span := otel.Tracer(tracerName).Start(ctx, "event.handle",
			trace.WithAttributes(
				attribute.String("messaging.system", "watermill"),
				attribute.String("messaging.message_id", msg.UUID),
				attribute.String("messaging.destination", message.SubscribeTopicFromCtx(msg.Context())),
				attribute.String("messaging.handler", message.HandlerNameFromCtx(msg.Context())),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		msg.SetContext(ctx)

		msgs, err := h(msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return msgs, err
	}
}

// TraceContextDecorator injects the trace context of each message's context
// into its metadata.
func TraceContextDecorator(pub message.Publisher) (message.Publisher, error) {
	return &traceContextPublisher{pub}, nil
}

type traceContextPublisher struct {
	message.Publisher
}

func (t *traceContextPublisher) Publish(topic string, messages ...*message.Message) error {
	for _, msg := range messages {
		otel.GetTextMapPropagator().Inject(msg.Context(), propagation.MapCarrier(msg.Metadata))
	}
	return t.Publisher.Publish(topic, messages...)
}
