package pubsub

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Spans record routing metadata only. Payloads carry chat content and are
// never attached.
func startSpan(ctx context.Context, tracer trace.Tracer, op, topic string, msg *message.Message, kind trace.SpanKind) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return tracer.Start(ctx, topic+" "+op,
		trace.WithSpanKind(kind),
		trace.WithAttributes(
			attribute.String("messaging.system", "watermill"),
			attribute.String("messaging.operation", op),
			attribute.String("messaging.destination", topic),
			attribute.String("messaging.message_id", msg.UUID),
			attribute.String("relay.user_id", msg.Metadata.Get(metaKeyUserID)),
			attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload)),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// traceHandler wraps a subscription handler in a consumer span that is a
// child of the publisher's span when the message context carries one.
func traceHandler(tracer trace.Tracer, h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		ctx, span := startSpan(msg.Context(), tracer, "process", msg.Metadata.Get(metaKeyTopic), msg, trace.SpanKindConsumer)
		msg.SetContext(ctx)
		out, err := h(msg)
		endSpan(span, err)
		return out, err
	}
}

// tracedPublisher opens a producer span per message around Publish.
type tracedPublisher struct {
	message.Publisher
	tracer trace.Tracer
}

func (p tracedPublisher) Publish(topic string, messages ...*message.Message) error {
	spans := make([]trace.Span, 0, len(messages))
	for _, msg := range messages {
		ctx, span := startSpan(msg.Context(), p.tracer, "publish", topic, msg, trace.SpanKindProducer)
		msg.SetContext(ctx)
		spans = append(spans, span)
	}
	err := p.Publisher.Publish(topic, messages...)
	for _, span := range spans {
		endSpan(span, err)
	}
	return err
}
