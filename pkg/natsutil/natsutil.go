// Package natsutil provides typed NATS publish/subscribe helpers with
// OpenTelemetry trace propagation and a retry-count header.
package natsutil

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// RetryHeader carries the number of times a message has been redelivered by
// the application.
const RetryHeader = "X-Retry-Count"

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publish serializes v as JSON and publishes it to subject. Trace context
// from ctx is injected into the message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	return PublishRetry(ctx, nc, subject, v, 0)
}

// PublishRetry is Publish with the retry header set to retries. Zero omits
// the header.
func PublishRetry[T any](ctx context.Context, nc *nats.Conn, subject string, v T, retries int) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return PublishRaw(ctx, nc, subject, data, retries)
}

// PublishRaw publishes already encoded data.
func PublishRaw(ctx context.Context, nc *nats.Conn, subject string, data []byte, retries int) error {
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
	}
	if retries > 0 {
		msg.Header = nats.Header{}
		msg.Header.Set(RetryHeader, strconv.Itoa(retries))
	}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return nc.PublishMsg(msg)
}

// RetryCount reads the retry header. Missing or malformed headers count as 0.
func RetryCount(msg *nats.Msg) int {
	if msg == nil || msg.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(msg.Header.Get(RetryHeader))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Handler receives a decoded message plus the raw message for headers.
type Handler[T any] func(ctx context.Context, v T, msg *nats.Msg)

// Subscribe registers a handler that deserializes JSON messages of type T.
// A non-empty queue joins a queue group so several workers share the load.
// Trace context is extracted from the headers. Malformed messages go to
// onMalformed when it is non-nil and are otherwise dropped.
func Subscribe[T any](nc *nats.Conn, subject, queue string, handler Handler[T], onMalformed func(*nats.Msg, error)) (*nats.Subscription, error) {
	cb := func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			if onMalformed != nil {
				onMalformed(msg, err)
			}
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		handler(ctx, v, msg)
	}
	if queue != "" {
		return nc.QueueSubscribe(subject, queue, cb)
	}
	return nc.Subscribe(subject, cb)
}
