// Package natsutil publishes and subscribes JSON messages over NATS with
// OpenTelemetry trace propagation in message headers.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Subject joins tokens with dots. Characters NATS treats specially inside a
// token (dots, wildcards, whitespace) become underscores; empty tokens are
// skipped.
func Subject(tokens ...string) string {
	parts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.Map(func(r rune) rune {
			switch r {
			case '.', '*', '>', ' ', '\t', '\n', '\r':
				return '_'
			}
			return r
		}, strings.TrimSpace(t))
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, ".")
}

func message(ctx context.Context, subject string, v any) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: marshal for %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

// Publish serializes v as JSON and publishes it to subject. Trace context
// from ctx is injected into the message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := message(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// PublishAll publishes every item to subject, then flushes so the server has
// seen them all before it returns.
func PublishAll[T any](ctx context.Context, nc *nats.Conn, subject string, items []T) error {
	for i, v := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := message(ctx, subject, v)
		if err != nil {
			return err
		}
		if err := nc.PublishMsg(msg); err != nil {
			return fmt.Errorf("natsutil: publish %d/%d to %s: %w", i+1, len(items), subject, err)
		}
	}
	return nc.FlushWithContext(ctx)
}

// Subscribe registers a handler for JSON messages of type T. Trace context
// is extracted from the headers and passed to the handler. Malformed
// messages are logged and dropped.
func Subscribe[T any](nc *nats.Conn, subject string, log *slog.Logger, handler func(context.Context, T)) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			log.Warn("dropping malformed message", "subject", msg.Subject, "err", err)
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		handler(ctx, v)
	})
}
