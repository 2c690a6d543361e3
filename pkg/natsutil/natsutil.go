// Package natsutil provides typed NATS publish/subscribe/request helpers
// with OpenTelemetry trace propagation.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// ErrorHeader carries a responder's error message on a reply.
const ErrorHeader = "Nats-Service-Error"

// RemoteError is returned by Request when the responder replied with an error.
type RemoteError struct {
	Subject string
	Msg     string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("natsutil: %s: remote error: %s", e.Subject, e.Msg)
}

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

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("natsutil: marshal %s: %w", subject, err)
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
	}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Trace context is extracted from NATS message headers and passed to the handler.
// Malformed messages are silently dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return // drop malformed messages
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		handler(ctx, v)
	})
}

// Respond serves request/reply on subject. With a queue group each request
// reaches one member; with an empty queue every subscriber handles it and
// the requester gets the first reply. The handler's result is sent back as
// JSON; a decode or handler error is sent as an empty reply carrying
// ErrorHeader.
func Respond[Req, Resp any](nc *nats.Conn, subject, queue string, handler func(context.Context, Req) (Resp, error)) (*nats.Subscription, error) {
	cb := func(msg *nats.Msg) {
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))

		var req Req
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			replyError(msg, fmt.Errorf("decode request: %w", err))
			return
		}
		resp, err := handler(ctx, req)
		if err != nil {
			replyError(msg, err)
			return
		}
		data, err := json.Marshal(resp)
		if err != nil {
			replyError(msg, fmt.Errorf("encode reply: %w", err))
			return
		}
		if err := msg.Respond(data); err != nil {
			slog.Warn("nats reply failed", "subject", subject, "err", err)
		}
	}
	if queue == "" {
		return nc.Subscribe(subject, cb)
	}
	return nc.QueueSubscribe(subject, queue, cb)
}

func replyError(msg *nats.Msg, err error) {
	reply := nats.NewMsg(msg.Reply)
	reply.Header.Set(ErrorHeader, err.Error())
	if rerr := msg.RespondMsg(reply); rerr != nil {
		slog.Warn("nats error reply failed", "subject", msg.Subject, "err", rerr)
	}
}

// Request sends a JSON-encoded request and decodes the response. The
// request is bounded by ctx's deadline, or nats.DefaultTimeout when ctx has
// none. A reply carrying ErrorHeader is returned as *RemoteError.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	data, err := json.Marshal(req)
	if err != nil {
		return zero, fmt.Errorf("natsutil: marshal %s: %w", subject, err)
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
	}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, nats.DefaultTimeout)
		defer cancel()
	}
	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = nats.ErrTimeout
		}
		return zero, fmt.Errorf("natsutil: request %s: %w", subject, err)
	}
	if e := resp.Header.Get(ErrorHeader); e != "" {
		return zero, &RemoteError{Subject: subject, Msg: e}
	}
	var result Resp
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return zero, fmt.Errorf("natsutil: decode %s reply: %w", subject, err)
	}
	return result, nil
}
