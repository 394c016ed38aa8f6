package backend

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracedDialer wraps every Client built by next with Traced.
func TracedDialer(next Dialer, tracer trace.Tracer) Dialer {
	return DialerFunc(func(endpoint Endpoint) (Client, error) {
		client, err := next.Dial(endpoint)
		if err != nil {
			return nil, err
		}
		return Traced(client, tracer, endpoint.Address), nil
	})
}

// Traced returns a Client that records one span per backend call.
// Span names have the form vault.<operation>. Tokens and passwords are never
// recorded as attributes.
func Traced(next Client, tracer trace.Tracer, address string) Client {
	return &tracedClient{next: next, tracer: tracer, address: address}
}

type tracedClient struct {
	next    Client
	tracer  trace.Tracer
	address string
}

func (c *tracedClient) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("vault.address", c.address),
		attribute.Bool("vault.error", false),
	)
	return c.tracer.Start(ctx, "vault."+op,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func end(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("vault.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (c *tracedClient) AuthenticateToken(id string) {
	c.next.AuthenticateToken(id)
}

func (c *tracedClient) AuthenticateUserpass(ctx context.Context, mountPoint, username, password string) (Auth, error) {
	ctx, span := c.start(ctx, "login",
		attribute.String("vault.auth.mount", mountPoint),
		attribute.String("vault.auth.username", username),
	)
	auth, err := c.next.AuthenticateUserpass(ctx, mountPoint, username, password)
	if err == nil {
		span.SetAttributes(
			attribute.Bool("vault.token.renewable", auth.Renewable),
			attribute.Int("vault.token.ttl", auth.LeaseDuration),
		)
	}
	end(span, err)
	return auth, err
}

func (c *tracedClient) SelfLookup(ctx context.Context) (TokenInfo, error) {
	ctx, span := c.start(ctx, "lookup-self")
	info, err := c.next.SelfLookup(ctx)
	if err == nil {
		span.SetAttributes(
			attribute.Bool("vault.token.renewable", info.Renewable),
			attribute.Int("vault.token.ttl", info.TTL),
		)
	}
	end(span, err)
	return info, err
}

func (c *tracedClient) SelfRenew(ctx context.Context) (Auth, error) {
	ctx, span := c.start(ctx, "renew-self")
	auth, err := c.next.SelfRenew(ctx)
	if err == nil {
		span.SetAttributes(attribute.Int("vault.token.ttl", auth.LeaseDuration))
	}
	end(span, err)
	return auth, err
}

func (c *tracedClient) ListMounts(ctx context.Context) (map[string]MountInfo, error) {
	ctx, span := c.start(ctx, "mounts")
	mounts, err := c.next.ListMounts(ctx)
	span.SetAttributes(attribute.Int("vault.result.count", len(mounts)))
	end(span, err)
	return mounts, err
}

func (c *tracedClient) List(ctx context.Context, path string) ([]string, error) {
	ctx, span := c.start(ctx, "list", attribute.String("vault.path", path))
	keys, err := c.next.List(ctx, path)
	span.SetAttributes(attribute.Int("vault.result.count", len(keys)))
	end(span, err)
	return keys, err
}

func (c *tracedClient) Read(ctx context.Context, path string) (map[string]any, error) {
	ctx, span := c.start(ctx, "read", attribute.String("vault.path", path))
	data, err := c.next.Read(ctx, path)
	span.SetAttributes(attribute.Bool("vault.result.found", data != nil))
	end(span, err)
	return data, err
}

func (c *tracedClient) ClearToken() {
	c.next.ClearToken()
}
