// Package fakes provides manual fake implementations of the backend contract
// for testing.
//
// Fakes are test doubles with working in-memory implementations. They are
// more realistic than mocks and need no Vault server.
package fakes

import (
	"context"
	"strings"
	"sync"

	"github.com/systmms/vaultenv/internal/backend"
	dserrors "github.com/systmms/vaultenv/internal/errors"
)

// Operation names used for call counting and error injection.
const (
	OpLogin  = "login"
	OpLookup = "lookup-self"
	OpRenew  = "renew-self"
	OpMounts = "mounts"
	OpList   = "list"
	OpRead   = "read"
)

// Client is a manual fake of backend.Client.
//
// Example usage:
//
//	fake := fakes.NewClient().
//	    WithToken("root", true, 3600).
//	    WithMount("kv/", "kv", "2").
//	    WithList("kv/metadata/", "app/", "db").
//	    WithSecret("kv/data/db", map[string]any{"data": map[string]any{"user": "admin"}})
type Client struct {
	mu sync.Mutex

	lookup  backend.TokenInfo
	login   backend.Auth
	renew   backend.Auth
	mounts  map[string]backend.MountInfo
	lists   map[string][]string
	secrets map[string]map[string]any

	// failOn maps an operation name or a path to the error it returns.
	failOn map[string]error
	hook   func(op string)

	token     string
	callCount map[string]int
	paths     []string
}

// NewClient creates an empty fake. Every listing and read yields an empty
// result until configured.
func NewClient() *Client {
	return &Client{
		mounts:    make(map[string]backend.MountInfo),
		lists:     make(map[string][]string),
		secrets:   make(map[string]map[string]any),
		failOn:    make(map[string]error),
		callCount: make(map[string]int),
	}
}

// WithToken configures the self-lookup response for a pre-issued token.
func (c *Client) WithToken(id string, renewable bool, ttl int) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookup = backend.TokenInfo{ID: id, Renewable: renewable, TTL: ttl}
	return c
}

// WithUserpass configures the token issued by a userpass login.
func (c *Client) WithUserpass(token string, renewable bool, ttl int) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.login = backend.Auth{ClientToken: token, Renewable: renewable, LeaseDuration: ttl}
	return c
}

// WithRenewal configures the response to a self-renewal.
func (c *Client) WithRenewal(renewable bool, ttl int) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renew = backend.Auth{Renewable: renewable, LeaseDuration: ttl}
	return c
}

// WithMount adds a secret engine mount. path keeps its trailing slash.
func (c *Client) WithMount(path, engine, version string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	options := map[string]string{}
	if version != "" {
		options["version"] = version
	}
	c.mounts[path] = backend.MountInfo{Type: engine, Options: options}
	return c
}

// WithList sets the keys returned for a listing of path.
func (c *Client) WithList(path string, keys ...string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[path] = keys
	return c
}

// WithSecret sets the raw payload returned for a read of path.
func (c *Client) WithSecret(path string, data map[string]any) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.secrets[path] = data
	return c
}

// WithError makes an operation (one of the Op constants) or a path fail.
// A nil err removes the failure.
func (c *Client) WithError(key string, err error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failOn, key)
	} else {
		c.failOn[key] = err
	}
	return c
}

// WithHook installs fn, called with the operation name at the start of every
// network call and outside the fake's lock. Tests use it to block a call.
func (c *Client) WithHook(fn func(op string)) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hook = fn
	return c
}

// CallCount returns how many times op was invoked.
func (c *Client) CallCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callCount[op]
}

// TotalCalls returns the number of network calls of any kind.
func (c *Client) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.callCount {
		total += n
	}
	return total
}

// Paths returns every path passed to List or Read, in call order.
func (c *Client) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

// Token returns the token currently held by the fake.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) enter(op, path string) error {
	c.mu.Lock()
	hook := c.hook
	c.callCount[op]++
	if path != "" {
		c.paths = append(c.paths, path)
	}
	err := c.failOn[op]
	if err == nil && path != "" {
		err = c.failOn[path]
	}
	c.mu.Unlock()

	if hook != nil {
		hook(op)
	}
	return err
}

// AuthenticateToken implements backend.Client.
func (c *Client) AuthenticateToken(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = id
}

// AuthenticateUserpass implements backend.Client.
func (c *Client) AuthenticateUserpass(ctx context.Context, mountPoint, username, password string) (backend.Auth, error) {
	if err := c.enter(OpLogin, ""); err != nil {
		return backend.Auth{}, &dserrors.AuthError{Op: "userpass", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return backend.Auth{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = c.login.ClientToken
	return c.login, nil
}

// SelfLookup implements backend.Client.
func (c *Client) SelfLookup(ctx context.Context) (backend.TokenInfo, error) {
	if err := c.enter(OpLookup, ""); err != nil {
		return backend.TokenInfo{}, &dserrors.AuthError{Op: "lookup-self", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return backend.TokenInfo{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return backend.TokenInfo{}, &dserrors.AuthError{Op: "lookup-self", Err: dserrors.ErrNotAuthenticated}
	}
	info := c.lookup
	if info.ID == "" {
		info.ID = c.token
	}
	return info, nil
}

// SelfRenew implements backend.Client.
func (c *Client) SelfRenew(ctx context.Context) (backend.Auth, error) {
	if err := c.enter(OpRenew, ""); err != nil {
		return backend.Auth{}, &dserrors.AuthError{Op: "renew-self", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return backend.Auth{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	auth := c.renew
	auth.ClientToken = c.token
	return auth, nil
}

// ListMounts implements backend.Client.
func (c *Client) ListMounts(ctx context.Context) (map[string]backend.MountInfo, error) {
	if err := c.enter(OpMounts, ""); err != nil {
		return nil, &dserrors.TransportError{Op: "mounts", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]backend.MountInfo, len(c.mounts))
	for k, v := range c.mounts {
		out[k] = v
	}
	return out, nil
}

// List implements backend.Client. Unknown paths behave like a 404.
func (c *Client) List(ctx context.Context, path string) ([]string, error) {
	if err := c.enter(OpList, path); err != nil {
		return nil, &dserrors.TransportError{Op: "list", Path: path, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	keys, ok := c.lists[path]
	if !ok {
		keys, ok = c.lists[strings.TrimSuffix(path, "/")]
	}
	if !ok {
		return nil, nil
	}
	return append([]string(nil), keys...), nil
}

// Read implements backend.Client. Unknown paths behave like a 404.
func (c *Client) Read(ctx context.Context, path string) (map[string]any, error) {
	if err := c.enter(OpRead, path); err != nil {
		return nil, &dserrors.TransportError{Op: "read", Path: path, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secrets[path], nil
}

// ClearToken implements backend.Client.
func (c *Client) ClearToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

var _ backend.Client = (*Client)(nil)

// Dialer hands out fake Clients and records every dial.
type Dialer struct {
	mu        sync.Mutex
	clients   []*Client
	endpoints []backend.Endpoint
	err       error
}

// NewDialer returns a Dialer that always yields client.
func NewDialer(client *Client) *Dialer {
	return &Dialer{clients: []*Client{client}}
}

// NewSequenceDialer returns a Dialer that yields clients in order, one per
// dial, and keeps yielding the last one when they run out.
func NewSequenceDialer(clients ...*Client) *Dialer {
	return &Dialer{clients: clients}
}

// WithError makes subsequent dials fail with err.
func (d *Dialer) WithError(err error) *Dialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
	return d
}

// Dial implements backend.Dialer.
func (d *Dialer) Dial(endpoint backend.Endpoint) (backend.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoints = append(d.endpoints, endpoint)
	if d.err != nil {
		return nil, d.err
	}
	i := len(d.endpoints) - 1
	if i >= len(d.clients) {
		i = len(d.clients) - 1
	}
	return d.clients[i], nil
}

// Dials returns the number of Dial calls.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.endpoints)
}

// Endpoints returns the endpoints passed to Dial, in order.
func (d *Dialer) Endpoints() []backend.Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]backend.Endpoint(nil), d.endpoints...)
}
