// Package backend defines the contract between a credential session and the
// secret store it talks to.
//
// Adapters (see the vault subpackage) own transport details. A 404 on List or
// Read never reaches callers as an error: adapters return an empty result.
package backend

import (
	"context"
	"time"
)

// Client performs the network calls a session needs. A Client is bound to
// one endpoint and holds at most one token.
type Client interface {
	// AuthenticateToken sets a pre-issued token on the client.
	AuthenticateToken(id string)
	// AuthenticateUserpass logs in through a userpass auth mount and keeps the
	// issued token on the client.
	AuthenticateUserpass(ctx context.Context, mountPoint, username, password string) (Auth, error)
	// SelfLookup inspects the token currently set on the client.
	SelfLookup(ctx context.Context) (TokenInfo, error)
	// SelfRenew extends the lease of the current token.
	SelfRenew(ctx context.Context) (Auth, error)
	// ListMounts returns the secret engine mounts visible to the token,
	// keyed by mount path (with trailing slash, as the backend reports it).
	ListMounts(ctx context.Context) (map[string]MountInfo, error)
	// List returns the keys under path. A missing path yields nil, nil.
	List(ctx context.Context, path string) ([]string, error)
	// Read returns the raw payload at path. A missing path yields nil, nil.
	Read(ctx context.Context, path string) (map[string]any, error)
	// ClearToken forgets the token held by the client.
	ClearToken()
}

// Auth is the result of a login or renewal.
type Auth struct {
	ClientToken   string
	Renewable     bool
	LeaseDuration int // seconds
}

// TokenInfo is the result of a token self-lookup.
type TokenInfo struct {
	ID        string
	Renewable bool
	TTL       int // seconds
}

// MountInfo describes one secret engine mount.
type MountInfo struct {
	Type    string
	Options map[string]string
}

// Endpoint is what a Dialer needs to build a Client.
type Endpoint struct {
	Address   string
	Namespace string
	Timeout   time.Duration
}

// Dialer builds a fresh Client for an endpoint.
type Dialer interface {
	Dial(endpoint Endpoint) (Client, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(endpoint Endpoint) (Client, error)

// Dial calls f(endpoint).
func (f DialerFunc) Dial(endpoint Endpoint) (Client, error) {
	return f(endpoint)
}
